package http

import (
	"fmt"
	"net/http"
	"time"

	"buste/internal/core"
)

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	account, err := req.toAccount(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := account.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.store.CreateAccount(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.reconcileCache.Delete(user)
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	accounts, err := s.store.ListAccounts(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]accountResponse, len(accounts))
	for i, a := range accounts {
		out[i] = toAccountResponse(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateEnvelope(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createEnvelopeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	envelope, err := req.toEnvelope(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := envelope.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.store.CreateEnvelope(r.Context(), envelope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (s *Server) handleListEnvelopes(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	envelopes, err := s.store.ListEnvelopes(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]envelopeResponse, len(envelopes))
	for i, e := range envelopes {
		out[i] = toEnvelopeResponse(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	envelopeID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req allocateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.Allocate(r.Context(), user, envelopeID, amount); err != nil {
		writeError(w, r, err)
		return
	}
	s.reconcileCache.Delete(user)
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	tx, err := req.toTransaction(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.ledger.CreateTransaction(r.Context(), tx, req.PreApprove)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.reconcileCache.Delete(user)
	writeJSON(w, http.StatusCreated, toTransactionResponse(created))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	accountID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txs, err := s.store.ListTransactionsByAccount(r.Context(), user, accountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]transactionResponse, len(txs))
	for i, t := range txs {
		out[i] = toTransactionResponse(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	approved, err := s.ledger.Approve(r.Context(), user, txID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.reconcileCache.Delete(user)
	writeJSON(w, http.StatusOK, toTransactionResponse(approved))
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.Reject(r.Context(), user, txID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reversed, err := s.ledger.Reverse(r.Context(), user, txID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.reconcileCache.Delete(user)
	writeJSON(w, http.StatusOK, toTransactionResponse(reversed))
}

func (s *Server) handleCorrectEnvelope(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req correctEnvelopeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	corrected, err := s.ledger.CorrectEnvelope(r.Context(), user, txID, req.EnvelopeID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.reconcileCache.Delete(user)
	writeJSON(w, http.StatusOK, toTransactionResponse(corrected))
}

func (s *Server) handleResolveDuplicate(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req resolveDuplicateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.ResolveDuplicate(r.Context(), user, txID, req.Resolution); err != nil {
		writeError(w, r, err)
		return
	}
	s.reconcileCache.Delete(user)
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleAttachLabel(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req attachLabelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.store.AttachLabel(r.Context(), user, txID, req.LabelID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	txID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	labels, err := s.store.ListTransactionLabels(r.Context(), user, txID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]labelResponse, len(labels))
	for i, l := range labels {
		out[i] = labelResponse{ID: l.ID, Name: l.Name, Color: l.Color}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.matcher.AddRule(r.Context(), core.CategoryRule{
		UserID:     user,
		Pattern:    sanitizeInput(req.Pattern),
		EnvelopeID: req.EnvelopeID,
		IsActive:   true,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createLabelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name := sanitizeInput(req.Name)
	if name == "" {
		writeError(w, r, fmt.Errorf("label name: %w", core.ErrValidation))
		return
	}
	id, err := s.store.CreateLabel(r.Context(), core.Label{
		UserID: user,
		Name:   name,
		Color:  sanitizeInput(req.Color),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	template, err := req.toTemplate(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := template.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.store.CreateTemplate(r.Context(), template)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{ID: id})
}

func (s *Server) handleProcessTemplate(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	templateID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req processTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	actual, err := parseAmount(req.ActualAmount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.distributor.Process(r.Context(), user, templateID, actual)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.reconcileCache.Delete(user)

	credits := make([]creditDetail, len(result.Credits))
	for i, c := range result.Credits {
		credits[i] = creditDetail{EnvelopeID: c.EnvelopeID, Amount: c.Amount.String()}
	}
	writeJSON(w, http.StatusOK, distributionResponse{
		TemplateID:        result.TemplateID,
		EnvelopesCredited: len(result.Credits),
		Surplus:           result.Surplus.String(),
		NextDate:          result.NextDate.Format(time.DateOnly),
		Credits:           credits,
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cached, ok := s.reconcileCache.Get(user); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}
	result, err := s.ledger.Reconcile(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.reconcileCache.Set(user, result)
	writeJSON(w, http.StatusOK, result)
}
