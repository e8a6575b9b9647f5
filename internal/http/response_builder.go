// JSON response writing and the domain-error to HTTP-status mapping.

package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"buste/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusForError maps ledger sentinel errors onto HTTP status codes.
// Unrecognized errors are treated as internal.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errMissingUser):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyProcessed),
		errors.Is(err, core.ErrDuplicateUnresolved),
		errors.Is(err, core.ErrInconsistentState):
		return http.StatusConflict
	case errors.Is(err, core.ErrMissingEnvelope),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidFrequency),
		errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON serializes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps err to a status and emits a JSON error body. Internal
// errors are logged with detail but reported generically to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"url", r.URL.Path,
			"error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// transactionResponse is the wire shape of a transaction. Amounts are
// decimal strings, dates YYYY-MM-DD.
type transactionResponse struct {
	ID            int64  `json:"id"`
	AccountID     int64  `json:"account_id"`
	EnvelopeID    *int64 `json:"envelope_id,omitempty"`
	Amount        string `json:"amount"`
	Merchant      string `json:"merchant"`
	Description   string `json:"description,omitempty"`
	Date          string `json:"date"`
	IsApproved    bool   `json:"is_approved"`
	IsTransfer    bool   `json:"is_transfer,omitempty"`
	Source        string `json:"source"`
	DuplicateOfID *int64 `json:"duplicate_of_id,omitempty"`
	BankVerified  bool   `json:"bank_verified,omitempty"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		AccountID:     t.AccountID,
		EnvelopeID:    t.EnvelopeID,
		Amount:        t.Amount.String(),
		Merchant:      t.Merchant,
		Description:   t.Description,
		Date:          t.Date.Format(time.DateOnly),
		IsApproved:    t.IsApproved,
		IsTransfer:    t.IsTransfer,
		Source:        string(t.Source),
		DuplicateOfID: t.DuplicateOfID,
		BankVerified:  t.BankVerified,
	}
}

type accountResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	Balance        string `json:"balance"`
	OpeningBalance string `json:"opening_balance"`
	IsActive       bool   `json:"is_active"`
}

func toAccountResponse(a core.Account) accountResponse {
	return accountResponse{
		ID:             a.ID,
		Name:           a.Name,
		Type:           string(a.Type),
		Balance:        a.Balance.String(),
		OpeningBalance: a.OpeningBalance.String(),
		IsActive:       a.IsActive,
	}
}

type envelopeResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Icon           string `json:"icon,omitempty"`
	CategoryID     *int64 `json:"category_id,omitempty"`
	BudgetedAmount string `json:"budgeted_amount"`
	CurrentBalance string `json:"current_balance"`
	IsActive       bool   `json:"is_active"`
	IsMonitored    bool   `json:"is_monitored"`
}

func toEnvelopeResponse(e core.Envelope) envelopeResponse {
	return envelopeResponse{
		ID:             e.ID,
		Name:           e.Name,
		Icon:           e.Icon,
		CategoryID:     e.CategoryID,
		BudgetedAmount: e.BudgetedAmount.String(),
		CurrentBalance: e.CurrentBalance.String(),
		IsActive:       e.IsActive,
		IsMonitored:    e.IsMonitored,
	}
}

type labelResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type createdResponse struct {
	ID int64 `json:"id"`
}

type distributionResponse struct {
	TemplateID        int64          `json:"template_id"`
	EnvelopesCredited int            `json:"envelopes_credited"`
	Surplus           string         `json:"surplus"`
	NextDate          string         `json:"next_date"`
	Credits           []creditDetail `json:"credits"`
}

type creditDetail struct {
	EnvelopeID int64  `json:"envelope_id"`
	Amount     string `json:"amount"`
}
