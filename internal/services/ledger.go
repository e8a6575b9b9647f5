package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"buste/internal/core"
	"buste/internal/storage"
)

// EventPublisher pushes ledger events to the message broker after a commit.
// Publishing is best-effort: a broker failure is logged, never surfaced to
// the caller, because the balance change is already durable.
type EventPublisher interface {
	PublishTransactionApproved(ctx context.Context, t core.Transaction) error
	PublishDistributionProcessed(ctx context.Context, userID string, templateID int64, credited int, surplus decimal.Decimal) error
}

// LedgerService owns the transaction lifecycle: creation with rule
// suggestion and duplicate screening, the pending -> approved/rejected state
// machine, envelope corrections and duplicate resolution.
type LedgerService struct {
	store   storage.Store
	matcher *RuleMatcher
	events  EventPublisher
}

// NewLedgerService creates the ledger service. events may be nil when no
// broker is configured.
func NewLedgerService(store storage.Store, matcher *RuleMatcher, events EventPublisher) *LedgerService {
	return &LedgerService{
		store:   store,
		matcher: matcher,
		events:  events,
	}
}

// CreateTransaction records a new transaction in pending state.
//
// When no envelope is assigned, the category rule matcher proposes one
// (advisory, the caller may override later). Bank-imported transactions are
// screened against recent manual entries and flagged when a likely duplicate
// is found; a flagged transaction cannot be approved until the flag is
// resolved. Manual entries may be created pre-approved, in which case the
// balance effects are applied immediately.
func (s *LedgerService) CreateTransaction(ctx context.Context, t core.Transaction, preApprove bool) (core.Transaction, error) {
	t.IsApproved = false
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	if t.EnvelopeID == nil && s.matcher != nil {
		suggested, err := s.matcher.Suggest(ctx, t.UserID, t.Merchant)
		if err != nil {
			return core.Transaction{}, err
		}
		t.EnvelopeID = suggested
	}

	if t.Source == core.SourceBankImport {
		match, err := s.screenDuplicates(ctx, t)
		if err != nil {
			return core.Transaction{}, err
		}
		if match != nil {
			id := match.Candidate.ID
			t.DuplicateOfID = &id
			slog.WarnContext(ctx, "Imported transaction flagged as likely duplicate",
				"manual_id", id,
				"merchant", t.Merchant,
				"exact_amount", match.ExactAmount)
		}
	}

	id, err := s.store.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	t.ID = id

	slog.InfoContext(ctx, "Transaction created",
		"transaction_id", id,
		"account_id", t.AccountID,
		"amount", t.Amount,
		"source", t.Source,
		"duplicate_flagged", t.DuplicateOfID != nil)

	// Manual entries may be recorded as already spent; bank imports always
	// go through review.
	if preApprove && t.Source == core.SourceManual {
		return s.Approve(ctx, t.UserID, id)
	}
	return t, nil
}

// Approve transitions a pending transaction to approved and applies its
// balance effects exactly once.
//
// The account balance moves by the signed amount; the assigned envelope, if
// any, moves by the same signed amount (an expense decreases the envelope,
// income routed to an envelope increases it). The store's conditional update
// guarantees that of two concurrent approvals exactly one wins and the other
// fails with core.ErrAlreadyProcessed.
func (s *LedgerService) Approve(ctx context.Context, userID string, txID int64) (core.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, userID, txID)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.IsApproved {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", txID, core.ErrAlreadyProcessed)
	}
	if t.Source == core.SourceBankImport && t.DuplicateOfID != nil {
		return core.Transaction{}, fmt.Errorf("transaction %d flagged against manual transaction %d: %w",
			txID, *t.DuplicateOfID, core.ErrDuplicateUnresolved)
	}
	if t.EnvelopeID == nil && t.RequiresEnvelope() {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", txID, core.ErrMissingEnvelope)
	}

	if err := s.store.ApplyApproval(ctx, approvalEffect(t)); err != nil {
		return core.Transaction{}, err
	}
	t.IsApproved = true

	slog.InfoContext(ctx, "Transaction approved",
		"transaction_id", t.ID,
		"account_id", t.AccountID,
		"amount", t.Amount)

	s.publishApproved(ctx, t)
	return t, nil
}

// Reject deletes a pending transaction. No balance was ever applied, so none
// is undone. Approved transactions cannot be rejected; they require Reverse.
func (s *LedgerService) Reject(ctx context.Context, userID string, txID int64) error {
	t, err := s.store.GetTransaction(ctx, userID, txID)
	if err != nil {
		return err
	}
	if t.IsApproved {
		return fmt.Errorf("transaction %d is approved and must be reversed, not rejected: %w",
			txID, core.ErrAlreadyProcessed)
	}
	if err := s.store.DeletePending(ctx, userID, txID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Transaction rejected", "transaction_id", txID)
	return nil
}

// Reverse is the auditable undo of an approved transaction: the prior
// balance deltas are taken back and the transaction returns to pending,
// where its envelope may be reassigned before re-approval.
func (s *LedgerService) Reverse(ctx context.Context, userID string, txID int64) (core.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, userID, txID)
	if err != nil {
		return core.Transaction{}, err
	}
	if !t.IsApproved {
		return core.Transaction{}, fmt.Errorf("transaction %d is not approved: %w", txID, core.ErrAlreadyProcessed)
	}

	eff := approvalEffect(t)
	eff.AccountDelta = eff.AccountDelta.Neg()
	eff.EnvelopeDelta = eff.EnvelopeDelta.Neg()
	if err := s.store.ApplyReversal(ctx, eff); err != nil {
		return core.Transaction{}, err
	}
	t.IsApproved = false

	slog.InfoContext(ctx, "Transaction reversed",
		"transaction_id", t.ID,
		"account_id", t.AccountID,
		"amount", t.Amount)
	return t, nil
}

// CorrectEnvelope moves an approved transaction to a different envelope by
// reversing its balance delta, reassigning, and re-applying. Pending
// transactions are reassigned directly.
func (s *LedgerService) CorrectEnvelope(ctx context.Context, userID string, txID, envelopeID int64) (core.Transaction, error) {
	t, err := s.store.GetTransaction(ctx, userID, txID)
	if err != nil {
		return core.Transaction{}, err
	}

	if !t.IsApproved {
		if err := s.store.AssignEnvelope(ctx, userID, txID, envelopeID); err != nil {
			return core.Transaction{}, err
		}
		t.EnvelopeID = &envelopeID
		return t, nil
	}

	if _, err := s.Reverse(ctx, userID, txID); err != nil {
		return core.Transaction{}, err
	}
	if err := s.store.AssignEnvelope(ctx, userID, txID, envelopeID); err != nil {
		return core.Transaction{}, err
	}
	return s.Approve(ctx, userID, txID)
}

// Allocate is the explicit allocation operation: it moves amount into (or,
// negative, out of) an envelope's available funds without touching any
// account. This is the user-initiated adjustment reconciliation discrepancies
// are corrected with.
func (s *LedgerService) Allocate(ctx context.Context, userID string, envelopeID int64, amount decimal.Decimal) error {
	if amount.IsZero() {
		return fmt.Errorf("allocation amount: %w", core.ErrInvalidAmount)
	}
	if err := s.store.AdjustEnvelopeBalance(ctx, userID, envelopeID, amount); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Envelope allocation applied",
		"envelope_id", envelopeID,
		"amount", amount)
	return nil
}

func approvalEffect(t core.Transaction) storage.ApprovalEffect {
	eff := storage.ApprovalEffect{
		UserID:        t.UserID,
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		AccountDelta:  t.Amount,
	}
	if t.EnvelopeID != nil {
		eff.EnvelopeID = t.EnvelopeID
		eff.EnvelopeDelta = t.Amount
	}
	return eff
}

func (s *LedgerService) publishApproved(ctx context.Context, t core.Transaction) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishTransactionApproved(ctx, t); err != nil {
		slog.ErrorContext(ctx, "Failed to publish approval event",
			"transaction_id", t.ID, "error", err)
	}
}
