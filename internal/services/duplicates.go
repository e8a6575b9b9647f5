package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"buste/internal/core"
	"buste/internal/storage"
)

// duplicateWindow bounds how far apart in time a bank-imported transaction
// and a manual entry can be and still count as the same purchase. Card
// settlement typically lags the purchase by a day or two.
const duplicateWindow = 3 * 24 * time.Hour

// Duplicate resolution choices for a flagged bank import.
const (
	ResolutionMerge      = "merge"
	ResolutionKeepBoth   = "keep_both"
	ResolutionDeleteBank = "delete_bank"
)

// DuplicateMatch describes the manual transaction a bank import most likely
// duplicates. ExactAmount distinguishes a to-the-cent match from one within
// the rounding epsilon.
type DuplicateMatch struct {
	Candidate   core.Transaction
	ExactAmount bool
	DateDiff    time.Duration
}

// FindDuplicate compares an incoming bank-imported transaction against
// candidate manual entries and returns the most likely duplicate, or nil.
//
// A candidate matches when its amount is within the rounding epsilon of the
// incoming amount, its date is within the settlement window, and one
// merchant string contains the other case-insensitively. Among several
// matches the closest date wins, ties broken by the smallest ID so repeated
// imports of the same file flag the same row.
func FindDuplicate(incoming core.Transaction, candidates []core.Transaction) *DuplicateMatch {
	if incoming.Source != core.SourceBankImport {
		return nil
	}

	var best *DuplicateMatch
	for _, c := range candidates {
		if c.Source != core.SourceManual || c.ID == incoming.ID {
			continue
		}
		if !core.WithinEpsilon(c.Amount, incoming.Amount) {
			continue
		}
		diff := absDuration(incoming.Date.Sub(c.Date))
		if diff > duplicateWindow {
			continue
		}
		if !merchantsOverlap(incoming.Merchant, c.Merchant) {
			continue
		}

		m := &DuplicateMatch{
			Candidate:   c,
			ExactAmount: c.Amount.Equal(incoming.Amount),
			DateDiff:    diff,
		}
		if best == nil ||
			m.DateDiff < best.DateDiff ||
			(m.DateDiff == best.DateDiff && m.Candidate.ID < best.Candidate.ID) {
			best = m
		}
	}
	return best
}

// merchantsOverlap reports whether one merchant string contains the other,
// ignoring case. Banks often append branch or terminal suffixes, so
// containment is checked in both directions. Empty strings never overlap.
func merchantsOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (s *LedgerService) screenDuplicates(ctx context.Context, t core.Transaction) (*DuplicateMatch, error) {
	from := t.Date.Add(-duplicateWindow)
	to := t.Date.Add(duplicateWindow)
	candidates, err := s.store.ListManualBetween(ctx, t.UserID, t.AccountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load duplicate candidates: %w", err)
	}
	return FindDuplicate(t, candidates), nil
}

// ResolveDuplicate settles a flagged bank import against the manual
// transaction it was matched with.
//
// merge keeps the manual transaction (its ID, envelope and description
// survive), marks it bank-verified, adopts the bank's amount and date when
// the manual entry was still pending, and deletes the bank row. keep_both
// clears the flag so the bank import becomes approvable on its own.
// delete_bank discards the pending bank import.
func (s *LedgerService) ResolveDuplicate(ctx context.Context, userID string, bankTxID int64, resolution string) error {
	t, err := s.store.GetTransaction(ctx, userID, bankTxID)
	if err != nil {
		return err
	}
	if t.DuplicateOfID == nil {
		return fmt.Errorf("transaction %d carries no duplicate flag: %w", bankTxID, core.ErrInconsistentState)
	}
	manualID := *t.DuplicateOfID

	switch resolution {
	case ResolutionMerge:
		err = s.mergeDuplicate(ctx, t, manualID)
	case ResolutionKeepBoth:
		err = s.store.ClearDuplicateFlag(ctx, userID, bankTxID)
	case ResolutionDeleteBank:
		err = s.store.DeletePending(ctx, userID, bankTxID)
	default:
		return fmt.Errorf("unknown duplicate resolution %q: %w", resolution, core.ErrValidation)
	}
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Duplicate resolved",
		"bank_transaction_id", bankTxID,
		"manual_transaction_id", manualID,
		"resolution", resolution)
	return nil
}

// mergeDuplicate keeps the manual transaction and discards the bank import.
// A still-pending manual entry is approved as part of the merge, using the
// bank's amount as the authoritative balance delta, so the settled purchase
// hits the books exactly once.
func (s *LedgerService) mergeDuplicate(ctx context.Context, bank core.Transaction, manualID int64) error {
	manual, err := s.store.GetTransaction(ctx, bank.UserID, manualID)
	if err != nil {
		return err
	}

	eff := storage.MergeEffect{
		UserID:   bank.UserID,
		ManualID: manualID,
		BankID:   bank.ID,
		Amount:   bank.Amount,
		Date:     bank.Date,
	}
	if !manual.IsApproved {
		if manual.EnvelopeID == nil && manual.RequiresEnvelope() {
			return fmt.Errorf("manual transaction %d: %w", manualID, core.ErrMissingEnvelope)
		}
		ap := storage.ApprovalEffect{
			UserID:        bank.UserID,
			TransactionID: manualID,
			AccountID:     manual.AccountID,
			AccountDelta:  bank.Amount,
		}
		if manual.EnvelopeID != nil {
			ap.EnvelopeID = manual.EnvelopeID
			ap.EnvelopeDelta = bank.Amount
		}
		eff.Approval = &ap
	}
	return s.store.ApplyMerge(ctx, eff)
}
