package services

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"buste/internal/core"
)

// ReconcileResult compares total real money against total budgeted money.
// Difference is bank minus envelopes: positive means unallocated funds,
// negative means the envelopes promise more than the accounts hold.
type ReconcileResult struct {
	TotalBankBalance     decimal.Decimal `json:"total_bank_balance"`
	TotalEnvelopeBalance decimal.Decimal `json:"total_envelope_balance"`
	Difference           decimal.Decimal `json:"difference"`
	IsReconciled         bool            `json:"is_reconciled"`
}

// Reconcile sums every account and envelope balance, active or not: a closed
// account still holds (or owes) real money. Pure calculation, nothing is
// mutated; discrepancies are corrected by explicit allocations.
func Reconcile(accounts []core.Account, envelopes []core.Envelope) ReconcileResult {
	bank := decimal.Zero
	for _, a := range accounts {
		bank = bank.Add(a.Balance)
	}
	budgeted := decimal.Zero
	for _, e := range envelopes {
		budgeted = budgeted.Add(e.CurrentBalance)
	}
	diff := bank.Sub(budgeted)
	return ReconcileResult{
		TotalBankBalance:     bank,
		TotalEnvelopeBalance: budgeted,
		Difference:           diff,
		IsReconciled:         diff.Abs().Cmp(core.Epsilon) < 0,
	}
}

// Reconcile loads the user's accounts and envelopes and reports whether the
// books balance.
func (s *LedgerService) Reconcile(ctx context.Context, userID string) (ReconcileResult, error) {
	accounts, err := s.store.ListAccounts(ctx, userID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list accounts: %w", err)
	}
	envelopes, err := s.store.ListEnvelopes(ctx, userID)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list envelopes: %w", err)
	}
	return Reconcile(accounts, envelopes), nil
}
