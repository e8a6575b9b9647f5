package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"buste/internal/core"
	"buste/internal/storage"
)

const user = "user-1"

func seedAccount(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.CreateAccount(context.Background(), core.Account{
		UserID:   user,
		Name:     "Everyday",
		Type:     core.Checking,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return id
}

func seedEnvelope(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	id, err := s.CreateEnvelope(context.Background(), core.Envelope{
		UserID:   user,
		Name:     name,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("create envelope: %v", err)
	}
	return id
}

func seedPending(t *testing.T, s *Store, accountID int64, envelopeID *int64, amount string) int64 {
	t.Helper()
	id, err := s.CreateTransaction(context.Background(), core.Transaction{
		UserID:     user,
		AccountID:  accountID,
		EnvelopeID: envelopeID,
		Amount:     decimal.RequireFromString(amount),
		Merchant:   "Countdown",
		Date:       time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		Source:     core.SourceManual,
	})
	if err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return id
}

func TestApplyApprovalOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accID := seedAccount(t, s)
	envID := seedEnvelope(t, s, "Groceries")
	txID := seedPending(t, s, accID, &envID, "-45.67")

	eff := storage.ApprovalEffect{
		UserID:        user,
		TransactionID: txID,
		AccountID:     accID,
		AccountDelta:  decimal.RequireFromString("-45.67"),
		EnvelopeID:    &envID,
		EnvelopeDelta: decimal.RequireFromString("-45.67"),
	}
	if err := s.ApplyApproval(ctx, eff); err != nil {
		t.Fatalf("first approval: %v", err)
	}
	if err := s.ApplyApproval(ctx, eff); !errors.Is(err, core.ErrAlreadyProcessed) {
		t.Fatalf("second approval error = %v, want ErrAlreadyProcessed", err)
	}

	acc, _ := s.GetAccount(ctx, user, accID)
	if !acc.Balance.Equal(decimal.RequireFromString("-45.67")) {
		t.Errorf("account balance applied more than once: %s", acc.Balance)
	}
	env, _ := s.GetEnvelope(ctx, user, envID)
	if !env.CurrentBalance.Equal(decimal.RequireFromString("-45.67")) {
		t.Errorf("envelope balance applied more than once: %s", env.CurrentBalance)
	}
}

func TestConcurrentApprovalExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accID := seedAccount(t, s)
	envID := seedEnvelope(t, s, "Groceries")
	txID := seedPending(t, s, accID, &envID, "-10.00")

	eff := storage.ApprovalEffect{
		UserID:        user,
		TransactionID: txID,
		AccountID:     accID,
		AccountDelta:  decimal.RequireFromString("-10.00"),
		EnvelopeID:    &envID,
		EnvelopeDelta: decimal.RequireFromString("-10.00"),
	}

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.ApplyApproval(ctx, eff)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else if !errors.Is(err, core.ErrAlreadyProcessed) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("got %d successful approvals, want exactly 1", successes)
	}

	env, _ := s.GetEnvelope(ctx, user, envID)
	if !env.CurrentBalance.Equal(decimal.RequireFromString("-10.00")) {
		t.Errorf("envelope balance = %s, want -10.00", env.CurrentBalance)
	}
}

func TestDeletePendingRejectsApproved(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accID := seedAccount(t, s)
	envID := seedEnvelope(t, s, "Groceries")
	txID := seedPending(t, s, accID, &envID, "-5.00")

	if err := s.ApplyApproval(ctx, storage.ApprovalEffect{
		UserID: user, TransactionID: txID, AccountID: accID,
		AccountDelta: decimal.RequireFromString("-5.00"),
		EnvelopeID:   &envID, EnvelopeDelta: decimal.RequireFromString("-5.00"),
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := s.DeletePending(ctx, user, txID); !errors.Is(err, core.ErrAlreadyProcessed) {
		t.Errorf("DeletePending on approved = %v, want ErrAlreadyProcessed", err)
	}
}

func TestOwnerScoping(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accID := seedAccount(t, s)

	if _, err := s.GetAccount(ctx, "someone-else", accID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("foreign account lookup = %v, want ErrNotFound", err)
	}
}

func TestApplyDistributionAtomicOnMissingEnvelope(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accID := seedAccount(t, s)
	envID := seedEnvelope(t, s, "Rent")
	tplID, err := s.CreateTemplate(ctx, core.RecurringTemplate{
		UserID:            user,
		Name:              "Salary",
		Amount:            decimal.NewFromInt(150),
		Frequency:         core.Monthly,
		NextDate:          time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		AccountID:         accID,
		SurplusEnvelopeID: envID,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	batch := storage.DistributionBatch{
		UserID:     user,
		TemplateID: tplID,
		AccountID:  accID,
		Transactions: []core.Transaction{{
			UserID: user, AccountID: accID, EnvelopeID: &envID,
			Amount: decimal.NewFromInt(100), Merchant: "Salary",
			Date: time.Now(), IsApproved: true, Source: core.SourceManual,
		}},
		Credits: []storage.EnvelopeCredit{
			{EnvelopeID: envID, Amount: decimal.NewFromInt(100)},
			{EnvelopeID: 9999, Amount: decimal.NewFromInt(50)}, // missing
		},
		AccountDelta: decimal.NewFromInt(150),
		NextDate:     time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := s.ApplyDistribution(ctx, batch); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("distribution with missing envelope = %v, want ErrNotFound", err)
	}

	// Nothing may have been applied.
	acc, _ := s.GetAccount(ctx, user, accID)
	if !acc.Balance.IsZero() {
		t.Errorf("account balance mutated by failed distribution: %s", acc.Balance)
	}
	env, _ := s.GetEnvelope(ctx, user, envID)
	if !env.CurrentBalance.IsZero() {
		t.Errorf("envelope balance mutated by failed distribution: %s", env.CurrentBalance)
	}
	txs, _ := s.ListTransactionsByAccount(ctx, user, accID)
	if len(txs) != 0 {
		t.Errorf("failed distribution left %d transactions behind", len(txs))
	}
	tpl, _ := s.GetTemplate(ctx, user, tplID)
	if !tpl.NextDate.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("template advanced by failed distribution: %s", tpl.NextDate)
	}
}

func TestApplyMergeDeletesBankRow(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accID := seedAccount(t, s)
	envID := seedEnvelope(t, s, "Groceries")
	manualID := seedPending(t, s, accID, &envID, "-45.67")

	bankID, err := s.CreateTransaction(ctx, core.Transaction{
		UserID:        user,
		AccountID:     accID,
		Amount:        decimal.RequireFromString("-45.67"),
		Merchant:      "Countdown Supermarket",
		Date:          time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC),
		Source:        core.SourceBankImport,
		DuplicateOfID: &manualID,
	})
	if err != nil {
		t.Fatalf("create bank transaction: %v", err)
	}

	err = s.ApplyMerge(ctx, storage.MergeEffect{
		UserID:   user,
		ManualID: manualID,
		BankID:   bankID,
		Amount:   decimal.RequireFromString("-45.67"),
		Date:     time.Date(2026, 8, 12, 0, 0, 0, 0, time.UTC),
		Approval: &storage.ApprovalEffect{
			UserID: user, TransactionID: manualID, AccountID: accID,
			AccountDelta: decimal.RequireFromString("-45.67"),
			EnvelopeID:   &envID, EnvelopeDelta: decimal.RequireFromString("-45.67"),
		},
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	if _, err := s.GetTransaction(ctx, user, bankID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("bank transaction still present after merge: %v", err)
	}
	manual, err := s.GetTransaction(ctx, user, manualID)
	if err != nil {
		t.Fatalf("get manual: %v", err)
	}
	if !manual.BankVerified || !manual.IsApproved {
		t.Errorf("manual transaction not bank-verified and approved: %+v", manual)
	}
	env, _ := s.GetEnvelope(ctx, user, envID)
	if !env.CurrentBalance.Equal(decimal.RequireFromString("-45.67")) {
		t.Errorf("merge double-applied balances: %s", env.CurrentBalance)
	}
}

func TestApplyApprovalRejectsStaleEnvelopeEffect(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accID := seedAccount(t, s)
	envA := seedEnvelope(t, s, "Groceries")
	envB := seedEnvelope(t, s, "Dining")
	txID := seedPending(t, s, accID, &envA, "-25.00")

	// Effect computed from a read that saw envelope A.
	eff := storage.ApprovalEffect{
		UserID:        user,
		TransactionID: txID,
		AccountID:     accID,
		AccountDelta:  decimal.RequireFromString("-25.00"),
		EnvelopeID:    &envA,
		EnvelopeDelta: decimal.RequireFromString("-25.00"),
	}

	// A reassignment lands before the effect is applied.
	if err := s.AssignEnvelope(ctx, user, txID, envB); err != nil {
		t.Fatalf("assign envelope: %v", err)
	}

	if err := s.ApplyApproval(ctx, eff); !errors.Is(err, core.ErrInconsistentState) {
		t.Fatalf("stale approval error = %v, want ErrInconsistentState", err)
	}

	// Nothing moved and the transaction is still pending.
	tx, err := s.GetTransaction(ctx, user, txID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.IsApproved {
		t.Error("transaction approved by a stale effect")
	}
	a, _ := s.GetAccount(ctx, user, accID)
	if !a.Balance.IsZero() {
		t.Errorf("account balance = %s, want 0", a.Balance)
	}
	for _, envID := range []int64{envA, envB} {
		env, _ := s.GetEnvelope(ctx, user, envID)
		if !env.CurrentBalance.IsZero() {
			t.Errorf("envelope %d balance = %s, want 0", envID, env.CurrentBalance)
		}
	}

	// A fresh effect computed from the current row applies cleanly to B.
	eff.EnvelopeID = &envB
	if err := s.ApplyApproval(ctx, eff); err != nil {
		t.Fatalf("fresh approval: %v", err)
	}
	envAState, _ := s.GetEnvelope(ctx, user, envA)
	envBState, _ := s.GetEnvelope(ctx, user, envB)
	if !envAState.CurrentBalance.IsZero() {
		t.Errorf("envelope A balance = %s, want 0", envAState.CurrentBalance)
	}
	if !envBState.CurrentBalance.Equal(decimal.RequireFromString("-25.00")) {
		t.Errorf("envelope B balance = %s, want -25", envBState.CurrentBalance)
	}
}

func TestApplyReversalRejectsStaleEnvelopeEffect(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	accID := seedAccount(t, s)
	envA := seedEnvelope(t, s, "Groceries")
	envB := seedEnvelope(t, s, "Dining")
	txID := seedPending(t, s, accID, &envA, "-25.00")

	eff := storage.ApprovalEffect{
		UserID:        user,
		TransactionID: txID,
		AccountID:     accID,
		AccountDelta:  decimal.RequireFromString("-25.00"),
		EnvelopeID:    &envA,
		EnvelopeDelta: decimal.RequireFromString("-25.00"),
	}
	if err := s.ApplyApproval(ctx, eff); err != nil {
		t.Fatalf("approval: %v", err)
	}

	// A reversal effect naming the wrong envelope must not apply.
	stale := eff
	stale.EnvelopeID = &envB
	stale.AccountDelta = stale.AccountDelta.Neg()
	stale.EnvelopeDelta = stale.EnvelopeDelta.Neg()
	if err := s.ApplyReversal(ctx, stale); !errors.Is(err, core.ErrInconsistentState) {
		t.Fatalf("stale reversal error = %v, want ErrInconsistentState", err)
	}
	env, _ := s.GetEnvelope(ctx, user, envA)
	if !env.CurrentBalance.Equal(decimal.RequireFromString("-25.00")) {
		t.Errorf("envelope A balance = %s, want -25", env.CurrentBalance)
	}
}
