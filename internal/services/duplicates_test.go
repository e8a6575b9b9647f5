package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"buste/internal/core"
)

func manualTx(id int64, amount, merchant string, day int) core.Transaction {
	return core.Transaction{
		ID:       id,
		UserID:   testUser,
		Amount:   decimal.RequireFromString(amount),
		Merchant: merchant,
		Date:     time.Date(2026, time.August, day, 0, 0, 0, 0, time.UTC),
		Source:   core.SourceManual,
	}
}

func bankTx(amount, merchant string, day int) core.Transaction {
	return core.Transaction{
		UserID:   testUser,
		Amount:   decimal.RequireFromString(amount),
		Merchant: merchant,
		Date:     time.Date(2026, time.August, day, 0, 0, 0, 0, time.UTC),
		Source:   core.SourceBankImport,
	}
}

func TestFindDuplicate(t *testing.T) {
	tests := []struct {
		name       string
		incoming   core.Transaction
		candidates []core.Transaction
		wantID     int64 // 0 means no match expected
	}{
		{
			name:     "settlement lag with merchant suffix",
			incoming: bankTx("-45.67", "Countdown Supermarket", 12),
			candidates: []core.Transaction{
				manualTx(1, "-45.67", "Countdown", 10),
			},
			wantID: 1,
		},
		{
			name:     "amount within epsilon",
			incoming: bankTx("-45.68", "Countdown", 10),
			candidates: []core.Transaction{
				manualTx(1, "-45.67", "Countdown", 10),
			},
			wantID: 1,
		},
		{
			name:     "amount outside epsilon",
			incoming: bankTx("-45.70", "Countdown", 10),
			candidates: []core.Transaction{
				manualTx(1, "-45.67", "Countdown", 10),
			},
			wantID: 0,
		},
		{
			name:     "date outside window",
			incoming: bankTx("-45.67", "Countdown", 14),
			candidates: []core.Transaction{
				manualTx(1, "-45.67", "Countdown", 10),
			},
			wantID: 0,
		},
		{
			name:     "unrelated merchant",
			incoming: bankTx("-45.67", "New World", 10),
			candidates: []core.Transaction{
				manualTx(1, "-45.67", "Countdown", 10),
			},
			wantID: 0,
		},
		{
			name:     "closest date wins",
			incoming: bankTx("-45.67", "Countdown", 12),
			candidates: []core.Transaction{
				manualTx(1, "-45.67", "Countdown", 9),
				manualTx(2, "-45.67", "Countdown", 11),
			},
			wantID: 2,
		},
		{
			name:     "date tie broken by smallest id",
			incoming: bankTx("-45.67", "Countdown", 11),
			candidates: []core.Transaction{
				manualTx(7, "-45.67", "Countdown", 10),
				manualTx(3, "-45.67", "Countdown", 12),
			},
			wantID: 3,
		},
		{
			name:     "containment works in both directions",
			incoming: bankTx("-45.67", "Countdown", 10),
			candidates: []core.Transaction{
				manualTx(1, "-45.67", "Countdown Supermarket Newtown", 10),
			},
			wantID: 1,
		},
		{
			name:     "empty merchant never matches",
			incoming: bankTx("-45.67", "", 10),
			candidates: []core.Transaction{
				manualTx(1, "-45.67", "Countdown", 10),
			},
			wantID: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindDuplicate(tt.incoming, tt.candidates)
			switch {
			case tt.wantID == 0 && got != nil:
				t.Errorf("FindDuplicate matched transaction %d, want no match", got.Candidate.ID)
			case tt.wantID != 0 && got == nil:
				t.Errorf("FindDuplicate found no match, want transaction %d", tt.wantID)
			case tt.wantID != 0 && got.Candidate.ID != tt.wantID:
				t.Errorf("FindDuplicate matched transaction %d, want %d", got.Candidate.ID, tt.wantID)
			}
		})
	}
}

func TestBankImportFlaggedAndBlocked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	manual := f.pendingExpense(t, "-45.67")

	bank, err := f.svc.CreateTransaction(ctx, core.Transaction{
		UserID:     testUser,
		AccountID:  f.accountID,
		EnvelopeID: &f.envelopeID,
		Amount:     decimal.RequireFromString("-45.67"),
		Merchant:   "Countdown Supermarket",
		Date:       time.Date(2026, time.August, 12, 0, 0, 0, 0, time.UTC),
		Source:     core.SourceBankImport,
	}, false)
	if err != nil {
		t.Fatalf("create bank import: %v", err)
	}
	if bank.DuplicateOfID == nil || *bank.DuplicateOfID != manual.ID {
		t.Fatalf("bank import flag = %v, want manual transaction %d", bank.DuplicateOfID, manual.ID)
	}

	if _, err := f.svc.Approve(ctx, testUser, bank.ID); !errors.Is(err, core.ErrDuplicateUnresolved) {
		t.Errorf("approve flagged import error = %v, want ErrDuplicateUnresolved", err)
	}
}

func TestResolveMergeAppliesBankAmountOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Manual guess of -45.00; the bank settles at -45.67.
	manual := f.pendingExpense(t, "-45.00")
	bank, err := f.svc.CreateTransaction(ctx, core.Transaction{
		UserID:    testUser,
		AccountID: f.accountID,
		Amount:    decimal.RequireFromString("-45.01"),
		Merchant:  "Countdown",
		Date:      time.Date(2026, time.August, 11, 0, 0, 0, 0, time.UTC),
		Source:    core.SourceBankImport,
	}, false)
	if err != nil {
		t.Fatalf("create bank import: %v", err)
	}
	if bank.DuplicateOfID == nil {
		t.Fatal("bank import was not flagged")
	}

	if err := f.svc.ResolveDuplicate(ctx, testUser, bank.ID, ResolutionMerge); err != nil {
		t.Fatalf("resolve merge: %v", err)
	}

	// Bank row gone, manual row bank-verified with the settled amount.
	if _, err := f.store.GetTransaction(ctx, testUser, bank.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("bank row should be deleted, err = %v", err)
	}
	kept, err := f.store.GetTransaction(ctx, testUser, manual.ID)
	if err != nil {
		t.Fatalf("get manual: %v", err)
	}
	if !kept.BankVerified || !kept.IsApproved {
		t.Errorf("merged transaction verified=%v approved=%v, want true/true", kept.BankVerified, kept.IsApproved)
	}
	if want := decimal.RequireFromString("-45.01"); !kept.Amount.Equal(want) {
		t.Errorf("merged amount = %s, want bank amount %s", kept.Amount, want)
	}

	// The settled purchase hits the books exactly once.
	account, envelope := f.balances(t)
	want := decimal.RequireFromString("-45.01")
	if !account.Equal(want) || !envelope.Equal(want) {
		t.Errorf("balances = %s / %s, want %s applied once", account, envelope, want)
	}
}

func TestResolveMergeKeepsApprovedManualAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	manual := f.pendingExpense(t, "-45.67")
	if _, err := f.svc.Approve(ctx, testUser, manual.ID); err != nil {
		t.Fatalf("approve manual: %v", err)
	}

	bank, err := f.svc.CreateTransaction(ctx, core.Transaction{
		UserID:    testUser,
		AccountID: f.accountID,
		Amount:    decimal.RequireFromString("-45.67"),
		Merchant:  "Countdown",
		Date:      time.Date(2026, time.August, 12, 0, 0, 0, 0, time.UTC),
		Source:    core.SourceBankImport,
	}, false)
	if err != nil {
		t.Fatalf("create bank import: %v", err)
	}
	if err := f.svc.ResolveDuplicate(ctx, testUser, bank.ID, ResolutionMerge); err != nil {
		t.Fatalf("resolve merge: %v", err)
	}

	kept, err := f.store.GetTransaction(ctx, testUser, manual.ID)
	if err != nil {
		t.Fatalf("get manual: %v", err)
	}
	if !kept.BankVerified {
		t.Error("merged transaction not bank-verified")
	}
	if !kept.Date.Equal(manual.Date) {
		t.Errorf("approved manual date changed to %s", kept.Date)
	}

	account, _ := f.balances(t)
	if want := decimal.RequireFromString("-45.67"); !account.Equal(want) {
		t.Errorf("account balance = %s, want %s (no double apply)", account, want)
	}
}

func TestResolveKeepBothUnblocksApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.pendingExpense(t, "-45.67")
	bank, err := f.svc.CreateTransaction(ctx, core.Transaction{
		UserID:     testUser,
		AccountID:  f.accountID,
		EnvelopeID: &f.envelopeID,
		Amount:     decimal.RequireFromString("-45.67"),
		Merchant:   "Countdown",
		Date:       time.Date(2026, time.August, 11, 0, 0, 0, 0, time.UTC),
		Source:     core.SourceBankImport,
	}, false)
	if err != nil {
		t.Fatalf("create bank import: %v", err)
	}

	if err := f.svc.ResolveDuplicate(ctx, testUser, bank.ID, ResolutionKeepBoth); err != nil {
		t.Fatalf("resolve keep_both: %v", err)
	}
	if _, err := f.svc.Approve(ctx, testUser, bank.ID); err != nil {
		t.Errorf("approve after keep_both: %v", err)
	}
}

func TestResolveDeleteBank(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.pendingExpense(t, "-45.67")
	bank, err := f.svc.CreateTransaction(ctx, core.Transaction{
		UserID:    testUser,
		AccountID: f.accountID,
		Amount:    decimal.RequireFromString("-45.67"),
		Merchant:  "Countdown",
		Date:      time.Date(2026, time.August, 11, 0, 0, 0, 0, time.UTC),
		Source:    core.SourceBankImport,
	}, false)
	if err != nil {
		t.Fatalf("create bank import: %v", err)
	}

	if err := f.svc.ResolveDuplicate(ctx, testUser, bank.ID, ResolutionDeleteBank); err != nil {
		t.Fatalf("resolve delete_bank: %v", err)
	}
	if _, err := f.store.GetTransaction(ctx, testUser, bank.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("bank row should be deleted, err = %v", err)
	}
}

func TestResolveUnknownResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.pendingExpense(t, "-45.67")
	bank, err := f.svc.CreateTransaction(ctx, core.Transaction{
		UserID:    testUser,
		AccountID: f.accountID,
		Amount:    decimal.RequireFromString("-45.67"),
		Merchant:  "Countdown",
		Date:      time.Date(2026, time.August, 11, 0, 0, 0, 0, time.UTC),
		Source:    core.SourceBankImport,
	}, false)
	if err != nil {
		t.Fatalf("create bank import: %v", err)
	}

	if err := f.svc.ResolveDuplicate(ctx, testUser, bank.ID, "shrug"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("unknown resolution error = %v, want ErrValidation", err)
	}
	if err := f.svc.ResolveDuplicate(ctx, testUser, bank.ID, ResolutionKeepBoth); err != nil {
		t.Fatalf("resolve after failed attempt: %v", err)
	}
	if err := f.svc.ResolveDuplicate(ctx, testUser, bank.ID, ResolutionKeepBoth); !errors.Is(err, core.ErrInconsistentState) {
		t.Errorf("resolving unflagged transaction error = %v, want ErrInconsistentState", err)
	}
}
