package services

import (
	"testing"

	"github.com/shopspring/decimal"

	"buste/internal/core"
)

func accountWith(balance string) core.Account {
	return core.Account{Balance: decimal.RequireFromString(balance), IsActive: true}
}

func envelopeWith(balance string) core.Envelope {
	return core.Envelope{CurrentBalance: decimal.RequireFromString(balance), IsActive: true}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name           string
		accounts       []core.Account
		envelopes      []core.Envelope
		wantDifference string
		wantReconciled bool
	}{
		{
			name:           "balanced",
			accounts:       []core.Account{accountWith("1000.00"), accountWith("250.00")},
			envelopes:      []core.Envelope{envelopeWith("800.00"), envelopeWith("450.00")},
			wantDifference: "0",
			wantReconciled: true,
		},
		{
			name:           "unallocated funds",
			accounts:       []core.Account{accountWith("1000.00")},
			envelopes:      []core.Envelope{envelopeWith("700.00")},
			wantDifference: "300.00",
			wantReconciled: false,
		},
		{
			name:           "over-budgeted",
			accounts:       []core.Account{accountWith("500.00")},
			envelopes:      []core.Envelope{envelopeWith("650.00")},
			wantDifference: "-150.00",
			wantReconciled: false,
		},
		{
			name:           "sub-cent drift counts as reconciled",
			accounts:       []core.Account{accountWith("100.005")},
			envelopes:      []core.Envelope{envelopeWith("100.00")},
			wantDifference: "0.005",
			wantReconciled: true,
		},
		{
			name:           "exactly one cent apart is not reconciled",
			accounts:       []core.Account{accountWith("100.01")},
			envelopes:      []core.Envelope{envelopeWith("100.00")},
			wantDifference: "0.01",
			wantReconciled: false,
		},
		{
			name:           "inactive balances still count",
			accounts:       []core.Account{accountWith("100.00"), {Balance: decimal.RequireFromString("40.00")}},
			envelopes:      []core.Envelope{envelopeWith("100.00"), {CurrentBalance: decimal.RequireFromString("40.00")}},
			wantDifference: "0",
			wantReconciled: true,
		},
		{
			name:           "empty ledger reconciles",
			wantDifference: "0",
			wantReconciled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.accounts, tt.envelopes)
			if want := decimal.RequireFromString(tt.wantDifference); !got.Difference.Equal(want) {
				t.Errorf("Difference = %s, want %s", got.Difference, want)
			}
			if got.IsReconciled != tt.wantReconciled {
				t.Errorf("IsReconciled = %v, want %v", got.IsReconciled, tt.wantReconciled)
			}
		})
	}
}

// Reconcile is a pure calculation: running it twice over the same inputs
// yields identical results and mutates nothing.
func TestReconcileIsPure(t *testing.T) {
	accounts := []core.Account{accountWith("1000.00")}
	envelopes := []core.Envelope{envelopeWith("900.00")}

	first := Reconcile(accounts, envelopes)
	second := Reconcile(accounts, envelopes)

	if !first.Difference.Equal(second.Difference) || first.IsReconciled != second.IsReconciled {
		t.Errorf("repeated reconcile differs: %+v vs %+v", first, second)
	}
	if !accounts[0].Balance.Equal(decimal.RequireFromString("1000.00")) {
		t.Errorf("account balance mutated: %s", accounts[0].Balance)
	}
}
