package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validTransaction() Transaction {
	return Transaction{
		UserID:    "user-1",
		AccountID: 1,
		Amount:    decimal.RequireFromString("-12.50"),
		Merchant:  "Countdown",
		Date:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Source:    SourceManual,
	}
}

func TestTransactionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr error
	}{
		{"valid", func(*Transaction) {}, nil},
		{"missing owner", func(tx *Transaction) { tx.UserID = "" }, ErrValidation},
		{"missing account", func(tx *Transaction) { tx.AccountID = 0 }, ErrValidation},
		{"zero amount", func(tx *Transaction) { tx.Amount = decimal.Zero }, ErrInvalidAmount},
		{"bad source", func(tx *Transaction) { tx.Source = "csv" }, ErrValidation},
		{"zero date", func(tx *Transaction) { tx.Date = time.Time{} }, ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(&tx)
			err := tx.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransactionRequiresEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		transfer bool
		want     bool
	}{
		{"expense", "-45.67", false, true},
		{"income", "250.00", false, false},
		{"transfer out", "-100.00", true, false},
		{"transfer in", "100.00", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tx.Amount = decimal.RequireFromString(tt.amount)
			tx.IsTransfer = tt.transfer
			if got := tx.RequiresEnvelope(); got != tt.want {
				t.Errorf("RequiresEnvelope() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCategoryRuleMatches(t *testing.T) {
	rule := CategoryRule{Pattern: "coun"}

	if !rule.Matches("Countdown") {
		t.Error("pattern 'coun' should match 'Countdown' case-insensitively")
	}
	if !rule.Matches("DISCOUNT STORE") {
		t.Error("substring match should ignore word boundaries")
	}
	if rule.Matches("New World") {
		t.Error("pattern 'coun' should not match 'New World'")
	}
}

func TestRecurringTemplateValidate(t *testing.T) {
	tpl := RecurringTemplate{
		UserID:            "user-1",
		Name:              "Salary",
		Amount:            decimal.RequireFromString("1500.00"),
		Frequency:         Fortnightly,
		NextDate:          time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		AccountID:         1,
		SurplusEnvelopeID: 9,
		Splits: []Split{
			{EnvelopeID: 1, Amount: decimal.NewFromInt(100)},
			{EnvelopeID: 2, Amount: decimal.NewFromInt(50)},
		},
	}
	if err := tpl.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tpl.PlannedTotal().Equal(decimal.NewFromInt(150)) {
		t.Errorf("PlannedTotal() = %s, want 150", tpl.PlannedTotal())
	}

	bad := tpl
	bad.Frequency = "every-other-tuesday"
	if err := bad.Validate(); !errors.Is(err, ErrInvalidFrequency) {
		t.Errorf("invalid frequency error = %v, want ErrInvalidFrequency", err)
	}

	// Splits over the template amount are allowed: surplus handling is
	// explicit at processing time.
	over := tpl
	over.Splits = []Split{{EnvelopeID: 1, Amount: decimal.NewFromInt(5000)}}
	if err := over.Validate(); err != nil {
		t.Errorf("splits exceeding template amount must validate, got %v", err)
	}
}
