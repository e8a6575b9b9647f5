package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type (
	// AccountType classifies a bank account.
	AccountType string

	// Source records where a transaction came from.
	Source string

	// Frequency is the repetition interval of a recurring template.
	Frequency string
)

const (
	Checking AccountType = "checking"
	Savings  AccountType = "savings"
	Credit   AccountType = "credit"
)

const (
	SourceManual     Source = "manual"
	SourceBankImport Source = "bank-import"
)

const (
	Weekly      Frequency = "weekly"
	Fortnightly Frequency = "fortnightly"
	Monthly     Frequency = "monthly"
	Quarterly   Frequency = "quarterly"
	Annual      Frequency = "annual"
)

// Account is a real bank account. Balance is mutated only by approved
// transactions touching the account.
type Account struct {
	ID             int64
	UserID         string
	Name           string
	Type           AccountType
	Balance        decimal.Decimal
	OpeningBalance decimal.Decimal
	IsActive       bool
}

// Envelope is a named bucket of budgeted funds. CurrentBalance changes only
// through explicit allocation operations or approval of a transaction
// assigned to the envelope.
type Envelope struct {
	ID             int64
	UserID         string
	Name           string
	Icon           string
	CategoryID     *int64
	BudgetedAmount decimal.Decimal
	CurrentBalance decimal.Decimal
	IsActive       bool
	IsMonitored    bool
}

// Transaction is a signed movement of money against an account: negative
// amounts are expenses, positive amounts income.
//
// Lifecycle: created pending (IsApproved false), then either approved
// (balances applied exactly once, amount and envelope immutable afterwards)
// or rejected (deleted, no balance effect ever applied).
type Transaction struct {
	ID          int64
	UserID      string
	AccountID   int64
	EnvelopeID  *int64
	Amount      decimal.Decimal
	Merchant    string
	Description string
	Date        time.Time
	IsApproved  bool
	IsTransfer  bool
	Source      Source

	// DuplicateOfID points at the manual transaction this bank import was
	// flagged against; approval is blocked until the flag is resolved.
	DuplicateOfID *int64

	// BankVerified is set when a merge resolution confirmed this manual
	// transaction against a bank record.
	BankVerified bool

	// Exported marks the transaction as written to the spreadsheet backup.
	Exported bool

	CreatedAt time.Time
}

// RequiresEnvelope reports whether approval needs an envelope assignment.
// Transfers and income not routed to an envelope are exempt.
func (t Transaction) RequiresEnvelope() bool {
	return !t.IsTransfer && t.Amount.Sign() < 0
}

// CategoryRule maps a merchant substring to an envelope. When several active
// rules match a merchant, the one with the lowest ID (first created) wins.
type CategoryRule struct {
	ID         int64
	UserID     string
	Pattern    string
	EnvelopeID int64
	IsActive   bool
}

// Matches reports whether the rule pattern occurs in the merchant string,
// case-insensitively.
func (r CategoryRule) Matches(merchant string) bool {
	return strings.Contains(strings.ToLower(merchant), strings.ToLower(r.Pattern))
}

// Split is one fixed envelope allocation inside a recurring template.
// Splits are an ordered list; their sum is deliberately not constrained to
// the template amount, surplus handling happens at processing time.
type Split struct {
	EnvelopeID int64
	Amount     decimal.Decimal
}

// RecurringTemplate describes an expected recurring income with pre-planned
// envelope splits. SurplusEnvelopeID receives whatever the actual amount
// differs from the planned allocations.
type RecurringTemplate struct {
	ID                int64
	UserID            string
	Name              string
	Amount            decimal.Decimal
	Frequency         Frequency
	NextDate          time.Time
	AccountID         int64
	SurplusEnvelopeID int64
	Splits            []Split
}

// Label is a free-form tag attached to transactions. Labels never affect
// balances.
type Label struct {
	ID     int64
	UserID string
	Name   string
	Color  string
}

// IsValid reports whether the frequency is one of the supported intervals.
func (f Frequency) IsValid() bool {
	switch f {
	case Weekly, Fortnightly, Monthly, Quarterly, Annual:
		return true
	default:
		return false
	}
}

// IsValid reports whether the account type is supported.
func (at AccountType) IsValid() bool {
	switch at {
	case Checking, Savings, Credit:
		return true
	default:
		return false
	}
}

// IsValid reports whether the source is supported.
func (s Source) IsValid() bool {
	switch s {
	case SourceManual, SourceBankImport:
		return true
	default:
		return false
	}
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return fmt.Errorf("account owner: %w", ErrValidation)
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("account name: %w", ErrValidation)
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("account type %q: %w", a.Type, ErrValidation)
	}
	return nil
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("envelope owner: %w", ErrValidation)
	}
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("envelope name: %w", ErrValidation)
	}
	if e.BudgetedAmount.Sign() < 0 {
		return fmt.Errorf("budgeted amount: %w", ErrInvalidAmount)
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("transaction owner: %w", ErrValidation)
	}
	if t.AccountID <= 0 {
		return fmt.Errorf("transaction account: %w", ErrValidation)
	}
	if t.Amount.IsZero() {
		return fmt.Errorf("transaction amount: %w", ErrInvalidAmount)
	}
	if !t.Source.IsValid() {
		return fmt.Errorf("transaction source %q: %w", t.Source, ErrValidation)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("transaction date: %w", ErrValidation)
	}
	if len(t.Description) > 200 {
		return fmt.Errorf("description too long (max 200 characters): %w", ErrValidation)
	}
	return nil
}

func (r CategoryRule) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("rule owner: %w", ErrValidation)
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("rule pattern: %w", ErrValidation)
	}
	if r.EnvelopeID <= 0 {
		return fmt.Errorf("rule envelope: %w", ErrValidation)
	}
	return nil
}

func (rt RecurringTemplate) Validate() error {
	if strings.TrimSpace(rt.UserID) == "" {
		return fmt.Errorf("template owner: %w", ErrValidation)
	}
	if strings.TrimSpace(rt.Name) == "" {
		return fmt.Errorf("template name: %w", ErrValidation)
	}
	if rt.Amount.Sign() <= 0 {
		return fmt.Errorf("template amount: %w", ErrInvalidAmount)
	}
	if !rt.Frequency.IsValid() {
		return fmt.Errorf("template frequency %q: %w", rt.Frequency, ErrInvalidFrequency)
	}
	if rt.NextDate.IsZero() {
		return fmt.Errorf("template next date: %w", ErrValidation)
	}
	if rt.AccountID <= 0 {
		return fmt.Errorf("template account: %w", ErrValidation)
	}
	if rt.SurplusEnvelopeID <= 0 {
		return fmt.Errorf("template surplus envelope: %w", ErrValidation)
	}
	for i, s := range rt.Splits {
		if s.EnvelopeID <= 0 {
			return fmt.Errorf("split %d envelope: %w", i, ErrValidation)
		}
		if s.Amount.Sign() <= 0 {
			return fmt.Errorf("split %d amount: %w", i, ErrInvalidAmount)
		}
	}
	return nil
}

// PlannedTotal returns the sum of the template's split amounts.
func (rt RecurringTemplate) PlannedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, s := range rt.Splits {
		total = total.Add(s.Amount)
	}
	return total
}
