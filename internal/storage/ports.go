// Package storage defines the persistence boundary of the ledger core.
//
// The core never talks to a concrete datastore: every backend implements
// Store, and the multi-step balance mutations are expressed as effect structs
// that a backend must apply atomically. Which locking primitive provides that
// atomicity (a SQL transaction, a mutex) is the backend's business.
package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"buste/internal/core"
)

// ApprovalEffect is the balance delta of approving (or, inverted, reversing)
// a single transaction. The backend must flip is_approved with a conditional
// update so that two concurrent approvals of the same transaction cannot both
// apply the delta: the loser gets core.ErrAlreadyProcessed.
type ApprovalEffect struct {
	UserID        string
	TransactionID int64
	AccountID     int64
	AccountDelta  decimal.Decimal
	EnvelopeID    *int64
	EnvelopeDelta decimal.Decimal
}

// MergeEffect resolves a duplicate pair by keeping the manual transaction and
// discarding the bank import. When the manual transaction was still pending,
// Approval carries the balance effect computed from the bank-confirmed amount
// and the manual row takes Amount/Date as its authoritative values.
type MergeEffect struct {
	UserID   string
	ManualID int64
	BankID   int64
	Amount   decimal.Decimal
	Date     time.Time
	Approval *ApprovalEffect
}

// EnvelopeCredit is one envelope's share of a recurring distribution.
type EnvelopeCredit struct {
	EnvelopeID int64
	Amount     decimal.Decimal
}

// DistributionBatch is the atomic unit of a recurring income distribution:
// all transactions inserted, all envelope credits and the account delta
// applied, and the template advanced to NextDate - or none of it.
type DistributionBatch struct {
	UserID       string
	TemplateID   int64
	AccountID    int64
	Transactions []core.Transaction
	Credits      []EnvelopeCredit
	AccountDelta decimal.Decimal
	NextDate     time.Time
}

// Store is the durable home of accounts, envelopes, transactions, rules,
// recurring templates and labels. All lookups are scoped to the owning user;
// a row owned by someone else behaves exactly like a missing row
// (core.ErrNotFound).
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, a core.Account) (int64, error)
	GetAccount(ctx context.Context, userID string, id int64) (core.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]core.Account, error)

	// Envelopes
	CreateEnvelope(ctx context.Context, e core.Envelope) (int64, error)
	GetEnvelope(ctx context.Context, userID string, id int64) (core.Envelope, error)
	ListEnvelopes(ctx context.Context, userID string) ([]core.Envelope, error)
	// AdjustEnvelopeBalance is the explicit allocation operation: the only
	// way an envelope balance moves outside transaction approval.
	AdjustEnvelopeBalance(ctx context.Context, userID string, id int64, delta decimal.Decimal) error

	// Transactions
	CreateTransaction(ctx context.Context, t core.Transaction) (int64, error)
	GetTransaction(ctx context.Context, userID string, id int64) (core.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, userID string, accountID int64) ([]core.Transaction, error)
	// ListManualBetween returns manually entered transactions (pending or
	// approved) dated inside [from, to], the candidate set for duplicate
	// detection.
	ListManualBetween(ctx context.Context, userID string, accountID int64, from, to time.Time) ([]core.Transaction, error)
	// AssignEnvelope reassigns a transaction's envelope; only legal while
	// the transaction is pending (core.ErrAlreadyProcessed otherwise).
	AssignEnvelope(ctx context.Context, userID string, txID, envelopeID int64) error
	// DeletePending deletes a transaction that was never approved. Deleting
	// an approved transaction fails with core.ErrAlreadyProcessed.
	DeletePending(ctx context.Context, userID string, txID int64) error
	// ClearDuplicateFlag resolves a keep_both decision.
	ClearDuplicateFlag(ctx context.Context, userID string, txID int64) error
	ApplyApproval(ctx context.Context, eff ApprovalEffect) error
	ApplyReversal(ctx context.Context, eff ApprovalEffect) error
	ApplyMerge(ctx context.Context, m MergeEffect) error
	ApplyDistribution(ctx context.Context, d DistributionBatch) error

	// Category rules, ordered by id ascending so that first-created wins.
	CreateRule(ctx context.Context, r core.CategoryRule) (int64, error)
	ListActiveRules(ctx context.Context, userID string) ([]core.CategoryRule, error)

	// Recurring templates
	CreateTemplate(ctx context.Context, t core.RecurringTemplate) (int64, error)
	GetTemplate(ctx context.Context, userID string, id int64) (core.RecurringTemplate, error)
	ListDueTemplates(ctx context.Context, now time.Time) ([]core.RecurringTemplate, error)

	// Labels
	CreateLabel(ctx context.Context, l core.Label) (int64, error)
	AttachLabel(ctx context.Context, userID string, txID, labelID int64) error
	ListTransactionLabels(ctx context.Context, userID string, txID int64) ([]core.Label, error)

	// Spreadsheet backup export
	ListUnexportedApproved(ctx context.Context, limit int) ([]core.Transaction, error)
	MarkExported(ctx context.Context, txID int64) error

	Close() error
}
