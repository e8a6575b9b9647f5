// Package sqlite is the default durable backend, a single-file database that
// suits a personal ledger. Balance mutations run inside SQL transactions;
// approval flips is_approved with a conditional UPDATE so concurrent
// approvals cannot double-apply.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"buste/internal/core"
	"buste/internal/storage"
)

// timeLayout keeps stored timestamps lexicographically ordered so date range
// queries work on TEXT columns.
const timeLayout = time.RFC3339

type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the database at dbPath and runs
// migrations.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

type scanner interface {
	Scan(dest ...any) error
}

// Accounts

func (s *Store) CreateAccount(ctx context.Context, a core.Account) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (user_id, name, type, balance, opening_balance, is_active)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.UserID, a.Name, string(a.Type), a.Balance.String(), a.OpeningBalance.String(), a.IsActive)
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return res.LastInsertId()
}

func scanAccount(row scanner) (core.Account, error) {
	var a core.Account
	var balance, opening string
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, (*string)(&a.Type), &balance, &opening, &a.IsActive); err != nil {
		return core.Account{}, err
	}
	var err error
	if a.Balance, err = parseDecimal(balance); err != nil {
		return core.Account{}, fmt.Errorf("parse balance: %w", err)
	}
	if a.OpeningBalance, err = parseDecimal(opening); err != nil {
		return core.Account{}, fmt.Errorf("parse opening balance: %w", err)
	}
	return a, nil
}

const accountColumns = "id, user_id, name, type, balance, opening_balance, is_active"

func (s *Store) GetAccount(ctx context.Context, userID string, id int64) (core.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ? AND user_id = ?", id, userID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Envelopes

func (s *Store) CreateEnvelope(ctx context.Context, e core.Envelope) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO envelopes (user_id, name, icon, category_id, budgeted_amount, current_balance, is_active, is_monitored)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Name, e.Icon, e.CategoryID, e.BudgetedAmount.String(), e.CurrentBalance.String(), e.IsActive, e.IsMonitored)
	if err != nil {
		return 0, fmt.Errorf("insert envelope: %w", err)
	}
	return res.LastInsertId()
}

func scanEnvelope(row scanner) (core.Envelope, error) {
	var e core.Envelope
	var budgeted, current string
	if err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.Icon, &e.CategoryID, &budgeted, &current, &e.IsActive, &e.IsMonitored); err != nil {
		return core.Envelope{}, err
	}
	var err error
	if e.BudgetedAmount, err = parseDecimal(budgeted); err != nil {
		return core.Envelope{}, fmt.Errorf("parse budgeted amount: %w", err)
	}
	if e.CurrentBalance, err = parseDecimal(current); err != nil {
		return core.Envelope{}, fmt.Errorf("parse current balance: %w", err)
	}
	return e, nil
}

const envelopeColumns = "id, user_id, name, icon, category_id, budgeted_amount, current_balance, is_active, is_monitored"

func (s *Store) GetEnvelope(ctx context.Context, userID string, id int64) (core.Envelope, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+envelopeColumns+" FROM envelopes WHERE id = ? AND user_id = ?", id, userID)
	e, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Envelope{}, fmt.Errorf("envelope %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Envelope{}, fmt.Errorf("get envelope: %w", err)
	}
	return e, nil
}

func (s *Store) ListEnvelopes(ctx context.Context, userID string) ([]core.Envelope, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+envelopeColumns+" FROM envelopes WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	defer rows.Close()

	var out []core.Envelope
	for rows.Next() {
		e, err := scanEnvelope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AdjustEnvelopeBalance(ctx context.Context, userID string, id int64, delta decimal.Decimal) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return adjustEnvelope(ctx, tx, userID, id, delta)
	})
}

func adjustEnvelope(ctx context.Context, tx *sql.Tx, userID string, id int64, delta decimal.Decimal) error {
	var current string
	err := tx.QueryRowContext(ctx,
		"SELECT current_balance FROM envelopes WHERE id = ? AND user_id = ?", id, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("envelope %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read envelope balance: %w", err)
	}
	balance, err := parseDecimal(current)
	if err != nil {
		return fmt.Errorf("parse envelope balance: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE envelopes SET current_balance = ? WHERE id = ?", balance.Add(delta).String(), id)
	if err != nil {
		return fmt.Errorf("update envelope balance: %w", err)
	}
	return nil
}

func adjustAccount(ctx context.Context, tx *sql.Tx, userID string, id int64, delta decimal.Decimal) error {
	var current string
	err := tx.QueryRowContext(ctx,
		"SELECT balance FROM accounts WHERE id = ? AND user_id = ?", id, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("account %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read account balance: %w", err)
	}
	balance, err := parseDecimal(current)
	if err != nil {
		return fmt.Errorf("parse account balance: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE accounts SET balance = ? WHERE id = ?", balance.Add(delta).String(), id)
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	return nil
}

// Transactions

const transactionColumns = `id, user_id, account_id, envelope_id, amount, merchant, description, date,
	is_approved, is_transfer, source, duplicate_of_id, bank_verified, exported, created_at`

func scanTransaction(row scanner) (core.Transaction, error) {
	var t core.Transaction
	var amount, date, createdAt string
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.EnvelopeID, &amount, &t.Merchant, &t.Description, &date,
		&t.IsApproved, &t.IsTransfer, (*string)(&t.Source), &t.DuplicateOfID, &t.BankVerified, &t.Exported, &createdAt)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.Amount, err = parseDecimal(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	if t.Date, err = parseTime(date); err != nil {
		return core.Transaction{}, fmt.Errorf("parse date: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Transaction{}, fmt.Errorf("parse created_at: %w", err)
	}
	return t, nil
}

func (s *Store) CreateTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	if _, err := s.GetAccount(ctx, t.UserID, t.AccountID); err != nil {
		return 0, err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (user_id, account_id, envelope_id, amount, merchant, description, date,
			is_approved, is_transfer, source, duplicate_of_id, bank_verified, exported, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.AccountID, t.EnvelopeID, t.Amount.String(), t.Merchant, t.Description, fmtTime(t.Date),
		t.IsApproved, t.IsTransfer, string(t.Source), t.DuplicateOfID, t.BankVerified, t.Exported, fmtTime(t.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) GetTransaction(ctx context.Context, userID string, id int64) (core.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ? AND user_id = ?", id, userID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, userID string, accountID int64) ([]core.Transaction, error) {
	return s.queryTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE user_id = ? AND account_id = ? ORDER BY id",
		userID, accountID)
}

func (s *Store) ListManualBetween(ctx context.Context, userID string, accountID int64, from, to time.Time) ([]core.Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = ? AND account_id = ? AND source = ? AND date >= ? AND date <= ?
		 ORDER BY id`,
		userID, accountID, string(core.SourceManual), fmtTime(from), fmtTime(to))
}

func (s *Store) AssignEnvelope(ctx context.Context, userID string, txID, envelopeID int64) error {
	if _, err := s.GetEnvelope(ctx, userID, envelopeID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET envelope_id = ? WHERE id = ? AND user_id = ? AND is_approved = 0",
		envelopeID, txID, userID)
	if err != nil {
		return fmt.Errorf("assign envelope: %w", err)
	}
	return requirePendingRow(ctx, s.db, res, userID, txID)
}

func (s *Store) DeletePending(ctx context.Context, userID string, txID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM transactions WHERE id = ? AND user_id = ? AND is_approved = 0", txID, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requirePendingRow(ctx, s.db, res, userID, txID)
}

func (s *Store) ClearDuplicateFlag(ctx context.Context, userID string, txID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET duplicate_of_id = NULL WHERE id = ? AND user_id = ?", txID, userID)
	if err != nil {
		return fmt.Errorf("clear duplicate flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %d: %w", txID, core.ErrNotFound)
	}
	return nil
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// requirePendingRow distinguishes "row missing" from "row approved" after a
// conditional update on pending transactions matched nothing.
func requirePendingRow(ctx context.Context, q execer, res sql.Result, userID string, txID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var approved bool
	err = q.QueryRowContext(ctx,
		"SELECT is_approved FROM transactions WHERE id = ? AND user_id = ?", txID, userID).Scan(&approved)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %d: %w", txID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check transaction state: %w", err)
	}
	return fmt.Errorf("transaction %d: %w", txID, core.ErrAlreadyProcessed)
}

// requireEffectRow explains why an envelope-conditional balance update
// matched nothing: missing row, wrong approval state, or an envelope
// reassignment that landed after the effect was computed from an earlier
// read. The last case means the effect is stale and must not be applied.
func requireEffectRow(ctx context.Context, q execer, res sql.Result, userID string, txID int64, wantApproved bool) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var approved bool
	err = q.QueryRowContext(ctx,
		"SELECT is_approved FROM transactions WHERE id = ? AND user_id = ?", txID, userID).Scan(&approved)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("transaction %d: %w", txID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("check transaction state: %w", err)
	}
	if approved != wantApproved {
		return fmt.Errorf("transaction %d: %w", txID, core.ErrAlreadyProcessed)
	}
	return fmt.Errorf("transaction %d envelope changed after the effect was computed: %w",
		txID, core.ErrInconsistentState)
}

// Effect application

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) ApplyApproval(ctx context.Context, eff storage.ApprovalEffect) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// The conditional update is the approval race arbiter: whoever flips
		// the row first wins, everyone else matches zero rows. The envelope
		// condition rejects effects computed before a concurrent reassignment,
		// so the delta can never land on an envelope the row no longer
		// points at.
		res, err := tx.ExecContext(ctx,
			"UPDATE transactions SET is_approved = 1 WHERE id = ? AND user_id = ? AND is_approved = 0 AND envelope_id IS ?",
			eff.TransactionID, eff.UserID, eff.EnvelopeID)
		if err != nil {
			return fmt.Errorf("mark approved: %w", err)
		}
		if err := requireEffectRow(ctx, tx, res, eff.UserID, eff.TransactionID, false); err != nil {
			return err
		}
		return applyDeltas(ctx, tx, eff)
	})
}

func (s *Store) ApplyReversal(ctx context.Context, eff storage.ApprovalEffect) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE transactions SET is_approved = 0 WHERE id = ? AND user_id = ? AND is_approved = 1 AND envelope_id IS ?",
			eff.TransactionID, eff.UserID, eff.EnvelopeID)
		if err != nil {
			return fmt.Errorf("mark reversed: %w", err)
		}
		if err := requireEffectRow(ctx, tx, res, eff.UserID, eff.TransactionID, true); err != nil {
			return err
		}
		return applyDeltas(ctx, tx, eff)
	})
}

func applyDeltas(ctx context.Context, tx *sql.Tx, eff storage.ApprovalEffect) error {
	if err := adjustAccount(ctx, tx, eff.UserID, eff.AccountID, eff.AccountDelta); err != nil {
		return err
	}
	if eff.EnvelopeID != nil {
		return adjustEnvelope(ctx, tx, eff.UserID, *eff.EnvelopeID, eff.EnvelopeDelta)
	}
	return nil
}

func (s *Store) ApplyMerge(ctx context.Context, m storage.MergeEffect) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if m.Approval != nil {
			res, err := tx.ExecContext(ctx,
				`UPDATE transactions SET is_approved = 1, amount = ?, date = ?
				 WHERE id = ? AND user_id = ? AND is_approved = 0 AND envelope_id IS ?`,
				m.Amount.String(), fmtTime(m.Date), m.ManualID, m.UserID, m.Approval.EnvelopeID)
			if err != nil {
				return fmt.Errorf("approve merged transaction: %w", err)
			}
			if err := requireEffectRow(ctx, tx, res, m.UserID, m.ManualID, false); err != nil {
				return err
			}
			if err := applyDeltas(ctx, tx, *m.Approval); err != nil {
				return err
			}
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE transactions SET bank_verified = 1, duplicate_of_id = NULL WHERE id = ? AND user_id = ?",
			m.ManualID, m.UserID)
		if err != nil {
			return fmt.Errorf("mark bank verified: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transaction %d: %w", m.ManualID, core.ErrNotFound)
		}

		res, err = tx.ExecContext(ctx,
			"DELETE FROM transactions WHERE id = ? AND user_id = ? AND is_approved = 0", m.BankID, m.UserID)
		if err != nil {
			return fmt.Errorf("delete bank transaction: %w", err)
		}
		return requirePendingRow(ctx, tx, res, m.UserID, m.BankID)
	})
}

func (s *Store) ApplyDistribution(ctx context.Context, d storage.DistributionBatch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := fmtTime(time.Now())
		for _, t := range d.Transactions {
			createdAt := now
			if !t.CreatedAt.IsZero() {
				createdAt = fmtTime(t.CreatedAt)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO transactions (user_id, account_id, envelope_id, amount, merchant, description, date,
					is_approved, is_transfer, source, duplicate_of_id, bank_verified, exported, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.UserID, t.AccountID, t.EnvelopeID, t.Amount.String(), t.Merchant, t.Description, fmtTime(t.Date),
				t.IsApproved, t.IsTransfer, string(t.Source), t.DuplicateOfID, t.BankVerified, t.Exported, createdAt)
			if err != nil {
				return fmt.Errorf("insert distribution transaction: %w", err)
			}
		}
		for _, c := range d.Credits {
			if err := adjustEnvelope(ctx, tx, d.UserID, c.EnvelopeID, c.Amount); err != nil {
				return err
			}
		}
		if err := adjustAccount(ctx, tx, d.UserID, d.AccountID, d.AccountDelta); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE recurring_templates SET next_date = ? WHERE id = ? AND user_id = ?",
			fmtTime(d.NextDate), d.TemplateID, d.UserID)
		if err != nil {
			return fmt.Errorf("advance template: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("template %d: %w", d.TemplateID, core.ErrNotFound)
		}
		return nil
	})
}

// Category rules

func (s *Store) CreateRule(ctx context.Context, r core.CategoryRule) (int64, error) {
	if _, err := s.GetEnvelope(ctx, r.UserID, r.EnvelopeID); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO category_rules (user_id, pattern, envelope_id, is_active) VALUES (?, ?, ?, ?)",
		r.UserID, r.Pattern, r.EnvelopeID, r.IsActive)
	if err != nil {
		return 0, fmt.Errorf("insert category rule: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) ListActiveRules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, pattern, envelope_id, is_active FROM category_rules
		 WHERE user_id = ? AND is_active = 1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list category rules: %w", err)
	}
	defer rows.Close()

	var out []core.CategoryRule
	for rows.Next() {
		var r core.CategoryRule
		if err := rows.Scan(&r.ID, &r.UserID, &r.Pattern, &r.EnvelopeID, &r.IsActive); err != nil {
			return nil, fmt.Errorf("scan category rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recurring templates

func (s *Store) CreateTemplate(ctx context.Context, t core.RecurringTemplate) (int64, error) {
	if _, err := s.GetAccount(ctx, t.UserID, t.AccountID); err != nil {
		return 0, err
	}
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO recurring_templates (user_id, name, amount, frequency, next_date, account_id, surplus_envelope_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.UserID, t.Name, t.Amount.String(), string(t.Frequency), fmtTime(t.NextDate), t.AccountID, t.SurplusEnvelopeID)
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		for i, split := range t.Splits {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO template_splits (template_id, position, envelope_id, amount) VALUES (?, ?, ?, ?)",
				id, i, split.EnvelopeID, split.Amount.String())
			if err != nil {
				return fmt.Errorf("insert template split: %w", err)
			}
		}
		return nil
	})
	return id, err
}

func (s *Store) scanTemplateRow(row scanner) (core.RecurringTemplate, error) {
	var t core.RecurringTemplate
	var amount, nextDate string
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &amount, (*string)(&t.Frequency), &nextDate, &t.AccountID, &t.SurplusEnvelopeID)
	if err != nil {
		return core.RecurringTemplate{}, err
	}
	if t.Amount, err = parseDecimal(amount); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("parse template amount: %w", err)
	}
	if t.NextDate, err = parseTime(nextDate); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("parse next date: %w", err)
	}
	return t, nil
}

func (s *Store) loadSplits(ctx context.Context, templateID int64) ([]core.Split, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT envelope_id, amount FROM template_splits WHERE template_id = ? ORDER BY position", templateID)
	if err != nil {
		return nil, fmt.Errorf("load template splits: %w", err)
	}
	defer rows.Close()

	var out []core.Split
	for rows.Next() {
		var split core.Split
		var amount string
		if err := rows.Scan(&split.EnvelopeID, &amount); err != nil {
			return nil, fmt.Errorf("scan template split: %w", err)
		}
		if split.Amount, err = parseDecimal(amount); err != nil {
			return nil, fmt.Errorf("parse split amount: %w", err)
		}
		out = append(out, split)
	}
	return out, rows.Err()
}

const templateColumns = "id, user_id, name, amount, frequency, next_date, account_id, surplus_envelope_id"

func (s *Store) GetTemplate(ctx context.Context, userID string, id int64) (core.RecurringTemplate, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+templateColumns+" FROM recurring_templates WHERE id = ? AND user_id = ?", id, userID)
	t, err := s.scanTemplateRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTemplate{}, fmt.Errorf("template %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("get template: %w", err)
	}
	if t.Splits, err = s.loadSplits(ctx, t.ID); err != nil {
		return core.RecurringTemplate{}, err
	}
	return t, nil
}

func (s *Store) ListDueTemplates(ctx context.Context, now time.Time) ([]core.RecurringTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+templateColumns+" FROM recurring_templates WHERE next_date <= ? ORDER BY id", fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("list due templates: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTemplate
	for rows.Next() {
		t, err := s.scanTemplateRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Splits, err = s.loadSplits(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Labels

func (s *Store) CreateLabel(ctx context.Context, l core.Label) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO labels (user_id, name, color) VALUES (?, ?, ?)", l.UserID, l.Name, l.Color)
	if err != nil {
		return 0, fmt.Errorf("insert label: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) AttachLabel(ctx context.Context, userID string, txID, labelID int64) error {
	if _, err := s.GetTransaction(ctx, userID, txID); err != nil {
		return err
	}
	var exists int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM labels WHERE id = ? AND user_id = ?", labelID, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("label %d: %w", labelID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get label: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO transaction_labels (transaction_id, label_id) VALUES (?, ?)", txID, labelID)
	if err != nil {
		return fmt.Errorf("attach label: %w", err)
	}
	return nil
}

func (s *Store) ListTransactionLabels(ctx context.Context, userID string, txID int64) ([]core.Label, error) {
	if _, err := s.GetTransaction(ctx, userID, txID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.user_id, l.name, l.color FROM labels l
		 JOIN transaction_labels tl ON tl.label_id = l.id
		 WHERE tl.transaction_id = ?`, txID)
	if err != nil {
		return nil, fmt.Errorf("list transaction labels: %w", err)
	}
	defer rows.Close()

	var out []core.Label
	for rows.Next() {
		var l core.Label
		if err := rows.Scan(&l.ID, &l.UserID, &l.Name, &l.Color); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Spreadsheet backup export

func (s *Store) ListUnexportedApproved(ctx context.Context, limit int) ([]core.Transaction, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE is_approved = 1 AND exported = 0 ORDER BY id"
	if limit > 0 {
		return s.queryTransactions(ctx, query+" LIMIT ?", limit)
	}
	return s.queryTransactions(ctx, query)
}

func (s *Store) MarkExported(ctx context.Context, txID int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE transactions SET exported = 1 WHERE id = ?", txID)
	if err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %d: %w", txID, core.ErrNotFound)
	}
	return nil
}

var _ storage.Store = (*Store)(nil)
