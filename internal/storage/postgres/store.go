// Package postgres is the multi-device backend, for running the ledger on a
// home server with several clients. Same transactional semantics as the
// sqlite backend; NUMERIC columns hold the decimal amounts.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"buste/internal/core"
	"buste/internal/storage"
)

type Store struct {
	db *sql.DB
}

// NewStore connects to the database at dsn and runs migrations.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(db); err != nil {
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

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

type scanner interface {
	Scan(dest ...any) error
}

// Accounts

const accountColumns = "id, user_id, name, type, balance::text, opening_balance::text, is_active"

func (s *Store) CreateAccount(ctx context.Context, a core.Account) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO accounts (user_id, name, type, balance, opening_balance, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		a.UserID, a.Name, string(a.Type), a.Balance.String(), a.OpeningBalance.String(), a.IsActive).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return id, nil
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

func (s *Store) GetAccount(ctx context.Context, userID string, id int64) (core.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1 AND user_id = $2", id, userID)
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
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = $1 ORDER BY id", userID)
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

const envelopeColumns = "id, user_id, name, icon, category_id, budgeted_amount::text, current_balance::text, is_active, is_monitored"

func (s *Store) CreateEnvelope(ctx context.Context, e core.Envelope) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO envelopes (user_id, name, icon, category_id, budgeted_amount, current_balance, is_active, is_monitored)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		e.UserID, e.Name, e.Icon, e.CategoryID, e.BudgetedAmount.String(), e.CurrentBalance.String(), e.IsActive, e.IsMonitored).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert envelope: %w", err)
	}
	return id, nil
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

func (s *Store) GetEnvelope(ctx context.Context, userID string, id int64) (core.Envelope, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+envelopeColumns+" FROM envelopes WHERE id = $1 AND user_id = $2", id, userID)
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
		"SELECT "+envelopeColumns+" FROM envelopes WHERE user_id = $1 ORDER BY id", userID)
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
	res, err := s.db.ExecContext(ctx,
		"UPDATE envelopes SET current_balance = current_balance + $1 WHERE id = $2 AND user_id = $3",
		delta.String(), id, userID)
	if err != nil {
		return fmt.Errorf("update envelope balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("envelope %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func adjustEnvelope(ctx context.Context, tx *sql.Tx, userID string, id int64, delta decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE envelopes SET current_balance = current_balance + $1 WHERE id = $2 AND user_id = $3",
		delta.String(), id, userID)
	if err != nil {
		return fmt.Errorf("update envelope balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("envelope %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func adjustAccount(ctx context.Context, tx *sql.Tx, userID string, id int64, delta decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE accounts SET balance = balance + $1 WHERE id = $2 AND user_id = $3",
		delta.String(), id, userID)
	if err != nil {
		return fmt.Errorf("update account balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// Transactions

const transactionColumns = `id, user_id, account_id, envelope_id, amount::text, merchant, description, date,
	is_approved, is_transfer, source, duplicate_of_id, bank_verified, exported, created_at`

func scanTransaction(row scanner) (core.Transaction, error) {
	var t core.Transaction
	var amount string
	err := row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.EnvelopeID, &amount, &t.Merchant, &t.Description, &t.Date,
		&t.IsApproved, &t.IsTransfer, (*string)(&t.Source), &t.DuplicateOfID, &t.BankVerified, &t.Exported, &t.CreatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.Amount, err = parseDecimal(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount: %w", err)
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
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO transactions (user_id, account_id, envelope_id, amount, merchant, description, date,
			is_approved, is_transfer, source, duplicate_of_id, bank_verified, exported, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
		t.UserID, t.AccountID, t.EnvelopeID, t.Amount.String(), t.Merchant, t.Description, t.Date,
		t.IsApproved, t.IsTransfer, string(t.Source), t.DuplicateOfID, t.BankVerified, t.Exported, t.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

func (s *Store) GetTransaction(ctx context.Context, userID string, id int64) (core.Transaction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = $1 AND user_id = $2", id, userID)
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
		"SELECT "+transactionColumns+" FROM transactions WHERE user_id = $1 AND account_id = $2 ORDER BY id",
		userID, accountID)
}

func (s *Store) ListManualBetween(ctx context.Context, userID string, accountID int64, from, to time.Time) ([]core.Transaction, error) {
	return s.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = $1 AND account_id = $2 AND source = $3 AND date >= $4 AND date <= $5
		 ORDER BY id`,
		userID, accountID, string(core.SourceManual), from, to)
}

func (s *Store) AssignEnvelope(ctx context.Context, userID string, txID, envelopeID int64) error {
	if _, err := s.GetEnvelope(ctx, userID, envelopeID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET envelope_id = $1 WHERE id = $2 AND user_id = $3 AND is_approved = FALSE",
		envelopeID, txID, userID)
	if err != nil {
		return fmt.Errorf("assign envelope: %w", err)
	}
	return requirePendingRow(ctx, s.db, res, userID, txID)
}

func (s *Store) DeletePending(ctx context.Context, userID string, txID int64) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM transactions WHERE id = $1 AND user_id = $2 AND is_approved = FALSE", txID, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requirePendingRow(ctx, s.db, res, userID, txID)
}

func (s *Store) ClearDuplicateFlag(ctx context.Context, userID string, txID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE transactions SET duplicate_of_id = NULL WHERE id = $1 AND user_id = $2", txID, userID)
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
		"SELECT is_approved FROM transactions WHERE id = $1 AND user_id = $2", txID, userID).Scan(&approved)
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
		"SELECT is_approved FROM transactions WHERE id = $1 AND user_id = $2", txID, userID).Scan(&approved)
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
		// The envelope condition rejects effects computed before a concurrent
		// reassignment, so the delta can never land on an envelope the row no
		// longer points at.
		res, err := tx.ExecContext(ctx,
			`UPDATE transactions SET is_approved = TRUE
			 WHERE id = $1 AND user_id = $2 AND is_approved = FALSE AND envelope_id IS NOT DISTINCT FROM $3`,
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
			`UPDATE transactions SET is_approved = FALSE
			 WHERE id = $1 AND user_id = $2 AND is_approved = TRUE AND envelope_id IS NOT DISTINCT FROM $3`,
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
				`UPDATE transactions SET is_approved = TRUE, amount = $1, date = $2
				 WHERE id = $3 AND user_id = $4 AND is_approved = FALSE
				   AND envelope_id IS NOT DISTINCT FROM $5`,
				m.Amount.String(), m.Date, m.ManualID, m.UserID, m.Approval.EnvelopeID)
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
			"UPDATE transactions SET bank_verified = TRUE, duplicate_of_id = NULL WHERE id = $1 AND user_id = $2",
			m.ManualID, m.UserID)
		if err != nil {
			return fmt.Errorf("mark bank verified: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("transaction %d: %w", m.ManualID, core.ErrNotFound)
		}

		res, err = tx.ExecContext(ctx,
			"DELETE FROM transactions WHERE id = $1 AND user_id = $2 AND is_approved = FALSE", m.BankID, m.UserID)
		if err != nil {
			return fmt.Errorf("delete bank transaction: %w", err)
		}
		return requirePendingRow(ctx, tx, res, m.UserID, m.BankID)
	})
}

func (s *Store) ApplyDistribution(ctx context.Context, d storage.DistributionBatch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range d.Transactions {
			createdAt := t.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO transactions (user_id, account_id, envelope_id, amount, merchant, description, date,
					is_approved, is_transfer, source, duplicate_of_id, bank_verified, exported, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				t.UserID, t.AccountID, t.EnvelopeID, t.Amount.String(), t.Merchant, t.Description, t.Date,
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
			"UPDATE recurring_templates SET next_date = $1 WHERE id = $2 AND user_id = $3",
			d.NextDate, d.TemplateID, d.UserID)
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
	var id int64
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO category_rules (user_id, pattern, envelope_id, is_active) VALUES ($1, $2, $3, $4) RETURNING id",
		r.UserID, r.Pattern, r.EnvelopeID, r.IsActive).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert category rule: %w", err)
	}
	return id, nil
}

func (s *Store) ListActiveRules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, pattern, envelope_id, is_active FROM category_rules
		 WHERE user_id = $1 AND is_active = TRUE ORDER BY id`, userID)
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

const templateColumns = "id, user_id, name, amount::text, frequency, next_date, account_id, surplus_envelope_id"

func (s *Store) CreateTemplate(ctx context.Context, t core.RecurringTemplate) (int64, error) {
	if _, err := s.GetAccount(ctx, t.UserID, t.AccountID); err != nil {
		return 0, err
	}
	var id int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO recurring_templates (user_id, name, amount, frequency, next_date, account_id, surplus_envelope_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			t.UserID, t.Name, t.Amount.String(), string(t.Frequency), t.NextDate, t.AccountID, t.SurplusEnvelopeID).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		for i, split := range t.Splits {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO template_splits (template_id, position, envelope_id, amount) VALUES ($1, $2, $3, $4)",
				id, i, split.EnvelopeID, split.Amount.String())
			if err != nil {
				return fmt.Errorf("insert template split: %w", err)
			}
		}
		return nil
	})
	return id, err
}

func scanTemplate(row scanner) (core.RecurringTemplate, error) {
	var t core.RecurringTemplate
	var amount string
	err := row.Scan(&t.ID, &t.UserID, &t.Name, &amount, (*string)(&t.Frequency), &t.NextDate, &t.AccountID, &t.SurplusEnvelopeID)
	if err != nil {
		return core.RecurringTemplate{}, err
	}
	if t.Amount, err = parseDecimal(amount); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("parse template amount: %w", err)
	}
	return t, nil
}

func (s *Store) loadSplits(ctx context.Context, templateID int64) ([]core.Split, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT envelope_id, amount::text FROM template_splits WHERE template_id = $1 ORDER BY position", templateID)
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

func (s *Store) GetTemplate(ctx context.Context, userID string, id int64) (core.RecurringTemplate, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+templateColumns+" FROM recurring_templates WHERE id = $1 AND user_id = $2", id, userID)
	t, err := scanTemplate(row)
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
		"SELECT "+templateColumns+" FROM recurring_templates WHERE next_date <= $1 ORDER BY id", now)
	if err != nil {
		return nil, fmt.Errorf("list due templates: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
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
	var id int64
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO labels (user_id, name, color) VALUES ($1, $2, $3) RETURNING id",
		l.UserID, l.Name, l.Color).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert label: %w", err)
	}
	return id, nil
}

func (s *Store) AttachLabel(ctx context.Context, userID string, txID, labelID int64) error {
	if _, err := s.GetTransaction(ctx, userID, txID); err != nil {
		return err
	}
	var exists int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM labels WHERE id = $1 AND user_id = $2", labelID, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("label %d: %w", labelID, core.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get label: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO transaction_labels (transaction_id, label_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		txID, labelID)
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
		 WHERE tl.transaction_id = $1`, txID)
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
	query := "SELECT " + transactionColumns + " FROM transactions WHERE is_approved = TRUE AND exported = FALSE ORDER BY id"
	if limit > 0 {
		return s.queryTransactions(ctx, query+" LIMIT $1", limit)
	}
	return s.queryTransactions(ctx, query)
}

func (s *Store) MarkExported(ctx context.Context, txID int64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE transactions SET exported = TRUE WHERE id = $1", txID)
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
