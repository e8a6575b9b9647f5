// Package memory provides an in-memory Store used by tests and the demo
// backend. A single mutex serializes every operation, which trivially gives
// the atomicity the effect-apply methods require.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"buste/internal/core"
	"buste/internal/storage"
)

type Store struct {
	mu sync.Mutex

	accounts     map[int64]*core.Account
	envelopes    map[int64]*core.Envelope
	transactions map[int64]*core.Transaction
	rules        map[int64]*core.CategoryRule
	templates    map[int64]*core.RecurringTemplate
	labels       map[int64]*core.Label
	txLabels     map[int64][]int64

	nextID int64
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		accounts:     make(map[int64]*core.Account),
		envelopes:    make(map[int64]*core.Envelope),
		transactions: make(map[int64]*core.Transaction),
		rules:        make(map[int64]*core.CategoryRule),
		templates:    make(map[int64]*core.RecurringTemplate),
		labels:       make(map[int64]*core.Label),
		txLabels:     make(map[int64][]int64),
	}
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

func copyTransaction(t *core.Transaction) core.Transaction {
	out := *t
	if t.EnvelopeID != nil {
		v := *t.EnvelopeID
		out.EnvelopeID = &v
	}
	if t.DuplicateOfID != nil {
		v := *t.DuplicateOfID
		out.DuplicateOfID = &v
	}
	return out
}

func copyTemplate(t *core.RecurringTemplate) core.RecurringTemplate {
	out := *t
	out.Splits = make([]core.Split, len(t.Splits))
	copy(out.Splits, t.Splits)
	return out
}

// Accounts

func (s *Store) CreateAccount(ctx context.Context, a core.Account) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = s.allocID()
	s.accounts[a.ID] = &a
	return a.ID, nil
}

func (s *Store) GetAccount(ctx context.Context, userID string, id int64) (core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.account(userID, id)
	if err != nil {
		return core.Account{}, err
	}
	return *a, nil
}

func (s *Store) account(userID string, id int64) (*core.Account, error) {
	a, ok := s.accounts[id]
	if !ok || a.UserID != userID {
		return nil, fmt.Errorf("account %d: %w", id, core.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Envelopes

func (s *Store) CreateEnvelope(ctx context.Context, e core.Envelope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.allocID()
	s.envelopes[e.ID] = &e
	return e.ID, nil
}

func (s *Store) GetEnvelope(ctx context.Context, userID string, id int64) (core.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.envelope(userID, id)
	if err != nil {
		return core.Envelope{}, err
	}
	return *e, nil
}

func (s *Store) envelope(userID string, id int64) (*core.Envelope, error) {
	e, ok := s.envelopes[id]
	if !ok || e.UserID != userID {
		return nil, fmt.Errorf("envelope %d: %w", id, core.ErrNotFound)
	}
	return e, nil
}

func (s *Store) ListEnvelopes(ctx context.Context, userID string) ([]core.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Envelope
	for _, e := range s.envelopes {
		if e.UserID == userID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AdjustEnvelopeBalance(ctx context.Context, userID string, id int64, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.envelope(userID, id)
	if err != nil {
		return err
	}
	e.CurrentBalance = e.CurrentBalance.Add(delta)
	return nil
}

// Transactions

func (s *Store) CreateTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.account(t.UserID, t.AccountID); err != nil {
		return 0, err
	}
	t.ID = s.allocID()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	stored := copyTransaction(&t)
	s.transactions[t.ID] = &stored
	return t.ID, nil
}

func (s *Store) GetTransaction(ctx context.Context, userID string, id int64) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transaction(userID, id)
	if err != nil {
		return core.Transaction{}, err
	}
	return copyTransaction(t), nil
}

func (s *Store) transaction(userID string, id int64) (*core.Transaction, error) {
	t, ok := s.transactions[id]
	if !ok || t.UserID != userID {
		return nil, fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return t, nil
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, userID string, accountID int64) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID && t.AccountID == accountID {
			out = append(out, copyTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListManualBetween(ctx context.Context, userID string, accountID int64, from, to time.Time) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transaction
	for _, t := range s.transactions {
		if t.UserID != userID || t.AccountID != accountID || t.Source != core.SourceManual {
			continue
		}
		if t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		out = append(out, copyTransaction(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AssignEnvelope(ctx context.Context, userID string, txID, envelopeID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transaction(userID, txID)
	if err != nil {
		return err
	}
	if t.IsApproved {
		return fmt.Errorf("transaction %d envelope is immutable after approval: %w", txID, core.ErrAlreadyProcessed)
	}
	if _, err := s.envelope(userID, envelopeID); err != nil {
		return err
	}
	t.EnvelopeID = &envelopeID
	return nil
}

func (s *Store) DeletePending(ctx context.Context, userID string, txID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transaction(userID, txID)
	if err != nil {
		return err
	}
	if t.IsApproved {
		return fmt.Errorf("transaction %d: %w", txID, core.ErrAlreadyProcessed)
	}
	delete(s.transactions, txID)
	delete(s.txLabels, txID)
	return nil
}

func (s *Store) ClearDuplicateFlag(ctx context.Context, userID string, txID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transaction(userID, txID)
	if err != nil {
		return err
	}
	t.DuplicateOfID = nil
	return nil
}

func (s *Store) ApplyApproval(ctx context.Context, eff storage.ApprovalEffect) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transaction(eff.UserID, eff.TransactionID)
	if err != nil {
		return err
	}
	if t.IsApproved {
		return fmt.Errorf("transaction %d: %w", eff.TransactionID, core.ErrAlreadyProcessed)
	}
	if !sameEnvelope(t.EnvelopeID, eff.EnvelopeID) {
		return fmt.Errorf("transaction %d envelope changed after the effect was computed: %w",
			eff.TransactionID, core.ErrInconsistentState)
	}
	a, err := s.account(eff.UserID, eff.AccountID)
	if err != nil {
		return err
	}
	var env *core.Envelope
	if eff.EnvelopeID != nil {
		if env, err = s.envelope(eff.UserID, *eff.EnvelopeID); err != nil {
			return err
		}
	}

	t.IsApproved = true
	a.Balance = a.Balance.Add(eff.AccountDelta)
	if env != nil {
		env.CurrentBalance = env.CurrentBalance.Add(eff.EnvelopeDelta)
	}
	return nil
}

func (s *Store) ApplyReversal(ctx context.Context, eff storage.ApprovalEffect) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.transaction(eff.UserID, eff.TransactionID)
	if err != nil {
		return err
	}
	if !t.IsApproved {
		return fmt.Errorf("transaction %d is not approved: %w", eff.TransactionID, core.ErrAlreadyProcessed)
	}
	if !sameEnvelope(t.EnvelopeID, eff.EnvelopeID) {
		return fmt.Errorf("transaction %d envelope changed after the effect was computed: %w",
			eff.TransactionID, core.ErrInconsistentState)
	}
	a, err := s.account(eff.UserID, eff.AccountID)
	if err != nil {
		return err
	}
	var env *core.Envelope
	if eff.EnvelopeID != nil {
		if env, err = s.envelope(eff.UserID, *eff.EnvelopeID); err != nil {
			return err
		}
	}

	t.IsApproved = false
	a.Balance = a.Balance.Add(eff.AccountDelta)
	if env != nil {
		env.CurrentBalance = env.CurrentBalance.Add(eff.EnvelopeDelta)
	}
	return nil
}

// sameEnvelope reports whether an effect's envelope still matches the row's
// current assignment. The effect was computed from an earlier read; if a
// reassignment landed in between, applying the stale delta would credit the
// wrong envelope.
func sameEnvelope(row, eff *int64) bool {
	if row == nil || eff == nil {
		return row == nil && eff == nil
	}
	return *row == *eff
}

func (s *Store) ApplyMerge(ctx context.Context, m storage.MergeEffect) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bank, err := s.transaction(m.UserID, m.BankID)
	if err != nil {
		return err
	}
	if bank.IsApproved {
		return fmt.Errorf("bank transaction %d: %w", m.BankID, core.ErrAlreadyProcessed)
	}
	manual, err := s.transaction(m.UserID, m.ManualID)
	if err != nil {
		return err
	}

	if m.Approval != nil {
		if manual.IsApproved {
			return fmt.Errorf("manual transaction %d: %w", m.ManualID, core.ErrAlreadyProcessed)
		}
		if !sameEnvelope(manual.EnvelopeID, m.Approval.EnvelopeID) {
			return fmt.Errorf("transaction %d envelope changed after the effect was computed: %w",
				m.ManualID, core.ErrInconsistentState)
		}
		a, err := s.account(m.UserID, m.Approval.AccountID)
		if err != nil {
			return err
		}
		var env *core.Envelope
		if m.Approval.EnvelopeID != nil {
			if env, err = s.envelope(m.UserID, *m.Approval.EnvelopeID); err != nil {
				return err
			}
		}
		manual.Amount = m.Amount
		manual.Date = m.Date
		manual.IsApproved = true
		a.Balance = a.Balance.Add(m.Approval.AccountDelta)
		if env != nil {
			env.CurrentBalance = env.CurrentBalance.Add(m.Approval.EnvelopeDelta)
		}
	}

	manual.BankVerified = true
	manual.DuplicateOfID = nil
	delete(s.transactions, m.BankID)
	delete(s.txLabels, m.BankID)
	return nil
}

func (s *Store) ApplyDistribution(ctx context.Context, d storage.DistributionBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[d.TemplateID]
	if !ok || tpl.UserID != d.UserID {
		return fmt.Errorf("template %d: %w", d.TemplateID, core.ErrNotFound)
	}
	a, err := s.account(d.UserID, d.AccountID)
	if err != nil {
		return err
	}
	// Resolve every envelope before mutating anything so a missing one
	// cannot leave a partial distribution behind.
	envs := make([]*core.Envelope, len(d.Credits))
	for i, c := range d.Credits {
		if envs[i], err = s.envelope(d.UserID, c.EnvelopeID); err != nil {
			return err
		}
	}

	for i := range d.Transactions {
		t := d.Transactions[i]
		t.ID = s.allocID()
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now()
		}
		stored := copyTransaction(&t)
		s.transactions[t.ID] = &stored
	}
	for i, c := range d.Credits {
		envs[i].CurrentBalance = envs[i].CurrentBalance.Add(c.Amount)
	}
	a.Balance = a.Balance.Add(d.AccountDelta)
	tpl.NextDate = d.NextDate
	return nil
}

// Category rules

func (s *Store) CreateRule(ctx context.Context, r core.CategoryRule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.envelope(r.UserID, r.EnvelopeID); err != nil {
		return 0, err
	}
	r.ID = s.allocID()
	s.rules[r.ID] = &r
	return r.ID, nil
}

func (s *Store) ListActiveRules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.CategoryRule
	for _, r := range s.rules {
		if r.UserID == userID && r.IsActive {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Recurring templates

func (s *Store) CreateTemplate(ctx context.Context, t core.RecurringTemplate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.account(t.UserID, t.AccountID); err != nil {
		return 0, err
	}
	t.ID = s.allocID()
	stored := copyTemplate(&t)
	s.templates[t.ID] = &stored
	return t.ID, nil
}

func (s *Store) GetTemplate(ctx context.Context, userID string, id int64) (core.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.templates[id]
	if !ok || t.UserID != userID {
		return core.RecurringTemplate{}, fmt.Errorf("template %d: %w", id, core.ErrNotFound)
	}
	return copyTemplate(t), nil
}

func (s *Store) ListDueTemplates(ctx context.Context, now time.Time) ([]core.RecurringTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.RecurringTemplate
	for _, t := range s.templates {
		if !t.NextDate.After(now) {
			out = append(out, copyTemplate(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Labels

func (s *Store) CreateLabel(ctx context.Context, l core.Label) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.ID = s.allocID()
	s.labels[l.ID] = &l
	return l.ID, nil
}

func (s *Store) AttachLabel(ctx context.Context, userID string, txID, labelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.transaction(userID, txID); err != nil {
		return err
	}
	l, ok := s.labels[labelID]
	if !ok || l.UserID != userID {
		return fmt.Errorf("label %d: %w", labelID, core.ErrNotFound)
	}
	for _, existing := range s.txLabels[txID] {
		if existing == labelID {
			return nil
		}
	}
	s.txLabels[txID] = append(s.txLabels[txID], labelID)
	return nil
}

func (s *Store) ListTransactionLabels(ctx context.Context, userID string, txID int64) ([]core.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.transaction(userID, txID); err != nil {
		return nil, err
	}
	var out []core.Label
	for _, id := range s.txLabels[txID] {
		if l, ok := s.labels[id]; ok {
			out = append(out, *l)
		}
	}
	return out, nil
}

// Export

func (s *Store) ListUnexportedApproved(ctx context.Context, limit int) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Transaction
	for _, t := range s.transactions {
		if t.IsApproved && !t.Exported {
			out = append(out, copyTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkExported(ctx context.Context, txID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[txID]
	if !ok {
		return fmt.Errorf("transaction %d: %w", txID, core.ErrNotFound)
	}
	t.Exported = true
	return nil
}

func (s *Store) Close() error { return nil }

// Compile-time check: Store implements the storage boundary.
var _ storage.Store = (*Store)(nil)
