package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"buste/internal/cache"
	"buste/internal/core"
	"buste/internal/storage"
)

// RuleMatcher suggests an envelope for a merchant string from the user's
// stored category rules. The matcher is advisory: it proposes an envelope for
// a pending transaction, approval may supply an explicit override.
type RuleMatcher struct {
	store storage.Store
	rules *cache.LRU[[]core.CategoryRule]
}

// NewRuleMatcher creates a matcher backed by the given store. Active rule
// lists are cached per user for a short TTL.
func NewRuleMatcher(store storage.Store) *RuleMatcher {
	return &RuleMatcher{
		store: store,
		rules: cache.NewLRU[[]core.CategoryRule](500, 5*time.Minute),
	}
}

// Suggest returns the envelope ID proposed for merchant, or nil when no
// active rule matches. Matching is case-insensitive substring containment;
// when several rules match, the first-created (lowest ID) wins, which keeps
// the outcome deterministic.
func (m *RuleMatcher) Suggest(ctx context.Context, userID, merchant string) (*int64, error) {
	if merchant == "" {
		return nil, nil
	}

	rules, err := m.activeRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load category rules: %w", err)
	}

	// Rules arrive ordered by id ascending, so the first hit is the
	// first-created match.
	for _, r := range rules {
		if r.Matches(merchant) {
			slog.DebugContext(ctx, "Category rule matched",
				"rule_id", r.ID,
				"envelope_id", r.EnvelopeID,
				"merchant", merchant)
			envelopeID := r.EnvelopeID
			return &envelopeID, nil
		}
	}
	return nil, nil
}

// AddRule stores a new category rule and invalidates the user's cached list.
func (m *RuleMatcher) AddRule(ctx context.Context, rule core.CategoryRule) (int64, error) {
	if err := rule.Validate(); err != nil {
		return 0, err
	}
	id, err := m.store.CreateRule(ctx, rule)
	if err != nil {
		return 0, fmt.Errorf("create category rule: %w", err)
	}
	m.rules.Delete(rule.UserID)

	slog.InfoContext(ctx, "Category rule created",
		"rule_id", id,
		"pattern", rule.Pattern,
		"envelope_id", rule.EnvelopeID)
	return id, nil
}

func (m *RuleMatcher) activeRules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	if cached, ok := m.rules.Get(userID); ok {
		return cached, nil
	}
	rules, err := m.store.ListActiveRules(ctx, userID)
	if err != nil {
		return nil, err
	}
	m.rules.Set(userID, rules)
	return rules, nil
}
