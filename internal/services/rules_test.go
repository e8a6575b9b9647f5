package services

import (
	"context"
	"testing"

	"buste/internal/core"
	"buste/internal/storage/memory"
)

func newRuleFixture(t *testing.T) (*RuleMatcher, *memory.Store, []int64) {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()

	var envs []int64
	for _, name := range []string{"Groceries", "Eating Out", "Transport"} {
		id, err := store.CreateEnvelope(ctx, core.Envelope{UserID: testUser, Name: name, IsActive: true})
		if err != nil {
			t.Fatalf("create envelope: %v", err)
		}
		envs = append(envs, id)
	}
	return NewRuleMatcher(store), store, envs
}

func TestSuggestFirstCreatedWins(t *testing.T) {
	ctx := context.Background()
	matcher, _, envs := newRuleFixture(t)

	// Both patterns match "Countdown"; the first-created rule must win.
	if _, err := matcher.AddRule(ctx, core.CategoryRule{
		UserID: testUser, Pattern: "coun", EnvelopeID: envs[0], IsActive: true,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if _, err := matcher.AddRule(ctx, core.CategoryRule{
		UserID: testUser, Pattern: "down", EnvelopeID: envs[1], IsActive: true,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	got, err := matcher.Suggest(ctx, testUser, "Countdown")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if got == nil || *got != envs[0] {
		t.Errorf("Suggest(Countdown) = %v, want envelope %d (first created)", got, envs[0])
	}
}

func TestSuggestCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	matcher, _, envs := newRuleFixture(t)

	if _, err := matcher.AddRule(ctx, core.CategoryRule{
		UserID: testUser, Pattern: "UBER", EnvelopeID: envs[2], IsActive: true,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	got, err := matcher.Suggest(ctx, testUser, "uber *eats wellington")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if got == nil || *got != envs[2] {
		t.Errorf("Suggest should match case-insensitively, got %v", got)
	}
}

func TestSuggestIgnoresInactiveRules(t *testing.T) {
	ctx := context.Background()
	matcher, _, envs := newRuleFixture(t)

	if _, err := matcher.AddRule(ctx, core.CategoryRule{
		UserID: testUser, Pattern: "countdown", EnvelopeID: envs[0], IsActive: false,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	got, err := matcher.Suggest(ctx, testUser, "Countdown")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if got != nil {
		t.Errorf("inactive rule must not match, got envelope %d", *got)
	}
}

func TestSuggestNoMatch(t *testing.T) {
	ctx := context.Background()
	matcher, _, envs := newRuleFixture(t)

	if _, err := matcher.AddRule(ctx, core.CategoryRule{
		UserID: testUser, Pattern: "countdown", EnvelopeID: envs[0], IsActive: true,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	got, err := matcher.Suggest(ctx, testUser, "New World")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if got != nil {
		t.Errorf("Suggest(New World) = %d, want nil", *got)
	}

	// Empty merchant never matches anything.
	got, err = matcher.Suggest(ctx, testUser, "")
	if err != nil || got != nil {
		t.Errorf("Suggest(\"\") = %v, %v, want nil, nil", got, err)
	}
}

func TestAddRuleInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	matcher, _, envs := newRuleFixture(t)

	// Prime the cache with an empty rule list.
	if got, err := matcher.Suggest(ctx, testUser, "Countdown"); err != nil || got != nil {
		t.Fatalf("priming suggest = %v, %v", got, err)
	}

	if _, err := matcher.AddRule(ctx, core.CategoryRule{
		UserID: testUser, Pattern: "coun", EnvelopeID: envs[0], IsActive: true,
	}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	got, err := matcher.Suggest(ctx, testUser, "Countdown")
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if got == nil || *got != envs[0] {
		t.Errorf("new rule not visible after AddRule; cache not invalidated")
	}
}
