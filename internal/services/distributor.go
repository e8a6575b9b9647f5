package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"buste/internal/core"
	"buste/internal/storage"
)

// Distributor turns recurring income templates into approved transactions
// and envelope credits when they come due.
type Distributor struct {
	store  storage.Store
	events EventPublisher
}

// NewDistributor creates a distributor. events may be nil.
func NewDistributor(store storage.Store, events EventPublisher) *Distributor {
	return &Distributor{
		store:  store,
		events: events,
	}
}

// DistributionResult reports what a processed template produced.
type DistributionResult struct {
	TemplateID int64
	Credits    []storage.EnvelopeCredit
	Surplus    decimal.Decimal
	NextDate   time.Time
}

// Process distributes an actual received amount according to the template's
// fixed splits.
//
// Every split is credited in full regardless of the actual amount; the
// difference between actual and planned, positive or negative, lands on the
// template's surplus envelope, so the credited total always equals the actual
// amount. All transactions are created approved, the account balance moves by
// the actual amount, and the template advances to its next due date. The
// whole batch applies atomically.
func (d *Distributor) Process(ctx context.Context, userID string, templateID int64, actualAmount decimal.Decimal) (DistributionResult, error) {
	if actualAmount.Sign() <= 0 {
		return DistributionResult{}, fmt.Errorf("distribution amount must be positive: %w", core.ErrInvalidAmount)
	}

	tpl, err := d.store.GetTemplate(ctx, userID, templateID)
	if err != nil {
		return DistributionResult{}, err
	}

	surplus := actualAmount.Sub(tpl.PlannedTotal())
	credits := make([]storage.EnvelopeCredit, 0, len(tpl.Splits)+1)
	for _, split := range tpl.Splits {
		credits = append(credits, storage.EnvelopeCredit{
			EnvelopeID: split.EnvelopeID,
			Amount:     split.Amount,
		})
	}
	if !surplus.IsZero() {
		credits = append(credits, storage.EnvelopeCredit{
			EnvelopeID: tpl.SurplusEnvelopeID,
			Amount:     surplus,
		})
	}

	nextDate, err := AdvanceDate(tpl.Frequency, tpl.NextDate)
	if err != nil {
		return DistributionResult{}, err
	}

	batch := storage.DistributionBatch{
		UserID:       userID,
		TemplateID:   templateID,
		AccountID:    tpl.AccountID,
		Transactions: distributionTransactions(tpl, credits),
		Credits:      credits,
		AccountDelta: actualAmount,
		NextDate:     nextDate,
	}
	if err := d.store.ApplyDistribution(ctx, batch); err != nil {
		return DistributionResult{}, err
	}

	slog.InfoContext(ctx, "Recurring income distributed",
		"template_id", templateID,
		"template_name", tpl.Name,
		"actual_amount", actualAmount,
		"surplus", surplus,
		"envelopes_credited", len(credits),
		"next_date", nextDate.Format(time.DateOnly))

	d.publishProcessed(ctx, userID, templateID, len(credits), surplus)

	return DistributionResult{
		TemplateID: templateID,
		Credits:    credits,
		Surplus:    surplus,
		NextDate:   nextDate,
	}, nil
}

// ProcessDue distributes every template due at now using its planned amount,
// the path the recurring worker takes on each tick. Templates whose actual
// amount differs are expected to be processed explicitly via Process.
// Failures are logged per template; one broken template does not stop the
// sweep.
func (d *Distributor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	due, err := d.store.ListDueTemplates(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due templates: %w", err)
	}

	var processed int
	for _, tpl := range due {
		if _, err := d.Process(ctx, tpl.UserID, tpl.ID, tpl.Amount); err != nil {
			slog.ErrorContext(ctx, "Failed to process due template",
				"template_id", tpl.ID,
				"template_name", tpl.Name,
				"error", err)
			continue
		}
		processed++
	}
	if processed > 0 {
		slog.InfoContext(ctx, "Due templates processed", "count", processed, "due", len(due))
	}
	return processed, nil
}

// distributionTransactions builds the pre-approved transaction rows for a
// batch: one income row per credited envelope so the ledger shows where each
// slice of the pay went.
func distributionTransactions(tpl core.RecurringTemplate, credits []storage.EnvelopeCredit) []core.Transaction {
	txs := make([]core.Transaction, 0, len(credits))
	for _, c := range credits {
		envelopeID := c.EnvelopeID
		txs = append(txs, core.Transaction{
			UserID:      tpl.UserID,
			AccountID:   tpl.AccountID,
			EnvelopeID:  &envelopeID,
			Amount:      c.Amount,
			Merchant:    tpl.Name,
			Description: fmt.Sprintf("Recurring income: %s", tpl.Name),
			Date:        tpl.NextDate,
			IsApproved:  true,
			Source:      core.SourceManual,
		})
	}
	return txs
}

func (d *Distributor) publishProcessed(ctx context.Context, userID string, templateID int64, credited int, surplus decimal.Decimal) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishDistributionProcessed(ctx, userID, templateID, credited, surplus); err != nil {
		slog.ErrorContext(ctx, "Failed to publish distribution event",
			"template_id", templateID, "error", err)
	}
}
