// Package export backs up approved transactions to a Google Sheets
// spreadsheet, append-only, one row per transaction.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"buste/internal/core"
	"buste/internal/storage"
)

// RowWriter appends rows to the backup destination.
type RowWriter interface {
	AppendRows(ctx context.Context, rows [][]any) error
}

// SheetsWriter writes rows to a Google Sheets spreadsheet using a service
// account.
type SheetsWriter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsWriter builds a writer authenticated from a credentials file or
// inline JSON.
func NewSheetsWriter(ctx context.Context, spreadsheetID, sheetName, credentialsFile, credentialsJSON string) (*SheetsWriter, error) {
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet ID")
	}

	var creds []byte
	switch {
	case credentialsJSON != "":
		creds = []byte(credentialsJSON)
	case credentialsFile != "":
		var err error
		creds, err = os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &SheetsWriter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}, nil
}

// AppendRows appends rows below the existing data in the configured sheet.
func (w *SheetsWriter) AppendRows(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	rng := fmt.Sprintf("%s!A:G", w.sheetName)
	vr := &gsheet.ValueRange{Values: rows}
	_, err := w.svc.Spreadsheets.Values.Append(w.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to sheet %s: %w", w.sheetName, err)
	}
	return nil
}

// Row flattens a transaction into a spreadsheet row. The amount stays a
// decimal string so the backup is lossless; USER_ENTERED input parsing turns
// it back into a number in the sheet.
func Row(t core.Transaction) []any {
	var envelopeID any
	if t.EnvelopeID != nil {
		envelopeID = *t.EnvelopeID
	}
	return []any{
		t.Date.Format(time.DateOnly),
		t.Merchant,
		t.Description,
		t.Amount.String(),
		t.AccountID,
		envelopeID,
		t.ID,
	}
}

// Exporter drains approved, not-yet-exported transactions from the store
// into the backup sheet in batches.
type Exporter struct {
	store     storage.Store
	writer    RowWriter
	batchSize int
}

// NewExporter creates an exporter pulling at most batchSize rows per pass.
func NewExporter(store storage.Store, writer RowWriter, batchSize int) *Exporter {
	return &Exporter{
		store:     store,
		writer:    writer,
		batchSize: batchSize,
	}
}

// ExportPending writes one batch and marks each row exported only after the
// append succeeded. Returns how many transactions were exported. A crash
// between append and mark can duplicate a row in the sheet; the transaction
// ID column makes that visible and repairable.
func (e *Exporter) ExportPending(ctx context.Context) (int, error) {
	pending, err := e.store.ListUnexportedApproved(ctx, e.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unexported transactions: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(pending))
	for i, t := range pending {
		rows[i] = Row(t)
	}
	if err := e.writer.AppendRows(ctx, rows); err != nil {
		return 0, err
	}

	for _, t := range pending {
		if err := e.store.MarkExported(ctx, t.ID); err != nil {
			return 0, fmt.Errorf("mark transaction %d exported: %w", t.ID, err)
		}
	}

	slog.InfoContext(ctx, "Exported transactions to spreadsheet", "count", len(pending))
	return len(pending), nil
}
