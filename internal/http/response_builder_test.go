package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"buste/internal/core"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"missing user", errMissingUser, http.StatusUnauthorized},
		{"not found", core.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("account 3: %w", core.ErrNotFound), http.StatusNotFound},
		{"already processed", core.ErrAlreadyProcessed, http.StatusConflict},
		{"duplicate unresolved", core.ErrDuplicateUnresolved, http.StatusConflict},
		{"inconsistent state", core.ErrInconsistentState, http.StatusConflict},
		{"missing envelope", core.ErrMissingEnvelope, http.StatusUnprocessableEntity},
		{"invalid amount", core.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{"invalid frequency", core.ErrInvalidFrequency, http.StatusUnprocessableEntity},
		{"validation", core.ErrValidation, http.StatusUnprocessableEntity},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/accounts", nil)

	writeError(w, r, errors.New("dial tcp 10.0.0.5: connection refused"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "internal error" {
		t.Errorf("internal detail leaked: %q", body.Error)
	}
}

func TestWriteErrorKeepsDomainDetail(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/transactions/3/approve", nil)

	writeError(w, r, fmt.Errorf("transaction 3: %w", core.ErrAlreadyProcessed))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error == "internal error" || body.Error == "" {
		t.Errorf("domain error lost: %q", body.Error)
	}
}

func TestTransactionResponseShape(t *testing.T) {
	envelopeID := int64(4)
	resp := toTransactionResponse(core.Transaction{
		ID:         9,
		AccountID:  2,
		EnvelopeID: &envelopeID,
		Amount:     decimal.RequireFromString("-45.67"),
		Merchant:   "Countdown",
		Date:       time.Date(2026, time.August, 10, 0, 0, 0, 0, time.UTC),
		IsApproved: true,
		Source:     core.SourceManual,
	})

	if resp.Amount != "-45.67" {
		t.Errorf("amount = %q, want -45.67", resp.Amount)
	}
	if resp.Date != "2026-08-10" {
		t.Errorf("date = %q, want 2026-08-10", resp.Date)
	}
	if resp.EnvelopeID == nil || *resp.EnvelopeID != 4 {
		t.Errorf("envelope = %v, want 4", resp.EnvelopeID)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := decoded["duplicate_of_id"]; present {
		t.Error("nil duplicate_of_id should be omitted")
	}
}
