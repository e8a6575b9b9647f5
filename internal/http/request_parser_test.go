package http

import (
	"net/http/httptest"
	"strings"
	"testing"

	"buste/internal/core"
)

func TestUserIDHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/accounts", nil)
	if _, err := userID(r); err == nil {
		t.Error("missing header should fail")
	}

	r.Header.Set("X-User-ID", "  user-1  ")
	user, err := userID(r)
	if err != nil {
		t.Fatalf("userID: %v", err)
	}
	if user != "user-1" {
		t.Errorf("user = %q, want user-1", user)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"12.34", "12.34", false},
		{"-45.00", "-45", false},
		{"12,34", "12.34", false},
		{" 7 ", "7", false},
		{"", "", true},
		{"twelve", "", true},
	}

	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseAmount(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseAmount(%q): %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("parseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2026-08-10")
	if err != nil {
		t.Fatalf("parseDate: %v", err)
	}
	if d.Year() != 2026 || d.Month() != 8 || d.Day() != 10 {
		t.Errorf("parsed date = %v", d)
	}

	for _, bad := range []string{"10/08/2026", "2026-13-01", "yesterday", ""} {
		if _, err := parseDate(bad); err == nil {
			t.Errorf("parseDate(%q) should fail", bad)
		}
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Countdown  ", "Countdown"},
		{"weekly\x00shop", "weeklyshop"},
		{"line1\nline2", "line1\nline2"},
		{"tab\there", "tab\there"},
	}

	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	r := httptest.NewRequest("POST", "/transactions",
		strings.NewReader(`{"account_id": 1, "surprise": true}`))
	var req createTransactionRequest
	if err := decodeJSON(r, &req); err == nil {
		t.Error("unknown field should be rejected")
	}
}

func TestToTransactionDefaultsToManualSource(t *testing.T) {
	req := createTransactionRequest{
		AccountID: 1,
		Amount:    "-45.00",
		Merchant:  "Countdown",
		Date:      "2026-08-10",
	}

	tx, err := req.toTransaction("user-1")
	if err != nil {
		t.Fatalf("toTransaction: %v", err)
	}
	if tx.Source != core.SourceManual {
		t.Errorf("source = %s, want manual", tx.Source)
	}
	if tx.UserID != "user-1" {
		t.Errorf("user = %q", tx.UserID)
	}
	if tx.Amount.String() != "-45" {
		t.Errorf("amount = %s", tx.Amount)
	}
}

func TestToTemplateParsesSplits(t *testing.T) {
	req := createTemplateRequest{
		Name:              "Pay",
		Amount:            "150.00",
		Frequency:         "fortnightly",
		NextDate:          "2026-08-14",
		AccountID:         1,
		SurplusEnvelopeID: 3,
		Splits: []splitRequest{
			{EnvelopeID: 1, Amount: "100.00"},
			{EnvelopeID: 2, Amount: "50.00"},
		},
	}

	tpl, err := req.toTemplate("user-1")
	if err != nil {
		t.Fatalf("toTemplate: %v", err)
	}
	if len(tpl.Splits) != 2 {
		t.Fatalf("splits = %d, want 2", len(tpl.Splits))
	}
	if tpl.PlannedTotal().String() != "150" {
		t.Errorf("planned total = %s, want 150", tpl.PlannedTotal())
	}
	if err := tpl.Validate(); err != nil {
		t.Errorf("template should validate: %v", err)
	}
}

func TestToTemplateBadSplitAmount(t *testing.T) {
	req := createTemplateRequest{
		Name:              "Pay",
		Amount:            "150.00",
		Frequency:         "fortnightly",
		NextDate:          "2026-08-14",
		AccountID:         1,
		SurplusEnvelopeID: 3,
		Splits:            []splitRequest{{EnvelopeID: 1, Amount: "lots"}},
	}

	if _, err := req.toTemplate("user-1"); err == nil {
		t.Error("bad split amount should fail")
	}
}
