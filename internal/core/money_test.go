package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"dot separator", "12.34", "12.34", false},
		{"comma separator", "12,34", "12.34", false},
		{"integer", "45", "45", false},
		{"negative", "-45.67", "-45.67", false},
		{"explicit positive", "+3.50", "3.5", false},
		{"rounds half up", "12.346", "12.35", false},
		{"rounds down", "12.344", "12.34", false},
		{"surrounding spaces", "  7.20  ", "7.2", false},
		{"empty", "", "", true},
		{"only sign", "-", "", true},
		{"letters", "abc", "", true},
		{"double separator", "1.2.3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("ParseAmount(%q) error = %v, want ErrInvalidAmount", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.input, err)
			}
			want := decimal.RequireFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, want)
			}
		})
	}
}

func TestParsePositiveAmount(t *testing.T) {
	if _, err := ParsePositiveAmount("-3.00"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("negative amount should be rejected, got %v", err)
	}
	if _, err := ParsePositiveAmount("0"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("zero amount should be rejected, got %v", err)
	}
	if got, err := ParsePositiveAmount("100.00"); err != nil || !got.Equal(decimal.NewFromInt(100)) {
		t.Errorf("ParsePositiveAmount(100.00) = %s, %v", got, err)
	}
}

func TestWithinEpsilon(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"equal", "-45.67", "-45.67", true},
		{"one cent apart", "-45.67", "-45.66", true},
		{"two cents apart", "-45.67", "-45.65", false},
		{"zero and epsilon", "0", "0.01", true},
		{"far apart", "100", "200", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := decimal.RequireFromString(tt.a)
			b := decimal.RequireFromString(tt.b)
			if got := WithinEpsilon(a, b); got != tt.want {
				t.Errorf("WithinEpsilon(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
