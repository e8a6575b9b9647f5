// Request decoding and validation helpers. Bodies are JSON, amounts travel
// as decimal strings and dates as YYYY-MM-DD.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"buste/internal/core"
)

const maxBodyBytes = 1 << 20 // 1 MiB

var errMissingUser = errors.New("missing X-User-ID header")

// userID extracts the caller identity from the X-User-ID header.
func userID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" {
		return "", errMissingUser
	}
	return id, nil
}

// pathID parses the {id} segment of the request path.
func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", raw, core.ErrValidation)
	}
	return id, nil
}

// decodeJSON reads the request body into dst, rejecting unknown fields and
// oversized payloads.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", core.ErrValidation)
	}
	return nil
}

// parseAmount converts a decimal string ("12.34", "-45,00") into a Decimal,
// accepting either separator and rounding half-up to two places.
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Decimal{}, fmt.Errorf("missing amount: %w", core.ErrInvalidAmount)
	}
	return core.ParseAmount(raw)
}

// parseDate parses a YYYY-MM-DD date as midnight UTC.
func parseDate(raw string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", raw, core.ErrValidation)
	}
	return t, nil
}

// sanitizeInput strips control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

type createAccountRequest struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	OpeningBalance string `json:"opening_balance"`
}

func (req createAccountRequest) toAccount(user string) (core.Account, error) {
	opening := decimal.Zero
	if req.OpeningBalance != "" {
		var err error
		opening, err = parseAmount(req.OpeningBalance)
		if err != nil {
			return core.Account{}, err
		}
	}
	return core.Account{
		UserID:         user,
		Name:           sanitizeInput(req.Name),
		Type:           core.AccountType(req.Type),
		Balance:        opening,
		OpeningBalance: opening,
		IsActive:       true,
	}, nil
}

type createEnvelopeRequest struct {
	Name           string `json:"name"`
	Icon           string `json:"icon"`
	CategoryID     *int64 `json:"category_id"`
	BudgetedAmount string `json:"budgeted_amount"`
	IsMonitored    bool   `json:"is_monitored"`
}

func (req createEnvelopeRequest) toEnvelope(user string) (core.Envelope, error) {
	budgeted := decimal.Zero
	if req.BudgetedAmount != "" {
		var err error
		budgeted, err = parseAmount(req.BudgetedAmount)
		if err != nil {
			return core.Envelope{}, err
		}
	}
	return core.Envelope{
		UserID:         user,
		Name:           sanitizeInput(req.Name),
		Icon:           sanitizeInput(req.Icon),
		CategoryID:     req.CategoryID,
		BudgetedAmount: budgeted,
		IsActive:       true,
		IsMonitored:    req.IsMonitored,
	}, nil
}

type createTransactionRequest struct {
	AccountID   int64  `json:"account_id"`
	EnvelopeID  *int64 `json:"envelope_id"`
	Amount      string `json:"amount"`
	Merchant    string `json:"merchant"`
	Description string `json:"description"`
	Date        string `json:"date"`
	IsTransfer  bool   `json:"is_transfer"`
	Source      string `json:"source"`
	PreApprove  bool   `json:"pre_approve"`
}

func (req createTransactionRequest) toTransaction(user string) (core.Transaction, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return core.Transaction{}, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	source := core.Source(req.Source)
	if req.Source == "" {
		source = core.SourceManual
	}
	return core.Transaction{
		UserID:      user,
		AccountID:   req.AccountID,
		EnvelopeID:  req.EnvelopeID,
		Amount:      amount,
		Merchant:    sanitizeInput(req.Merchant),
		Description: sanitizeInput(req.Description),
		Date:        date,
		IsTransfer:  req.IsTransfer,
		Source:      source,
	}, nil
}

type allocateRequest struct {
	Amount string `json:"amount"`
}

type correctEnvelopeRequest struct {
	EnvelopeID int64 `json:"envelope_id"`
}

type resolveDuplicateRequest struct {
	Resolution string `json:"resolution"`
}

type attachLabelRequest struct {
	LabelID int64 `json:"label_id"`
}

type createRuleRequest struct {
	Pattern    string `json:"pattern"`
	EnvelopeID int64  `json:"envelope_id"`
}

type createLabelRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type splitRequest struct {
	EnvelopeID int64  `json:"envelope_id"`
	Amount     string `json:"amount"`
}

type createTemplateRequest struct {
	Name              string         `json:"name"`
	Amount            string         `json:"amount"`
	Frequency         string         `json:"frequency"`
	NextDate          string         `json:"next_date"`
	AccountID         int64          `json:"account_id"`
	SurplusEnvelopeID int64          `json:"surplus_envelope_id"`
	Splits            []splitRequest `json:"splits"`
}

func (req createTemplateRequest) toTemplate(user string) (core.RecurringTemplate, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return core.RecurringTemplate{}, err
	}
	nextDate, err := parseDate(req.NextDate)
	if err != nil {
		return core.RecurringTemplate{}, err
	}
	splits := make([]core.Split, len(req.Splits))
	for i, s := range req.Splits {
		sa, err := parseAmount(s.Amount)
		if err != nil {
			return core.RecurringTemplate{}, fmt.Errorf("split %d: %w", i, err)
		}
		splits[i] = core.Split{EnvelopeID: s.EnvelopeID, Amount: sa}
	}
	return core.RecurringTemplate{
		UserID:            user,
		Name:              sanitizeInput(req.Name),
		Amount:            amount,
		Frequency:         core.Frequency(req.Frequency),
		NextDate:          nextDate,
		AccountID:         req.AccountID,
		SurplusEnvelopeID: req.SurplusEnvelopeID,
		Splits:            splits,
	}, nil
}

type processTemplateRequest struct {
	ActualAmount string `json:"actual_amount"`
}
