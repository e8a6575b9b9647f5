package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys for ledger events.
const (
	RoutingKeyTransactionApproved   = "transaction.approved"
	RoutingKeyDistributionProcessed = "distribution.processed"
)

// TransactionApprovedMessage notifies downstream consumers (the spreadsheet
// sync worker) that a transaction's balance effects were committed. It
// carries only identifiers; consumers fetch the full row from the store.
type TransactionApprovedMessage struct {
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	TransactionID int64     `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewTransactionApprovedMessage creates an approval event with a fresh
// event ID.
func NewTransactionApprovedMessage(userID string, transactionID int64) *TransactionApprovedMessage {
	return &TransactionApprovedMessage{
		EventID:       uuid.NewString(),
		UserID:        userID,
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *TransactionApprovedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionApprovedFromJSON parses an approval event.
func TransactionApprovedFromJSON(data []byte) (*TransactionApprovedMessage, error) {
	var msg TransactionApprovedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DistributionProcessedMessage announces a completed recurring income
// distribution.
type DistributionProcessedMessage struct {
	EventID           string          `json:"event_id"`
	UserID            string          `json:"user_id"`
	TemplateID        int64           `json:"template_id"`
	EnvelopesCredited int             `json:"envelopes_credited"`
	Surplus           decimal.Decimal `json:"surplus"`
	Timestamp         time.Time       `json:"timestamp"`
}

// NewDistributionProcessedMessage creates a distribution event with a fresh
// event ID.
func NewDistributionProcessedMessage(userID string, templateID int64, credited int, surplus decimal.Decimal) *DistributionProcessedMessage {
	return &DistributionProcessedMessage{
		EventID:           uuid.NewString(),
		UserID:            userID,
		TemplateID:        templateID,
		EnvelopesCredited: credited,
		Surplus:           surplus,
		Timestamp:         time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *DistributionProcessedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
