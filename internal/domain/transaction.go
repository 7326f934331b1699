package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents the lifecycle status of a transaction
type TransactionStatus string

const (
	StatusCleared TransactionStatus = "CLEARED"
	StatusReview  TransactionStatus = "REVIEW"
	StatusBlocked TransactionStatus = "BLOCKED"
)

// Transaction represents a loyalty-platform transaction under evaluation
type Transaction struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Reference string    `json:"reference" db:"reference"` // business identifier, e.g. TX-1001
	AccountID string    `json:"account_id" db:"account_id"`

	// Transaction details
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Currency      string          `json:"currency" db:"currency"`
	PaymentMethod string          `json:"payment_method" db:"payment_method"` // CARD, WALLET, POINTS, ...
	Description   string          `json:"description,omitempty" db:"description"`

	// Merchant
	MerchantName     string `json:"merchant_name" db:"merchant_name"`
	MerchantCategory string `json:"merchant_category" db:"merchant_category"`

	// "city, ..., countryCode"
	Location string `json:"location,omitempty" db:"location"`

	// Derived by the engine or by an authorized manual action only
	Status    TransactionStatus `json:"status" db:"status"`
	RiskLevel RiskLevel         `json:"risk_level,omitempty" db:"risk_level"`

	// Timestamps
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// TransactionCreatedEvent is the Kafka event received from the ingestion service
type TransactionCreatedEvent struct {
	EventID     uuid.UUID    `json:"event_id"`
	EventType   string       `json:"event_type"`
	Timestamp   time.Time    `json:"timestamp"`
	Transaction *Transaction `json:"payload"`
}

// Normalize prepares an incoming transaction for persistence.
// Status and risk level supplied by the caller are discarded.
func (t *Transaction) Normalize(now time.Time) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Reference == "" {
		t.Reference = "TX-" + strings.ToUpper(t.ID.String()[:8])
	}
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	t.PaymentMethod = strings.ToUpper(strings.TrimSpace(t.PaymentMethod))
	t.Status = StatusCleared
	t.RiskLevel = ""
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	// storage keeps microsecond precision; history windows compare against it
	t.CreatedAt = t.CreatedAt.Truncate(time.Microsecond)
	t.UpdatedAt = nil
}

// State returns the engine-owned part of the transaction
func (t *Transaction) State() TxState {
	return TxState{Status: t.Status, RiskLevel: t.RiskLevel}
}

// Apply stores a new state on the transaction, stamping UpdatedAt when it changed
func (t *Transaction) Apply(s TxState, now time.Time) bool {
	if t.Status == s.Status && t.RiskLevel == s.RiskLevel {
		return false
	}
	t.Status = s.Status
	t.RiskLevel = s.RiskLevel
	t.UpdatedAt = &now
	return true
}

// Country returns the trailing comma-delimited token of the location,
// or "" if the location has fewer than two parts
func (t *Transaction) Country() string {
	return CountryOf(t.Location)
}

// CountryOf extracts the country code from a "city, ..., countryCode" location
func CountryOf(location string) string {
	parts := strings.Split(location, ",")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[len(parts)-1])
}

// Clone returns a deep copy of the transaction
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.UpdatedAt != nil {
		u := *t.UpdatedAt
		c.UpdatedAt = &u
	}
	return &c
}
