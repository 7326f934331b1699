package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Default list sizes when no criteria are given
const (
	DefaultTransactionLimit = 100
	DefaultAnomalyLimit     = 20
	MaxListLimit            = 1000
)

// TransactionFilter selects transactions for list views
type TransactionFilter struct {
	AccountID     string            `json:"account_id,omitempty" validate:"max=64"`
	RiskLevel     RiskLevel         `json:"risk_level,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Status        TransactionStatus `json:"status,omitempty" validate:"omitempty,oneof=CLEARED REVIEW BLOCKED"`
	PaymentMethod string            `json:"payment_method,omitempty" validate:"max=32"`
	From          time.Time         `json:"from,omitempty"`
	To            time.Time         `json:"to,omitempty"`
	MinAmount     *decimal.Decimal  `json:"min_amount,omitempty"`
	MaxAmount     *decimal.Decimal  `json:"max_amount,omitempty"`
	Query         string            `json:"q,omitempty" validate:"max=200"`
	Limit         int               `json:"limit,omitempty" validate:"min=0,max=1000"`
}

// Normalize upper-cases enum fields the way ingestion does
func (f *TransactionFilter) Normalize() {
	f.RiskLevel = RiskLevel(strings.ToUpper(strings.TrimSpace(string(f.RiskLevel))))
	f.Status = TransactionStatus(strings.ToUpper(strings.TrimSpace(string(f.Status))))
	f.PaymentMethod = strings.ToUpper(strings.TrimSpace(f.PaymentMethod))
	f.Query = strings.TrimSpace(f.Query)
	if f.Limit == 0 {
		f.Limit = DefaultTransactionLimit
	}
}

// Validate checks field formats and ranges
func (f *TransactionFilter) Validate() error {
	if err := Validate(f); err != nil {
		return err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return fmt.Errorf("%w: from must not be after to", ErrInvalidInput)
	}
	if f.MinAmount != nil && f.MaxAmount != nil && f.MinAmount.GreaterThan(*f.MaxAmount) {
		return fmt.Errorf("%w: min_amount must not exceed max_amount", ErrInvalidInput)
	}
	return nil
}

// Matches reports whether t satisfies every criterion of the filter
func (f *TransactionFilter) Matches(t *Transaction) bool {
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if f.RiskLevel != "" && t.RiskLevel != f.RiskLevel {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.PaymentMethod != "" && t.PaymentMethod != f.PaymentMethod {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.CreatedAt.After(f.To) {
		return false
	}
	if f.MinAmount != nil && t.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && t.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(t.MerchantName), q) &&
			!strings.Contains(strings.ToLower(t.Description), q) {
			return false
		}
	}
	return true
}

// AlertFilter selects alerts for list views
type AlertFilter struct {
	Status   AlertStatus `json:"status,omitempty" validate:"omitempty,oneof=OPEN ACKNOWLEDGED CLOSED"`
	Severity Severity    `json:"severity,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Limit    int         `json:"limit,omitempty" validate:"min=0,max=1000"`
}

// Normalize upper-cases enum fields
func (f *AlertFilter) Normalize() {
	f.Status = AlertStatus(strings.ToUpper(strings.TrimSpace(string(f.Status))))
	f.Severity = Severity(strings.ToUpper(strings.TrimSpace(string(f.Severity))))
	if f.Limit == 0 {
		f.Limit = MaxListLimit
	}
}

// Matches reports whether a satisfies the filter
func (f *AlertFilter) Matches(a *Alert) bool {
	return (f.Status == "" || a.Status == f.Status) &&
		(f.Severity == "" || a.Severity == f.Severity)
}

// AnomalyFilter selects anomalies for list views
type AnomalyFilter struct {
	Severity      Severity    `json:"severity,omitempty" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	Type          AnomalyType `json:"type,omitempty" validate:"omitempty,oneof=AMOUNT_SPIKE VELOCITY GEO_MISMATCH ODD_HOURS HIGH_RISK_MERCHANT HIGH_VALUE"`
	AccountID     string      `json:"account_id,omitempty" validate:"max=64"`
	TransactionID uuid.UUID   `json:"transaction_id,omitempty"`
	Limit         int         `json:"limit,omitempty" validate:"min=0,max=1000"`
}

// Normalize upper-cases enum fields
func (f *AnomalyFilter) Normalize() {
	f.Severity = Severity(strings.ToUpper(strings.TrimSpace(string(f.Severity))))
	f.Type = AnomalyType(strings.ToUpper(strings.TrimSpace(string(f.Type))))
	if f.Limit == 0 {
		f.Limit = DefaultAnomalyLimit
	}
}

// Matches reports whether a satisfies the filter
func (f *AnomalyFilter) Matches(a *Anomaly) bool {
	return (f.Severity == "" || a.Severity == f.Severity) &&
		(f.Type == "" || a.Type == f.Type) &&
		(f.AccountID == "" || a.AccountID == f.AccountID) &&
		(f.TransactionID == uuid.Nil || a.TransactionID == f.TransactionID)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validate runs struct validation and maps failures to ErrInvalidInput
func Validate(v any) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
