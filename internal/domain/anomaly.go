package domain

import (
	"time"

	"github.com/google/uuid"
)

// AnomalyType identifies the rule that produced an anomaly
type AnomalyType string

const (
	AnomalyAmountSpike      AnomalyType = "AMOUNT_SPIKE"
	AnomalyVelocity         AnomalyType = "VELOCITY"
	AnomalyGeoMismatch      AnomalyType = "GEO_MISMATCH"
	AnomalyOddHours         AnomalyType = "ODD_HOURS"
	AnomalyHighRiskMerchant AnomalyType = "HIGH_RISK_MERCHANT"
	AnomalyHighValue        AnomalyType = "HIGH_VALUE"
)

// IsValid reports whether t is a known anomaly type
func (t AnomalyType) IsValid() bool {
	switch t {
	case AnomalyAmountSpike, AnomalyVelocity, AnomalyGeoMismatch,
		AnomalyOddHours, AnomalyHighRiskMerchant, AnomalyHighValue:
		return true
	}
	return false
}

// Anomaly explains a single finding for a single transaction.
// Only AlertID is ever written after creation.
type Anomaly struct {
	ID             uuid.UUID   `json:"id" db:"id"`
	TransactionID  uuid.UUID   `json:"transaction_id" db:"transaction_id"`
	TransactionRef string      `json:"transaction_ref" db:"transaction_ref"`
	AccountID      string      `json:"account_id" db:"account_id"`
	Type           AnomalyType `json:"anomaly_type" db:"anomaly_type"`
	Score          float64     `json:"score" db:"score"` // 0.0 - 1.0
	Severity       Severity    `json:"severity" db:"severity"`
	Reason         string      `json:"reason" db:"reason"`
	DetectedAt     time.Time   `json:"detected_at" db:"detected_at"`
	AlertID        *uuid.UUID  `json:"alert_id,omitempty" db:"alert_id"`
}

// IsEscalated returns true once an alert has been linked
func (a *Anomaly) IsEscalated() bool {
	return a.AlertID != nil
}

// NeedsEscalation returns true for qualifying anomalies without an alert
func (a *Anomaly) NeedsEscalation() bool {
	return a.Severity.Escalates() && !a.IsEscalated()
}

// Clone returns a deep copy of the anomaly
func (a *Anomaly) Clone() *Anomaly {
	c := *a
	if a.AlertID != nil {
		id := *a.AlertID
		c.AlertID = &id
	}
	return &c
}

// ClampScore saturates a score to the [0, 1] range
func ClampScore(score float64) float64 {
	switch {
	case score > 1:
		return 1
	case score < 0:
		return 0
	default:
		return score
	}
}
