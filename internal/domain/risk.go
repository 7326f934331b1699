package domain

// RiskLevel represents the risk severity.
// The same scale labels transactions, anomalies and alerts.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Severity is an alias used where the level describes a single finding
type Severity = RiskLevel

// Rank orders risk levels; unset sorts below LOW
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLevelCritical:
		return 4
	case RiskLevelHigh:
		return 3
	case RiskLevelMedium:
		return 2
	case RiskLevelLow:
		return 1
	default:
		return 0
	}
}

// IsValid reports whether r is one of the four defined levels
func (r RiskLevel) IsValid() bool {
	return r.Rank() > 0
}

// Escalates returns true if findings of this severity produce an alert
func (r RiskLevel) Escalates() bool {
	return r == RiskLevelHigh || r == RiskLevelCritical
}

// StatusPolicy selects how a computed risk level moves the transaction status
type StatusPolicy string

const (
	// PolicyReviewOnCritical is used at creation and reprocessing:
	// CRITICAL moves a CLEARED transaction to REVIEW
	PolicyReviewOnCritical StatusPolicy = "review_on_critical"

	// PolicyBlockOnCritical is used by the administrative analyze action:
	// CRITICAL blocks, HIGH moves a CLEARED transaction to REVIEW
	PolicyBlockOnCritical StatusPolicy = "block_on_critical"
)

// IsValid reports whether p is a known policy
func (p StatusPolicy) IsValid() bool {
	return p == PolicyReviewOnCritical || p == PolicyBlockOnCritical
}
