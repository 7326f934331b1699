package rules

import (
	"github.com/loyalty/fraud-service/internal/domain"
)

// Assessment is the aggregated outcome of one evaluation pass
type Assessment struct {
	Findings  []Finding
	Score     float64 // sum of contributions, saturating at 1.0
	RiskLevel domain.RiskLevel
}

// Aggregate classifies findings and combines them into an assessment
func Aggregate(findings []Finding) Assessment {
	a := Assessment{Findings: make([]Finding, 0, len(findings))}

	severities := make([]domain.Severity, 0, len(findings))
	for _, f := range findings {
		f.Score = domain.ClampScore(f.Score)
		if f.Severity == "" {
			f.Severity = SeverityForScore(f.Score)
		}
		a.Score += f.Score
		severities = append(severities, f.Severity)
		a.Findings = append(a.Findings, f)
	}

	a.Score = domain.ClampScore(a.Score)
	a.RiskLevel = RiskLevelFor(severities)
	return a
}

// RiskLevelFor derives the transaction risk level from the set of anomaly severities:
// CRITICAL if any is CRITICAL or there are 4+, HIGH if any is HIGH or there are 3+,
// MEDIUM if there are 2+, LOW otherwise
func RiskLevelFor(severities []domain.Severity) domain.RiskLevel {
	var hasCritical, hasHigh bool
	for _, s := range severities {
		switch s {
		case domain.RiskLevelCritical:
			hasCritical = true
		case domain.RiskLevelHigh:
			hasHigh = true
		}
	}

	count := len(severities)
	switch {
	case hasCritical || count >= 4:
		return domain.RiskLevelCritical
	case hasHigh || count >= 3:
		return domain.RiskLevelHigh
	case count >= 2:
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}

// SeverityForScore maps a raw 0-1 score to a severity label
func SeverityForScore(score float64) domain.Severity {
	switch {
	case score >= 0.70:
		return domain.RiskLevelCritical
	case score >= 0.40:
		return domain.RiskLevelHigh
	case score >= 0.20:
		return domain.RiskLevelMedium
	default:
		return domain.RiskLevelLow
	}
}
