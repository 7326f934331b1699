package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/loyalty/fraud-service/internal/domain"
)

// Finding is the output of a single rule evaluator
type Finding struct {
	Type     domain.AnomalyType
	Score    float64
	Severity domain.Severity // empty means: classify from Score
	Reason   string
}

// History is the recent-history snapshot shared by every evaluator of a pass
type History struct {
	// Prior transactions of the account, newest first, current one excluded
	Recent []*domain.Transaction

	// Transactions of the account inside the velocity window, current one included
	WindowCount int
}

// Evaluator inspects one dimension of a transaction
type Evaluator func(t Thresholds, tx *domain.Transaction, h History) (Finding, bool)

// Evaluators lists the rules in evaluation order
var Evaluators = []Evaluator{
	AmountSpike,
	Velocity,
	GeoMismatch,
	OddHours,
	HighRiskMerchant,
	HighValue,
}

// Evaluate runs every evaluator against the same snapshot
func Evaluate(t Thresholds, tx *domain.Transaction, h History) []Finding {
	findings := make([]Finding, 0, len(Evaluators))
	for _, eval := range Evaluators {
		if f, ok := eval(t, tx, h); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

// AmountSpike fires when the amount is a multiple of the rolling average
func AmountSpike(t Thresholds, tx *domain.Transaction, h History) (Finding, bool) {
	avg, ok := RollingAverage(h.Recent, t.SpikeHistorySize)
	if !ok || !avg.IsPositive() {
		return Finding{}, false
	}

	for _, tier := range t.SpikeTiers {
		if tx.Amount.GreaterThanOrEqual(avg.Mul(tier.Bound)) {
			ratio := tx.Amount.DivRound(avg, 2)
			return Finding{
				Type:     domain.AnomalyAmountSpike,
				Score:    tier.Score,
				Severity: tier.Severity,
				Reason:   fmt.Sprintf("Amount %s is %sx average %s", tx.Amount, ratio.StringFixed(2), avg.StringFixed(2)),
			}, true
		}
	}
	return Finding{}, false
}

// RollingAverage averages the amounts of up to n transactions, rounded half-up to cents.
// It reports false when there is no transaction to average.
func RollingAverage(recent []*domain.Transaction, n int) (decimal.Decimal, bool) {
	if len(recent) > n {
		recent = recent[:n]
	}
	if len(recent) == 0 {
		return decimal.Zero, false
	}

	sum := decimal.Zero
	for _, r := range recent {
		sum = sum.Add(r.Amount)
	}
	return sum.DivRound(decimal.NewFromInt(int64(len(recent))), 2), true
}

// Velocity fires when the account has too many transactions in the window
func Velocity(t Thresholds, tx *domain.Transaction, h History) (Finding, bool) {
	for _, tier := range t.VelocityTiers {
		if h.WindowCount >= tier.Bound {
			return Finding{
				Type:     domain.AnomalyVelocity,
				Score:    tier.Score,
				Severity: tier.Severity,
				Reason:   fmt.Sprintf("%d transactions in %d minutes", h.WindowCount, int(t.VelocityWindow.Minutes())),
			}, true
		}
	}
	return Finding{}, false
}

// GeoMismatch fires when the country differs from the previous located transaction
func GeoMismatch(t Thresholds, tx *domain.Transaction, h History) (Finding, bool) {
	prev := previousLocation(tx, h.Recent)
	if prev == "" || strings.TrimSpace(tx.Location) == "" {
		return Finding{}, false
	}
	if strings.EqualFold(prev, tx.Location) {
		return Finding{}, false
	}

	prevCountry, curCountry := domain.CountryOf(prev), tx.Country()
	if prevCountry == "" || curCountry == "" || strings.EqualFold(prevCountry, curCountry) {
		return Finding{}, false
	}
	return Finding{
		Type:     domain.AnomalyGeoMismatch,
		Score:    t.GeoScore,
		Severity: t.GeoSeverity,
		Reason:   fmt.Sprintf("Location changed from %s to %s", prev, tx.Location),
	}, true
}

func previousLocation(tx *domain.Transaction, recent []*domain.Transaction) string {
	for _, r := range recent {
		if r.ID == tx.ID {
			continue
		}
		if loc := strings.TrimSpace(r.Location); loc != "" {
			return loc
		}
	}
	return ""
}

// OddHours fires for transactions created late at night
func OddHours(t Thresholds, tx *domain.Transaction, _ History) (Finding, bool) {
	hour := tx.CreatedAt.In(t.Location).Hour()

	var odd bool
	if t.OddHourStart > t.OddHourEnd {
		odd = hour >= t.OddHourStart || hour < t.OddHourEnd
	} else {
		odd = hour >= t.OddHourStart && hour < t.OddHourEnd
	}
	if !odd {
		return Finding{}, false
	}
	return Finding{
		Type:     domain.AnomalyOddHours,
		Score:    t.OddHourScore,
		Severity: t.OddHourSeverity,
		Reason:   fmt.Sprintf("Transaction at unusual hour: %d:00", hour),
	}, true
}

// HighRiskMerchant fires for merchant categories on the high-risk list
func HighRiskMerchant(t Thresholds, tx *domain.Transaction, _ History) (Finding, bool) {
	category := strings.ToUpper(strings.TrimSpace(tx.MerchantCategory))
	if category == "" {
		return Finding{}, false
	}
	for _, c := range t.HighRiskCategories {
		if strings.Contains(category, c) {
			return Finding{
				Type:     domain.AnomalyHighRiskMerchant,
				Score:    t.MerchantScore,
				Severity: t.MerchantSeverity,
				Reason:   "High-risk merchant category: " + tx.MerchantCategory,
			}, true
		}
	}
	return Finding{}, false
}

// HighValue fires for large absolute amounts
func HighValue(t Thresholds, tx *domain.Transaction, _ History) (Finding, bool) {
	amount := tx.Amount.Abs()
	for _, tier := range t.HighValueTiers {
		if amount.GreaterThanOrEqual(tier.Bound) {
			return Finding{
				Type:     domain.AnomalyHighValue,
				Score:    tier.Score,
				Severity: tier.Severity,
				Reason:   fmt.Sprintf("High-value transaction: %s %s", tx.Amount, tx.Currency),
			}, true
		}
	}
	return Finding{}, false
}
