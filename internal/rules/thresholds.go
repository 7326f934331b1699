package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/loyalty/fraud-service/internal/domain"
)

// Tier maps a trigger bound to the score and severity it produces
type Tier struct {
	Bound    decimal.Decimal
	Score    float64
	Severity domain.Severity
}

// CountTier is a Tier keyed on an integer count
type CountTier struct {
	Bound    int
	Score    float64
	Severity domain.Severity
}

// Thresholds is the immutable rule table.
// Tiers are ordered from the highest bound to the lowest; the last tier is the trigger.
type Thresholds struct {
	// Amount spike: ratio of amount to the rolling average
	SpikeHistorySize int
	SpikeTiers       []Tier

	// Velocity: transactions for the account in the trailing window
	VelocityWindow time.Duration
	VelocityTiers  []CountTier

	// Geographic mismatch
	GeoScore    float64
	GeoSeverity domain.Severity

	// Odd hours: [OddHourStart, 24) and [0, OddHourEnd)
	OddHourStart    int
	OddHourEnd      int
	OddHourScore    float64
	OddHourSeverity domain.Severity
	Location        *time.Location

	// High-risk merchant categories, matched as upper-case substrings
	HighRiskCategories []string
	MerchantScore      float64
	MerchantSeverity   domain.Severity

	// High value on the absolute amount
	HighValueTiers []Tier
}

// DefaultThresholds returns the canonical rule table
func DefaultThresholds() Thresholds {
	return Thresholds{
		SpikeHistorySize: 10,
		SpikeTiers: []Tier{
			{Bound: decimal.NewFromFloat(3.0), Score: 0.90, Severity: domain.RiskLevelCritical},
			{Bound: decimal.NewFromFloat(2.0), Score: 0.70, Severity: domain.RiskLevelHigh},
			{Bound: decimal.NewFromFloat(1.5), Score: 0.50, Severity: domain.RiskLevelMedium},
		},

		VelocityWindow: 10 * time.Minute,
		VelocityTiers: []CountTier{
			{Bound: 10, Score: 0.95, Severity: domain.RiskLevelCritical},
			{Bound: 5, Score: 0.75, Severity: domain.RiskLevelHigh},
			{Bound: 3, Score: 0.50, Severity: domain.RiskLevelMedium},
		},

		GeoScore:    0.70,
		GeoSeverity: domain.RiskLevelHigh,

		OddHourStart:    23,
		OddHourEnd:      6,
		OddHourScore:    0.40,
		OddHourSeverity: domain.RiskLevelMedium,
		Location:        time.Local,

		HighRiskCategories: []string{
			"GAMBLING", "CRYPTOCURRENCY", "ADULT", "PHARMACEUTICALS",
			"MONEY_TRANSFER", "WIRE_TRANSFER", "GIFT_CARDS",
		},
		MerchantScore:    0.65,
		MerchantSeverity: domain.RiskLevelHigh,

		HighValueTiers: []Tier{
			{Bound: decimal.NewFromInt(100000), Score: 0.85, Severity: domain.RiskLevelCritical},
			{Bound: decimal.NewFromInt(50000), Score: 0.65, Severity: domain.RiskLevelHigh},
			{Bound: decimal.NewFromInt(20000), Score: 0.45, Severity: domain.RiskLevelMedium},
		},
	}
}

// Validate rejects tables the evaluators cannot use
func (t Thresholds) Validate() error {
	if t.SpikeHistorySize < 1 {
		return fmt.Errorf("spike history size must be positive, got %d", t.SpikeHistorySize)
	}
	if err := checkTiers("amount spike", t.SpikeTiers); err != nil {
		return err
	}
	if err := checkTiers("high value", t.HighValueTiers); err != nil {
		return err
	}
	if t.VelocityWindow <= 0 {
		return fmt.Errorf("velocity window must be positive, got %s", t.VelocityWindow)
	}
	if len(t.VelocityTiers) == 0 {
		return fmt.Errorf("velocity tiers are empty")
	}
	for i := 1; i < len(t.VelocityTiers); i++ {
		if t.VelocityTiers[i].Bound >= t.VelocityTiers[i-1].Bound {
			return fmt.Errorf("velocity tiers must be strictly decreasing")
		}
	}
	if t.OddHourStart < 0 || t.OddHourStart > 24 || t.OddHourEnd < 0 || t.OddHourEnd > 24 {
		return fmt.Errorf("odd hour bounds out of range: %d-%d", t.OddHourStart, t.OddHourEnd)
	}
	if t.Location == nil {
		return fmt.Errorf("odd hours location is not set")
	}
	for _, c := range t.HighRiskCategories {
		if c != strings.ToUpper(c) || c == "" {
			return fmt.Errorf("high-risk category %q must be non-empty upper case", c)
		}
	}
	return nil
}

func checkTiers(name string, tiers []Tier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%s tiers are empty", name)
	}
	for i := 1; i < len(tiers); i++ {
		if !tiers[i].Bound.LessThan(tiers[i-1].Bound) {
			return fmt.Errorf("%s tiers must be strictly decreasing", name)
		}
	}
	return nil
}

