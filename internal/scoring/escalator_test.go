package scoring_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/scoring"
)

func TestAlertTitle(t *testing.T) {
	assert.Equal(t, "High-value amount spike detected", scoring.AlertTitle(domain.AnomalyAmountSpike))
	assert.Equal(t, "Velocity fraud detected", scoring.AlertTitle(domain.AnomalyVelocity))
	assert.Equal(t, "Geographic anomaly detected", scoring.AlertTitle(domain.AnomalyGeoMismatch))
	assert.Equal(t, "Anomaly detected", scoring.AlertTitle(domain.AnomalyHighRiskMerchant))
	assert.Equal(t, "Anomaly detected", scoring.AlertTitle(domain.AnomalyOddHours))
}

func TestAlertDescription(t *testing.T) {
	a := &domain.Anomaly{
		Type:     domain.AnomalyVelocity,
		Score:    0.75,
		Severity: domain.RiskLevelHigh,
		Reason:   "6 transactions in 10 minutes",
	}
	tx := &domain.Transaction{
		Reference: "TX-1001",
		Amount:    decimal.RequireFromString("120.50"),
		RiskLevel: domain.RiskLevelHigh,
		Location:  "Austin, TX, US",
	}

	assert.Equal(t,
		"Anomaly: VELOCITY, score=0.75, severity=HIGH, reason=6 transactions in 10 minutes\n"+
			"Transaction: TX-1001, amount=120.5, riskLevel=HIGH, location=Austin, TX, US",
		scoring.AlertDescription(a, tx))

	assert.Equal(t, "Anomaly: VELOCITY, score=0.75, severity=HIGH, reason=6 transactions in 10 minutes",
		scoring.AlertDescription(a, nil))
}

func TestEscalate_FailureLeavesAnomalyRetryable(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a := fx.seedAnomaly(t, domain.RiskLevelHigh, domain.AnomalyGeoMismatch)

	fx.faults.failAlerts(true)
	_, err := fx.engine.Escalate(ctx, a.ID)
	require.ErrorIs(t, err, errStorage)

	stored, err := fx.store.GetAnomaly(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsEscalated(), "anomaly stays valid and unescalated")

	failed := fx.audit.ByAction(domain.ActionAlertEscalateFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.EntityAnomaly, failed[0].EntityType)
	assert.Equal(t, a.ID.String(), failed[0].EntityID)

	// retry
	fx.faults.failAlerts(false)
	alert, err := fx.engine.Escalate(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusOpen, alert.Status)
	assert.Equal(t, "Geographic anomaly detected", alert.Title)
	assert.Contains(t, alert.Description, "Transaction: ")

	stored, err = fx.store.GetAnomaly(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AlertID)
	assert.Equal(t, alert.ID, *stored.AlertID)

	// already escalated: same alert, nothing new
	again, err := fx.engine.Escalate(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.ID, again.ID)
	assert.Len(t, fx.audit.ByAction(domain.ActionAlertFromAnomaly), 1)
}

func TestEscalate_RejectsLowSeverityAndUnknownAnomaly(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	medium := fx.seedAnomaly(t, domain.RiskLevelMedium, domain.AnomalyOddHours)
	_, err := fx.engine.Escalate(ctx, medium.ID)
	assert.True(t, domain.IsInvalidInput(err))

	_, err = fx.engine.Escalate(ctx, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrAnomalyNotFound))
}

func TestEscalatePending(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	a := fx.seedAnomaly(t, domain.RiskLevelCritical, domain.AnomalyHighValue)

	// a second qualifying and a non-qualifying anomaly on the same transaction
	extra := []*domain.Anomaly{
		{ID: uuid.New(), TransactionID: a.TransactionID, AccountID: a.AccountID, Type: domain.AnomalyHighRiskMerchant, Score: 0.65, Severity: domain.RiskLevelHigh, DetectedAt: noon},
		{ID: uuid.New(), TransactionID: a.TransactionID, AccountID: a.AccountID, Type: domain.AnomalyOddHours, Score: 0.40, Severity: domain.RiskLevelMedium, DetectedAt: noon},
	}
	for _, e := range extra {
		require.NoError(t, fx.store.CreateAnomaly(ctx, e))
	}

	alerts, err := fx.engine.EscalatePending(ctx, a.TransactionID)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)

	alerts, err = fx.engine.EscalatePending(ctx, a.TransactionID)
	require.NoError(t, err)
	assert.Empty(t, alerts, "nothing left to escalate")

	_, err = fx.engine.EscalatePending(ctx, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrTransactionNotFound))
}
