package scoring_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/locking"
	"github.com/loyalty/fraud-service/internal/pkg/logger"
	"github.com/loyalty/fraud-service/internal/rules"
	"github.com/loyalty/fraud-service/internal/scoring"
	"github.com/loyalty/fraud-service/internal/store/memory"
)

func TestIngest_SmallAmountWithoutHistoryIsLow(t *testing.T) {
	fx := newFixture(t)

	res := fx.ingest(t, txAt("ACC-1", "19999.99", noon))

	assert.Empty(t, res.Anomalies)
	assert.Empty(t, res.Alerts)
	assert.Equal(t, domain.RiskLevelLow, res.Transaction.RiskLevel)
	assert.Equal(t, domain.StatusCleared, res.Transaction.Status)
	assert.Equal(t, "USD", res.Transaction.Currency)

	created := fx.audit.ByAction(domain.ActionTxCreate)
	require.Len(t, created, 1)
	assert.Equal(t, "SYSTEM", created[0].ActorID)
	assert.Equal(t, res.Transaction.Reference, created[0].EntityID)
	assert.Len(t, fx.audit.ByAction(domain.ActionTxRiskUpdate), 1)
}

func TestIngest_HighValueIsCriticalAndGoesToReview(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	res := fx.ingest(t, txAt("ACC-1", "150000", noon))

	require.Len(t, res.Anomalies, 1)
	a := res.Anomalies[0]
	assert.Equal(t, domain.AnomalyHighValue, a.Type)
	assert.Equal(t, 0.85, a.Score)
	assert.Equal(t, domain.RiskLevelCritical, a.Severity)

	assert.Equal(t, domain.RiskLevelCritical, res.Transaction.RiskLevel)
	assert.Equal(t, domain.StatusReview, res.Transaction.Status, "never auto-blocked at creation")
	assert.NotNil(t, res.Transaction.UpdatedAt)

	// escalation
	require.Len(t, res.Alerts, 1)
	alert := res.Alerts[0]
	assert.Equal(t, domain.AlertStatusOpen, alert.Status)
	assert.Equal(t, domain.RiskLevelCritical, alert.Severity)
	assert.Equal(t, "Anomaly detected", alert.Title)
	assert.Contains(t, alert.Description, "HIGH_VALUE")
	assert.Contains(t, alert.Description, "score=0.85")
	assert.Contains(t, alert.Description, "riskLevel=CRITICAL")
	assert.Nil(t, alert.UpdatedAt)

	stored, err := fx.engine.AnomaliesForTransaction(ctx, res.Transaction.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].AlertID)
	assert.Equal(t, alert.ID, *stored[0].AlertID)

	review := fx.audit.ByAction(domain.ActionTxAutoReview)
	require.Len(t, review, 1)
	assert.Equal(t, "Automatically marked for review due to CRITICAL risk level", review[0].Details)
	assert.Len(t, fx.audit.ByAction(domain.ActionAnomalyDetect), 1)
	assert.Len(t, fx.audit.ByAction(domain.ActionAlertFromAnomaly), 1)
}

func TestIngest_VelocityAcrossSixTransactions(t *testing.T) {
	fx := newFixture(t)

	for i := 0; i < 6; i++ {
		res := fx.ingest(t, txAt("ACC-V", "100", noon.Add(time.Duration(i)*time.Minute)))

		n := i + 1
		if n < 3 {
			assert.Empty(t, res.Anomalies, "transaction %d", n)
			continue
		}
		require.Len(t, res.Anomalies, 1, "transaction %d", n)
		v := res.Anomalies[0]
		assert.Equal(t, domain.AnomalyVelocity, v.Type)

		switch n {
		case 3, 4:
			assert.Equal(t, domain.RiskLevelMedium, v.Severity, "transaction %d", n)
			assert.Empty(t, res.Alerts)
		case 5, 6:
			assert.Equal(t, domain.RiskLevelHigh, v.Severity, "transaction %d", n)
			assert.Equal(t, 0.75, v.Score)
			require.Len(t, res.Alerts, 1)
			assert.Equal(t, "Velocity fraud detected", res.Alerts[0].Title)
		}
		if n == 6 {
			assert.Equal(t, "6 transactions in 10 minutes", v.Reason)
		}
	}
}

func TestIngest_VelocityWindowExpires(t *testing.T) {
	fx := newFixture(t)

	fx.ingest(t, txAt("ACC-V", "100", noon))
	fx.ingest(t, txAt("ACC-V", "100", noon.Add(time.Minute)))
	res := fx.ingest(t, txAt("ACC-V", "100", noon.Add(11*time.Minute)))

	assert.Empty(t, res.Anomalies)
}

func TestIngest_AmountSpikeAgainstPriorTransactions(t *testing.T) {
	fx := newFixture(t)
	morning := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	fx.ingest(t, txAt("ACC-S", "100", morning))
	fx.ingest(t, txAt("ACC-S", "100", morning.Add(time.Hour)))
	res := fx.ingest(t, txAt("ACC-S", "300", morning.Add(2*time.Hour)))

	require.Len(t, res.Anomalies, 1)
	spike := res.Anomalies[0]
	assert.Equal(t, domain.AnomalyAmountSpike, spike.Type)
	assert.Equal(t, domain.RiskLevelCritical, spike.Severity)
	assert.Equal(t, "Amount 300 is 3.00x average 100.00", spike.Reason)
	assert.Equal(t, "High-value amount spike detected", res.Alerts[0].Title)
}

func TestIngest_GeoMismatch(t *testing.T) {
	fx := newFixture(t)

	first := txAt("ACC-G", "50", noon)
	first.Location = "Austin, TX, US"
	fx.ingest(t, first)

	second := txAt("ACC-G", "50", noon.Add(time.Hour))
	second.Location = "Paris, FR"
	res := fx.ingest(t, second)

	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, domain.AnomalyGeoMismatch, res.Anomalies[0].Type)
	assert.Equal(t, domain.RiskLevelHigh, res.Transaction.RiskLevel)
	assert.Equal(t, domain.StatusCleared, res.Transaction.Status, "HIGH does not move status at creation")
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "Geographic anomaly detected", res.Alerts[0].Title)
	assert.True(t, strings.HasSuffix(res.Alerts[0].Description, "location=Paris, FR"))
}

func TestIngest_IgnoresCallerSuppliedStatus(t *testing.T) {
	fx := newFixture(t)

	in := txAt("ACC-1", "10", noon)
	in.Status = domain.StatusBlocked
	in.RiskLevel = domain.RiskLevelCritical

	res := fx.ingest(t, in)
	assert.Equal(t, domain.StatusCleared, res.Transaction.Status)
	assert.Equal(t, domain.RiskLevelLow, res.Transaction.RiskLevel)
	assert.Equal(t, domain.StatusBlocked, in.Status, "input is not mutated")
}

func TestIngest_RejectsInvalidInputAndDuplicates(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.engine.Ingest(ctx, nil)
	assert.True(t, domain.IsInvalidInput(err))

	_, err = fx.engine.Ingest(ctx, txAt("", "10", noon))
	assert.True(t, domain.IsInvalidInput(err))

	res := fx.ingest(t, txAt("ACC-1", "10", noon))
	dup := txAt("ACC-1", "10", noon)
	dup.ID = res.Transaction.ID
	_, err = fx.engine.Ingest(ctx, dup)
	assert.True(t, errors.Is(err, domain.ErrDuplicate))
	assert.Len(t, fx.audit.ByAction(domain.ActionTxCreate), 1)
}

func TestIngest_FailedPassLeavesNothingBehind(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.faults.failAlerts(true)

	in := txAt("ACC-1", "150000", noon)
	in.ID = uuid.New()
	_, err := fx.engine.Ingest(ctx, in)
	require.ErrorIs(t, err, errStorage)

	_, err = fx.engine.Get(ctx, in.ID)
	assert.True(t, errors.Is(err, domain.ErrTransactionNotFound))

	f := domain.AnomalyFilter{AccountID: "ACC-1"}
	anomalies, err := fx.engine.ListAnomalies(ctx, f)
	require.NoError(t, err)
	assert.Empty(t, anomalies)
	assert.Empty(t, fx.audit.Entries(), "nothing is audited for an abandoned unit")
}

func TestReprocess_IsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tx := txAt("ACC-1", "150000", noon)
	tx.MerchantCategory = "Online GAMBLING"
	first := fx.ingest(t, tx)

	fx.clock.Set(noon.Add(3 * time.Hour))
	second, err := fx.engine.Reprocess(ctx, first.Transaction.ID)
	require.NoError(t, err)

	assert.Equal(t, types(first.Anomalies), types(second.Anomalies))
	for i := range first.Anomalies {
		assert.Equal(t, first.Anomalies[i].Severity, second.Anomalies[i].Severity)
	}
	assert.Equal(t, first.Transaction.RiskLevel, second.Transaction.RiskLevel)
	assert.Equal(t, domain.StatusReview, second.Transaction.Status)

	reprocessed := fx.audit.ByAction(domain.ActionTxReprocess)
	require.Len(t, reprocessed, 1)
	assert.Equal(t, "Reprocessed, found 2 anomalies", reprocessed[0].Details)
	assert.Len(t, fx.audit.ByAction(domain.ActionTxAutoReview), 1, "status already moved")
}

func TestReprocess_NotFound(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.engine.Reprocess(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, domain.ErrTransactionNotFound))
}

func TestEvaluate_RejectsUnknownPolicy(t *testing.T) {
	fx := newFixture(t)
	res := fx.ingest(t, txAt("ACC-1", "10", noon))

	_, err := fx.engine.Evaluate(context.Background(), res.Transaction.ID, domain.StatusPolicy("lenient"))
	assert.True(t, domain.IsInvalidInput(err))
}

func TestAnalyze_BlockOnCriticalPolicy(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	critical := fx.ingest(t, txAt("ACC-1", "150000", noon))
	high := fx.ingest(t, txAt("ACC-2", "60000", noon))
	require.Equal(t, domain.StatusCleared, high.Transaction.Status)

	res, err := fx.engine.Analyze(ctx, critical.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBlocked, res.Transaction.Status)

	res, err = fx.engine.Analyze(ctx, high.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReview, res.Transaction.Status)

	assert.Len(t, fx.audit.ByAction(domain.ActionTxAutoBlock), 1)
	assert.Len(t, fx.audit.ByAction(domain.ActionTxAnalyze), 2)
}

func TestAnalyzeAll_CountsPerStatus(t *testing.T) {
	fx := newFixture(t)

	fx.ingest(t, txAt("ACC-1", "10", noon))
	fx.ingest(t, txAt("ACC-2", "60000", noon))
	fx.ingest(t, txAt("ACC-3", "150000", noon))

	summary, err := fx.engine.AnalyzeAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Cleared)
	assert.Equal(t, 1, summary.Review)
	assert.Equal(t, 1, summary.Blocked)

	bulk := fx.audit.ByAction(domain.ActionTxBulkAnalyze)
	require.Len(t, bulk, 1)
	assert.Equal(t, domain.EntityIDBulk, bulk[0].EntityID)
}

func TestReprocessAll_IsolatesFailures(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	ok := fx.ingest(t, txAt("ACC-1", "150000", noon))
	bad := fx.ingest(t, txAt("ACC-2", "150000", noon))
	fx.faults.failAnomaliesFor(bad.Transaction.ID)

	summary, err := fx.engine.ReprocessAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{bad.Transaction.ID.String()}, summary.FailedIDs)

	failures := fx.audit.ByAction(domain.ActionTxReprocessError)
	require.Len(t, failures, 1)
	assert.Equal(t, bad.Transaction.ID.String(), failures[0].EntityID)
	assert.Contains(t, failures[0].Details, errStorage.Error())
	assert.Len(t, fx.audit.ByAction(domain.ActionTxBulkReprocess), 1)

	okAnomalies, err := fx.engine.AnomaliesForTransaction(ctx, ok.Transaction.ID)
	require.NoError(t, err)
	assert.Len(t, okAnomalies, 2)

	badAnomalies, err := fx.engine.AnomaliesForTransaction(ctx, bad.Transaction.ID)
	require.NoError(t, err)
	assert.Len(t, badAnomalies, 1, "the failed pass left no partial anomalies")
}

func TestIngest_ConcurrentPassesOnOneAccountAreSerialized(t *testing.T) {
	th := rules.DefaultThresholds()
	th.Location = time.UTC
	audit := memory.NewAuditLog()
	engine, err := scoring.NewEngine(memory.New(), audit, locking.NewLocal(),
		scoring.Config{Thresholds: th, AnalyzePolicy: domain.PolicyBlockOnCritical},
		logger.NewNop(), scoring.WithClock(func() time.Time { return noon }))
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		velocity int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := engine.Ingest(context.Background(), txAt("ACC-C", "100", noon))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			velocity += len(res.Anomalies)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// each pass sees a distinct count 1..6, so exactly passes 3 to 6 fire
	assert.Equal(t, 4, velocity)
}

func TestListTransactions_ValidatesFilter(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.ingest(t, txAt("ACC-1", "10", noon))
	fx.ingest(t, txAt("ACC-2", "150000", noon))

	_, err := fx.engine.ListTransactions(ctx, domain.TransactionFilter{Status: "PENDING"})
	assert.True(t, domain.IsInvalidInput(err))

	txs, err := fx.engine.ListTransactions(ctx, domain.TransactionFilter{RiskLevel: "critical"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "ACC-2", txs[0].AccountID)

	all, err := fx.engine.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = fx.engine.AnomaliesForTransaction(ctx, uuid.New())
	assert.True(t, domain.IsNotFound(err))
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	th := rules.DefaultThresholds()
	th.VelocityWindow = 0
	_, err := scoring.NewEngine(memory.New(), memory.NewAuditLog(), locking.NewLocal(),
		scoring.Config{Thresholds: th, AnalyzePolicy: domain.PolicyBlockOnCritical}, logger.NewNop())
	assert.Error(t, err)

	_, err = scoring.NewEngine(memory.New(), memory.NewAuditLog(), locking.NewLocal(),
		scoring.Config{Thresholds: rules.DefaultThresholds(), AnalyzePolicy: "sometimes"}, logger.NewNop())
	assert.Error(t, err)
}
