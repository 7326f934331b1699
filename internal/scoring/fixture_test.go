package scoring_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/locking"
	"github.com/loyalty/fraud-service/internal/pkg/logger"
	"github.com/loyalty/fraud-service/internal/rules"
	"github.com/loyalty/fraud-service/internal/scoring"
	"github.com/loyalty/fraud-service/internal/store/memory"
)

// noon keeps test transactions away from the odd-hours rule
var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

var analyst = domain.Actor{ID: "u-42", Name: "analyst"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// faults injects storage failures into a store and every unit of work it opens
type faults struct {
	mu           sync.Mutex
	alerts       bool
	anomaliesFor map[uuid.UUID]bool
}

func (f *faults) failAlerts(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = v
}

func (f *faults) failAnomaliesFor(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.anomaliesFor == nil {
		f.anomaliesFor = make(map[uuid.UUID]bool)
	}
	f.anomaliesFor[id] = true
}

var errStorage = errors.New("storage unavailable")

type faultyStore struct {
	scoring.Store
	f *faults
}

func (s *faultyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, st scoring.Store) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, st scoring.Store) error {
		return fn(ctx, &faultyStore{Store: st, f: s.f})
	})
}

func (s *faultyStore) CreateAlert(ctx context.Context, a *domain.Alert) error {
	s.f.mu.Lock()
	fail := s.f.alerts
	s.f.mu.Unlock()
	if fail {
		return errStorage
	}
	return s.Store.CreateAlert(ctx, a)
}

func (s *faultyStore) CreateAnomaly(ctx context.Context, a *domain.Anomaly) error {
	s.f.mu.Lock()
	fail := s.f.anomaliesFor[a.TransactionID]
	s.f.mu.Unlock()
	if fail {
		return errStorage
	}
	return s.Store.CreateAnomaly(ctx, a)
}

type fixture struct {
	store  *memory.Store
	audit  *memory.AuditLog
	clock  *fakeClock
	faults *faults
	engine *scoring.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	th := rules.DefaultThresholds()
	th.Location = time.UTC

	fx := &fixture{
		store:  memory.New(),
		audit:  memory.NewAuditLog(),
		clock:  &fakeClock{now: noon},
		faults: &faults{},
	}

	engine, err := scoring.NewEngine(
		&faultyStore{Store: fx.store, f: fx.faults},
		fx.audit,
		locking.NewLocal(),
		scoring.Config{Thresholds: th, AnalyzePolicy: domain.PolicyBlockOnCritical},
		logger.NewNop(),
		scoring.WithClock(fx.clock.Now),
	)
	require.NoError(t, err)
	fx.engine = engine
	return fx
}

func txAt(account, amount string, at time.Time) *domain.Transaction {
	return &domain.Transaction{
		AccountID:        account,
		Amount:           decimal.RequireFromString(amount),
		Currency:         "usd",
		PaymentMethod:    "card",
		MerchantName:     "Corner Store",
		MerchantCategory: "GROCERY",
		CreatedAt:        at,
	}
}

func (fx *fixture) ingest(t *testing.T, tx *domain.Transaction) *domain.EvaluationResult {
	t.Helper()
	res, err := fx.engine.Ingest(context.Background(), tx)
	require.NoError(t, err)
	return res
}

// seedAnomaly stores a transaction with one unescalated anomaly, as left by a failed escalation
func (fx *fixture) seedAnomaly(t *testing.T, severity domain.Severity, typ domain.AnomalyType) *domain.Anomaly {
	t.Helper()
	ctx := context.Background()

	tx := txAt("ACC-SEED", "10", noon)
	tx.Normalize(noon)
	tx.RiskLevel = severity
	require.NoError(t, fx.store.CreateTransaction(ctx, tx))

	a := &domain.Anomaly{
		ID:             uuid.New(),
		TransactionID:  tx.ID,
		TransactionRef: tx.Reference,
		AccountID:      tx.AccountID,
		Type:           typ,
		Score:          0.70,
		Severity:       severity,
		Reason:         "seeded",
		DetectedAt:     noon,
	}
	require.NoError(t, fx.store.CreateAnomaly(ctx, a))
	return a
}

func types(anomalies []*domain.Anomaly) []domain.AnomalyType {
	out := make([]domain.AnomalyType, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, a.Type)
	}
	return out
}
