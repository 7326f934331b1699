package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/locking"
	"github.com/loyalty/fraud-service/internal/pkg/logger"
	"github.com/loyalty/fraud-service/internal/rules"
	"github.com/loyalty/fraud-service/internal/scoring"
	"github.com/loyalty/fraud-service/internal/store/postgres"
)

// openPool connects to the database named by FRAUD_SERVICE_TEST_DATABASE_URL and migrates it
func openPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("FRAUD_SERVICE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FRAUD_SERVICE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool, logger.NewNop()))
	return pool
}

func newTx(account, amount string, at time.Time) *domain.Transaction {
	tx := &domain.Transaction{
		AccountID:        account,
		Amount:           decimal.RequireFromString(amount),
		Currency:         "USD",
		PaymentMethod:    "CARD",
		MerchantName:     "Corner Store",
		MerchantCategory: "GROCERY",
		Location:         "Austin, TX, US",
		CreatedAt:        at,
	}
	tx.Normalize(at)
	return tx
}

func TestStore_TransactionRoundTrip(t *testing.T) {
	pool := openPool(t)
	store := postgres.New(pool, 5*time.Second)
	ctx := context.Background()
	account := "ACC-" + uuid.NewString()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tx := newTx(account, "120.50", at)
	require.NoError(t, store.CreateTransaction(ctx, tx))
	assert.True(t, errors.Is(store.CreateTransaction(ctx, tx), domain.ErrDuplicate))

	got, err := store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, tx.Amount.Equal(got.Amount))
	assert.Equal(t, domain.StatusCleared, got.Status)
	assert.Empty(t, got.RiskLevel)
	assert.True(t, at.Equal(got.CreatedAt))

	got.Apply(domain.TxState{Status: domain.StatusReview, RiskLevel: domain.RiskLevelHigh}, at.Add(time.Minute))
	require.NoError(t, store.UpdateTransaction(ctx, got))

	got, err = store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReview, got.Status)
	assert.Equal(t, domain.RiskLevelHigh, got.RiskLevel)
	require.NotNil(t, got.UpdatedAt)

	_, err = store.GetTransaction(ctx, uuid.New())
	assert.True(t, errors.Is(err, domain.ErrTransactionNotFound))
}

func TestStore_HistoryQueries(t *testing.T) {
	pool := openPool(t)
	store := postgres.New(pool, 5*time.Second)
	ctx := context.Background()
	account := "ACC-" + uuid.NewString()
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	var last *domain.Transaction
	for i := 0; i < 4; i++ {
		last = newTx(account, "10", at.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.CreateTransaction(ctx, last))
	}

	recent, err := store.RecentTransactions(ctx, account, last.CreatedAt, last.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].CreatedAt.After(recent[1].CreatedAt))

	n, err := store.CountTransactions(ctx, account, at.Add(time.Minute), at.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := store.ListTransactions(ctx, domain.TransactionFilter{AccountID: account, Query: "corner", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestStore_RollbackOnError(t *testing.T) {
	pool := openPool(t)
	store := postgres.New(pool, 5*time.Second)
	ctx := context.Background()
	tx := newTx("ACC-"+uuid.NewString(), "10", time.Now().UTC())

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context, s scoring.Store) error {
		require.NoError(t, s.CreateTransaction(ctx, tx))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetTransaction(ctx, tx.ID)
	assert.True(t, errors.Is(err, domain.ErrTransactionNotFound))
}

func TestStore_LinkAlertOnce(t *testing.T) {
	pool := openPool(t)
	store := postgres.New(pool, 5*time.Second)
	ctx := context.Background()
	now := time.Now().UTC()

	tx := newTx("ACC-"+uuid.NewString(), "10", now)
	require.NoError(t, store.CreateTransaction(ctx, tx))

	a := &domain.Anomaly{
		ID: uuid.New(), TransactionID: tx.ID, TransactionRef: tx.Reference, AccountID: tx.AccountID,
		Type: domain.AnomalyHighValue, Score: 0.85, Severity: domain.RiskLevelCritical, DetectedAt: now,
	}
	require.NoError(t, store.CreateAnomaly(ctx, a))

	orphan := *a
	orphan.ID = uuid.New()
	orphan.TransactionID = uuid.New()
	assert.True(t, errors.Is(store.CreateAnomaly(ctx, &orphan), domain.ErrTransactionNotFound))

	alert := &domain.Alert{ID: uuid.New(), Severity: a.Severity, Status: domain.AlertStatusOpen, Title: "High value", AnomalyID: &a.ID, CreatedAt: now}
	require.NoError(t, store.CreateAlert(ctx, alert))
	require.NoError(t, store.LinkAlert(ctx, a.ID, alert.ID))
	assert.Error(t, store.LinkAlert(ctx, a.ID, alert.ID))

	got, err := store.GetAnomaly(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AlertID)
	assert.Equal(t, alert.ID, *got.AlertID)
}

func TestEngine_OnPostgres(t *testing.T) {
	pool := openPool(t)
	ctx := context.Background()
	audit := postgres.NewAuditLog(pool)

	engine, err := scoring.NewEngine(
		postgres.New(pool, 5*time.Second),
		audit,
		locking.NewLocal(),
		scoring.Config{Thresholds: rules.DefaultThresholds(), AnalyzePolicy: domain.PolicyBlockOnCritical},
		logger.NewNop(),
	)
	require.NoError(t, err)

	tx := newTx("ACC-"+uuid.NewString(), "150000", time.Now().UTC())
	res, err := engine.Ingest(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskLevelCritical, res.Transaction.RiskLevel)
	assert.Equal(t, domain.StatusReview, res.Transaction.Status)
	require.NotEmpty(t, res.Alerts)

	trail, err := audit.ForEntity(ctx, domain.EntityTransaction, res.Transaction.Reference)
	require.NoError(t, err)
	require.NotEmpty(t, trail)
	assert.Equal(t, domain.ActionTxCreate, trail[0].Action)
}
