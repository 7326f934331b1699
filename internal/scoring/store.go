package scoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/loyalty/fraud-service/internal/domain"
)

// TransactionStore persists transactions
type TransactionStore interface {
	// CreateTransaction inserts a new transaction, domain.ErrDuplicate if the id exists
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	UpdateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)

	// RecentTransactions returns up to limit transactions of the account created at or
	// before the given time, newest first, excluding the given id
	RecentTransactions(ctx context.Context, accountID string, before time.Time, exclude uuid.UUID, limit int) ([]*domain.Transaction, error)

	// CountTransactions counts transactions of the account with from <= created_at <= to
	CountTransactions(ctx context.Context, accountID string, from, to time.Time) (int, error)

	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error)

	// TransactionIDs returns every transaction id, oldest first
	TransactionIDs(ctx context.Context) ([]uuid.UUID, error)
}

// AnomalyStore persists anomalies. Anomalies are append-only except for the alert link.
type AnomalyStore interface {
	CreateAnomaly(ctx context.Context, a *domain.Anomaly) error
	GetAnomaly(ctx context.Context, id uuid.UUID) (*domain.Anomaly, error)

	// LinkAlert sets the alert back-reference of an unescalated anomaly
	LinkAlert(ctx context.Context, anomalyID, alertID uuid.UUID) error

	// AnomaliesForTransaction returns the anomalies of a transaction, newest first
	AnomaliesForTransaction(ctx context.Context, txID uuid.UUID) ([]*domain.Anomaly, error)
	ListAnomalies(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.Anomaly, error)
}

// AlertStore persists alerts
type AlertStore interface {
	CreateAlert(ctx context.Context, a *domain.Alert) error
	UpdateAlert(ctx context.Context, a *domain.Alert) error
	GetAlert(ctx context.Context, id uuid.UUID) (*domain.Alert, error)
	ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error)
}

// Store is the storage collaborator of the engine
type Store interface {
	TransactionStore
	AnomalyStore
	AlertStore

	// RunInTx runs fn as one unit of work. Writes made through the Store handed to fn
	// are committed only if fn returns nil.
	RunInTx(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

// AuditSink appends audit entries. Timestamps and persistence belong to the sink.
type AuditSink interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}

// AccountLocker serializes evaluation passes per account
type AccountLocker interface {
	Lock(ctx context.Context, accountID string) (unlock func(), err error)
}

// Clock returns the current time
type Clock func() time.Time
