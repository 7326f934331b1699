package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/scoring"
)

// PostgreSQL error codes
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL scoring.Store
type Store struct {
	pool    *pgxpool.Pool
	q       querier
	timeout time.Duration

	// set on the view handed to a unit of work: a pgx.Tx serves one query at a time
	mu *sync.Mutex
}

var _ scoring.Store = (*Store)(nil)

// New creates a store on the pool. A positive queryTimeout bounds every statement.
func New(pool *pgxpool.Pool, queryTimeout time.Duration) *Store {
	return &Store{pool: pool, q: pool, timeout: queryTimeout}
}

// RunInTx runs fn inside a database transaction, committing if fn succeeds.
// Nested calls join the enclosing transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, st scoring.Store) error) error {
	if s.inTx() {
		return fn(ctx, s)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		view := &Store{pool: s.pool, q: tx, timeout: s.timeout, mu: &sync.Mutex{}}
		return fn(ctx, view)
	})
}

func (s *Store) inTx() bool {
	return s.mu != nil
}

// acquire serializes statements on a shared transaction and applies the query timeout
func (s *Store) acquire(ctx context.Context) (context.Context, func()) {
	if s.mu != nil {
		s.mu.Lock()
	}
	cancel := context.CancelFunc(func() {})
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	return ctx, func() {
		cancel()
		if s.mu != nil {
			s.mu.Unlock()
		}
	}
}

// forUpdate locks rows read inside a unit of work until it commits
func (s *Store) forUpdate() string {
	if s.inTx() {
		return " FOR UPDATE"
	}
	return ""
}

// ==================== Transactions ====================

const txColumns = `id, reference, account_id, amount::text, currency, payment_method, description,
	merchant_name, merchant_category, location, status, risk_level, created_at, updated_at`

// CreateTransaction inserts a transaction
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	ctx, release := s.acquire(ctx)
	defer release()

	_, err := s.q.Exec(ctx, `
		INSERT INTO transactions (id, reference, account_id, amount, currency, payment_method, description,
			merchant_name, merchant_category, location, status, risk_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		tx.ID, tx.Reference, tx.AccountID, tx.Amount.String(), tx.Currency, tx.PaymentMethod, tx.Description,
		tx.MerchantName, tx.MerchantCategory, tx.Location, string(tx.Status), nullable(string(tx.RiskLevel)),
		tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		if isCode(err, codeUniqueViolation) {
			return fmt.Errorf("transaction %s: %w", tx.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// UpdateTransaction persists the engine-owned fields of a transaction
func (s *Store) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	ctx, release := s.acquire(ctx)
	defer release()

	tag, err := s.q.Exec(ctx, `
		UPDATE transactions SET status = $2, risk_level = $3, updated_at = $4
		WHERE id = $1`,
		tx.ID, string(tx.Status), nullable(string(tx.RiskLevel)), tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, tx.ID)
	}
	return nil
}

// GetTransaction returns a transaction by id
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	ctx, release := s.acquire(ctx)
	defer release()

	row := s.q.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = $1`+s.forUpdate(), id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// RecentTransactions returns prior transactions of the account, newest first
func (s *Store) RecentTransactions(ctx context.Context, accountID string, before time.Time, exclude uuid.UUID, limit int) ([]*domain.Transaction, error) {
	ctx, release := s.acquire(ctx)
	defer release()

	rows, err := s.q.Query(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE account_id = $1 AND id <> $2 AND created_at <= $3
		ORDER BY created_at DESC, seq DESC
		LIMIT $4`,
		accountID, exclude, before, limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query recent transactions: %w", err)
	}
	return collectTransactions(rows)
}

// CountTransactions counts transactions of the account created in [from, to]
func (s *Store) CountTransactions(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	ctx, release := s.acquire(ctx)
	defer release()

	var n int
	err := s.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE account_id = $1 AND created_at BETWEEN $2 AND $3`,
		accountID, from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// ListTransactions returns matching transactions, newest first
func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	var w where
	if filter.AccountID != "" {
		w.add("account_id = $%d", filter.AccountID)
	}
	if filter.RiskLevel != "" {
		w.add("risk_level = $%d", string(filter.RiskLevel))
	}
	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}
	if filter.PaymentMethod != "" {
		w.add("payment_method = $%d", filter.PaymentMethod)
	}
	if !filter.From.IsZero() {
		w.add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		w.add("created_at <= $%d", filter.To)
	}
	if filter.MinAmount != nil {
		w.add("amount >= $%d::numeric", filter.MinAmount.String())
	}
	if filter.MaxAmount != nil {
		w.add("amount <= $%d::numeric", filter.MaxAmount.String())
	}
	if filter.Query != "" {
		w.add("(merchant_name ILIKE $%[1]d OR description ILIKE $%[1]d)", "%"+filter.Query+"%")
	}
	limit := w.arg(limitArg(filter.Limit))

	ctx, release := s.acquire(ctx)
	defer release()

	rows, err := s.q.Query(ctx,
		`SELECT `+txColumns+` FROM transactions`+w.String()+` ORDER BY created_at DESC, seq DESC LIMIT `+limit,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

// TransactionIDs returns every id, oldest first
func (s *Store) TransactionIDs(ctx context.Context) ([]uuid.UUID, error) {
	ctx, release := s.acquire(ctx)
	defer release()

	rows, err := s.q.Query(ctx, `SELECT id FROM transactions ORDER BY created_at, seq`)
	if err != nil {
		return nil, fmt.Errorf("list transaction ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan transaction ids: %w", err)
	}
	return ids, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t      domain.Transaction
		amount string
		status string
		risk   *string
	)
	err := row.Scan(&t.ID, &t.Reference, &t.AccountID, &amount, &t.Currency, &t.PaymentMethod, &t.Description,
		&t.MerchantName, &t.MerchantCategory, &t.Location, &status, &risk, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	t.Status = domain.TransactionStatus(status)
	if risk != nil {
		t.RiskLevel = domain.RiskLevel(*risk)
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	defer rows.Close()
	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

// ==================== Anomalies ====================

const anomalyColumns = `id, transaction_id, transaction_ref, account_id, anomaly_type, score, severity,
	reason, detected_at, alert_id`

// CreateAnomaly inserts an anomaly
func (s *Store) CreateAnomaly(ctx context.Context, a *domain.Anomaly) error {
	ctx, release := s.acquire(ctx)
	defer release()

	_, err := s.q.Exec(ctx, `
		INSERT INTO anomalies (`+anomalyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.TransactionID, a.TransactionRef, a.AccountID, string(a.Type), a.Score, string(a.Severity),
		a.Reason, a.DetectedAt, a.AlertID,
	)
	if err != nil {
		if isCode(err, codeForeignKeyViolation) {
			return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, a.TransactionID)
		}
		return fmt.Errorf("insert anomaly: %w", err)
	}
	return nil
}

// GetAnomaly returns an anomaly by id
func (s *Store) GetAnomaly(ctx context.Context, id uuid.UUID) (*domain.Anomaly, error) {
	ctx, release := s.acquire(ctx)
	defer release()

	row := s.q.QueryRow(ctx, `SELECT `+anomalyColumns+` FROM anomalies WHERE id = $1`+s.forUpdate(), id)
	a, err := scanAnomaly(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAnomalyNotFound, id)
		}
		return nil, fmt.Errorf("get anomaly: %w", err)
	}
	return a, nil
}

// LinkAlert records the escalated alert of an anomaly, once
func (s *Store) LinkAlert(ctx context.Context, anomalyID, alertID uuid.UUID) error {
	ctx, release := s.acquire(ctx)
	defer release()

	tag, err := s.q.Exec(ctx,
		`UPDATE anomalies SET alert_id = $2 WHERE id = $1 AND alert_id IS NULL`,
		anomalyID, alertID,
	)
	if err != nil {
		return fmt.Errorf("link alert: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var existing *uuid.UUID
	err = s.q.QueryRow(ctx, `SELECT alert_id FROM anomalies WHERE id = $1`, anomalyID).Scan(&existing)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: %s", domain.ErrAnomalyNotFound, anomalyID)
	case err != nil:
		return fmt.Errorf("link alert: %w", err)
	case existing != nil:
		return fmt.Errorf("anomaly %s already escalated to %s", anomalyID, *existing)
	}
	return fmt.Errorf("link alert: anomaly %s not updated", anomalyID)
}

// AnomaliesForTransaction returns the anomalies of a transaction, newest first
func (s *Store) AnomaliesForTransaction(ctx context.Context, txID uuid.UUID) ([]*domain.Anomaly, error) {
	ctx, release := s.acquire(ctx)
	defer release()

	rows, err := s.q.Query(ctx, `
		SELECT `+anomalyColumns+` FROM anomalies
		WHERE transaction_id = $1
		ORDER BY detected_at DESC, seq DESC`, txID)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	return collectAnomalies(rows)
}

// ListAnomalies returns matching anomalies, newest first
func (s *Store) ListAnomalies(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.Anomaly, error) {
	var w where
	if filter.Severity != "" {
		w.add("severity = $%d", string(filter.Severity))
	}
	if filter.Type != "" {
		w.add("anomaly_type = $%d", string(filter.Type))
	}
	if filter.AccountID != "" {
		w.add("account_id = $%d", filter.AccountID)
	}
	if filter.TransactionID != uuid.Nil {
		w.add("transaction_id = $%d", filter.TransactionID)
	}
	limit := w.arg(limitArg(filter.Limit))

	ctx, release := s.acquire(ctx)
	defer release()

	rows, err := s.q.Query(ctx,
		`SELECT `+anomalyColumns+` FROM anomalies`+w.String()+` ORDER BY detected_at DESC, seq DESC LIMIT `+limit,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	return collectAnomalies(rows)
}

func scanAnomaly(row pgx.Row) (*domain.Anomaly, error) {
	var (
		a        domain.Anomaly
		typ      string
		severity string
	)
	err := row.Scan(&a.ID, &a.TransactionID, &a.TransactionRef, &a.AccountID, &typ, &a.Score, &severity,
		&a.Reason, &a.DetectedAt, &a.AlertID)
	if err != nil {
		return nil, err
	}
	a.Type = domain.AnomalyType(typ)
	a.Severity = domain.Severity(severity)
	return &a, nil
}

func collectAnomalies(rows pgx.Rows) ([]*domain.Anomaly, error) {
	defer rows.Close()
	var out []*domain.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anomalies: %w", err)
	}
	return out, nil
}

// ==================== Alerts ====================

const alertColumns = `id, severity, status, title, description, anomaly_id, assigned_to, resolution,
	created_at, updated_at`

// CreateAlert inserts an alert
func (s *Store) CreateAlert(ctx context.Context, a *domain.Alert) error {
	ctx, release := s.acquire(ctx)
	defer release()

	_, err := s.q.Exec(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, string(a.Severity), string(a.Status), a.Title, a.Description, a.AnomalyID, a.AssignedTo,
		a.Resolution, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isCode(err, codeUniqueViolation) {
			return fmt.Errorf("alert %s: %w", a.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// UpdateAlert persists the lifecycle fields of an alert
func (s *Store) UpdateAlert(ctx context.Context, a *domain.Alert) error {
	ctx, release := s.acquire(ctx)
	defer release()

	tag, err := s.q.Exec(ctx, `
		UPDATE alerts SET status = $2, assigned_to = $3, resolution = $4, updated_at = $5
		WHERE id = $1`,
		a.ID, string(a.Status), a.AssignedTo, a.Resolution, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrAlertNotFound, a.ID)
	}
	return nil
}

// GetAlert returns an alert by id
func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*domain.Alert, error) {
	ctx, release := s.acquire(ctx)
	defer release()

	row := s.q.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`+s.forUpdate(), id)
	a, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrAlertNotFound, id)
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// ListAlerts returns matching alerts, newest first
func (s *Store) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	var w where
	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}
	if filter.Severity != "" {
		w.add("severity = $%d", string(filter.Severity))
	}
	limit := w.arg(limitArg(filter.Limit))

	ctx, release := s.acquire(ctx)
	defer release()

	rows, err := s.q.Query(ctx,
		`SELECT `+alertColumns+` FROM alerts`+w.String()+` ORDER BY created_at DESC, seq DESC LIMIT `+limit,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

func scanAlert(row pgx.Row) (*domain.Alert, error) {
	var (
		a        domain.Alert
		severity string
		status   string
	)
	err := row.Scan(&a.ID, &severity, &status, &a.Title, &a.Description, &a.AnomalyID, &a.AssignedTo,
		&a.Resolution, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Severity = domain.Severity(severity)
	a.Status = domain.AlertStatus(status)
	return &a, nil
}

// ==================== Helpers ====================

// where accumulates AND-ed predicates with positional arguments
type where struct {
	clauses []string
	args    []any
}

// add appends a predicate; clause holds a single %d (or %[1]d) for the argument position
func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(clause, len(w.args)))
}

// arg appends a bare argument and returns its placeholder
func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// limitArg maps a non-positive limit to NULL, which postgres treats as no limit
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
