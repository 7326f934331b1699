// Package memory implements the storage collaborators in process memory.
// It backs the tests and the "memory" database driver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/scoring"
)

type txRow struct {
	tx  *domain.Transaction
	seq int64
}

type anomalyRow struct {
	anomaly *domain.Anomaly
	seq     int64
}

type alertRow struct {
	alert *domain.Alert
	seq   int64
}

// dataset rows are never mutated in place, so a shallow copy is a snapshot
type dataset struct {
	txs       map[uuid.UUID]txRow
	anomalies map[uuid.UUID]anomalyRow
	alerts    map[uuid.UUID]alertRow
	seq       int64
}

func newDataset() *dataset {
	return &dataset{
		txs:       make(map[uuid.UUID]txRow),
		anomalies: make(map[uuid.UUID]anomalyRow),
		alerts:    make(map[uuid.UUID]alertRow),
	}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		txs:       make(map[uuid.UUID]txRow, len(d.txs)),
		anomalies: make(map[uuid.UUID]anomalyRow, len(d.anomalies)),
		alerts:    make(map[uuid.UUID]alertRow, len(d.alerts)),
		seq:       d.seq,
	}
	for k, v := range d.txs {
		c.txs[k] = v
	}
	for k, v := range d.anomalies {
		c.anomalies[k] = v
	}
	for k, v := range d.alerts {
		c.alerts[k] = v
	}
	return c
}

func (d *dataset) next() int64 {
	d.seq++
	return d.seq
}

// Store is an in-memory scoring.Store.
// Units of work run one at a time against a private copy that replaces
// the shared data on commit.
type Store struct {
	mu   sync.RWMutex
	data *dataset

	// root store only: serializes units of work and direct writes
	unit *sync.Mutex
	// set on the copy handed to a unit of work
	inTx bool
}

var _ scoring.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{data: newDataset(), unit: &sync.Mutex{}}
}

// RunInTx runs fn against a private copy of the data and publishes it if fn succeeds.
// Nested calls join the enclosing unit.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, st scoring.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	s.unit.Lock()
	defer s.unit.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	view := &Store{data: s.data.clone(), inTx: true}
	s.mu.RUnlock()

	if err := fn(ctx, view); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = view.data
	s.mu.Unlock()
	return nil
}

func (s *Store) write(fn func(d *dataset) error) error {
	if !s.inTx {
		s.unit.Lock()
		defer s.unit.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) read(fn func(d *dataset)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

// ==================== Transactions ====================

// CreateTransaction inserts a transaction
func (s *Store) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	return s.write(func(d *dataset) error {
		if _, ok := d.txs[tx.ID]; ok {
			return fmt.Errorf("transaction %s: %w", tx.ID, domain.ErrDuplicate)
		}
		d.txs[tx.ID] = txRow{tx: tx.Clone(), seq: d.next()}
		return nil
	})
}

// UpdateTransaction replaces an existing transaction
func (s *Store) UpdateTransaction(_ context.Context, tx *domain.Transaction) error {
	return s.write(func(d *dataset) error {
		row, ok := d.txs[tx.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, tx.ID)
		}
		d.txs[tx.ID] = txRow{tx: tx.Clone(), seq: row.seq}
		return nil
	})
}

// GetTransaction returns a copy of a transaction
func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var out *domain.Transaction
	s.read(func(d *dataset) {
		if row, ok := d.txs[id]; ok {
			out = row.tx.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, id)
	}
	return out, nil
}

// RecentTransactions returns prior transactions of the account, newest first
func (s *Store) RecentTransactions(_ context.Context, accountID string, before time.Time, exclude uuid.UUID, limit int) ([]*domain.Transaction, error) {
	var rows []txRow
	s.read(func(d *dataset) {
		for _, row := range d.txs {
			if row.tx.AccountID == accountID && row.tx.ID != exclude && !row.tx.CreatedAt.After(before) {
				rows = append(rows, row)
			}
		}
	})
	sortTxDesc(rows)
	return txPage(rows, limit), nil
}

// CountTransactions counts transactions of the account created in [from, to]
func (s *Store) CountTransactions(_ context.Context, accountID string, from, to time.Time) (int, error) {
	n := 0
	s.read(func(d *dataset) {
		for _, row := range d.txs {
			t := row.tx
			if t.AccountID == accountID && !t.CreatedAt.Before(from) && !t.CreatedAt.After(to) {
				n++
			}
		}
	})
	return n, nil
}

// ListTransactions returns matching transactions, newest first
func (s *Store) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	var rows []txRow
	s.read(func(d *dataset) {
		for _, row := range d.txs {
			if filter.Matches(row.tx) {
				rows = append(rows, row)
			}
		}
	})
	sortTxDesc(rows)
	return txPage(rows, filter.Limit), nil
}

// TransactionIDs returns every id, oldest first
func (s *Store) TransactionIDs(_ context.Context) ([]uuid.UUID, error) {
	var rows []txRow
	s.read(func(d *dataset) {
		for _, row := range d.txs {
			rows = append(rows, row)
		}
	})
	sortTxDesc(rows)

	ids := make([]uuid.UUID, len(rows))
	for i, row := range rows {
		ids[len(rows)-1-i] = row.tx.ID
	}
	return ids, nil
}

func sortTxDesc(rows []txRow) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.tx.CreatedAt.Equal(b.tx.CreatedAt) {
			return a.tx.CreatedAt.After(b.tx.CreatedAt)
		}
		return a.seq > b.seq
	})
}

func txPage(rows []txRow, limit int) []*domain.Transaction {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]*domain.Transaction, len(rows))
	for i, row := range rows {
		out[i] = row.tx.Clone()
	}
	return out
}

// ==================== Anomalies ====================

// CreateAnomaly inserts an anomaly
func (s *Store) CreateAnomaly(_ context.Context, a *domain.Anomaly) error {
	return s.write(func(d *dataset) error {
		if _, ok := d.txs[a.TransactionID]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, a.TransactionID)
		}
		d.anomalies[a.ID] = anomalyRow{anomaly: a.Clone(), seq: d.next()}
		return nil
	})
}

// GetAnomaly returns a copy of an anomaly
func (s *Store) GetAnomaly(_ context.Context, id uuid.UUID) (*domain.Anomaly, error) {
	var out *domain.Anomaly
	s.read(func(d *dataset) {
		if row, ok := d.anomalies[id]; ok {
			out = row.anomaly.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAnomalyNotFound, id)
	}
	return out, nil
}

// LinkAlert records the escalated alert of an anomaly, once
func (s *Store) LinkAlert(_ context.Context, anomalyID, alertID uuid.UUID) error {
	return s.write(func(d *dataset) error {
		row, ok := d.anomalies[anomalyID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrAnomalyNotFound, anomalyID)
		}
		if row.anomaly.IsEscalated() {
			return fmt.Errorf("anomaly %s already escalated to %s", anomalyID, *row.anomaly.AlertID)
		}
		linked := row.anomaly.Clone()
		linked.AlertID = &alertID
		d.anomalies[anomalyID] = anomalyRow{anomaly: linked, seq: row.seq}
		return nil
	})
}

// AnomaliesForTransaction returns the anomalies of a transaction, newest first
func (s *Store) AnomaliesForTransaction(_ context.Context, txID uuid.UUID) ([]*domain.Anomaly, error) {
	return s.anomalies(func(a *domain.Anomaly) bool { return a.TransactionID == txID }, 0), nil
}

// ListAnomalies returns matching anomalies, newest first
func (s *Store) ListAnomalies(_ context.Context, filter domain.AnomalyFilter) ([]*domain.Anomaly, error) {
	return s.anomalies(filter.Matches, filter.Limit), nil
}

func (s *Store) anomalies(match func(*domain.Anomaly) bool, limit int) []*domain.Anomaly {
	var rows []anomalyRow
	s.read(func(d *dataset) {
		for _, row := range d.anomalies {
			if match(row.anomaly) {
				rows = append(rows, row)
			}
		}
	})
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.anomaly.DetectedAt.Equal(b.anomaly.DetectedAt) {
			return a.anomaly.DetectedAt.After(b.anomaly.DetectedAt)
		}
		return a.seq > b.seq
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]*domain.Anomaly, len(rows))
	for i, row := range rows {
		out[i] = row.anomaly.Clone()
	}
	return out
}

// ==================== Alerts ====================

// CreateAlert inserts an alert
func (s *Store) CreateAlert(_ context.Context, a *domain.Alert) error {
	return s.write(func(d *dataset) error {
		if _, ok := d.alerts[a.ID]; ok {
			return fmt.Errorf("alert %s: %w", a.ID, domain.ErrDuplicate)
		}
		d.alerts[a.ID] = alertRow{alert: a.Clone(), seq: d.next()}
		return nil
	})
}

// UpdateAlert replaces an existing alert
func (s *Store) UpdateAlert(_ context.Context, a *domain.Alert) error {
	return s.write(func(d *dataset) error {
		row, ok := d.alerts[a.ID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrAlertNotFound, a.ID)
		}
		d.alerts[a.ID] = alertRow{alert: a.Clone(), seq: row.seq}
		return nil
	})
}

// GetAlert returns a copy of an alert
func (s *Store) GetAlert(_ context.Context, id uuid.UUID) (*domain.Alert, error) {
	var out *domain.Alert
	s.read(func(d *dataset) {
		if row, ok := d.alerts[id]; ok {
			out = row.alert.Clone()
		}
	})
	if out == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlertNotFound, id)
	}
	return out, nil
}

// ListAlerts returns matching alerts, newest first
func (s *Store) ListAlerts(_ context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	var rows []alertRow
	s.read(func(d *dataset) {
		for _, row := range d.alerts {
			if filter.Matches(row.alert) {
				rows = append(rows, row)
			}
		}
	})
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.alert.CreatedAt.Equal(b.alert.CreatedAt) {
			return a.alert.CreatedAt.After(b.alert.CreatedAt)
		}
		return a.seq > b.seq
	})
	if filter.Limit > 0 && len(rows) > filter.Limit {
		rows = rows[:filter.Limit]
	}

	out := make([]*domain.Alert, len(rows))
	for i, row := range rows {
		out[i] = row.alert.Clone()
	}
	return out, nil
}
