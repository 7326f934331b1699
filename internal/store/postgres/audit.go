package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/scoring"
)

// AuditLog appends audit entries to the audit_log table
type AuditLog struct {
	pool *pgxpool.Pool
}

var _ scoring.AuditSink = (*AuditLog)(nil)

// NewAuditLog creates an audit sink on the pool
func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

// Record inserts an entry. A zero CreatedAt is stamped by the database.
func (l *AuditLog) Record(ctx context.Context, e domain.AuditEntry) error {
	var createdAt *time.Time
	if !e.CreatedAt.IsZero() {
		createdAt = &e.CreatedAt
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO audit_log (actor_id, actor_name, action, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
		e.ActorID, e.ActorName, string(e.Action), e.EntityType, e.EntityID, e.Details, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ForEntity returns the trail of one entity, oldest first
func (l *AuditLog) ForEntity(ctx context.Context, entityType, entityID string) ([]domain.AuditEntry, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, actor_id, actor_name, action, entity_type, entity_id, details, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e      domain.AuditEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &action, &e.EntityType, &e.EntityID, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = domain.AuditAction(action)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit trail: %w", err)
	}
	return out, nil
}
