package scoring

import (
	"context"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/metrics"
	"github.com/loyalty/fraud-service/internal/pkg/logger"
)

// journal collects the audit entries of one unit of work.
// Entries are handed to the sink only after the unit commits.
type journal struct {
	entries []domain.AuditEntry
}

func (j *journal) add(actor domain.Actor, action domain.AuditAction, entityType, entityID, details string) {
	j.entries = append(j.entries, domain.AuditEntry{
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	})
}

// auditor is the audit emitter of the engine
type auditor struct {
	sink AuditSink
	log  *logger.Logger
}

// emit records every entry of a committed journal
func (a *auditor) emit(ctx context.Context, j *journal) {
	for _, entry := range j.entries {
		a.record(ctx, entry)
	}
}

// record appends a single entry. The write outlives caller cancellation,
// since the mutation it describes is already committed.
func (a *auditor) record(ctx context.Context, entry domain.AuditEntry) {
	if err := a.sink.Record(context.WithoutCancel(ctx), entry); err != nil {
		metrics.AuditFailuresTotal.WithLabelValues("engine").Inc()
		a.log.Error("failed to record audit entry",
			logger.StringField("action", string(entry.Action)),
			logger.StringField("entity_type", entry.EntityType),
			logger.StringField("entity_id", entry.EntityID),
			logger.ErrorField(err),
		)
	}
}

// entry builds a standalone audit entry
func entry(actor domain.Actor, action domain.AuditAction, entityType, entityID, details string) domain.AuditEntry {
	var j journal
	j.add(actor, action, entityType, entityID, details)
	return j.entries[0]
}
