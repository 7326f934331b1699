package scoring

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/metrics"
)

// Actions applies manual status overrides. They bypass rule evaluation but are audited.
type Actions struct {
	e *Engine
}

// Actions returns the manual action service bound to the engine
func (e *Engine) Actions() *Actions {
	return &Actions{e: e}
}

type transitionFunc func(domain.TxState, string) domain.Transition

// MarkForReview moves a transaction to REVIEW
func (a *Actions) MarkForReview(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string) (*domain.Transaction, error) {
	if err := domain.Validate(actor); err != nil {
		return nil, err
	}
	return a.apply(ctx, id, actor, reason, domain.ApplyManualReview)
}

// Block moves a transaction to BLOCKED with CRITICAL risk
func (a *Actions) Block(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string) (*domain.Transaction, error) {
	if err := domain.Validate(actor); err != nil {
		return nil, err
	}
	return a.apply(ctx, id, actor, reason, domain.ApplyManualBlock)
}

// Clear moves a transaction back to CLEARED
func (a *Actions) Clear(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string) (*domain.Transaction, error) {
	if err := domain.Validate(actor); err != nil {
		return nil, err
	}
	return a.apply(ctx, id, actor, reason, domain.ApplyManualClear)
}

func (a *Actions) apply(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string, fn transitionFunc) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := a.e.withAccount(ctx, id, func(ctx context.Context, s Store, tx *domain.Transaction, j *journal) error {
		tr := fn(tx.State(), reason)
		if tx.Apply(tr.To, a.e.clock()) {
			if err := s.UpdateTransaction(ctx, tx); err != nil {
				return fmt.Errorf("update transaction: %w", err)
			}
		}
		j.add(actor, tr.Action, domain.EntityTransaction, tx.Reference, tr.Detail)
		out = tx.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type bulkOp struct {
	name    string
	apply   transitionFunc
	failed  domain.AuditAction
	verb    string
	summary domain.AuditAction
	done    string
}

var (
	bulkReview = bulkOp{
		name:    "bulk_review",
		apply:   domain.ApplyManualReview,
		failed:  domain.ActionTxReviewFailed,
		verb:    "mark for review",
		summary: domain.ActionTxBulkReview,
		done:    "Marked %d of %d transactions for review. Reason: %s",
	}

	bulkBlock = bulkOp{
		name:    "bulk_block",
		apply:   domain.ApplyManualBlock,
		failed:  domain.ActionTxBlockFailed,
		verb:    "block",
		summary: domain.ActionTxBulkBlock,
		done:    "Blocked %d of %d transactions. Reason: %s",
	}
)

// BulkMarkForReview marks each transaction for review. One item failing does not stop the batch.
func (a *Actions) BulkMarkForReview(ctx context.Context, ids []uuid.UUID, actor domain.Actor, reason string) (*domain.BatchSummary, error) {
	return a.bulk(ctx, ids, actor, reason, bulkReview)
}

// BulkBlock blocks each transaction. One item failing does not stop the batch.
func (a *Actions) BulkBlock(ctx context.Context, ids []uuid.UUID, actor domain.Actor, reason string) (*domain.BatchSummary, error) {
	return a.bulk(ctx, ids, actor, reason, bulkBlock)
}

func (a *Actions) bulk(ctx context.Context, ids []uuid.UUID, actor domain.Actor, reason string, op bulkOp) (*domain.BatchSummary, error) {
	if err := domain.Validate(actor); err != nil {
		return nil, err
	}

	summary := &domain.BatchSummary{Total: len(ids)}
	for _, id := range ids {
		tx, err := a.apply(ctx, id, actor, reason, op.apply)
		if err != nil {
			summary.Fail(id.String())
			metrics.BatchItem(op.name, false)
			a.e.audit.record(ctx, entry(actor, op.failed, domain.EntityTransaction, id.String(),
				fmt.Sprintf("Failed to %s: %v", op.verb, err)))
			continue
		}
		summary.Count(tx)
		metrics.BatchItem(op.name, true)
	}

	a.e.audit.record(ctx, entry(actor, op.summary, domain.EntityTransaction, domain.EntityIDBulk,
		fmt.Sprintf(op.done, summary.Succeeded, summary.Total, reason)))
	a.e.log.BatchCompleted(op.name, summary.Total, summary.Succeeded, summary.Failed)
	return summary, nil
}
