package scoring

import (
	"context"
	"fmt"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/metrics"
)

type batchOp struct {
	name    string
	trigger trigger
	failed  domain.AuditAction
	summary domain.AuditAction
	report  func(s *domain.BatchSummary) string
}

var (
	reprocessAll = batchOp{
		name:    "reprocess_all",
		trigger: triggerReprocess,
		failed:  domain.ActionTxReprocessError,
		summary: domain.ActionTxBulkReprocess,
		report: func(s *domain.BatchSummary) string {
			return fmt.Sprintf("Processed %d transactions, found %d anomalies, %d failed",
				s.Succeeded, s.Anomalies, s.Failed)
		},
	}

	analyzeAll = batchOp{
		name:    "analyze_all",
		trigger: triggerAnalyze,
		failed:  domain.ActionTxAnalyzeError,
		summary: domain.ActionTxBulkAnalyze,
		report: func(s *domain.BatchSummary) string {
			return fmt.Sprintf("Analyzed %d transactions: %d blocked, %d flagged for review, %d cleared, %d failed",
				s.Total, s.Blocked, s.Review, s.Cleared, s.Failed)
		},
	}
)

// ReprocessAll re-scores every stored transaction sequentially.
// A failing item is audited and skipped; one summary entry closes the batch.
func (e *Engine) ReprocessAll(ctx context.Context) (*domain.BatchSummary, error) {
	return e.runAll(ctx, reprocessAll, domain.PolicyReviewOnCritical)
}

// AnalyzeAll analyzes every stored transaction under the analyze policy
func (e *Engine) AnalyzeAll(ctx context.Context) (*domain.BatchSummary, error) {
	return e.runAll(ctx, analyzeAll, e.cfg.AnalyzePolicy)
}

func (e *Engine) runAll(ctx context.Context, op batchOp, policy domain.StatusPolicy) (*domain.BatchSummary, error) {
	ids, err := e.store.TransactionIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transaction ids: %w", err)
	}

	summary := &domain.BatchSummary{Total: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		res, err := e.evaluate(ctx, id, policy, op.trigger)
		if err != nil {
			summary.Fail(id.String())
			metrics.BatchItem(op.name, false)
			e.audit.record(ctx, entry(domain.SystemActor, op.failed, domain.EntityTransaction, id.String(),
				"Error: "+err.Error()))
			continue
		}
		summary.Count(res.Transaction)
		summary.Anomalies += len(res.Anomalies)
		metrics.BatchItem(op.name, true)
	}

	e.audit.record(ctx, entry(domain.SystemActor, op.summary, domain.EntityTransaction, domain.EntityIDBulk,
		op.report(summary)))
	e.log.BatchCompleted(op.name, summary.Total, summary.Succeeded, summary.Failed)

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("%s interrupted after %d of %d: %w",
			op.name, summary.Succeeded+summary.Failed, summary.Total, err)
	}
	return summary, nil
}
