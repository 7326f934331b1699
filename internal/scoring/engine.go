package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/metrics"
	"github.com/loyalty/fraud-service/internal/pkg/logger"
	"github.com/loyalty/fraud-service/internal/rules"
)

const tracerName = "github.com/loyalty/fraud-service/internal/scoring"

// Config holds the immutable engine configuration
type Config struct {
	Thresholds    rules.Thresholds
	AnalyzePolicy domain.StatusPolicy

	// Passes slower than this are logged
	LatencyBudget time.Duration
}

// Engine runs evaluation passes: history snapshot, rules, aggregation,
// anomaly recording, status update and escalation, as one unit of work
type Engine struct {
	store  Store
	locker AccountLocker
	audit  *auditor
	cfg    Config
	clock  Clock
	tracer trace.Tracer
	log    *logger.Logger
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTracer replaces the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates a new scoring engine
func NewEngine(
	store Store,
	sink AuditSink,
	locker AccountLocker,
	cfg Config,
	log *logger.Logger,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if !cfg.AnalyzePolicy.IsValid() {
		return nil, fmt.Errorf("invalid analyze policy %q", cfg.AnalyzePolicy)
	}

	e := &Engine{
		store:  store,
		locker: locker,
		cfg:    cfg,
		clock:  time.Now,
		tracer: otel.Tracer(tracerName),
		log:    log.Named("scoring_engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.audit = &auditor{sink: sink, log: e.log}
	return e, nil
}

type trigger string

const (
	triggerIngest    trigger = "ingest"
	triggerEvaluate  trigger = "evaluate"
	triggerReprocess trigger = "reprocess"
	triggerAnalyze   trigger = "analyze"
)

// Ingest persists a new transaction and scores it.
// Status and risk level carried by the input are ignored.
func (e *Engine) Ingest(ctx context.Context, in *domain.Transaction) (*domain.EvaluationResult, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: transaction is required", domain.ErrInvalidInput)
	}
	if in.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}

	tx := in.Clone()
	tx.Normalize(e.clock())

	unlock, err := e.locker.Lock(ctx, tx.AccountID)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", tx.AccountID, err)
	}
	defer unlock()

	start := time.Now()
	e.log.EvaluationStarted(tx.Reference, tx.AccountID, string(triggerIngest))

	var (
		result *domain.EvaluationResult
		j      journal
	)
	err = e.store.RunInTx(ctx, func(ctx context.Context, s Store) error {
		if err := s.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		j.add(domain.SystemActor, domain.ActionTxCreate, domain.EntityTransaction, tx.Reference,
			fmt.Sprintf("amount=%s, merchant=%s", tx.Amount, tx.MerchantName))

		res, err := e.pass(ctx, s, tx, domain.PolicyReviewOnCritical, &j)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		metrics.EvaluationErrorsTotal.Inc()
		return nil, err
	}

	e.audit.emit(ctx, &j)
	e.observe(ctx, triggerIngest, result, time.Since(start))
	return result, nil
}

// Evaluate runs one pass over a stored transaction under the given status policy
func (e *Engine) Evaluate(ctx context.Context, id uuid.UUID, policy domain.StatusPolicy) (*domain.EvaluationResult, error) {
	return e.evaluate(ctx, id, policy, triggerEvaluate)
}

// Reprocess re-scores a stored transaction against current history
func (e *Engine) Reprocess(ctx context.Context, id uuid.UUID) (*domain.EvaluationResult, error) {
	return e.evaluate(ctx, id, domain.PolicyReviewOnCritical, triggerReprocess)
}

// Analyze re-scores a transaction under the administrative analyze policy
func (e *Engine) Analyze(ctx context.Context, id uuid.UUID) (*domain.EvaluationResult, error) {
	return e.evaluate(ctx, id, e.cfg.AnalyzePolicy, triggerAnalyze)
}

func (e *Engine) evaluate(ctx context.Context, id uuid.UUID, policy domain.StatusPolicy, trig trigger) (*domain.EvaluationResult, error) {
	if !policy.IsValid() {
		return nil, fmt.Errorf("%w: unknown status policy %q", domain.ErrInvalidInput, policy)
	}

	start := time.Now()
	var result *domain.EvaluationResult
	err := e.withAccount(ctx, id, func(ctx context.Context, s Store, tx *domain.Transaction, j *journal) error {
		e.log.EvaluationStarted(tx.Reference, tx.AccountID, string(trig))

		res, err := e.pass(ctx, s, tx, policy, j)
		if err != nil {
			return err
		}

		switch trig {
		case triggerReprocess:
			j.add(domain.SystemActor, domain.ActionTxReprocess, domain.EntityTransaction, tx.Reference,
				fmt.Sprintf("Reprocessed, found %d anomalies", len(res.Anomalies)))
		case triggerAnalyze:
			j.add(domain.SystemActor, domain.ActionTxAnalyze, domain.EntityTransaction, tx.Reference,
				fmt.Sprintf("Analyzed, riskLevel=%s, status=%s, found %d anomalies",
					res.Transaction.RiskLevel, res.Transaction.Status, len(res.Anomalies)))
		}
		result = res
		return nil
	})
	if err != nil {
		if !domain.IsNotFound(err) {
			metrics.EvaluationErrorsTotal.Inc()
		}
		return nil, err
	}

	e.observe(ctx, trig, result, time.Since(start))
	return result, nil
}

// withAccount loads a transaction, serializes on its account and runs fn as one
// unit of work over a fresh copy. The journal is emitted once the unit commits.
func (e *Engine) withAccount(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, s Store, tx *domain.Transaction, j *journal) error) error {
	tx, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}

	unlock, err := e.locker.Lock(ctx, tx.AccountID)
	if err != nil {
		return fmt.Errorf("lock account %s: %w", tx.AccountID, err)
	}
	defer unlock()

	var j journal
	err = e.store.RunInTx(ctx, func(ctx context.Context, s Store) error {
		cur, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, s, cur, &j)
	})
	if err != nil {
		return err
	}

	e.audit.emit(ctx, &j)
	return nil
}

// pass evaluates a persisted transaction inside an open unit of work
func (e *Engine) pass(ctx context.Context, s Store, tx *domain.Transaction, policy domain.StatusPolicy, j *journal) (*domain.EvaluationResult, error) {
	ctx, span := e.tracer.Start(ctx, "scoring.pass", trace.WithAttributes(
		attribute.String("transaction.ref", tx.Reference),
		attribute.String("account.id", tx.AccountID),
		attribute.String("status.policy", string(policy)),
	))
	defer span.End()

	result, err := e.runPass(ctx, s, tx, policy, j)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("risk.level", string(result.Transaction.RiskLevel)),
		attribute.Int("anomalies", len(result.Anomalies)),
		attribute.Int("alerts", len(result.Alerts)),
	)
	return result, nil
}

func (e *Engine) runPass(ctx context.Context, s Store, tx *domain.Transaction, policy domain.StatusPolicy, j *journal) (*domain.EvaluationResult, error) {
	// 1. Recent-history snapshot shared by every rule
	history, err := e.snapshot(ctx, s, tx)
	if err != nil {
		return nil, err
	}

	// 2. Rules and aggregation
	assessment := rules.Aggregate(rules.Evaluate(e.cfg.Thresholds, tx, history))
	now := e.clock()

	// 3. One anomaly per finding
	anomalies, err := e.record(ctx, s, tx, assessment.Findings, now, j)
	if err != nil {
		return nil, err
	}

	// 4. Risk level and status, never downgrading status
	tr := domain.ApplyAutomatic(tx.State(), assessment.RiskLevel, policy)
	if tx.Apply(tr.To, now) {
		if err := s.UpdateTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("update transaction: %w", err)
		}
		switch {
		case tr.Changed():
			j.add(domain.SystemActor, tr.Action, domain.EntityTransaction, tx.Reference, tr.Detail)
		default:
			j.add(domain.SystemActor, domain.ActionTxRiskUpdate, domain.EntityTransaction, tx.Reference,
				fmt.Sprintf("Risk level: %s -> %s, score=%s, anomalies=%d",
					orUnset(tr.From.RiskLevel), tr.To.RiskLevel, formatScore(assessment.Score), len(anomalies)))
		}
	}

	// 5. Escalation of HIGH and CRITICAL anomalies
	alerts, err := e.escalateAll(ctx, s, tx, anomalies, now, j)
	if err != nil {
		return nil, err
	}

	return &domain.EvaluationResult{
		Transaction: tx.Clone(),
		Anomalies:   anomalies,
		Alerts:      alerts,
		Transition:  tr,
	}, nil
}

// snapshot reads the recent history of the account in parallel
func (e *Engine) snapshot(ctx context.Context, s Store, tx *domain.Transaction) (rules.History, error) {
	var h rules.History
	g, gctx := errgroup.WithContext(ctx)

	// Prior transactions for the amount spike and geo rules
	g.Go(func() error {
		recent, err := s.RecentTransactions(gctx, tx.AccountID, tx.CreatedAt, tx.ID, e.cfg.Thresholds.SpikeHistorySize)
		if err != nil {
			return fmt.Errorf("load recent transactions: %w", err)
		}
		h.Recent = recent
		return nil
	})

	// Velocity window anchored on the transaction time
	g.Go(func() error {
		from := tx.CreatedAt.Add(-e.cfg.Thresholds.VelocityWindow)
		n, err := s.CountTransactions(gctx, tx.AccountID, from, tx.CreatedAt)
		if err != nil {
			return fmt.Errorf("count recent transactions: %w", err)
		}
		h.WindowCount = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return rules.History{}, err
	}
	return h, nil
}

// observe logs and records metrics for a committed pass
func (e *Engine) observe(ctx context.Context, trig trigger, r *domain.EvaluationResult, d time.Duration) {
	tx := r.Transaction
	log := e.log.WithContext(ctx)
	for _, a := range r.Anomalies {
		metrics.AnomaliesTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
		log.AnomalyDetected(tx.Reference, string(a.Type), string(a.Severity), a.Score)
	}
	for _, a := range r.Alerts {
		e.observeAlert(a, "anomaly")
	}
	metrics.ObserveEvaluation(string(trig), string(tx.RiskLevel), d)

	durationMs := d.Milliseconds()
	if e.cfg.LatencyBudget > 0 && d > e.cfg.LatencyBudget {
		log.WithTransaction(tx.Reference, tx.AccountID).
			LatencyWarning(string(trig), durationMs, e.cfg.LatencyBudget.Milliseconds())
	}
	log.EvaluationCompleted(tx.Reference, string(tx.RiskLevel), string(tx.Status), len(r.Anomalies), durationMs)
}

// Get returns a transaction by id
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return e.store.GetTransaction(ctx, id)
}

// ListTransactions returns the transactions matching the filter, newest first
func (e *Engine) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]*domain.Transaction, error) {
	filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return e.store.ListTransactions(ctx, filter)
}

// ListAnomalies returns the anomalies matching the filter, newest first
func (e *Engine) ListAnomalies(ctx context.Context, filter domain.AnomalyFilter) ([]*domain.Anomaly, error) {
	filter.Normalize()
	if err := domain.Validate(&filter); err != nil {
		return nil, err
	}
	return e.store.ListAnomalies(ctx, filter)
}

// AnomaliesForTransaction returns every anomaly recorded for a transaction, newest first
func (e *Engine) AnomaliesForTransaction(ctx context.Context, txID uuid.UUID) ([]*domain.Anomaly, error) {
	if _, err := e.store.GetTransaction(ctx, txID); err != nil {
		return nil, err
	}
	return e.store.AnomaliesForTransaction(ctx, txID)
}

func orUnset(level domain.RiskLevel) string {
	if level == "" {
		return "UNSET"
	}
	return string(level)
}
