package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/metrics"
	"github.com/loyalty/fraud-service/internal/pkg/logger"
)

var alertTitles = map[domain.AnomalyType]string{
	domain.AnomalyAmountSpike: "High-value amount spike detected",
	domain.AnomalyVelocity:    "Velocity fraud detected",
	domain.AnomalyGeoMismatch: "Geographic anomaly detected",
}

// AlertTitle returns the alert title used for an anomaly type
func AlertTitle(t domain.AnomalyType) string {
	if title, ok := alertTitles[t]; ok {
		return title
	}
	return "Anomaly detected"
}

// AlertDescription summarizes the anomaly and, when known, its source transaction
func AlertDescription(a *domain.Anomaly, tx *domain.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Anomaly: %s, score=%s, severity=%s", a.Type, formatScore(a.Score), a.Severity)
	if a.Reason != "" {
		fmt.Fprintf(&b, ", reason=%s", a.Reason)
	}
	if tx != nil {
		fmt.Fprintf(&b, "\nTransaction: %s, amount=%s, riskLevel=%s, location=%s",
			tx.Reference, tx.Amount, tx.RiskLevel, tx.Location)
	}
	return b.String()
}

// escalate creates the alert of a qualifying anomaly and links it back
func (e *Engine) escalate(ctx context.Context, s Store, a *domain.Anomaly, tx *domain.Transaction, now time.Time, j *journal) (*domain.Alert, error) {
	anomalyID := a.ID
	alert := &domain.Alert{
		ID:          uuid.New(),
		Severity:    a.Severity,
		Status:      domain.AlertStatusOpen,
		Title:       AlertTitle(a.Type),
		Description: AlertDescription(a, tx),
		AnomalyID:   &anomalyID,
		CreatedAt:   now,
	}
	if err := s.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert for anomaly %s: %w", a.ID, err)
	}
	if err := s.LinkAlert(ctx, a.ID, alert.ID); err != nil {
		return nil, fmt.Errorf("link alert to anomaly %s: %w", a.ID, err)
	}

	alertID := alert.ID
	a.AlertID = &alertID

	j.add(domain.SystemActor, domain.ActionAlertFromAnomaly, domain.EntityAlert, alert.ID.String(),
		fmt.Sprintf("anomalyType=%s, anomalyId=%s, txId=%s", a.Type, a.ID, a.TransactionRef))
	return alert, nil
}

// escalateAll escalates every qualifying anomaly of a pass
func (e *Engine) escalateAll(ctx context.Context, s Store, tx *domain.Transaction, anomalies []*domain.Anomaly, now time.Time, j *journal) ([]*domain.Alert, error) {
	var alerts []*domain.Alert
	for _, a := range anomalies {
		if !a.NeedsEscalation() {
			continue
		}
		alert, err := e.escalate(ctx, s, a, tx, now, j)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// Escalate creates the alert of an unescalated HIGH or CRITICAL anomaly.
// An already escalated anomaly returns its existing alert. If alert creation fails
// the anomaly is left unescalated and the failure is audited, so the call can be retried.
func (e *Engine) Escalate(ctx context.Context, anomalyID uuid.UUID) (*domain.Alert, error) {
	a, err := e.store.GetAnomaly(ctx, anomalyID)
	if err != nil {
		return nil, err
	}
	if a.IsEscalated() {
		return e.store.GetAlert(ctx, *a.AlertID)
	}
	if !a.Severity.Escalates() {
		return nil, fmt.Errorf("%w: anomaly %s has severity %s", domain.ErrInvalidInput, a.ID, a.Severity)
	}

	unlock, err := e.locker.Lock(ctx, a.AccountID)
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", a.AccountID, err)
	}
	defer unlock()

	var (
		alert   *domain.Alert
		created bool
		j       journal
	)
	err = e.store.RunInTx(ctx, func(ctx context.Context, s Store) error {
		cur, err := s.GetAnomaly(ctx, anomalyID)
		if err != nil {
			return err
		}
		if cur.IsEscalated() {
			alert, err = s.GetAlert(ctx, *cur.AlertID)
			return err
		}

		tx, err := s.GetTransaction(ctx, cur.TransactionID)
		if err != nil && !errors.Is(err, domain.ErrTransactionNotFound) {
			return err
		}

		alert, err = e.escalate(ctx, s, cur, tx, e.clock(), &j)
		created = err == nil
		return err
	})
	if err != nil {
		e.audit.record(ctx, entry(domain.SystemActor, domain.ActionAlertEscalateFailed, domain.EntityAnomaly,
			anomalyID.String(), "Escalation failed: "+err.Error()))
		e.log.Warn("anomaly escalation failed",
			logger.StringField("anomaly_id", anomalyID.String()),
			logger.ErrorField(err),
		)
		return nil, fmt.Errorf("escalate anomaly %s: %w", anomalyID, err)
	}

	e.audit.emit(ctx, &j)
	if created {
		e.observeAlert(alert, "anomaly")
	}
	return alert, nil
}

// EscalatePending escalates every unescalated qualifying anomaly of a transaction.
// Failures are independent: the alerts that could be created are returned with the joined errors.
func (e *Engine) EscalatePending(ctx context.Context, txID uuid.UUID) ([]*domain.Alert, error) {
	if _, err := e.store.GetTransaction(ctx, txID); err != nil {
		return nil, err
	}
	anomalies, err := e.store.AnomaliesForTransaction(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("load anomalies: %w", err)
	}

	var (
		alerts []*domain.Alert
		errs   []error
	)
	for _, a := range anomalies {
		if !a.NeedsEscalation() {
			continue
		}
		alert, err := e.Escalate(ctx, a.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, errors.Join(errs...)
}

func (e *Engine) observeAlert(a *domain.Alert, origin string) {
	metrics.AlertsTotal.WithLabelValues(string(a.Severity), origin).Inc()
	anomalyID := ""
	if a.AnomalyID != nil {
		anomalyID = a.AnomalyID.String()
	}
	e.log.AlertEscalated(a.ID.String(), anomalyID, string(a.Severity))
}
