package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/metrics"
	"github.com/loyalty/fraud-service/internal/pkg/logger"
)

// AlertService manages manual alerts and the alert lifecycle
type AlertService struct {
	e *Engine
}

// Alerts returns the alert service bound to the engine
func (e *Engine) Alerts() *AlertService {
	return &AlertService{e: e}
}

// Create opens a manual alert. Severity defaults to MEDIUM.
func (s *AlertService) Create(ctx context.Context, req domain.CreateAlertRequest) (*domain.Alert, error) {
	req.Severity = domain.Severity(strings.ToUpper(strings.TrimSpace(string(req.Severity))))
	if err := domain.Validate(req); err != nil {
		return nil, err
	}
	if req.Severity == "" {
		req.Severity = domain.RiskLevelMedium
	}

	alert := &domain.Alert{
		ID:          uuid.New(),
		Severity:    req.Severity,
		Status:      domain.AlertStatusOpen,
		Title:       req.Title,
		Description: req.Description,
		CreatedAt:   s.e.clock(),
	}
	if err := s.e.store.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	s.e.audit.record(ctx, entry(domain.SystemActor, domain.ActionAlertCreate, domain.EntityAlert, alert.ID.String(),
		"severity="+string(alert.Severity)))
	metrics.AlertsTotal.WithLabelValues(string(alert.Severity), "manual").Inc()
	s.e.log.Info("alert created",
		logger.StringField("alert_id", alert.ID.String()),
		logger.StringField("severity", string(alert.Severity)),
	)
	return alert, nil
}

// Acknowledge moves an OPEN alert to ACKNOWLEDGED.
// An unknown or closed alert is reported as domain.ErrAlertNotFound.
func (s *AlertService) Acknowledge(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Alert, error) {
	if err := domain.Validate(actor); err != nil {
		return nil, err
	}
	alert, err := s.transition(ctx, id, func(a *domain.Alert) error {
		return a.Acknowledge(actor, s.e.clock())
	})
	if err != nil {
		return nil, err
	}

	s.e.audit.record(ctx, entry(actor, domain.ActionAlertAcknowledge, domain.EntityAlert, id.String(),
		"assignedTo="+alert.AssignedTo))
	return alert, nil
}

// Close moves an OPEN or ACKNOWLEDGED alert to CLOSED
func (s *AlertService) Close(ctx context.Context, id uuid.UUID, actor domain.Actor, resolution string) (*domain.Alert, error) {
	if err := domain.Validate(actor); err != nil {
		return nil, err
	}
	alert, err := s.transition(ctx, id, func(a *domain.Alert) error {
		return a.Close(actor, resolution, s.e.clock())
	})
	if err != nil {
		return nil, err
	}

	s.e.audit.record(ctx, entry(actor, domain.ActionAlertClose, domain.EntityAlert, id.String(),
		"resolution="+resolution))
	return alert, nil
}

func (s *AlertService) transition(ctx context.Context, id uuid.UUID, fn func(a *domain.Alert) error) (*domain.Alert, error) {
	var out *domain.Alert
	err := s.e.store.RunInTx(ctx, func(ctx context.Context, st Store) error {
		a, err := st.GetAlert(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		if err := st.UpdateAlert(ctx, a); err != nil {
			return fmt.Errorf("update alert: %w", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns an alert by id
func (s *AlertService) Get(ctx context.Context, id uuid.UUID) (*domain.Alert, error) {
	return s.e.store.GetAlert(ctx, id)
}

// List returns the alerts matching the filter, newest first
func (s *AlertService) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	filter.Normalize()
	if err := domain.Validate(&filter); err != nil {
		return nil, err
	}
	return s.e.store.ListAlerts(ctx, filter)
}
