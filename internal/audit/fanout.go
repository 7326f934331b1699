package audit

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/metrics"
	"github.com/loyalty/fraud-service/internal/scoring"
)

// Sink is a named audit destination
type Sink struct {
	Name string
	scoring.AuditSink
}

// FanOut records every entry to all sinks concurrently.
// A failing sink does not prevent the others from recording.
type FanOut struct {
	sinks []Sink
}

var _ scoring.AuditSink = (*FanOut)(nil)

// NewFanOut creates a fan-out over the sinks
func NewFanOut(sinks ...Sink) *FanOut {
	return &FanOut{sinks: sinks}
}

// Record writes the entry to each sink and joins their errors
func (f *FanOut) Record(ctx context.Context, e domain.AuditEntry) error {
	errs := make([]error, len(f.sinks))

	var g errgroup.Group
	for i, s := range f.sinks {
		i, s := i, s
		g.Go(func() error {
			if err := s.Record(ctx, e); err != nil {
				metrics.AuditFailuresTotal.WithLabelValues(s.Name).Inc()
				errs[i] = fmt.Errorf("%s: %w", s.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
