package scoring

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/loyalty/fraud-service/internal/domain"
	"github.com/loyalty/fraud-service/internal/rules"
)

// record persists one anomaly per finding, in rule order
func (e *Engine) record(ctx context.Context, s Store, tx *domain.Transaction, findings []rules.Finding, now time.Time, j *journal) ([]*domain.Anomaly, error) {
	anomalies := make([]*domain.Anomaly, 0, len(findings))
	for _, f := range findings {
		a := &domain.Anomaly{
			ID:             uuid.New(),
			TransactionID:  tx.ID,
			TransactionRef: tx.Reference,
			AccountID:      tx.AccountID,
			Type:           f.Type,
			Score:          f.Score,
			Severity:       f.Severity,
			Reason:         f.Reason,
			DetectedAt:     now,
		}
		if err := s.CreateAnomaly(ctx, a); err != nil {
			return nil, fmt.Errorf("record %s anomaly: %w", f.Type, err)
		}

		j.add(domain.SystemActor, domain.ActionAnomalyDetect, domain.EntityTransaction, tx.Reference,
			fmt.Sprintf("type=%s, severity=%s, score=%s", a.Type, a.Severity, formatScore(a.Score)))
		anomalies = append(anomalies, a)
	}
	return anomalies, nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
