package domain

// EvaluationResult is returned by a single evaluation pass
type EvaluationResult struct {
	Transaction *Transaction `json:"transaction"`
	Anomalies   []*Anomaly   `json:"anomalies"`
	Alerts      []*Alert     `json:"alerts,omitempty"`
	Transition  Transition   `json:"-"`
}

// BatchSummary aggregates the outcome of a bulk operation
type BatchSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Anomalies int `json:"anomalies"`

	// Counts per resulting status
	Cleared int `json:"cleared"`
	Review  int `json:"flagged_for_review"`
	Blocked int `json:"blocked"`

	FailedIDs []string `json:"failed_ids,omitempty"`
}

// Count records a successfully processed transaction
func (s *BatchSummary) Count(tx *Transaction) {
	s.Succeeded++
	switch tx.Status {
	case StatusCleared:
		s.Cleared++
	case StatusReview:
		s.Review++
	case StatusBlocked:
		s.Blocked++
	}
}

// Fail records a failed item
func (s *BatchSummary) Fail(id string) {
	s.Failed++
	s.FailedIDs = append(s.FailedIDs, id)
}
