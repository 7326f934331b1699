package domain

import "time"

// AuditAction is the action code of an audit entry
type AuditAction string

const (
	ActionTxCreate            AuditAction = "TX_CREATE"
	ActionAnomalyDetect       AuditAction = "ANOMALY_DETECT"
	ActionAlertCreate         AuditAction = "ALERT_CREATE"
	ActionAlertFromAnomaly    AuditAction = "ALERT_FROM_ANOMALY"
	ActionAlertEscalateFailed AuditAction = "ALERT_ESCALATE_FAILED"
	ActionAlertAcknowledge    AuditAction = "ALERT_ACKNOWLEDGE"
	ActionAlertClose          AuditAction = "ALERT_CLOSE"

	ActionTxRiskUpdate AuditAction = "TX_RISK_UPDATE"
	ActionTxAutoReview AuditAction = "TX_AUTO_REVIEW"
	ActionTxAutoBlock  AuditAction = "TX_AUTO_BLOCK"

	ActionTxReprocess      AuditAction = "TX_REPROCESS"
	ActionTxReprocessError AuditAction = "TX_REPROCESS_ERROR"
	ActionTxBulkReprocess  AuditAction = "TX_BULK_REPROCESS"
	ActionTxAnalyze        AuditAction = "TX_ANALYZE"
	ActionTxAnalyzeError   AuditAction = "TX_ANALYZE_ERROR"
	ActionTxBulkAnalyze    AuditAction = "TX_BULK_ANALYZE"

	ActionTxReview       AuditAction = "TX_REVIEW"
	ActionTxBlock        AuditAction = "TX_BLOCK"
	ActionTxClear        AuditAction = "TX_CLEAR"
	ActionTxReviewFailed AuditAction = "TX_REVIEW_FAILED"
	ActionTxBlockFailed  AuditAction = "TX_BLOCK_FAILED"
	ActionTxBulkReview   AuditAction = "TX_BULK_REVIEW"
	ActionTxBulkBlock    AuditAction = "TX_BULK_BLOCK"
)

// Audit entity types
const (
	EntityTransaction = "TRANSACTION"
	EntityAnomaly     = "ANOMALY"
	EntityAlert       = "ALERT"

	// EntityIDBulk is the entity id of batch summary entries
	EntityIDBulk = "BULK"
)

// AuditEntry is an append-only trail record
type AuditEntry struct {
	ID         int64       `json:"id,omitempty" db:"id"`
	ActorID    string      `json:"actor_id" db:"actor_id"`
	ActorName  string      `json:"actor_name" db:"actor_name"`
	Action     AuditAction `json:"action" db:"action"`
	EntityType string      `json:"entity_type" db:"entity_type"`
	EntityID   string      `json:"entity_id" db:"entity_id"`
	Details    string      `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// Actor identifies who performed an action
type Actor struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// SystemActor is the actor of automated actions
var SystemActor = Actor{ID: "SYSTEM", Name: "system"}
