package domain

import "fmt"

// TxState is the engine-owned status / risk level pair of a transaction
type TxState struct {
	Status    TransactionStatus
	RiskLevel RiskLevel
}

// Transition is the outcome of a state-transition function
type Transition struct {
	From   TxState
	To     TxState
	Action AuditAction // empty when the status did not move
	Detail string
}

// Changed reports whether the status moved
func (t Transition) Changed() bool {
	return t.From.Status != t.To.Status
}

// ApplyAutomatic applies a computed risk level under the given policy.
// The status only ever moves forward, and a BLOCKED transaction stays CRITICAL.
func ApplyAutomatic(s TxState, level RiskLevel, policy StatusPolicy) Transition {
	next := TxState{Status: s.Status, RiskLevel: level}
	if next.Status == "" {
		next.Status = StatusCleared
	}
	if next.Status == StatusBlocked {
		next.RiskLevel = RiskLevelCritical
	}

	tr := Transition{From: s, To: next}
	switch {
	case policy == PolicyBlockOnCritical && level == RiskLevelCritical && next.Status != StatusBlocked:
		tr.To.Status = StatusBlocked
		tr.Action = ActionTxAutoBlock
		tr.Detail = "Automatically blocked due to CRITICAL risk level"
	case policy == PolicyBlockOnCritical && level == RiskLevelHigh && next.Status == StatusCleared:
		tr.To.Status = StatusReview
		tr.Action = ActionTxAutoReview
		tr.Detail = "Automatically flagged for review due to HIGH risk level"
	case policy == PolicyReviewOnCritical && level == RiskLevelCritical && next.Status == StatusCleared:
		tr.To.Status = StatusReview
		tr.Action = ActionTxAutoReview
		tr.Detail = "Automatically marked for review due to CRITICAL risk level"
	}
	return tr
}

// ApplyManualReview marks a transaction for review
func ApplyManualReview(s TxState, reason string) Transition {
	to := TxState{Status: StatusReview, RiskLevel: s.RiskLevel}
	return Transition{
		From:   s,
		To:     to,
		Action: ActionTxReview,
		Detail: fmt.Sprintf("Status changed: %s -> %s. Reason: %s",
			s.Status, to.Status, orDefault(reason, "Manual review")),
	}
}

// ApplyManualBlock blocks a transaction and forces its risk level to CRITICAL
func ApplyManualBlock(s TxState, reason string) Transition {
	to := TxState{Status: StatusBlocked, RiskLevel: RiskLevelCritical}
	return Transition{
		From:   s,
		To:     to,
		Action: ActionTxBlock,
		Detail: fmt.Sprintf("Status changed: %s -> %s. Reason: %s. Risk Level: %s",
			s.Status, to.Status, orDefault(reason, "Fraud detected"), to.RiskLevel),
	}
}

// ApplyManualClear clears a transaction, downgrading HIGH/CRITICAL risk to MEDIUM
func ApplyManualClear(s TxState, reason string) Transition {
	to := TxState{Status: StatusCleared, RiskLevel: s.RiskLevel}
	if s.RiskLevel == RiskLevelHigh || s.RiskLevel == RiskLevelCritical {
		to.RiskLevel = RiskLevelMedium
	}
	return Transition{
		From:   s,
		To:     to,
		Action: ActionTxClear,
		Detail: fmt.Sprintf("Status changed: %s -> %s. Reason: %s",
			s.Status, to.Status, orDefault(reason, "Verified as legitimate")),
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
