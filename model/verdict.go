package model

import "time"

const (
	VerdictClear    = "CLEAR"
	VerdictFlagged  = "FLAGGED"
	VerdictDeclined = "DECLINED"
)

// FraudVerdict is the outcome of scoring a proposed transaction. It is
// ephemeral: beyond the audit trail it is never persisted as a
// first-class entity.
type FraudVerdict struct {
	VerdictID      string    `json:"verdict_id"`
	TransactionID  string    `json:"transaction_id"`
	Score          float64   `json:"score"`
	Outcome        string    `json:"outcome"`
	TriggeredRules []string  `json:"triggered_rules"`
	Reasons        []string  `json:"reasons"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}
