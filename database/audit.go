package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cedarmint/cedar/internal/apierror"
	"github.com/cedarmint/cedar/model"
)

// RecordFraudVerdict appends a verdict to the audit log. The log is
// append-only; verdicts are never updated or deleted.
func (d Datasource) RecordFraudVerdict(ctx context.Context, verdict *model.FraudVerdict) error {
	triggeredJSON, err := json.Marshal(verdict.TriggeredRules)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal triggered rules", err)
	}
	reasonsJSON, err := json.Marshal(verdict.Reasons)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal reasons", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO cedar.fraud_audit (verdict_id, transaction_id, score, outcome, triggered_rules, reasons, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, verdict.VerdictID, verdict.TransactionID, verdict.Score, verdict.Outcome, triggeredJSON, reasonsJSON, verdict.EvaluatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record fraud verdict", err)
	}
	return nil
}

func (d Datasource) GetFraudVerdicts(ctx context.Context, transactionID string) ([]model.FraudVerdict, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT verdict_id, transaction_id, score, outcome, triggered_rules, reasons, evaluated_at
		FROM cedar.fraud_audit
		WHERE transaction_id = $1
		ORDER BY evaluated_at ASC
	`, transactionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve fraud verdicts", err)
	}
	defer rows.Close()

	verdicts := []model.FraudVerdict{}
	for rows.Next() {
		verdict := model.FraudVerdict{}
		var triggeredJSON, reasonsJSON []byte
		err := rows.Scan(&verdict.VerdictID, &verdict.TransactionID, &verdict.Score, &verdict.Outcome, &triggeredJSON, &reasonsJSON, &verdict.EvaluatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan fraud verdict", err)
		}
		if len(triggeredJSON) > 0 {
			if err := json.Unmarshal(triggeredJSON, &verdict.TriggeredRules); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to unmarshal triggered rules for verdict '%s'", verdict.VerdictID), err)
			}
		}
		if len(reasonsJSON) > 0 {
			if err := json.Unmarshal(reasonsJSON, &verdict.Reasons); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to unmarshal reasons for verdict '%s'", verdict.VerdictID), err)
			}
		}
		verdicts = append(verdicts, verdict)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating fraud verdicts", err)
	}
	return verdicts, nil
}
