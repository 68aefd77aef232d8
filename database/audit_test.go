package database

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/cedarmint/cedar/model"
)

func TestRecordFraudVerdict(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	verdict := &model.FraudVerdict{
		VerdictID:      "vrd_1",
		TransactionID:  "txn_1",
		Score:          0.65,
		Outcome:        model.VerdictFlagged,
		TriggeredRules: []string{"velocity"},
		Reasons:        []string{"4 transactions in trailing 1h0m0s exceeds limit of 3"},
		EvaluatedAt:    time.Now(),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cedar.fraud_audit")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.RecordFraudVerdict(context.Background(), verdict)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetFraudVerdicts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	triggered, _ := json.Marshal([]string{"destination_risk"})
	reasons, _ := json.Marshal([]string{"destination account acc_b is risk listed"})

	columns := []string{"verdict_id", "transaction_id", "score", "outcome", "triggered_rules", "reasons", "evaluated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM cedar.fraud_audit")).
		WithArgs("txn_1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("vrd_1", "txn_1", 0.9, model.VerdictDeclined, triggered, reasons, time.Now()))

	verdicts, err := ds.GetFraudVerdicts(context.Background(), "txn_1")
	assert.NoError(t, err)
	assert.Len(t, verdicts, 1)
	assert.Equal(t, model.VerdictDeclined, verdicts[0].Outcome)
	assert.Equal(t, []string{"destination_risk"}, verdicts[0].TriggeredRules)
	assert.NoError(t, mock.ExpectationsWereMet())
}
