package cedar

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/cedarmint/cedar/config"
	"github.com/cedarmint/cedar/database/mocks"
	"github.com/cedarmint/cedar/fraud"
	"github.com/cedarmint/cedar/internal/apierror"
	"github.com/cedarmint/cedar/model"
)

func setupCoordinator(t *testing.T) (*Cedar, *mocks.MockDataSource) {
	t.Helper()
	mr := miniredis.RunT(t)

	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "test-dns"},
		Redis:      config.RedisConfig{Dns: mr.Addr()},
		Queue: config.QueueConfig{
			WebhookQueue:    "cedar:webhook",
			HoldExpiryQueue: "cedar:hold_expiry",
		},
		Fraud: config.FraudConfig{
			FlagThreshold:        0.6,
			DeclineThreshold:     0.85,
			VelocityWindow:       config.Duration{Duration: time.Hour},
			VelocityMaxCount:     3,
			VelocityMaxAmount:    1000000,
			VelocityWeight:       0.65,
			OutlierDeviations:    3,
			OutlierMinimumSample: 5,
			OutlierWeight:        0.4,
			RiskListedAccounts:   []string{"acc_risky"},
			DestinationWeight:    0.9,
			HoldExpiry:           config.Duration{Duration: time.Hour},
		},
		Timeouts: config.TimeoutConfig{
			FraudEvaluation: config.Duration{Duration: 5 * time.Second},
			LedgerCommit:    config.Duration{Duration: 10 * time.Second},
			MaxCommitRetry:  2,
		},
	})

	cnf, err := config.Fetch()
	assert.NoError(t, err)

	ds := &mocks.MockDataSource{}
	coordinator := &Cedar{
		datasource: ds,
		queue:      NewQueue(cnf),
		redis:      redis.NewClient(&redis.Options{Addr: mr.Addr()}),
		fraud:      fraud.NewEngine(),
	}
	return coordinator, ds
}

func submission() *model.Transaction {
	return &model.Transaction{
		IdempotencyKey: model.GenerateUUIDWithSuffix("idk"),
		Source:         "acc_a",
		Destination:    "acc_b",
		Amount:         "50.00",
		PreciseAmount:  big.NewInt(5000),
		Precision:      100,
		Currency:       "USD",
		Description:    "test transfer",
	}
}

func notFound() error {
	return apierror.NewAPIError(apierror.ErrNotFound, "Transaction not found", nil)
}

func TestSubmit_InvalidRequestFailsFast(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	txn := submission()
	txn.IdempotencyKey = ""

	_, err := coordinator.Submit(context.Background(), txn)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
	// No store access before validation passes.
	ds.AssertNotCalled(t, "GetTransactionByIdempotencyKey", mock.Anything, mock.Anything)
}

func TestSubmit_NegativeAmountRejected(t *testing.T) {
	coordinator, _ := setupCoordinator(t)

	txn := submission()
	txn.PreciseAmount = big.NewInt(-100)

	_, err := coordinator.Submit(context.Background(), txn)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}

func TestSubmit_IdempotentReplay(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	txn := submission()
	prior := &model.Transaction{
		TransactionID:  "txn_prior",
		IdempotencyKey: txn.IdempotencyKey,
		Status:         model.StatusCleared,
	}
	ds.On("GetTransactionByIdempotencyKey", mock.Anything, txn.IdempotencyKey).Return(prior, nil)

	result, err := coordinator.Submit(context.Background(), txn)
	assert.NoError(t, err)
	assert.Equal(t, "txn_prior", result.TransactionID)
	ds.AssertNotCalled(t, "ReserveAndApply", mock.Anything, mock.Anything)
}

func TestSubmit_ClearVerdictCommits(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	txn := submission()
	ds.On("GetTransactionByIdempotencyKey", mock.Anything, txn.IdempotencyKey).Return(nil, notFound())
	ds.On("GetRecentTransactions", mock.Anything, "acc_a", mock.Anything, mock.Anything).Return([]*model.Transaction{}, nil)
	ds.On("RecordFraudVerdict", mock.Anything, mock.Anything).Return(nil).Maybe()
	ds.On("ReserveAndApply", mock.Anything, txn).Run(func(args mock.Arguments) {
		applied := args.Get(1).(*model.Transaction)
		applied.Status = model.StatusCleared
	}).Return(txn, nil)

	result, err := coordinator.Submit(context.Background(), txn)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCleared, result.Status)
	assert.NotEmpty(t, result.TransactionID)
	assert.NotEmpty(t, result.Hash)
}

func TestSubmit_DeclinedNoBalanceTouch(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	txn := submission()
	txn.Destination = "acc_risky"

	ds.On("GetTransactionByIdempotencyKey", mock.Anything, txn.IdempotencyKey).Return(nil, notFound())
	ds.On("GetRecentTransactions", mock.Anything, "acc_a", mock.Anything, mock.Anything).Return([]*model.Transaction{}, nil)
	ds.On("RecordFraudVerdict", mock.Anything, mock.Anything).Return(nil).Maybe()
	ds.On("RecordTransaction", mock.Anything, txn).Return(txn, nil)

	result, err := coordinator.Submit(context.Background(), txn)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusDeclined, result.Status)
	assert.Contains(t, result.Reason, "risk listed")
	ds.AssertNotCalled(t, "ReserveAndApply", mock.Anything, mock.Anything)
}

func TestSubmit_FlaggedHoldsWithExpiry(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	txn := submission()
	now := time.Now()
	activity := []*model.Transaction{}
	for i := 0; i < 4; i++ {
		activity = append(activity, &model.Transaction{
			PreciseAmount: big.NewInt(100),
			CreatedAt:     now.Add(-time.Duration(i+1) * time.Minute),
		})
	}

	ds.On("GetTransactionByIdempotencyKey", mock.Anything, txn.IdempotencyKey).Return(nil, notFound())
	ds.On("GetRecentTransactions", mock.Anything, "acc_a", mock.Anything, mock.Anything).Return(activity, nil)
	ds.On("RecordFraudVerdict", mock.Anything, mock.Anything).Return(nil).Maybe()
	ds.On("RecordTransaction", mock.Anything, txn).Return(txn, nil)

	result, err := coordinator.Submit(context.Background(), txn)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFlagged, result.Status)
	assert.False(t, result.HoldExpiresAt.IsZero())
	assert.Equal(t, result.HoldExpiresAt, result.CreatedAt.Add(time.Hour))
	ds.AssertNotCalled(t, "ReserveAndApply", mock.Anything, mock.Anything)
}

func TestSubmit_RetriesConcurrencyConflict(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	txn := submission()
	conflict := apierror.NewAPIError(apierror.ErrConcurrencyConflict, "contended", nil)

	ds.On("GetTransactionByIdempotencyKey", mock.Anything, txn.IdempotencyKey).Return(nil, notFound())
	ds.On("GetRecentTransactions", mock.Anything, "acc_a", mock.Anything, mock.Anything).Return([]*model.Transaction{}, nil)
	ds.On("RecordFraudVerdict", mock.Anything, mock.Anything).Return(nil).Maybe()
	ds.On("ReserveAndApply", mock.Anything, txn).Return(nil, conflict).Once()
	ds.On("ReserveAndApply", mock.Anything, txn).Run(func(args mock.Arguments) {
		args.Get(1).(*model.Transaction).Status = model.StatusCleared
	}).Return(txn, nil).Once()

	result, err := coordinator.Submit(context.Background(), txn)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCleared, result.Status)
	ds.AssertNumberOfCalls(t, "ReserveAndApply", 2)
}

func TestSubmit_SystemBusyAfterRetryBudget(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	txn := submission()
	conflict := apierror.NewAPIError(apierror.ErrConcurrencyConflict, "contended", nil)

	ds.On("GetTransactionByIdempotencyKey", mock.Anything, txn.IdempotencyKey).Return(nil, notFound())
	ds.On("GetRecentTransactions", mock.Anything, "acc_a", mock.Anything, mock.Anything).Return([]*model.Transaction{}, nil)
	ds.On("RecordFraudVerdict", mock.Anything, mock.Anything).Return(nil).Maybe()
	ds.On("ReserveAndApply", mock.Anything, txn).Return(nil, conflict)

	_, err := coordinator.Submit(context.Background(), txn)
	assert.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrSystemBusy))
}

func TestSubmit_CommitRaceReplaysPriorResult(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	txn := submission()
	duplicate := apierror.NewAPIError(apierror.ErrConflict, "Transaction with this idempotency key already exists", nil)
	prior := &model.Transaction{
		TransactionID:  "txn_winner",
		IdempotencyKey: txn.IdempotencyKey,
		Status:         model.StatusCleared,
	}

	// The precheck misses, then a concurrent submission with the same key
	// wins the insert before ours lands.
	ds.On("GetTransactionByIdempotencyKey", mock.Anything, txn.IdempotencyKey).Return(nil, notFound()).Once()
	ds.On("GetRecentTransactions", mock.Anything, "acc_a", mock.Anything, mock.Anything).Return([]*model.Transaction{}, nil)
	ds.On("RecordFraudVerdict", mock.Anything, mock.Anything).Return(nil).Maybe()
	ds.On("ReserveAndApply", mock.Anything, txn).Return(nil, duplicate)
	ds.On("GetTransactionByIdempotencyKey", mock.Anything, txn.IdempotencyKey).Return(prior, nil).Once()

	result, err := coordinator.Submit(context.Background(), txn)
	assert.NoError(t, err)
	assert.Equal(t, "txn_winner", result.TransactionID)
	assert.Equal(t, model.StatusCleared, result.Status)
	// The losing insert is not retried.
	ds.AssertNumberOfCalls(t, "ReserveAndApply", 1)
}

func TestSubmit_InsufficientFundsNotRetried(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	txn := submission()
	insufficient := apierror.NewAPIError(apierror.ErrInsufficientFunds, "would fall below minimum", nil)

	ds.On("GetTransactionByIdempotencyKey", mock.Anything, txn.IdempotencyKey).Return(nil, notFound())
	ds.On("GetRecentTransactions", mock.Anything, "acc_a", mock.Anything, mock.Anything).Return([]*model.Transaction{}, nil)
	ds.On("RecordFraudVerdict", mock.Anything, mock.Anything).Return(nil).Maybe()
	ds.On("ReserveAndApply", mock.Anything, txn).Return(nil, insufficient)

	_, err := coordinator.Submit(context.Background(), txn)
	assert.True(t, apierror.IsCode(err, apierror.ErrInsufficientFunds))
	ds.AssertNumberOfCalls(t, "ReserveAndApply", 1)
}

func TestResolveHold_Cleared(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	held := submission()
	held.TransactionID = "txn_held"
	held.Status = model.StatusFlagged

	ds.On("GetTransaction", mock.Anything, "txn_held").Return(held, nil)
	ds.On("CommitHeldTransaction", mock.Anything, held).Run(func(args mock.Arguments) {
		args.Get(1).(*model.Transaction).Status = model.StatusCleared
	}).Return(held, nil)

	result, err := coordinator.ResolveHold(context.Background(), "txn_held", model.StatusCleared)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCleared, result.Status)
}

func TestResolveHold_Declined(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	held := submission()
	held.TransactionID = "txn_held"
	held.Status = model.StatusFlagged

	ds.On("GetTransaction", mock.Anything, "txn_held").Return(held, nil)
	ds.On("DeclineHeldTransaction", mock.Anything, "txn_held", "declined by reviewer").Return(nil)

	result, err := coordinator.ResolveHold(context.Background(), "txn_held", model.StatusDeclined)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusDeclined, result.Status)
	ds.AssertNotCalled(t, "CommitHeldTransaction", mock.Anything, mock.Anything)
}

func TestResolveHold_InvalidOutcome(t *testing.T) {
	coordinator, _ := setupCoordinator(t)

	_, err := coordinator.ResolveHold(context.Background(), "txn_held", model.StatusReversed)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}

func TestResolveHold_NotFlagged(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	cleared := submission()
	cleared.TransactionID = "txn_cleared"
	cleared.Status = model.StatusCleared

	ds.On("GetTransaction", mock.Anything, "txn_cleared").Return(cleared, nil)

	_, err := coordinator.ResolveHold(context.Background(), "txn_cleared", model.StatusCleared)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestReverseTransaction_SwapsLegs(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	original := submission()
	original.TransactionID = "txn_orig"
	original.Status = model.StatusCleared

	ds.On("GetTransaction", mock.Anything, "txn_orig").Return(original, nil)
	ds.On("RecordReversal", mock.Anything, original, mock.MatchedBy(func(reversal *model.Transaction) bool {
		return reversal.Source == original.Destination &&
			reversal.Destination == original.Source &&
			reversal.ParentTransaction == original.TransactionID &&
			reversal.IdempotencyKey == original.IdempotencyKey+"_rev"
	})).Return(&model.Transaction{TransactionID: "txn_rev", Status: model.StatusCleared}, nil)

	result, err := coordinator.ReverseTransaction(context.Background(), "txn_orig")
	assert.NoError(t, err)
	assert.Equal(t, "txn_rev", result.TransactionID)
}

func TestReverseTransaction_OnlyCleared(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	declined := submission()
	declined.TransactionID = "txn_declined"
	declined.Status = model.StatusDeclined

	ds.On("GetTransaction", mock.Anything, "txn_declined").Return(declined, nil)

	_, err := coordinator.ReverseTransaction(context.Background(), "txn_declined")
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
	ds.AssertNotCalled(t, "RecordReversal", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessHoldExpiry_DeclinesStaleHold(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	held := submission()
	held.TransactionID = "txn_held"
	held.Status = model.StatusDeclined

	ds.On("DeclineHeldTransaction", mock.Anything, "txn_held", expiredHoldReason).Return(nil)
	ds.On("GetTransaction", mock.Anything, "txn_held").Return(held, nil)

	payload, _ := json.Marshal("txn_held")
	task := asynq.NewTask("cedar:hold_expiry", payload)

	err := coordinator.ProcessHoldExpiry(context.Background(), task)
	assert.NoError(t, err)
}

func TestProcessHoldExpiry_AlreadyResolved(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	conflict := apierror.NewAPIError(apierror.ErrConflict, "not held", nil)
	ds.On("DeclineHeldTransaction", mock.Anything, "txn_held", expiredHoldReason).Return(conflict)

	payload, _ := json.Marshal("txn_held")
	task := asynq.NewTask("cedar:hold_expiry", payload)

	err := coordinator.ProcessHoldExpiry(context.Background(), task)
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "GetTransaction", mock.Anything, mock.Anything)
}

func TestExpireStaleHolds(t *testing.T) {
	coordinator, ds := setupCoordinator(t)

	stale := submission()
	stale.TransactionID = "txn_stale"
	stale.Status = model.StatusFlagged
	stale.HoldExpiresAt = time.Now().Add(-time.Hour)

	ds.On("GetExpiredHolds", mock.Anything, mock.Anything, mock.Anything).Return([]*model.Transaction{stale}, nil)
	ds.On("DeclineHeldTransaction", mock.Anything, "txn_stale", expiredHoldReason).Return(nil)

	err := coordinator.ExpireStaleHolds(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, model.StatusDeclined, stale.Status)
}
