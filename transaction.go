package cedar

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/cedarmint/cedar/config"
	"github.com/cedarmint/cedar/internal/apierror"
	redlock "github.com/cedarmint/cedar/internal/lock"
	"github.com/cedarmint/cedar/internal/notification"
	"github.com/cedarmint/cedar/model"
)

var tracer = otel.Tracer("transaction.coordinator")

// recentActivityLimit bounds the history window handed to the fraud
// engine.
const recentActivityLimit = 100

const expiredHoldReason = "hold expired without review"

// Submit runs a proposed transaction through its full lifecycle:
// validation, idempotency replay, fraud evaluation, and, for clear
// verdicts, the atomic ledger commit. Declined and flagged outcomes are
// recorded without touching any balance.
func (c *Cedar) Submit(ctx context.Context, transaction *model.Transaction) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Submitting transaction")
	defer span.End()

	if err := transaction.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	// A duplicate idempotency key replays the prior result, whatever it
	// was. The submission is not re-evaluated and no balance moves twice.
	existing, err := c.datasource.GetTransactionByIdempotencyKey(ctx, transaction.IdempotencyKey)
	if err == nil {
		return existing, nil
	}
	if !apierror.IsCode(err, apierror.ErrNotFound) {
		return nil, err
	}

	if transaction.TransactionID == "" {
		transaction.TransactionID = model.GenerateUUIDWithSuffix("txn")
	}
	transaction.Status = model.StatusPending
	transaction.CreatedAt = time.Now()
	transaction.Hash = transaction.HashTxn()

	verdict, err := c.evaluateFraud(ctx, transaction)
	if err != nil {
		return nil, err
	}
	transaction.RiskScore = verdict.Score
	transaction.TriggeredRules = verdict.TriggeredRules
	c.auditVerdict(verdict)

	switch verdict.Outcome {
	case model.VerdictDeclined:
		return c.declineTransaction(ctx, transaction, verdict)
	case model.VerdictFlagged:
		return c.holdTransaction(ctx, transaction, verdict)
	}

	applied, err := c.commitWithRetry(ctx, transaction)
	if err != nil {
		return nil, err
	}
	c.notifyTransaction(applied)
	return applied, nil
}

// evaluateFraud gathers the source account's trailing activity and scores
// the transaction under the configured evaluation timeout.
func (c *Cedar) evaluateFraud(ctx context.Context, transaction *model.Transaction) (*model.FraudVerdict, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, cnf.Timeouts.FraudEvaluation.Duration)
	defer cancel()

	now := time.Now()
	var activity []*model.Transaction
	if transaction.Source != "" {
		since := now.Add(-cnf.Fraud.VelocityWindow.Duration)
		activity, err = c.datasource.GetRecentTransactions(evalCtx, transaction.Source, since, recentActivityLimit)
		if err != nil {
			if evalCtx.Err() == context.DeadlineExceeded {
				return nil, apierror.NewAPIError(apierror.ErrTimeout, "Fraud evaluation timed out", err)
			}
			return nil, err
		}
	}

	verdict, err := c.fraud.Evaluate(evalCtx, transaction, activity, now)
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

// auditVerdict appends the verdict to the audit log without blocking the
// submission path. A failed audit write is reported, never surfaced.
func (c *Cedar) auditVerdict(verdict *model.FraudVerdict) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.datasource.RecordFraudVerdict(ctx, verdict); err != nil {
			notification.NotifyError(err)
		}
	}()
}

func (c *Cedar) declineTransaction(ctx context.Context, transaction *model.Transaction, verdict *model.FraudVerdict) (*model.Transaction, error) {
	transaction.Status = model.StatusDeclined
	transaction.Reason = strings.Join(verdict.Reasons, "; ")

	declined, err := c.datasource.RecordTransaction(ctx, transaction)
	if err != nil {
		return nil, err
	}
	c.notifyTransaction(declined)
	c.notifyFraudAlert(declined, verdict)
	return declined, nil
}

func (c *Cedar) holdTransaction(ctx context.Context, transaction *model.Transaction, verdict *model.FraudVerdict) (*model.Transaction, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	transaction.Status = model.StatusFlagged
	transaction.Reason = strings.Join(verdict.Reasons, "; ")
	transaction.HoldExpiresAt = transaction.CreatedAt.Add(cnf.Fraud.HoldExpiry.Duration)

	held, err := c.datasource.RecordTransaction(ctx, transaction)
	if err != nil {
		return nil, err
	}
	if err := c.queue.queueHoldExpiry(held.TransactionID, held.HoldExpiresAt); err != nil {
		notification.NotifyError(err)
	}
	c.notifyTransaction(held)
	c.notifyFraudAlert(held, verdict)
	return held, nil
}

// commitWithRetry drives ReserveAndApply under the ledger commit budget.
// Concurrency conflicts are retried with exponential backoff; once the
// retry budget is spent they surface as SystemBusy.
func (c *Cedar) commitWithRetry(ctx context.Context, transaction *model.Transaction) (*model.Transaction, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	commitCtx, cancel := context.WithTimeout(ctx, cnf.Timeouts.LedgerCommit.Duration)
	defer cancel()

	var applied *model.Transaction
	operation := func() error {
		result, opErr := c.datasource.ReserveAndApply(commitCtx, transaction)
		if opErr != nil {
			if apierror.IsCode(opErr, apierror.ErrConcurrencyConflict) {
				return opErr
			}
			return backoff.Permanent(opErr)
		}
		applied = result
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cnf.Timeouts.MaxCommitRetry)), commitCtx)
	if err := backoff.Retry(operation, policy); err != nil {
		if commitCtx.Err() == context.DeadlineExceeded {
			return nil, apierror.NewAPIError(apierror.ErrTimeout, "Ledger commit timed out", err)
		}
		if apierror.IsCode(err, apierror.ErrConcurrencyConflict) {
			return nil, apierror.NewAPIError(apierror.ErrSystemBusy, "Ledger rows are contended, retry the submission", err)
		}
		if apierror.IsCode(err, apierror.ErrConflict) {
			// A racing submission with the same idempotency key committed
			// between the replay precheck and this insert. Replay its
			// result instead of surfacing the unique violation.
			prior, fetchErr := c.datasource.GetTransactionByIdempotencyKey(ctx, transaction.IdempotencyKey)
			if fetchErr == nil {
				return prior, nil
			}
			return nil, err
		}
		return nil, err
	}
	return applied, nil
}

// ResolveHold finalizes a flagged transaction on behalf of an external
// review actor. A CLEARED outcome applies the original legs exactly once;
// a DECLINED outcome finalizes with no balance effect.
func (c *Cedar) ResolveHold(ctx context.Context, transactionID string, outcome string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Resolving held transaction")
	defer span.End()

	if outcome != model.StatusCleared && outcome != model.StatusDeclined {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Invalid hold outcome '%s'", outcome), nil)
	}

	transaction, err := c.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if transaction.Status != model.StatusFlagged {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction '%s' is not held", transactionID), nil)
	}

	locker, err := c.acquireHoldLock(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if unlockErr := locker.Unlock(context.Background()); unlockErr != nil {
			logrus.Error(unlockErr)
		}
	}()

	if outcome == model.StatusDeclined {
		if err := c.datasource.DeclineHeldTransaction(ctx, transactionID, "declined by reviewer"); err != nil {
			return nil, err
		}
		transaction.Status = model.StatusDeclined
		transaction.Reason = "declined by reviewer"
		c.notifyTransaction(transaction)
		return transaction, nil
	}

	committed, err := c.datasource.CommitHeldTransaction(ctx, transaction)
	if err != nil {
		return nil, err
	}
	c.notifyTransaction(committed)
	return committed, nil
}

func (c *Cedar) acquireHoldLock(ctx context.Context, transactionID string) (*redlock.Locker, error) {
	locker := redlock.ForHold(c.redis, transactionID)
	if err := locker.WaitLock(ctx, 30*time.Second, 5*time.Second); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrSystemBusy, "Hold is being resolved by another actor", err)
	}
	return locker, nil
}

// ReverseTransaction records a compensating transaction with swapped legs
// and marks the original REVERSED. History is never edited; the reversal
// is a new row linked through parent_transaction.
func (c *Cedar) ReverseTransaction(ctx context.Context, transactionID string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Reversing transaction")
	defer span.End()

	original, err := c.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Status != model.StatusCleared {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Only cleared transactions can be reversed, '%s' is %s", transactionID, original.Status), nil)
	}

	reversal := &model.Transaction{
		TransactionID:     model.GenerateUUIDWithSuffix("txn"),
		IdempotencyKey:    original.IdempotencyKey + "_rev",
		ParentTransaction: original.TransactionID,
		Source:            original.Destination,
		Destination:       original.Source,
		Amount:            original.Amount,
		PreciseAmount:     original.PreciseAmount,
		Precision:         original.Precision,
		Currency:          original.Currency,
		Description:       fmt.Sprintf("reversal of %s", original.TransactionID),
		CreatedAt:         time.Now(),
	}
	reversal.Hash = reversal.HashTxn()

	recorded, err := c.datasource.RecordReversal(ctx, original, reversal)
	if err != nil {
		return nil, err
	}

	original.Status = model.StatusReversed
	go func() {
		if err := SendWebhook(NewWebhook{
			Event:   getEventFromStatus(model.StatusReversed),
			Payload: map[string]interface{}{"original": original, "reversal": recorded},
		}); err != nil {
			notification.NotifyError(err)
		}
	}()
	return recorded, nil
}

// ProcessHoldExpiry is the asynq handler for scheduled hold deadlines. A
// hold that was resolved before its deadline produces a conflict here,
// which is the expected outcome and not an error.
func (c *Cedar) ProcessHoldExpiry(ctx context.Context, task *asynq.Task) error {
	var transactionID string
	if err := json.Unmarshal(task.Payload(), &transactionID); err != nil {
		return err
	}

	err := c.datasource.DeclineHeldTransaction(ctx, transactionID, expiredHoldReason)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrConflict) {
			logrus.Infof("hold %s already resolved before expiry", transactionID)
			return nil
		}
		return err
	}

	transaction, err := c.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		notification.NotifyError(err)
		return nil
	}
	c.notifyTransaction(transaction)
	return nil
}

// ExpireStaleHolds sweeps flagged transactions whose deadline passed
// without a scheduled task firing, a backstop for queue loss.
func (c *Cedar) ExpireStaleHolds(ctx context.Context) error {
	holds, err := c.datasource.GetExpiredHolds(ctx, time.Now(), recentActivityLimit)
	if err != nil {
		return err
	}
	for _, hold := range holds {
		if err := c.datasource.DeclineHeldTransaction(ctx, hold.TransactionID, expiredHoldReason); err != nil {
			if apierror.IsCode(err, apierror.ErrConflict) {
				continue
			}
			return err
		}
		hold.Status = model.StatusDeclined
		hold.Reason = expiredHoldReason
		c.notifyTransaction(hold)
	}
	return nil
}

func (c *Cedar) GetTransaction(ctx context.Context, transactionID string) (*model.Transaction, error) {
	return c.datasource.GetTransaction(ctx, transactionID)
}

func (c *Cedar) GetAllTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, error) {
	return c.datasource.GetAllTransactions(ctx, limit, offset)
}

func (c *Cedar) GetFraudVerdicts(ctx context.Context, transactionID string) ([]model.FraudVerdict, error) {
	return c.datasource.GetFraudVerdicts(ctx, transactionID)
}

// notifyTransaction dispatches the status webhook fire-and-forget.
// Dispatch failure never unwinds a commit.
func (c *Cedar) notifyTransaction(transaction *model.Transaction) {
	go func() {
		if err := SendWebhook(NewWebhook{
			Event:   getEventFromStatus(transaction.Status),
			Payload: transaction,
		}); err != nil {
			notification.NotifyError(err)
		}
	}()
}

func (c *Cedar) notifyFraudAlert(transaction *model.Transaction, verdict *model.FraudVerdict) {
	go func() {
		if err := SendWebhook(NewWebhook{
			Event: EventFraudAlert,
			Payload: map[string]interface{}{
				"transaction": transaction,
				"verdict":     verdict,
			},
		}); err != nil {
			notification.NotifyError(err)
		}
	}()
}
