package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/cedarmint/cedar/internal/apierror"
	"github.com/cedarmint/cedar/model"
)

var tracer = otel.Tracer("ledger.database")

// classifyTxnError maps PostgreSQL failures onto the shared error
// taxonomy. Serialization and lock failures are transient and surface as
// concurrency conflicts so callers can retry.
func classifyTxnError(err error, conflictMessage string) error {
	pqErr, ok := err.(*pq.Error)
	if ok {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return apierror.NewAPIError(apierror.ErrConflict, conflictMessage, err)
		case "serialization_failure", "deadlock_detected", "lock_not_available":
			return apierror.NewAPIError(apierror.ErrConcurrencyConflict, "Ledger rows are contended, retry the commit", err)
		}
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
}

// lockAndApplyLegs acquires row locks for every account the transaction
// touches and applies the signed deltas. Locks are taken in ascending
// account-number order regardless of leg direction, so two concurrent
// transfers between the same pair of accounts can never form a lock
// cycle. Every leg is validated before any balance row is written.
func (d Datasource) lockAndApplyLegs(ctx context.Context, tx *sql.Tx, txn *model.Transaction) error {
	legs := txn.Legs()
	if err := model.ValidateLegs(legs); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	sort.Slice(legs, func(i, j int) bool {
		return legs[i].AccountNumber < legs[j].AccountNumber
	})

	accounts := make(map[string]*model.Account, len(legs))
	for _, leg := range legs {
		row := tx.QueryRowContext(ctx, `
			SELECT account_number, customer_id, currency, balance, credit_balance, debit_balance, minimum_balance, status, version, created_at, meta_data
			FROM cedar.accounts
			WHERE account_number = $1
			FOR UPDATE
		`, leg.AccountNumber)

		account, err := scanAccount(row)
		if err != nil {
			if err == sql.ErrNoRows {
				return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with number '%s' not found", leg.AccountNumber), err)
			}
			return classifyTxnError(err, "Account row conflict")
		}
		accounts[leg.AccountNumber] = account
	}

	for _, leg := range legs {
		account := accounts[leg.AccountNumber]
		if !account.IsActive() {
			return apierror.NewAPIError(apierror.ErrAccountInactive, fmt.Sprintf("Account '%s' is %s and rejects new entries", account.AccountNumber, account.Status), nil)
		}
		if !account.CanApply(leg.Delta) {
			return apierror.NewAPIError(apierror.ErrInsufficientFunds, fmt.Sprintf("Account '%s' would fall below its minimum balance", account.AccountNumber), nil)
		}
	}

	for _, leg := range legs {
		account := accounts[leg.AccountNumber]
		account.ApplyDelta(leg.Delta)

		_, err := tx.ExecContext(ctx, `
			UPDATE cedar.accounts
			SET balance = $2, credit_balance = $3, debit_balance = $4, version = $5
			WHERE account_number = $1
		`, account.AccountNumber, account.Balance.String(), account.CreditBalance.String(), account.DebitBalance.String(), account.Version)
		if err != nil {
			return classifyTxnError(err, "Account row conflict")
		}
	}
	return nil
}

func (d Datasource) insertTransaction(ctx context.Context, execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}, txn *model.Transaction) error {
	metaDataJSON, err := json.Marshal(txn.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	var holdExpiresAt sql.NullTime
	if !txn.HoldExpiresAt.IsZero() {
		holdExpiresAt = sql.NullTime{Time: txn.HoldExpiresAt, Valid: true}
	}

	_, err = execer.ExecContext(ctx, `
		INSERT INTO cedar.transactions (transaction_id, idempotency_key, parent_transaction, source, destination, amount, precise_amount, precision, currency, description, status, reason, hash, created_at, hold_expires_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, txn.TransactionID, txn.IdempotencyKey, txn.ParentTransaction, txn.Source, txn.Destination, txn.Amount, txn.PreciseAmount.String(), txn.Precision, txn.Currency, txn.Description, txn.Status, txn.Reason, txn.Hash, txn.CreatedAt, holdExpiresAt, metaDataJSON)
	if err != nil {
		return classifyTxnError(err, "Transaction with this idempotency key already exists")
	}
	return nil
}

// ReserveAndApply commits a cleared transaction: it locks the touched
// accounts, validates and applies every leg, and records the transaction
// row, all inside one SQL transaction. Either the balances move and the
// row exists, or neither happened.
func (d Datasource) ReserveAndApply(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Reserving and applying transaction")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	if err := d.lockAndApplyLegs(ctx, tx, txn); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	txn.Status = model.StatusCleared
	if err := d.insertTransaction(ctx, tx, txn); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyTxnError(err, "Transaction with this idempotency key already exists")
	}
	d.invalidateAccounts(ctx, txn.Source, txn.Destination)
	return txn, nil
}

// RecordTransaction persists a transaction row without touching any
// balance. Declined and flagged submissions land here.
func (d Datasource) RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Saving transaction to db")
	defer span.End()

	if err := d.insertTransaction(ctx, d.Conn, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// CommitHeldTransaction releases a flagged hold and applies the original
// legs exactly once. The status flip carries a FLAGGED guard, so a
// concurrent resolver or an expiry worker that got there first turns this
// call into a conflict instead of a double apply.
func (d Datasource) CommitHeldTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Committing held transaction")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE cedar.transactions
		SET status = $2, reason = $3
		WHERE transaction_id = $1 AND status = $4
	`, txn.TransactionID, model.StatusCleared, txn.Reason, model.StatusFlagged)
	if err != nil {
		_ = tx.Rollback()
		return nil, classifyTxnError(err, "Transaction row conflict")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm hold release", err)
	}
	if rowsAffected == 0 {
		_ = tx.Rollback()
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction '%s' is not held", txn.TransactionID), nil)
	}

	if err := d.lockAndApplyLegs(ctx, tx, txn); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyTxnError(err, "Transaction row conflict")
	}
	txn.Status = model.StatusCleared
	d.invalidateAccounts(ctx, txn.Source, txn.Destination)
	return txn, nil
}

// RecordReversal applies a compensating transaction and marks the
// original REVERSED in the same SQL transaction. The CLEARED guard on the
// original makes the reversal exactly-once: a second attempt finds no
// matching row and conflicts.
func (d Datasource) RecordReversal(ctx context.Context, original *model.Transaction, reversal *model.Transaction) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Recording compensating reversal")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE cedar.transactions
		SET status = $2
		WHERE transaction_id = $1 AND status = $3
	`, original.TransactionID, model.StatusReversed, model.StatusCleared)
	if err != nil {
		_ = tx.Rollback()
		return nil, classifyTxnError(err, "Transaction row conflict")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm reversal", err)
	}
	if rowsAffected == 0 {
		_ = tx.Rollback()
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction '%s' is not cleared or was already reversed", original.TransactionID), nil)
	}

	if err := d.lockAndApplyLegs(ctx, tx, reversal); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	reversal.Status = model.StatusCleared
	if err := d.insertTransaction(ctx, tx, reversal); err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyTxnError(err, "Transaction row conflict")
	}
	d.invalidateAccounts(ctx, reversal.Source, reversal.Destination)
	return reversal, nil
}

// DeclineHeldTransaction finalizes a flagged transaction with no balance
// effect. The FLAGGED guard makes it safe to race against a resolver
// clearing the same hold: whoever loses gets a conflict.
func (d Datasource) DeclineHeldTransaction(ctx context.Context, id string, reason string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE cedar.transactions
		SET status = $2, reason = $3
		WHERE transaction_id = $1 AND status = $4
	`, id, model.StatusDeclined, reason, model.StatusFlagged)
	if err != nil {
		return classifyTxnError(err, "Transaction row conflict")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm hold decline", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction '%s' is not held", id), nil)
	}
	return nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT transaction_id, idempotency_key, parent_transaction, source, destination, amount, precise_amount, precision, currency, description, status, reason, hash, created_at, hold_expires_at, meta_data
		FROM cedar.transactions
		WHERE transaction_id = $1
	`, id)

	txn, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

func (d Datasource) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Getting transaction from db by idempotency key")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT transaction_id, idempotency_key, parent_transaction, source, destination, amount, precise_amount, precision, currency, description, status, reason, hash, created_at, hold_expires_at, meta_data
		FROM cedar.transactions
		WHERE idempotency_key = $1
	`, key)

	txn, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with idempotency key '%s' not found", key), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

// GetRecentTransactions returns the trailing activity window for an
// account, newest first. Declined rows are included: a burst of declines
// is itself a velocity signal.
func (d Datasource) GetRecentTransactions(ctx context.Context, accountNumber string, since time.Time, limit int) ([]*model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transaction_id, idempotency_key, parent_transaction, source, destination, amount, precise_amount, precision, currency, description, status, reason, hash, created_at, hold_expires_at, meta_data
		FROM cedar.transactions
		WHERE (source = $1 OR destination = $1) AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`, accountNumber, since, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve recent transactions", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (d Datasource) GetAllTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transaction_id, idempotency_key, parent_transaction, source, destination, amount, precise_amount, precision, currency, description, status, reason, hash, created_at, hold_expires_at, meta_data
		FROM cedar.transactions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	collected, err := collectTransactions(rows)
	if err != nil {
		return nil, err
	}
	transactions := make([]model.Transaction, 0, len(collected))
	for _, txn := range collected {
		transactions = append(transactions, *txn)
	}
	return transactions, nil
}

// GetExpiredHolds returns flagged transactions whose hold deadline has
// passed, oldest first.
func (d Datasource) GetExpiredHolds(ctx context.Context, asOf time.Time, limit int) ([]*model.Transaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transaction_id, idempotency_key, parent_transaction, source, destination, amount, precise_amount, precision, currency, description, status, reason, hash, created_at, hold_expires_at, meta_data
		FROM cedar.transactions
		WHERE status = $1 AND hold_expires_at IS NOT NULL AND hold_expires_at <= $2
		ORDER BY hold_expires_at ASC
		LIMIT $3
	`, model.StatusFlagged, asOf, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve expired holds", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func (d Datasource) UpdateTransactionStatus(ctx context.Context, id string, status string, reason string) error {
	ctx, span := tracer.Start(ctx, "Updating transaction status")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE cedar.transactions
		SET status = $2, reason = $3
		WHERE transaction_id = $1
	`, id, status, reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm status update", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", id), nil)
	}
	return nil
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	txn := &model.Transaction{}
	var preciseAmount string
	var holdExpiresAt sql.NullTime
	var metaDataJSON []byte
	err := row.Scan(&txn.TransactionID, &txn.IdempotencyKey, &txn.ParentTransaction, &txn.Source, &txn.Destination, &txn.Amount, &preciseAmount, &txn.Precision, &txn.Currency, &txn.Description, &txn.Status, &txn.Reason, &txn.Hash, &txn.CreatedAt, &holdExpiresAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	txn.PreciseAmount = parseBigInt(preciseAmount)
	if holdExpiresAt.Valid {
		txn.HoldExpiresAt = holdExpiresAt.Time
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
			return nil, err
		}
	}
	return txn, nil
}

func collectTransactions(rows *sql.Rows) ([]*model.Transaction, error) {
	transactions := []*model.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction data", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating transactions", err)
	}
	return transactions, nil
}
