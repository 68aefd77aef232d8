package database

import (
	"context"
	"time"

	"github.com/cedarmint/cedar/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	account
	transaction
	fraudAudit
}

// account defines methods for handling accounts.
type account interface {
	CreateAccount(ctx context.Context, account model.Account) (model.Account, error)
	GetAccount(ctx context.Context, accountNumber string) (*model.Account, error)
	GetAllAccounts(ctx context.Context, limit, offset int) ([]model.Account, error)
	UpdateAccountStatus(ctx context.Context, accountNumber string, status string) error
}

// transaction defines methods for handling transactions. ReserveAndApply,
// CommitHeldTransaction and RecordReversal are the only paths that mutate
// balances; each runs inside a single SQL transaction.
type transaction interface {
	ReserveAndApply(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	RecordTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	CommitHeldTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	DeclineHeldTransaction(ctx context.Context, id string, reason string) error
	RecordReversal(ctx context.Context, original *model.Transaction, reversal *model.Transaction) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error)
	GetRecentTransactions(ctx context.Context, accountNumber string, since time.Time, limit int) ([]*model.Transaction, error)
	GetAllTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, error)
	GetExpiredHolds(ctx context.Context, asOf time.Time, limit int) ([]*model.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status string, reason string) error
}

// fraudAudit defines methods for the append-only fraud verdict log.
type fraudAudit interface {
	RecordFraudVerdict(ctx context.Context, verdict *model.FraudVerdict) error
	GetFraudVerdicts(ctx context.Context, transactionID string) ([]model.FraudVerdict, error)
}
