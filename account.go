package cedar

import (
	"context"
	"fmt"
	"time"

	"github.com/cedarmint/cedar/internal/apierror"
	"github.com/cedarmint/cedar/internal/notification"
	"github.com/cedarmint/cedar/model"
)

// recentTransactionsWindow bounds the history returned with an account
// read.
const recentTransactionsWindow = 30 * 24 * time.Hour

const recentTransactionsLimit = 20

// CreateAccount registers a new account. Onboarding is external; the
// coordinator only records the account and announces it.
func (c *Cedar) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	created, err := c.datasource.CreateAccount(ctx, account)
	if err != nil {
		return model.Account{}, err
	}

	go func() {
		if err := SendWebhook(NewWebhook{Event: "account.created", Payload: created}); err != nil {
			notification.NotifyError(err)
		}
	}()
	return created, nil
}

func (c *Cedar) GetAccount(ctx context.Context, accountNumber string) (*model.Account, error) {
	return c.datasource.GetAccount(ctx, accountNumber)
}

// GetAccountWithActivity returns the account and its recent transaction
// history, the shape the account query surface serves.
func (c *Cedar) GetAccountWithActivity(ctx context.Context, accountNumber string) (*model.Account, []*model.Transaction, error) {
	account, err := c.datasource.GetAccount(ctx, accountNumber)
	if err != nil {
		return nil, nil, err
	}

	since := time.Now().Add(-recentTransactionsWindow)
	transactions, err := c.datasource.GetRecentTransactions(ctx, accountNumber, since, recentTransactionsLimit)
	if err != nil {
		return nil, nil, err
	}
	return account, transactions, nil
}

func (c *Cedar) GetAllAccounts(ctx context.Context, limit, offset int) ([]model.Account, error) {
	return c.datasource.GetAllAccounts(ctx, limit, offset)
}

// UpdateAccountStatus moves an account between ACTIVE, FROZEN and CLOSED.
// Closed is terminal: the row is retained for audit and never deleted.
func (c *Cedar) UpdateAccountStatus(ctx context.Context, accountNumber string, status string) error {
	switch status {
	case model.AccountStatusActive, model.AccountStatusFrozen, model.AccountStatusClosed:
	default:
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unknown account status '%s'", status), nil)
	}

	current, err := c.datasource.GetAccount(ctx, accountNumber)
	if err != nil {
		return err
	}
	if current.Status == model.AccountStatusClosed {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Account '%s' is closed", accountNumber), nil)
	}

	return c.datasource.UpdateAccountStatus(ctx, accountNumber, status)
}
