package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/cedarmint/cedar/cache"
	"github.com/cedarmint/cedar/internal/apierror"
	"github.com/cedarmint/cedar/model"
)

// parseBigInt converts a NUMERIC column value into a *big.Int. Balances
// are written with String(), so the stored text is always a valid base-10
// integer.
func parseBigInt(value string) *big.Int {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return big.NewInt(0)
	}
	return parsed
}

func (d Datasource) CreateAccount(ctx context.Context, account model.Account) (model.Account, error) {
	ctx, span := otel.Tracer("account.database").Start(ctx, "Saving account to db")
	defer span.End()

	account.InitializeBalanceFields()
	if account.AccountNumber == "" {
		account.AccountNumber = model.GenerateUUIDWithSuffix("acc")
	}
	if account.Status == "" {
		account.Status = model.AccountStatusActive
	}
	account.CreatedAt = time.Now()

	metaDataJSON, err := json.Marshal(account.MetaData)
	if err != nil {
		return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO cedar.accounts (account_number, customer_id, currency, balance, credit_balance, debit_balance, minimum_balance, status, version, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, account.AccountNumber, account.CustomerID, account.Currency, account.Balance.String(), account.CreditBalance.String(), account.DebitBalance.String(), account.MinimumBalance.String(), account.Status, account.Version, account.CreatedAt, metaDataJSON)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return model.Account{}, apierror.NewAPIError(apierror.ErrConflict, "Account with this number already exists", err)
			default:
				return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return model.Account{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create account", err)
	}

	return account, nil
}

func (d Datasource) GetAccount(ctx context.Context, accountNumber string) (*model.Account, error) {
	if d.Cache != nil {
		cached := &model.Account{}
		if err := d.Cache.Get(ctx, cache.AccountKey(accountNumber), cached); err == nil && cached.AccountNumber != "" {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT account_number, customer_id, currency, balance, credit_balance, debit_balance, minimum_balance, status, version, created_at, meta_data
		FROM cedar.accounts
		WHERE account_number = $1
	`, accountNumber)

	account, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with number '%s' not found", accountNumber), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, cache.AccountKey(accountNumber), account, cache.AccountTTL); err != nil {
			log.Printf("Failed to cache account %s: %v", accountNumber, err)
		}
	}
	return account, nil
}

// invalidateAccounts drops cached reads for accounts whose balances just
// changed.
func (d Datasource) invalidateAccounts(ctx context.Context, accountNumbers ...string) {
	if d.Cache == nil {
		return
	}
	for _, number := range accountNumbers {
		if number == "" {
			continue
		}
		if err := d.Cache.Delete(ctx, cache.AccountKey(number)); err != nil {
			log.Printf("Failed to invalidate cached account %s: %v", number, err)
		}
	}
}

func (d Datasource) GetAllAccounts(ctx context.Context, limit, offset int) ([]model.Account, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT account_number, customer_id, currency, balance, credit_balance, debit_balance, minimum_balance, status, version, created_at, meta_data
		FROM cedar.accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve accounts", err)
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan account data", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating accounts", err)
	}
	return accounts, nil
}

func (d Datasource) UpdateAccountStatus(ctx context.Context, accountNumber string, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE cedar.accounts
		SET status = $2, version = version + 1
		WHERE account_number = $1
	`, accountNumber, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update account status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to confirm account status update", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with number '%s' not found", accountNumber), nil)
	}
	d.invalidateAccounts(ctx, accountNumber)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	account := &model.Account{}
	var balance, creditBalance, debitBalance, minimumBalance string
	var metaDataJSON []byte
	err := row.Scan(&account.AccountNumber, &account.CustomerID, &account.Currency, &balance, &creditBalance, &debitBalance, &minimumBalance, &account.Status, &account.Version, &account.CreatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	account.Balance = parseBigInt(balance)
	account.CreditBalance = parseBigInt(creditBalance)
	account.DebitBalance = parseBigInt(debitBalance)
	account.MinimumBalance = parseBigInt(minimumBalance)

	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &account.MetaData); err != nil {
			return nil, err
		}
	}
	return account, nil
}
