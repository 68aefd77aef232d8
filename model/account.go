package model

import (
	"math/big"
	"time"
)

const (
	AccountStatusActive = "ACTIVE"
	AccountStatusFrozen = "FROZEN"
	AccountStatusClosed = "CLOSED"
)

type Account struct {
	ID             int64                  `json:"-"`
	AccountNumber  string                 `json:"account_number"`
	CustomerID     string                 `json:"customer_id"`
	Currency       string                 `json:"currency"`
	Balance        *big.Int               `json:"balance"`
	CreditBalance  *big.Int               `json:"credit_balance"`
	DebitBalance   *big.Int               `json:"debit_balance"`
	MinimumBalance *big.Int               `json:"minimum_balance"`
	Status         string                 `json:"status"`
	Version        int64                  `json:"version"`
	CreatedAt      time.Time              `json:"created_at"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}

// InitializeBalanceFields ensures all balance fields hold valid *big.Int
// values before any arithmetic touches them.
func (account *Account) InitializeBalanceFields() {
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	if account.CreditBalance == nil {
		account.CreditBalance = big.NewInt(0)
	}
	if account.DebitBalance == nil {
		account.DebitBalance = big.NewInt(0)
	}
	if account.MinimumBalance == nil {
		account.MinimumBalance = big.NewInt(0)
	}
}

// IsActive reports whether the account accepts new debits and credits.
// Frozen and closed accounts reject both.
func (account *Account) IsActive() bool {
	return account.Status == AccountStatusActive
}

// CanApply checks whether applying delta would keep the account at or
// above its configured minimum balance. Credits always pass.
func (account *Account) CanApply(delta *big.Int) bool {
	account.InitializeBalanceFields()
	if delta.Sign() >= 0 {
		return true
	}
	next := new(big.Int).Add(account.Balance, delta)
	return next.Cmp(account.MinimumBalance) >= 0
}

// ApplyDelta mutates the account balances by the signed delta. A negative
// delta is a debit leg, a positive delta a credit leg. Callers must have
// validated the leg with CanApply first; ApplyDelta does not re-check.
func (account *Account) ApplyDelta(delta *big.Int) {
	account.InitializeBalanceFields()
	if delta.Sign() < 0 {
		account.DebitBalance.Add(account.DebitBalance, new(big.Int).Neg(delta))
	} else {
		account.CreditBalance.Add(account.CreditBalance, delta)
	}
	account.Balance.Sub(account.CreditBalance, account.DebitBalance)
	account.Version++
}
