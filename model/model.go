package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// Int64ToBigInt converts an int64 value to a *big.Int.
func Int64ToBigInt(value int64) *big.Int {
	return big.NewInt(value)
}

// ToPreciseAmount converts a decimal major-unit amount into minor units
// at the given precision. "10.50" at precision 100 becomes 1050.
func ToPreciseAmount(amount decimal.Decimal, precision int64) *big.Int {
	if precision == 0 {
		precision = 1
	}
	scaled := amount.Mul(decimal.NewFromInt(precision))
	return scaled.BigInt()
}

// PreciseToDecimal converts minor units back into a major-unit decimal.
func PreciseToDecimal(preciseAmount *big.Int, precision int64) decimal.Decimal {
	if precision == 0 {
		precision = 1
	}
	return decimal.NewFromBigInt(preciseAmount, 0).Div(decimal.NewFromInt(precision))
}

// HashTxn generates a SHA-256 hash of the transaction's identifying
// fields, tying the recorded row to the request that produced it.
func (transaction *Transaction) HashTxn() string {
	data := fmt.Sprintf("%s%s%s%s%s", transaction.Amount, transaction.IdempotencyKey, transaction.Currency, transaction.Source, transaction.Destination)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Validate checks the transaction request shape before any store access.
func (transaction *Transaction) Validate() error {
	if transaction.PreciseAmount == nil || transaction.PreciseAmount.Sign() <= 0 {
		return errors.New("transaction amount must be positive")
	}
	if transaction.IdempotencyKey == "" {
		return errors.New("idempotency key is required")
	}
	if transaction.Source == "" && transaction.Destination == "" {
		return errors.New("transaction must reference at least one account")
	}
	if transaction.Source != "" && transaction.Source == transaction.Destination {
		return errors.New("source and destination must be distinct")
	}
	if transaction.Currency == "" {
		return errors.New("transaction currency is required")
	}
	return nil
}

// ValidateLegs enforces money conservation: the legs of a transfer must
// sum to zero; a deposit or withdrawal carries exactly one internal leg
// whose counterpart lives in an external system of record.
func ValidateLegs(legs []Leg) error {
	if len(legs) == 0 {
		return errors.New("transaction has no legs")
	}
	if len(legs) == 1 {
		if legs[0].Delta.Sign() == 0 {
			return errors.New("leg delta must be non-zero")
		}
		return nil
	}
	sum := big.NewInt(0)
	for _, leg := range legs {
		if leg.Delta.Sign() == 0 {
			return errors.New("leg delta must be non-zero")
		}
		sum.Add(sum, leg.Delta)
	}
	if sum.Sign() != 0 {
		return errors.New("transfer legs must sum to zero")
	}
	return nil
}

// ApplyLegs validates every leg against the account set and then applies
// them all, in order. Accounts must already be keyed by account number.
// Either every leg applies or none does: validation happens before the
// first mutation.
func ApplyLegs(legs []Leg, accounts map[string]*Account) error {
	if err := ValidateLegs(legs); err != nil {
		return err
	}
	for _, leg := range legs {
		account, ok := accounts[leg.AccountNumber]
		if !ok {
			return fmt.Errorf("account %s not found", leg.AccountNumber)
		}
		if !account.IsActive() {
			return fmt.Errorf("account %s is not active", leg.AccountNumber)
		}
		if !account.CanApply(leg.Delta) {
			return fmt.Errorf("insufficient funds in account %s", leg.AccountNumber)
		}
	}
	for _, leg := range legs {
		accounts[leg.AccountNumber].ApplyDelta(leg.Delta)
	}
	return nil
}
