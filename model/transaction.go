package model

import (
	"encoding/json"
	"math/big"
	"time"
)

const (
	StatusPending  = "PENDING"
	StatusCleared  = "CLEARED"
	StatusFlagged  = "FLAGGED"
	StatusDeclined = "DECLINED"
	StatusReversed = "REVERSED"
)

type Transaction struct {
	ID                int64                  `json:"-"`
	TransactionID     string                 `json:"transaction_id"`
	IdempotencyKey    string                 `json:"idempotency_key"`
	ParentTransaction string                 `json:"parent_transaction,omitempty"`
	Source            string                 `json:"source,omitempty"`
	Destination       string                 `json:"destination,omitempty"`
	Amount            string                 `json:"amount"`
	PreciseAmount     *big.Int               `json:"precise_amount"`
	Precision         int64                  `json:"precision"`
	Currency          string                 `json:"currency"`
	Description       string                 `json:"description"`
	Status            string                 `json:"status"`
	Reason            string                 `json:"reason,omitempty"`
	RiskScore         float64                `json:"-"`
	TriggeredRules    []string               `json:"-"`
	Hash              string                 `json:"hash,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	HoldExpiresAt     time.Time              `json:"hold_expires_at,omitempty"`
	MetaData          map[string]interface{} `json:"meta_data,omitempty"`
}

// Leg is one signed balance delta applied to one account as part of a
// transaction. A debit leg carries a negative delta, a credit leg a
// positive one.
type Leg struct {
	AccountNumber string
	Delta         *big.Int
}

func (transaction *Transaction) ToJSON() ([]byte, error) {
	return json.Marshal(transaction)
}

// IsTerminal reports whether the transaction has reached a state that
// must never change again. Cleared transactions stay mutable only in the
// sense that a compensating reversal may still reference them.
func (transaction *Transaction) IsTerminal() bool {
	switch transaction.Status {
	case StatusDeclined, StatusReversed:
		return true
	}
	return false
}

// IsDeposit reports whether the transaction credits an account from an
// external system of record (no internal source leg).
func (transaction *Transaction) IsDeposit() bool {
	return transaction.Source == "" && transaction.Destination != ""
}

// IsWithdrawal reports whether the transaction debits an account toward
// an external system of record (no internal destination leg).
func (transaction *Transaction) IsWithdrawal() bool {
	return transaction.Source != "" && transaction.Destination == ""
}

// IsTransfer reports whether both legs settle internally.
func (transaction *Transaction) IsTransfer() bool {
	return transaction.Source != "" && transaction.Destination != ""
}

// Legs expands the transaction into its signed balance deltas. A
// transfer yields a debit leg and a credit leg that sum to zero; a pure
// deposit or withdrawal yields the single internal leg, with the
// external system of record holding the counterpart.
func (transaction *Transaction) Legs() []Leg {
	var legs []Leg
	if transaction.Source != "" {
		legs = append(legs, Leg{
			AccountNumber: transaction.Source,
			Delta:         new(big.Int).Neg(transaction.PreciseAmount),
		})
	}
	if transaction.Destination != "" {
		legs = append(legs, Leg{
			AccountNumber: transaction.Destination,
			Delta:         new(big.Int).Set(transaction.PreciseAmount),
		})
	}
	return legs
}
