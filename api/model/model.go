package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/cedarmint/cedar/model"
)

// SubmitTransaction is the request body for submitting a transaction.
// Amounts arrive as decimal major units and are converted to integer
// minor units before they reach the coordinator.
type SubmitTransaction struct {
	Amount         decimal.Decimal        `json:"amount"`
	Precision      int64                  `json:"precision"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Source         string                 `json:"source"`
	Destination    string                 `json:"destination"`
	Currency       string                 `json:"currency"`
	Description    string                 `json:"description"`
	MetaData       map[string]interface{} `json:"meta_data"`
}

type ResolveHold struct {
	Status string `json:"status"`
}

type ReverseTransaction struct {
	Reason string `json:"reason"`
}

type CreateAccount struct {
	CustomerID     string                 `json:"customer_id"`
	Currency       string                 `json:"currency"`
	MinimumBalance decimal.Decimal        `json:"minimum_balance"`
	Precision      int64                  `json:"precision"`
	MetaData       map[string]interface{} `json:"meta_data"`
}

type UpdateAccountStatus struct {
	Status string `json:"status"`
}

func sourceOrDestinationValidation(t *SubmitTransaction) validation.RuleFunc {
	return func(value interface{}) error {
		if t.Source == "" && t.Destination == "" {
			return errors.New("either source or destination is required")
		}
		return nil
	}
}

func (t *SubmitTransaction) ValidateSubmitTransaction() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Amount, validation.Required, validation.By(func(value interface{}) error {
			amount, ok := value.(decimal.Decimal)
			if !ok || amount.Sign() <= 0 {
				return errors.New("amount must be a positive decimal")
			}
			return nil
		})),
		validation.Field(&t.IdempotencyKey, validation.Required),
		validation.Field(&t.Currency, validation.Required),
		validation.Field(&t.Source, validation.By(sourceOrDestinationValidation(t))),
	)
}

func (r *ResolveHold) ValidateResolveHold() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Status, validation.Required, validation.In(model.StatusCleared, model.StatusDeclined)),
	)
}

func (a *CreateAccount) ValidateCreateAccount() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.CustomerID, validation.Required),
		validation.Field(&a.Currency, validation.Required),
	)
}

func (u *UpdateAccountStatus) ValidateUpdateAccountStatus() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Status, validation.Required, validation.In(model.AccountStatusActive, model.AccountStatusFrozen, model.AccountStatusClosed)),
	)
}

// ToTransaction converts the request into the coordinator's transaction
// shape. Precision defaults to the ledger-wide setting when omitted.
func (t *SubmitTransaction) ToTransaction(defaultPrecision int64) *model.Transaction {
	precision := t.Precision
	if precision == 0 {
		precision = defaultPrecision
	}
	return &model.Transaction{
		IdempotencyKey: t.IdempotencyKey,
		Source:         t.Source,
		Destination:    t.Destination,
		Amount:         t.Amount.String(),
		PreciseAmount:  model.ToPreciseAmount(t.Amount, precision),
		Precision:      precision,
		Currency:       t.Currency,
		Description:    t.Description,
		MetaData:       t.MetaData,
		CreatedAt:      time.Now(),
	}
}

// ToAccount converts the request into an account with all running
// balances zeroed.
func (a *CreateAccount) ToAccount(defaultPrecision int64) model.Account {
	precision := a.Precision
	if precision == 0 {
		precision = defaultPrecision
	}
	return model.Account{
		CustomerID:     a.CustomerID,
		Currency:       a.Currency,
		MinimumBalance: model.ToPreciseAmount(a.MinimumBalance, precision),
		MetaData:       a.MetaData,
	}
}
