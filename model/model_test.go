package model

import (
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newActiveAccount(number string, balance int64) *Account {
	account := &Account{
		AccountNumber: number,
		Currency:      "USD",
		Status:        AccountStatusActive,
	}
	account.InitializeBalanceFields()
	if balance > 0 {
		account.ApplyDelta(big.NewInt(balance))
	}
	return account
}

func TestToPreciseAmount(t *testing.T) {
	amount, err := decimal.NewFromString("10.50")
	assert.NoError(t, err)
	assert.Equal(t, big.NewInt(1050), ToPreciseAmount(amount, 100))
	assert.Equal(t, big.NewInt(10), ToPreciseAmount(amount, 1))

	back := PreciseToDecimal(big.NewInt(1050), 100)
	assert.True(t, back.Equal(amount))
}

func TestAccountCanApply(t *testing.T) {
	account := newActiveAccount("1000000001", 5000)

	assert.True(t, account.CanApply(big.NewInt(-5000)))
	assert.False(t, account.CanApply(big.NewInt(-5001)))
	assert.True(t, account.CanApply(big.NewInt(1)))
}

func TestAccountCanApply_OverdraftLimit(t *testing.T) {
	account := newActiveAccount("1000000002", 1000)
	account.MinimumBalance = big.NewInt(-2000)

	assert.True(t, account.CanApply(big.NewInt(-3000)))
	assert.False(t, account.CanApply(big.NewInt(-3001)))
}

func TestApplyDelta_TracksCreditAndDebitSides(t *testing.T) {
	account := newActiveAccount("1000000003", 0)

	account.ApplyDelta(big.NewInt(10000))
	account.ApplyDelta(big.NewInt(-4000))

	assert.Equal(t, big.NewInt(10000), account.CreditBalance)
	assert.Equal(t, big.NewInt(4000), account.DebitBalance)
	assert.Equal(t, big.NewInt(6000), account.Balance)
	assert.Equal(t, int64(2), account.Version)
}

func TestTransactionLegs_Transfer(t *testing.T) {
	txn := &Transaction{
		Source:        "1000000001",
		Destination:   "1000000002",
		PreciseAmount: big.NewInt(2500),
	}

	legs := txn.Legs()
	assert.Len(t, legs, 2)
	assert.Equal(t, big.NewInt(-2500), legs[0].Delta)
	assert.Equal(t, big.NewInt(2500), legs[1].Delta)
	assert.NoError(t, ValidateLegs(legs))
	assert.True(t, txn.IsTransfer())
}

func TestTransactionLegs_DepositAndWithdrawal(t *testing.T) {
	deposit := &Transaction{Destination: "1000000001", PreciseAmount: big.NewInt(100)}
	withdrawal := &Transaction{Source: "1000000001", PreciseAmount: big.NewInt(100)}

	assert.True(t, deposit.IsDeposit())
	assert.Len(t, deposit.Legs(), 1)
	assert.Equal(t, big.NewInt(100), deposit.Legs()[0].Delta)

	assert.True(t, withdrawal.IsWithdrawal())
	assert.Len(t, withdrawal.Legs(), 1)
	assert.Equal(t, big.NewInt(-100), withdrawal.Legs()[0].Delta)
}

func TestValidate(t *testing.T) {
	txn := &Transaction{
		IdempotencyKey: gofakeit.UUID(),
		Source:         "1000000001",
		Destination:    "1000000002",
		PreciseAmount:  big.NewInt(100),
		Currency:       "USD",
	}
	assert.NoError(t, txn.Validate())

	negative := *txn
	negative.PreciseAmount = big.NewInt(-1)
	assert.ErrorContains(t, negative.Validate(), "amount must be positive")

	sameAccount := *txn
	sameAccount.Destination = sameAccount.Source
	assert.ErrorContains(t, sameAccount.Validate(), "must be distinct")

	noKey := *txn
	noKey.IdempotencyKey = ""
	assert.ErrorContains(t, noKey.Validate(), "idempotency key")

	noAccounts := *txn
	noAccounts.Source = ""
	noAccounts.Destination = ""
	assert.ErrorContains(t, noAccounts.Validate(), "at least one account")
}

func TestValidateLegs_RejectsUnbalancedTransfer(t *testing.T) {
	legs := []Leg{
		{AccountNumber: "1000000001", Delta: big.NewInt(-100)},
		{AccountNumber: "1000000002", Delta: big.NewInt(99)},
	}
	assert.ErrorContains(t, ValidateLegs(legs), "sum to zero")
}

func TestApplyLegs_AllOrNothing(t *testing.T) {
	source := newActiveAccount("1000000001", 10000)
	destination := newActiveAccount("1000000002", 0)
	accounts := map[string]*Account{
		source.AccountNumber:      source,
		destination.AccountNumber: destination,
	}

	legs := []Leg{
		{AccountNumber: source.AccountNumber, Delta: big.NewInt(-15000)},
		{AccountNumber: destination.AccountNumber, Delta: big.NewInt(15000)},
	}

	err := ApplyLegs(legs, accounts)
	assert.ErrorContains(t, err, "insufficient funds")
	// Nothing moved: validation happens before the first mutation.
	assert.Equal(t, big.NewInt(10000), source.Balance)
	assert.Equal(t, big.NewInt(0), destination.Balance)
}

func TestApplyLegs_ParallelWithdrawalsSingleWinner(t *testing.T) {
	const workers = 16
	account := newActiveAccount("1000000009", 5000)
	accounts := map[string]*Account{account.AccountNumber: account}

	// The mutex stands in for the row lock the store takes: appliers run
	// serially, in whatever order the scheduler admits them.
	var mu sync.Mutex
	var wg sync.WaitGroup
	var cleared, insufficient int32

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			legs := []Leg{{AccountNumber: account.AccountNumber, Delta: big.NewInt(-5000)}}
			mu.Lock()
			err := ApplyLegs(legs, accounts)
			mu.Unlock()
			switch {
			case err == nil:
				atomic.AddInt32(&cleared, 1)
			case strings.Contains(err.Error(), "insufficient funds"):
				atomic.AddInt32(&insufficient, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), cleared)
	assert.Equal(t, int32(workers-1), insufficient)
	// big.Int deep equality is representation-sensitive; compare by value.
	assert.Zero(t, big.NewInt(0).Cmp(account.Balance))
}

func TestApplyLegs_FrozenAccountRejected(t *testing.T) {
	source := newActiveAccount("1000000001", 10000)
	destination := newActiveAccount("1000000002", 0)
	destination.Status = AccountStatusFrozen
	accounts := map[string]*Account{
		source.AccountNumber:      source,
		destination.AccountNumber: destination,
	}

	err := ApplyLegs([]Leg{
		{AccountNumber: source.AccountNumber, Delta: big.NewInt(-100)},
		{AccountNumber: destination.AccountNumber, Delta: big.NewInt(100)},
	}, accounts)
	assert.ErrorContains(t, err, "not active")
	assert.Equal(t, big.NewInt(10000), source.Balance)
}

func TestHashTxn_DeterministicOnRetry(t *testing.T) {
	txn := &Transaction{
		Amount:         "100.00",
		IdempotencyKey: "idem_abc",
		Currency:       "USD",
		Source:         "1000000001",
		Destination:    "1000000002",
	}
	assert.Equal(t, txn.HashTxn(), txn.HashTxn())

	other := *txn
	other.IdempotencyKey = "idem_xyz"
	assert.NotEqual(t, txn.HashTxn(), other.HashTxn())
}

func TestIsTerminal(t *testing.T) {
	for status, terminal := range map[string]bool{
		StatusPending:  false,
		StatusCleared:  false,
		StatusFlagged:  false,
		StatusDeclined: true,
		StatusReversed: true,
	} {
		txn := &Transaction{Status: status}
		assert.Equal(t, terminal, txn.IsTerminal(), status)
	}
}
