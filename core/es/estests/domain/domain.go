package domain

import (
	"encoding/json"
	"fmt"

	"github.com/streamhaus/evr-go/core/es"
)

type (
	Account struct {
		es.BaseAggregate

		Holder  string `json:"holder"`
		Balance int64  `json:"balance"`
		Closed  bool   `json:"closed"`
		NumTxns int    `json:"num_txns"`
	}

	AccountOpened struct {
		Holder  string `json:"holder"`
		Initial int64  `json:"initial,omitempty"`
	}

	MoneyDeposited struct {
		Amount int64 `json:"amount"`
	}

	MoneyWithdrawn struct {
		Amount int64 `json:"amount"`
	}

	AccountClosed struct{}
)

func (a *Account) Snapshot() (data []byte, err error) { return json.Marshal(a) }
func (a *Account) RestoreSnapshot(data []byte) error  { return json.Unmarshal(data, a) }
func (a *Account) StreamType() string                 { return "account" }
func (a *Account) Register(r es.Registrar) {
	es.RegisterEvents(r,
		es.Event[AccountOpened](),
		es.Event[MoneyDeposited](),
		es.Event[MoneyWithdrawn](),
		es.Event[AccountClosed](),
	)
}

func (a *Account) Apply(event any) error {
	switch e := event.(type) {
	case *AccountOpened:
		a.Holder = e.Holder
		a.Balance = e.Initial
		return nil
	case *MoneyDeposited:
		a.Balance += e.Amount
		a.NumTxns++
		return nil
	case *MoneyWithdrawn:
		a.Balance -= e.Amount
		a.NumTxns++
		return nil
	case *AccountClosed:
		a.Closed = true
		return nil
	}
	return a.BaseAggregate.Apply(event)
}

var _ es.Snapshottable = &Account{}

// === Commands ===

func (a *Account) Open(holder string, initial int64) error {
	if a.Holder != "" {
		return fmt.Errorf("account already open")
	}
	if initial < 0 {
		return fmt.Errorf("initial balance cannot be negative")
	}
	return es.RaiseAndApply(a, &AccountOpened{Holder: holder, Initial: initial})
}

func (a *Account) Deposit(amount int64) error {
	if err := a.canTransact(amount); err != nil {
		return err
	}
	return es.RaiseAndApply(a, &MoneyDeposited{Amount: amount})
}

func (a *Account) Withdraw(amount int64) error {
	if err := a.canTransact(amount); err != nil {
		return err
	}
	if a.Balance < amount {
		return fmt.Errorf("insufficient funds: balance=%d withdraw=%d", a.Balance, amount)
	}
	return es.RaiseAndApply(a, &MoneyWithdrawn{Amount: amount})
}

func (a *Account) Close() error {
	if a.Closed {
		return nil
	}
	return es.RaiseAndApply(a, &AccountClosed{})
}

func (a *Account) canTransact(amount int64) error {
	if a.Holder == "" {
		return fmt.Errorf("account not open")
	}
	if a.Closed {
		return fmt.Errorf("account is closed")
	}
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

func NewAccount(id string) *Account {
	a := &Account{}
	a.SetID(id)
	return a
}
