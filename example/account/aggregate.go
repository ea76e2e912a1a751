package main

import (
	"fmt"

	"github.com/go-ges/ges"
)

// Account is the aggregate root that enforces domain rules and emits events.
// It embeds ges.AggregateBase for version/pending-event bookkeeping and
// supplies only the domain-specific fold function and command handling.
type Account struct {
	ges.AggregateBase

	owner   string
	balance int64
	opened  bool
}

// NewAccount wires up the fold function against this instance's own state.
func NewAccount() *Account {
	a := &Account{}
	a.Init("", a.fold)
	return a
}

func (a *Account) fold(event any) {
	switch ev := event.(type) {
	case AccountOpened:
		a.SetStreamID("Account:" + ev.AccountID)
		a.owner = ev.Owner
		a.balance = ev.Initial
		a.opened = true
	case MoneyDeposited:
		a.balance += ev.Amount
	}
}

func (a *Account) Balance() int64 { return a.balance }

// Handle routes a command to domain logic and raises resulting events.
func (a *Account) Handle(cmd any) error {
	switch c := cmd.(type) {
	case OpenAccountCommand:
		if a.opened {
			return fmt.Errorf("account already opened")
		}
		if c.AccountID == "" {
			return fmt.Errorf("empty account id")
		}
		if c.Initial < 0 {
			return fmt.Errorf("initial balance cannot be negative")
		}
		a.Raise(AccountOpened{AccountID: c.AccountID, Owner: c.Owner, Initial: c.Initial})
		return nil

	case DepositCommand:
		if !a.opened {
			return fmt.Errorf("account not opened")
		}
		if c.Amount <= 0 {
			return fmt.Errorf("invalid deposit amount")
		}
		a.Raise(MoneyDeposited{Amount: c.Amount})
		return nil
	}

	return fmt.Errorf("unknown command type %T", cmd)
}

// ProcessSnapshot seeds state from a decoded AccountSnapshot.
func (a *Account) ProcessSnapshot(state any) error {
	snap, ok := state.(AccountSnapshot)
	if !ok {
		return fmt.Errorf("account: unexpected snapshot type %T", state)
	}
	a.SetStreamID("Account:" + snap.ID)
	a.owner = snap.Owner
	a.balance = snap.Balance
	a.opened = snap.ID != ""
	a.SetVersion(snap.Version)
	return nil
}

var _ ges.Aggregate = (*Account)(nil)
