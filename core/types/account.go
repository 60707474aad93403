package types

import "math/big"

// Account is the persisted token ledger entry for a single address.
type Account struct {
	Balance *big.Int `json:"balance"`
}

// NewAccount returns an account with a zero balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Copy returns a deep copy of the account. A nil receiver yields a zero
// balance account so callers never observe a nil Balance.
func (a *Account) Copy() *Account {
	if a == nil || a.Balance == nil {
		return NewAccount()
	}
	return &Account{Balance: new(big.Int).Set(a.Balance)}
}

// Allocation credits an initial balance to an address at genesis.
type Allocation struct {
	Address [20]byte
	Amount  *big.Int
}
