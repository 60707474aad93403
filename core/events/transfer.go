package events

import (
	"math/big"

	"htlcchain/core/types"
)

const TypeTokenTransfer = "token.transfer"

// TokenTransfer records a balance movement applied by the token ledger.
type TokenTransfer struct {
	Spender [20]byte
	From    [20]byte
	To      [20]byte
	Amount  *big.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"spender": formatAddress(e.Spender),
			"from":    formatAddress(e.From),
			"to":      formatAddress(e.To),
			"amount":  formatAmount(e.Amount),
		},
	}
}
