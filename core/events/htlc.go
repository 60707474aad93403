package events

import (
	"encoding/hex"
	"math/big"

	"htlcchain/core/types"
)

const (
	TypeHTLCInitiated = "htlc.initiated"
	TypeHTLCRedeemed  = "htlc.redeemed"
	TypeHTLCRefunded  = "htlc.refunded"
)

type HTLCInitiated struct {
	ID         [32]byte
	Initiator  [20]byte
	Redeemer   [20]byte
	Funder     [20]byte
	Amount     *big.Int
	SecretHash [32]byte
	CreatedAt  uint64
	Timelock   uint64
}

func (HTLCInitiated) EventType() string { return TypeHTLCInitiated }

func (e HTLCInitiated) Event() *types.Event {
	return &types.Event{
		Type: TypeHTLCInitiated,
		Attributes: map[string]string{
			"id":         formatHash(e.ID),
			"initiator":  formatAddress(e.Initiator),
			"redeemer":   formatAddress(e.Redeemer),
			"funder":     formatAddress(e.Funder),
			"amount":     formatAmount(e.Amount),
			"secretHash": formatHash(e.SecretHash),
			"createdAt":  uintToString(e.CreatedAt),
			"timelock":   uintToString(e.Timelock),
		},
	}
}

// HTLCRedeemed carries the revealed preimage so counterparties watching the
// event stream can claim the matching leg on another ledger.
type HTLCRedeemed struct {
	ID       [32]byte
	Redeemer [20]byte
	Amount   *big.Int
	Secret   []byte
	Height   uint64
}

func (HTLCRedeemed) EventType() string { return TypeHTLCRedeemed }

func (e HTLCRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypeHTLCRedeemed,
		Attributes: map[string]string{
			"id":       formatHash(e.ID),
			"redeemer": formatAddress(e.Redeemer),
			"amount":   formatAmount(e.Amount),
			"secret":   hex.EncodeToString(e.Secret),
			"height":   uintToString(e.Height),
		},
	}
}

type HTLCRefunded struct {
	ID        [32]byte
	Initiator [20]byte
	Amount    *big.Int
	Height    uint64
}

func (HTLCRefunded) EventType() string { return TypeHTLCRefunded }

func (e HTLCRefunded) Event() *types.Event {
	return &types.Event{
		Type: TypeHTLCRefunded,
		Attributes: map[string]string{
			"id":        formatHash(e.ID),
			"initiator": formatAddress(e.Initiator),
			"amount":    formatAmount(e.Amount),
			"height":    uintToString(e.Height),
		},
	}
}
