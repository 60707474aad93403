package htlc

import (
	"math/big"
)

// SecretLength is the size in bytes of preimages drawn by NewSecret.
const SecretLength = 32

// OrderStatus tracks how an order was resolved. Pending orders are the only
// ones holding custody.
type OrderStatus uint8

const (
	OrderPending OrderStatus = iota
	OrderRedeemed
	OrderRefunded
)

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderRedeemed, OrderRefunded:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderRedeemed:
		return "redeemed"
	case OrderRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Order is a single escrow record. It is created once, resolved at most once,
// and kept afterwards as a receipt.
type Order struct {
	ID        [32]byte
	Initiator [20]byte
	Redeemer  [20]byte
	// Funder paid the escrowed amount in. It equals Initiator for direct
	// orders and names the relayer for on-behalf orders.
	Funder     [20]byte
	CreatedAt  uint64
	Timelock   uint64
	Amount     *big.Int
	SecretHash [32]byte
	Fulfilled  bool
	Status     OrderStatus
	Secret     []byte
	ResolvedAt uint64
}

// Clone returns a deep copy of the order so callers can safely mutate the
// copy without affecting the stored instance.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Amount != nil {
		clone.Amount = new(big.Int).Set(o.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if o.Secret != nil {
		clone.Secret = append([]byte(nil), o.Secret...)
	}
	return &clone
}

// ExpiresAt returns the last height at which a refund is still rejected.
func (o *Order) ExpiresAt() uint64 {
	if o == nil {
		return 0
	}
	return o.CreatedAt + o.Timelock
}

// Refundable reports whether the timelock has strictly elapsed at height.
func (o *Order) Refundable(height uint64) bool {
	return o != nil && !o.Fulfilled && height > o.ExpiresAt()
}

// CreateParams describes an order request as supplied by a caller.
type CreateParams struct {
	Redeemer   [20]byte
	Timelock   uint64
	Amount     *big.Int
	SecretHash [32]byte
}
