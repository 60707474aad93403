package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"htlcchain/native/htlc"
)

type storedOrder struct {
	ID         [32]byte
	Initiator  [20]byte
	Redeemer   [20]byte
	Funder     [20]byte
	CreatedAt  uint64
	Timelock   uint64
	Amount     *big.Int
	SecretHash [32]byte
	Fulfilled  bool
	Status     uint8
	Secret     []byte
	ResolvedAt uint64
}

func newStoredOrder(o *htlc.Order) *storedOrder {
	amount := big.NewInt(0)
	if o.Amount != nil {
		amount = new(big.Int).Set(o.Amount)
	}
	return &storedOrder{
		ID:         o.ID,
		Initiator:  o.Initiator,
		Redeemer:   o.Redeemer,
		Funder:     o.Funder,
		CreatedAt:  o.CreatedAt,
		Timelock:   o.Timelock,
		Amount:     amount,
		SecretHash: o.SecretHash,
		Fulfilled:  o.Fulfilled,
		Status:     uint8(o.Status),
		Secret:     append([]byte(nil), o.Secret...),
		ResolvedAt: o.ResolvedAt,
	}
}

func (s *storedOrder) toOrder() (*htlc.Order, error) {
	out := &htlc.Order{
		ID:         s.ID,
		Initiator:  s.Initiator,
		Redeemer:   s.Redeemer,
		Funder:     s.Funder,
		CreatedAt:  s.CreatedAt,
		Timelock:   s.Timelock,
		Amount:     big.NewInt(0),
		SecretHash: s.SecretHash,
		Fulfilled:  s.Fulfilled,
		Status:     htlc.OrderStatus(s.Status),
		ResolvedAt: s.ResolvedAt,
	}
	if s.Amount != nil {
		out.Amount = new(big.Int).Set(s.Amount)
	}
	if len(s.Secret) > 0 {
		out.Secret = append([]byte(nil), s.Secret...)
	}
	if !out.Status.Valid() {
		return nil, fmt.Errorf("state: order %x has invalid status %d", s.ID, s.Status)
	}
	if out.Fulfilled != (out.Status != htlc.OrderPending) {
		return nil, fmt.Errorf("state: order %x fulfilled flag disagrees with status", s.ID)
	}
	return out, nil
}

// HTLCPut writes the order record under its identifier.
func (m *Manager) HTLCPut(o *htlc.Order) error {
	if o == nil {
		return fmt.Errorf("state: nil order")
	}
	if !o.Status.Valid() {
		return fmt.Errorf("state: invalid order status")
	}
	encoded, err := rlp.EncodeToBytes(newStoredOrder(o))
	if err != nil {
		return err
	}
	return m.db.Put(orderKey(o.ID), encoded)
}

// HTLCGet loads the order stored under id. The boolean is false when no
// record exists.
func (m *Manager) HTLCGet(id [32]byte) (*htlc.Order, bool, error) {
	data, err := m.get(orderKey(id))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	stored := new(storedOrder)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false, fmt.Errorf("state: decode order: %w", err)
	}
	order, err := stored.toOrder()
	if err != nil {
		return nil, false, err
	}
	return order, true, nil
}
