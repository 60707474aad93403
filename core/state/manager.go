package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"htlcchain/core/events"
	"htlcchain/storage"
)

// Manager reads and writes chain state on top of a key-value store. Ledger
// mutations are serialised by an internal lock and each one lands as a single
// storage batch.
type Manager struct {
	db      storage.Database
	mu      sync.Mutex
	emitter events.Emitter
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures where ledger events are published. Passing nil
// discards them.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

var (
	accountPrefix   = []byte("account:")
	allowancePrefix = []byte("allowance:")
	orderPrefix     = []byte("htlc/order:")
	heightKey       = ethcrypto.Keccak256([]byte("chain/height"))
	genesisKey      = ethcrypto.Keccak256([]byte("chain/genesis"))
)

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr [20]byte) []byte {
	return prefixedKey(accountPrefix, addr[:])
}

func allowanceKey(owner, spender [20]byte) []byte {
	return prefixedKey(allowancePrefix, owner[:], spender[:])
}

func orderKey(id [32]byte) []byte {
	return prefixedKey(orderPrefix, id[:])
}

// get returns the raw value at key, or nil when the key is absent.
func (m *Manager) get(key []byte) ([]byte, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	data, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, fmt.Errorf("state: decode integer: %w", err)
	}
	return value, nil
}

func encodeBigInt(v *big.Int) ([]byte, error) {
	if v == nil {
		v = big.NewInt(0)
	}
	return rlp.EncodeToBytes(v)
}

// Height returns the persisted block height.
func (m *Manager) Height() (uint64, error) {
	value, err := m.loadBigInt(heightKey)
	if err != nil {
		return 0, err
	}
	if !value.IsUint64() {
		return 0, fmt.Errorf("state: height out of range")
	}
	return value.Uint64(), nil
}

// SetHeight persists the block height.
func (m *Manager) SetHeight(height uint64) error {
	encoded, err := encodeBigInt(new(big.Int).SetUint64(height))
	if err != nil {
		return err
	}
	return m.db.Put(heightKey, encoded)
}
