package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	coreerrors "htlcchain/core/errors"
	"htlcchain/core/events"
	"htlcchain/core/types"
)

// maxBalanceBits bounds balances to the uint256 range used by signed order
// digests.
const maxBalanceBits = 256

func (m *Manager) loadAccount(addr [20]byte) (*types.Account, error) {
	data, err := m.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return types.NewAccount(), nil
	}
	acc := new(types.Account)
	if err := rlp.DecodeBytes(data, acc); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return acc.Copy(), nil
}

func encodeAccount(acc *types.Account) ([]byte, error) {
	return rlp.EncodeToBytes(acc.Copy())
}

// BalanceOf returns the token balance held by addr.
func (m *Manager) BalanceOf(addr [20]byte) (*big.Int, error) {
	acc, err := m.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.Balance, nil
}

// Allowance returns how much spender may still move out of owner's balance.
func (m *Manager) Allowance(owner, spender [20]byte) (*big.Int, error) {
	return m.loadBigInt(allowanceKey(owner, spender))
}

// Approve sets the allowance of spender over owner's balance, replacing any
// previous value. A zero amount revokes the allowance.
func (m *Manager) Approve(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return coreerrors.ErrNegativeAllowance
	}
	if amount.BitLen() > maxBalanceBits {
		return coreerrors.ErrBalanceOverflow
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := allowanceKey(owner, spender)
	if amount.Sign() == 0 {
		return m.db.Delete(key)
	}
	encoded, err := encodeBigInt(amount)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// IncreaseAllowance adds amount to the allowance of spender over owner's
// balance in a single locked read-modify-write.
func (m *Manager) IncreaseAllowance(owner, spender [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return coreerrors.ErrNegativeAllowance
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := allowanceKey(owner, spender)
	current, err := m.loadBigInt(key)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(current, amount)
	if next.BitLen() > maxBalanceBits {
		return coreerrors.ErrBalanceOverflow
	}
	if next.Sign() == 0 {
		return nil
	}
	encoded, err := encodeBigInt(next)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// Credit mints amount into addr. It is used for genesis allocations only.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, err := m.loadAccount(addr)
	if err != nil {
		return err
	}
	acc.Balance.Add(acc.Balance, amount)
	if acc.Balance.BitLen() > maxBalanceBits {
		return coreerrors.ErrBalanceOverflow
	}
	encoded, err := encodeAccount(acc)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// ApplyGenesis credits every allocation in one batch and records that genesis
// ran. Applying genesis twice fails with ErrGenesisAlreadyApplied.
func (m *Manager) ApplyGenesis(allocs []types.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	applied, err := m.db.Has(genesisKey)
	if err != nil {
		return err
	}
	if applied {
		return coreerrors.ErrGenesisAlreadyApplied
	}
	balances := make(map[[20]byte]*types.Account)
	for _, alloc := range allocs {
		if alloc.Amount == nil || alloc.Amount.Sign() <= 0 {
			return fmt.Errorf("state: genesis allocation for %x: %w", alloc.Address, coreerrors.ErrInvalidAmount)
		}
		acc, ok := balances[alloc.Address]
		if !ok {
			acc, err = m.loadAccount(alloc.Address)
			if err != nil {
				return err
			}
			balances[alloc.Address] = acc
		}
		acc.Balance.Add(acc.Balance, alloc.Amount)
		if acc.Balance.BitLen() > maxBalanceBits {
			return coreerrors.ErrBalanceOverflow
		}
	}
	batch := m.db.NewBatch()
	for addr, acc := range balances {
		encoded, err := encodeAccount(acc)
		if err != nil {
			return err
		}
		batch.Put(accountKey(addr), encoded)
	}
	batch.Put(genesisKey, []byte{1})
	return batch.Write()
}

// TransferFrom moves amount from one account to another on behalf of
// spender. When spender is the source account no allowance is consumed.
// Balances and the allowance are written in one batch, so a failed write
// leaves the ledger untouched.
func (m *Manager) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := m.db.NewBatch()
	if spender != from {
		key := allowanceKey(from, spender)
		allowance, err := m.loadBigInt(key)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: have %s, need %s", coreerrors.ErrInsufficientAllowance, allowance, amount)
		}
		remaining := new(big.Int).Sub(allowance, amount)
		if remaining.Sign() == 0 {
			batch.Delete(key)
		} else {
			encoded, err := encodeBigInt(remaining)
			if err != nil {
				return err
			}
			batch.Put(key, encoded)
		}
	}

	source, err := m.loadAccount(from)
	if err != nil {
		return err
	}
	if source.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", coreerrors.ErrInsufficientBalance, source.Balance, amount)
	}
	if from != to {
		dest, err := m.loadAccount(to)
		if err != nil {
			return err
		}
		source.Balance.Sub(source.Balance, amount)
		dest.Balance.Add(dest.Balance, amount)
		if dest.Balance.BitLen() > maxBalanceBits {
			return coreerrors.ErrBalanceOverflow
		}
		encodedSource, err := encodeAccount(source)
		if err != nil {
			return err
		}
		encodedDest, err := encodeAccount(dest)
		if err != nil {
			return err
		}
		batch.Put(accountKey(from), encodedSource)
		batch.Put(accountKey(to), encodedDest)
	}

	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return err
		}
	}
	m.emitter.Emit(events.TokenTransfer{Spender: spender, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// Transfer moves amount out of from's own balance.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	return m.TransferFrom(from, from, to, amount)
}
