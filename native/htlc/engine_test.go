package htlc

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	coreerrors "htlcchain/core/errors"
	"htlcchain/core/events"
	"htlcchain/crypto"
	"htlcchain/native/common"
)

type allowanceKey struct {
	owner   [20]byte
	spender [20]byte
}

type mockLedger struct {
	mu           sync.Mutex
	balances     map[[20]byte]*big.Int
	allowances   map[allowanceKey]*big.Int
	transfers    int
	failTransfer func(spender, from, to [20]byte, amount *big.Int) error
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

func (m *mockLedger) BalanceOf(addr [20]byte) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (m *mockLedger) Allowance(owner, spender [20]byte) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *mockLedger) Approve(owner, spender [20]byte, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[allowanceKey{owner, spender}] = new(big.Int).Set(amount)
	return nil
}

func (m *mockLedger) IncreaseAllowance(owner, spender [20]byte, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := allowanceKey{owner, spender}
	current := m.allowances[key]
	if current == nil {
		current = big.NewInt(0)
	}
	m.allowances[key] = new(big.Int).Add(current, amount)
	return nil
}

func (m *mockLedger) TransferFrom(spender, from, to [20]byte, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTransfer != nil {
		if err := m.failTransfer(spender, from, to, amount); err != nil {
			return err
		}
	}
	if spender != from {
		key := allowanceKey{from, spender}
		allowance := m.allowances[key]
		if allowance == nil || allowance.Cmp(amount) < 0 {
			return fmt.Errorf("insufficient allowance")
		}
		m.allowances[key] = new(big.Int).Sub(allowance, amount)
	}
	bal := m.balances[from]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.balances[from] = new(big.Int).Sub(bal, amount)
	dest := m.balances[to]
	if dest == nil {
		dest = big.NewInt(0)
	}
	m.balances[to] = new(big.Int).Add(dest, amount)
	m.transfers++
	return nil
}

func (m *mockLedger) fund(addr [20]byte, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] = big.NewInt(amount)
	m.allowances[allowanceKey{addr, EscrowAccount}] = big.NewInt(amount)
}

type mockStore struct {
	mu      sync.Mutex
	orders  map[[32]byte]*Order
	failPut func(*Order) error
}

func newMockStore() *mockStore {
	return &mockStore{orders: make(map[[32]byte]*Order)}
}

func (m *mockStore) HTLCGet(id [32]byte) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, false, nil
	}
	return order.Clone(), true, nil
}

func (m *mockStore) HTLCPut(o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		if err := m.failPut(o); err != nil {
			return err
		}
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

type capturingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.EventType()
	}
	return out
}

type testEnv struct {
	engine  *Engine
	ledger  *mockLedger
	store   *mockStore
	emitter *capturingEmitter
	height  atomic.Uint64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		engine:  NewEngine(1337),
		ledger:  newMockLedger(),
		store:   newMockStore(),
		emitter: &capturingEmitter{},
	}
	env.engine.SetLedger(env.ledger)
	env.engine.SetStore(env.store)
	env.engine.SetEmitter(env.emitter)
	env.engine.SetHeightSource(HeightFunc(env.height.Load))
	env.height.Store(1000)
	return env
}

func (env *testEnv) balance(t *testing.T, addr [20]byte) int64 {
	t.Helper()
	bal, err := env.ledger.BalanceOf(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func testSecret(fill byte) ([]byte, [32]byte) {
	secret := bytes.Repeat([]byte{fill}, SecretLength)
	return secret, HashSecret(secret)
}

var (
	alice = newTestAddress(0xA1)
	bob   = newTestAddress(0xB0)
	relay = newTestAddress(0xCC)
)

func params(redeemer [20]byte, timelock uint64, amount int64, hash [32]byte) CreateParams {
	return CreateParams{Redeemer: redeemer, Timelock: timelock, Amount: big.NewInt(amount), SecretHash: hash}
}

func TestCreateLocksFunds(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 500)
	_, hash := testSecret(1)

	id, err := env.engine.Create(alice, params(bob, 100, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != OrderID(alice, hash) {
		t.Fatalf("unexpected order id")
	}
	if got := env.balance(t, EscrowAccount); got != 100 {
		t.Fatalf("escrow balance: want 100, got %d", got)
	}
	if got := env.balance(t, alice); got != 400 {
		t.Fatalf("alice balance: want 400, got %d", got)
	}
	order, err := env.engine.Order(id)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Fulfilled || order.Status != OrderPending {
		t.Fatalf("new order must be unresolved: %+v", order)
	}
	if order.Initiator != alice || order.Funder != alice || order.Redeemer != bob {
		t.Fatalf("unexpected parties: %+v", order)
	}
	if order.CreatedAt != 1000 || order.Timelock != 100 || order.SecretHash != hash {
		t.Fatalf("unexpected order fields: %+v", order)
	}
	if got := env.emitter.types(); len(got) != 1 || got[0] != events.TypeHTLCInitiated {
		t.Fatalf("expected initiated event, got %v", got)
	}
	escrowed, err := env.engine.Escrowed()
	if err != nil || escrowed.Int64() != 100 {
		t.Fatalf("escrowed: %v %v", escrowed, err)
	}
}

func TestCreateValidation(t *testing.T) {
	_, hash := testSecret(2)
	tests := []struct {
		name   string
		caller [20]byte
		params CreateParams
		want   error
	}{
		{"zero redeemer", alice, params([20]byte{}, 10, 1, hash), ErrInvalidParty},
		{"self redeemer", alice, params(alice, 10, 1, hash), ErrInvalidParty},
		{"escrow redeemer", alice, params(EscrowAccount, 10, 1, hash), ErrInvalidParty},
		{"token ledger redeemer", alice, params(TokenLedgerAccount, 10, 1, hash), ErrInvalidParty},
		{"escrow caller", EscrowAccount, params(bob, 10, 1, hash), ErrInvalidParty},
		{"zero caller", [20]byte{}, params(bob, 10, 1, hash), ErrInvalidParty},
		{"zero amount", alice, params(bob, 10, 0, hash), ErrInvalidAmount},
		{"negative amount", alice, params(bob, 10, -5, hash), ErrInvalidAmount},
		{"nil amount", alice, CreateParams{Redeemer: bob, Timelock: 10, SecretHash: hash}, ErrInvalidAmount},
		{"oversized amount", alice, CreateParams{Redeemer: bob, Timelock: 10, Amount: new(big.Int).Lsh(big.NewInt(1), 256), SecretHash: hash}, ErrInvalidAmount},
		{"zero timelock", alice, params(bob, 0, 1, hash), ErrInvalidTimelock},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.ledger.fund(alice, 100)
			_, err := env.engine.Create(tc.caller, tc.params)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(env.store.orders) != 0 || env.ledger.transfers != 0 {
				t.Fatalf("validation failure must not change state")
			}
		})
	}
}

func TestCreateTimelockOverflow(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 10)
	_, hash := testSecret(3)
	_, err := env.engine.Create(alice, params(bob, ^uint64(0), 1, hash))
	if !errors.Is(err, ErrInvalidTimelock) {
		t.Fatalf("expected ErrInvalidTimelock, got %v", err)
	}
}

func TestCreateInsufficientFunds(t *testing.T) {
	_, hash := testSecret(4)

	env := newTestEnv(t)
	env.ledger.fund(alice, 50)
	if _, err := env.engine.Create(alice, params(bob, 10, 51, hash)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for balance, got %v", err)
	}

	env = newTestEnv(t)
	env.ledger.fund(alice, 100)
	if err := env.ledger.Approve(alice, EscrowAccount, big.NewInt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.engine.Create(alice, params(bob, 10, 11, hash)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for allowance, got %v", err)
	}
	if env.balance(t, alice) != 100 || len(env.store.orders) != 0 {
		t.Fatalf("failed create must leave state unchanged")
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 500)
	secret, hash := testSecret(5)

	id, err := env.engine.Create(alice, params(bob, 10, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _ := env.engine.Order(id)

	if _, err := env.engine.Create(alice, params(newTestAddress(0xD0), 20, 50, hash)); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	after, _ := env.engine.Order(id)
	if after.Redeemer != before.Redeemer || after.Amount.Cmp(before.Amount) != 0 || after.Timelock != before.Timelock {
		t.Fatalf("duplicate attempt modified the original order")
	}
	if env.balance(t, EscrowAccount) != 100 || env.balance(t, alice) != 400 {
		t.Fatalf("duplicate attempt moved funds")
	}

	if err := env.engine.Redeem(id, secret); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := env.engine.Create(alice, params(bob, 10, 100, hash)); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("resolved orders still own their id, got %v", err)
	}

	// A different initiator may reuse the same commitment.
	env.ledger.fund(relay, 100)
	if _, err := env.engine.Create(relay, params(bob, 10, 100, hash)); err != nil {
		t.Fatalf("other initiator with same hash: %v", err)
	}
}

func TestRedeemScenario(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	secret, hash := testSecret(6)
	h := env.height.Load()

	id, err := env.engine.Create(alice, params(bob, 100, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.height.Store(h + 1)
	if err := env.engine.Redeem(id, secret); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if env.balance(t, bob) != 100 || env.balance(t, EscrowAccount) != 0 {
		t.Fatalf("redeemer should receive the amount")
	}
	order, _ := env.engine.Order(id)
	if !order.Fulfilled || order.Status != OrderRedeemed || !bytes.Equal(order.Secret, secret) || order.ResolvedAt != h+1 {
		t.Fatalf("unexpected resolved order: %+v", order)
	}

	env.height.Store(h + 150)
	if err := env.engine.Refund(id); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
	if env.balance(t, alice) != 0 {
		t.Fatalf("refund after redeem must not pay out")
	}
	want := []string{events.TypeHTLCInitiated, events.TypeHTLCRedeemed}
	if got := env.emitter.types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events: want %v, got %v", want, got)
	}
}

func TestRedeemAfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	secret, hash := testSecret(7)
	id, err := env.engine.Create(alice, params(bob, 10, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.height.Add(500)
	if err := env.engine.Redeem(id, secret); err != nil {
		t.Fatalf("redeem after expiry must succeed: %v", err)
	}
	if env.balance(t, bob) != 100 {
		t.Fatalf("redeemer not paid")
	}
}

func TestRedeemShortPreimage(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	secret := bytes.Repeat([]byte{0x07}, 16)
	id, err := env.engine.Create(alice, params(bob, 10, 100, HashSecret(secret)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.Redeem(id, secret); err != nil {
		t.Fatalf("redeem with 16-byte preimage: %v", err)
	}
	order, err := env.engine.Order(id)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Status != OrderRedeemed || !bytes.Equal(order.Secret, secret) {
		t.Fatalf("unexpected record: status=%v secret=%x", order.Status, order.Secret)
	}
	if env.balance(t, bob) != 100 {
		t.Fatalf("redeemer not paid")
	}
}

func TestRedeemWrongSecret(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	secret, hash := testSecret(8)
	id, err := env.engine.Create(alice, params(bob, 10, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	wrong := append([]byte(nil), secret...)
	wrong[31] ^= 0x01
	cases := map[string][]byte{
		"flipped bit": wrong,
		"empty":       nil,
		"short":       secret[:31],
		"long":        append(append([]byte(nil), secret...), 0),
		"hash":        hash[:],
	}
	for name, candidate := range cases {
		if err := env.engine.Redeem(id, candidate); !errors.Is(err, ErrSecretMismatch) {
			t.Fatalf("%s: expected ErrSecretMismatch, got %v", name, err)
		}
	}
	order, _ := env.engine.Order(id)
	if order.Fulfilled || env.balance(t, EscrowAccount) != 100 || env.balance(t, bob) != 0 {
		t.Fatalf("mismatched secret changed state")
	}
}

func TestRefundBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	_, hash := testSecret(9)
	h := env.height.Load()
	id, err := env.engine.Create(alice, params(bob, 100, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, height := range []uint64{h, h + 50, h + 100} {
		env.height.Store(height)
		if err := env.engine.Refund(id); !errors.Is(err, ErrTimelockNotExpired) {
			t.Fatalf("height %d: expected ErrTimelockNotExpired, got %v", height, err)
		}
	}
	env.height.Store(h + 101)
	if err := env.engine.Refund(id); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if env.balance(t, alice) != 100 || env.balance(t, EscrowAccount) != 0 {
		t.Fatalf("initiator should be refunded")
	}
	if err := env.engine.Refund(id); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("second refund: expected ErrAlreadyFulfilled, got %v", err)
	}
	if env.balance(t, alice) != 100 || env.ledger.transfers != 2 {
		t.Fatalf("refund must pay out exactly once")
	}
}

func TestRefundThenRedeemScenario(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	secret, hash := testSecret(10)
	h := env.height.Load()
	id, err := env.engine.Create(alice, params(bob, 100, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.height.Store(h + 101)
	if err := env.engine.Refund(id); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if env.balance(t, alice) != 100 {
		t.Fatalf("initiator balance should be restored")
	}
	if err := env.engine.Redeem(id, secret); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
	order, _ := env.engine.Order(id)
	if order.Status != OrderRefunded || order.Secret != nil {
		t.Fatalf("refunded order should not carry a secret: %+v", order)
	}
}

func TestUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	id := [32]byte{0x42}
	if _, err := env.engine.Order(id); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("order: expected ErrOrderNotFound, got %v", err)
	}
	if err := env.engine.Redeem(id, make([]byte, SecretLength)); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("redeem: expected ErrOrderNotFound, got %v", err)
	}
	if err := env.engine.Refund(id); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("refund: expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderReturnsCopy(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	_, hash := testSecret(11)
	id, err := env.engine.Create(alice, params(bob, 10, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	order, _ := env.engine.Order(id)
	order.Amount.SetInt64(1)
	order.Fulfilled = true
	again, _ := env.engine.Order(id)
	if again.Amount.Int64() != 100 || again.Fulfilled {
		t.Fatalf("mutating a returned order leaked into storage")
	}
}

func TestPayoutFailureLeavesOrderUnresolved(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	secret, hash := testSecret(12)
	id, err := env.engine.Create(alice, params(bob, 10, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	env.ledger.failTransfer = func(_, _, to [20]byte, _ *big.Int) error {
		if to == bob {
			return errors.New("ledger offline")
		}
		return nil
	}
	if err := env.engine.Redeem(id, secret); err == nil {
		t.Fatalf("expected payout failure")
	}
	order, _ := env.engine.Order(id)
	if order.Fulfilled || order.Status != OrderPending || order.Secret != nil {
		t.Fatalf("failed payout must restore the unresolved order: %+v", order)
	}
	if env.balance(t, EscrowAccount) != 100 || env.balance(t, bob) != 0 {
		t.Fatalf("failed payout moved funds")
	}

	env.ledger.failTransfer = nil
	if err := env.engine.Redeem(id, secret); err != nil {
		t.Fatalf("retry redeem: %v", err)
	}
	if env.balance(t, bob) != 100 {
		t.Fatalf("redeemer not paid on retry")
	}
}

func TestRefundPayoutFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	_, hash := testSecret(13)
	id, err := env.engine.Create(alice, params(bob, 1, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.height.Add(2)
	env.ledger.failTransfer = func(_, _, _ [20]byte, _ *big.Int) error { return errors.New("boom") }
	if err := env.engine.Refund(id); err == nil {
		t.Fatalf("expected payout failure")
	}
	order, _ := env.engine.Order(id)
	if order.Fulfilled {
		t.Fatalf("fulfilled flag flipped despite failed payout")
	}
}

func TestCreateStoreFailureUnwindsFunding(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	_, hash := testSecret(14)
	env.store.failPut = func(*Order) error { return errors.New("disk full") }

	if _, err := env.engine.Create(alice, params(bob, 10, 60, hash)); err == nil {
		t.Fatalf("expected store failure")
	}
	if env.balance(t, alice) != 100 || env.balance(t, EscrowAccount) != 0 {
		t.Fatalf("funding pull was not compensated")
	}
	allowance, _ := env.ledger.Allowance(alice, EscrowAccount)
	if allowance.Int64() != 100 {
		t.Fatalf("allowance not restored, have %s", allowance)
	}
	if len(env.emitter.types()) != 0 {
		t.Fatalf("no event may be emitted for a failed create")
	}
}

func TestCreateUnwindKeepsConcurrentAllowanceSpend(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 300)
	if err := env.ledger.Approve(alice, EscrowAccount, big.NewInt(200)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, hash := testSecret(16)
	env.store.failPut = func(*Order) error {
		// another order from the same funder settles its pull first
		if err := env.ledger.TransferFrom(EscrowAccount, alice, EscrowAccount, big.NewInt(50)); err != nil {
			t.Fatalf("concurrent pull: %v", err)
		}
		return errors.New("disk full")
	}

	if _, err := env.engine.Create(alice, params(bob, 10, 100, hash)); err == nil {
		t.Fatalf("expected store failure")
	}
	allowance, _ := env.ledger.Allowance(alice, EscrowAccount)
	if allowance.Int64() != 150 {
		t.Fatalf("allowance after unwind = %s, want 150", allowance)
	}
	if env.balance(t, alice) != 250 || env.balance(t, EscrowAccount) != 50 {
		t.Fatalf("balances after unwind: alice=%d escrow=%d", env.balance(t, alice), env.balance(t, EscrowAccount))
	}
}

func TestLedgerShortfallMapsToInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	_, hash := testSecret(15)
	env.ledger.failTransfer = func(_, _, _ [20]byte, _ *big.Int) error {
		return fmt.Errorf("raced withdrawal: %w", coreerrors.ErrInsufficientBalance)
	}
	_, err := env.engine.Create(alice, params(bob, 10, 60, hash))
	if !errors.Is(err, ErrInsufficientFunds) || !errors.Is(err, coreerrors.ErrInsufficientBalance) {
		t.Fatalf("expected wrapped insufficient funds, got %v", err)
	}

	env.ledger.failTransfer = func(_, _, _ [20]byte, _ *big.Int) error { return errors.New("ledger offline") }
	_, err = env.engine.Create(alice, params(bob, 10, 60, hash))
	if err == nil || errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("other ledger failures must not be reclassified: %v", err)
	}
	if len(env.store.orders) != 0 {
		t.Fatalf("failed pulls must not store orders")
	}
}

func TestModulePaused(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	secret, hash := testSecret(16)
	id, err := env.engine.Create(alice, params(bob, 10, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pauses := common.NewPauses(map[string]bool{ModuleName: true})
	env.engine.SetPauses(pauses)

	if _, err := env.engine.Create(alice, params(bob, 10, 1, [32]byte{1})); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("create: expected ErrModulePaused, got %v", err)
	}
	if err := env.engine.Redeem(id, secret); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("redeem: expected ErrModulePaused, got %v", err)
	}
	if _, err := env.engine.Order(id); err != nil {
		t.Fatalf("reads must work while paused: %v", err)
	}
	pauses.Set(ModuleName, false)
	if err := env.engine.Redeem(id, secret); err != nil {
		t.Fatalf("redeem after resume: %v", err)
	}
}

func TestNilState(t *testing.T) {
	engine := NewEngine(1)
	if _, err := engine.Create(alice, params(bob, 1, 1, [32]byte{})); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
	if _, err := engine.Order([32]byte{}); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
	if _, err := engine.Escrowed(); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}

func TestConcurrentDuplicateCreate(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 1000)
	_, hash := testSecret(17)

	const workers = 16
	var wg sync.WaitGroup
	var ok, dup atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Create(alice, params(bob, 10, 10, hash))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrDuplicateOrder):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 || dup.Load() != workers-1 {
		t.Fatalf("want exactly one winner, got ok=%d dup=%d", ok.Load(), dup.Load())
	}
	if env.balance(t, EscrowAccount) != 10 {
		t.Fatalf("escrow should hold a single order's amount")
	}
}

func TestConcurrentRedeemAndRefund(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(alice, 100)
	secret, hash := testSecret(18)
	id, err := env.engine.Create(alice, params(bob, 1, 100, hash))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.height.Add(5)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if env.engine.Redeem(id, secret) == nil {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if env.engine.Refund(id) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("exactly one resolution may succeed, got %d", wins.Load())
	}
	if env.balance(t, alice)+env.balance(t, bob) != 100 || env.balance(t, EscrowAccount) != 0 {
		t.Fatalf("custody not released exactly once")
	}
}

func TestCreateOnBehalf(t *testing.T) {
	env := newTestEnv(t)
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := key.PubKey().Address().Array()
	env.ledger.fund(relay, 100)
	secret, hash := testSecret(19)
	p := params(bob, 10, 100, hash)

	sig, err := SignInitiate(key, env.engine.Domain(), p)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := env.engine.CreateOnBehalf(relay, signer, p, sig)
	if err != nil {
		t.Fatalf("create on behalf: %v", err)
	}
	if id != OrderID(signer, hash) {
		t.Fatalf("order id must derive from the signer")
	}
	order, _ := env.engine.Order(id)
	if order.Initiator != signer || order.Funder != relay {
		t.Fatalf("unexpected parties: %+v", order)
	}
	if env.balance(t, relay) != 0 || env.balance(t, EscrowAccount) != 100 {
		t.Fatalf("relayer should fund the order")
	}

	env.height.Add(11)
	if err := env.engine.Refund(id); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if env.balance(t, signer) != 100 || env.balance(t, relay) != 0 {
		t.Fatalf("refund must go to the signer, not the relayer")
	}
	if err := env.engine.Redeem(id, secret); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
}

func TestCreateOnBehalfRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	key, _ := crypto.GeneratePrivateKey()
	other, _ := crypto.GeneratePrivateKey()
	signer := key.PubKey().Address().Array()
	env.ledger.fund(relay, 100)
	_, hash := testSecret(20)
	p := params(bob, 10, 100, hash)

	foreign, _ := SignInitiate(other, env.engine.Domain(), p)
	tampered, _ := SignInitiate(key, env.engine.Domain(), params(bob, 10, 99, hash))
	otherChain, _ := SignInitiate(key, NewDomain(1, EscrowAccount), p)
	cases := map[string][]byte{
		"foreign key":   foreign,
		"tampered":      tampered,
		"other chain":   otherChain,
		"empty":         nil,
		"short":         make([]byte, 10),
		"garbage bytes": bytes.Repeat([]byte{0xFF}, SignatureLength),
	}
	for name, sig := range cases {
		if _, err := env.engine.CreateOnBehalf(relay, signer, p, sig); !errors.Is(err, ErrSignatureInvalid) {
			t.Fatalf("%s: expected ErrSignatureInvalid, got %v", name, err)
		}
	}
	if len(env.store.orders) != 0 || env.balance(t, relay) != 100 {
		t.Fatalf("rejected signatures must not create orders")
	}
}

func TestCreateOnBehalfUsesAuthorizer(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.fund(relay, 100)
	_, hash := testSecret(21)
	var seen [20]byte
	env.engine.SetAuthorizer(AuthorizerFunc(func(claimed [20]byte, _ [32]byte, sig []byte) bool {
		seen = claimed
		return string(sig) == "ok"
	}))
	if _, err := env.engine.CreateOnBehalf(relay, alice, params(bob, 10, 1, hash), []byte("no")); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if _, err := env.engine.CreateOnBehalf(relay, alice, params(bob, 10, 1, hash), []byte("ok")); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
	if seen != alice {
		t.Fatalf("authorizer saw wrong claimed signer")
	}
}
