package htlc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"time"

	coreerrors "htlcchain/core/errors"
	"htlcchain/core/events"
	"htlcchain/crypto"
	"htlcchain/native/common"
	"htlcchain/observability"
	"htlcchain/observability/logging"
)

// ModuleName identifies the escrow module for pauses and account derivation.
const ModuleName = "htlc"

var (
	// EscrowAccount custodies every unresolved order's amount. It has no
	// private key; only the engine moves funds out of it.
	EscrowAccount = crypto.ModuleAddress(ModuleName)
	// TokenLedgerAccount is the token ledger's own system account.
	TokenLedgerAccount = crypto.ModuleAddress("token")
)

// Ledger is the token ledger the engine pulls funds from and pays out of.
// Each method must be atomic: a returned error means no balance changed.
type Ledger interface {
	BalanceOf(addr [20]byte) (*big.Int, error)
	Allowance(owner, spender [20]byte) (*big.Int, error)
	Approve(owner, spender [20]byte, amount *big.Int) error
	IncreaseAllowance(owner, spender [20]byte, amount *big.Int) error
	TransferFrom(spender, from, to [20]byte, amount *big.Int) error
}

// Store persists order records.
type Store interface {
	HTLCGet(id [32]byte) (*Order, bool, error)
	HTLCPut(*Order) error
}

// HeightSource reports the current block height. Heights never decrease.
type HeightSource interface {
	CurrentHeight() uint64
}

// HeightFunc adapts a function to HeightSource.
type HeightFunc func() uint64

func (f HeightFunc) CurrentHeight() uint64 { return f() }

// Engine runs the order lifecycle. Every mutating call holds the order's
// lock for the whole check, write and transfer sequence, so the fulfilled
// flag is checked and set in one step and duplicate creations collapse onto
// a single winner.
type Engine struct {
	store       Store
	ledger      Ledger
	height      HeightSource
	authorizer  Authorizer
	emitter     events.Emitter
	pauses      common.PauseView
	domain      Domain
	escrow      [20]byte
	tokenLedger [20]byte
	locks       common.KeyedMutex[[32]byte]
	logger      *slog.Logger
}

// NewEngine creates an engine for chainID with secp256k1 authorisation and a
// no-op emitter. Store, ledger and height source must be configured before
// use.
func NewEngine(chainID uint64) *Engine {
	return &Engine{
		authorizer:  SecpAuthorizer{},
		emitter:     events.NoopEmitter{},
		domain:      NewDomain(chainID, EscrowAccount),
		escrow:      EscrowAccount,
		tokenLedger: TokenLedgerAccount,
		logger:      logging.Discard(),
	}
}

func (e *Engine) SetStore(store Store) { e.store = store }

func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

func (e *Engine) SetHeightSource(height HeightSource) { e.height = height }

// SetAuthorizer swaps the signature check used by CreateOnBehalf. Passing nil
// restores secp256k1 recovery.
func (e *Engine) SetAuthorizer(auth Authorizer) {
	if auth == nil {
		e.authorizer = SecpAuthorizer{}
		return
	}
	e.authorizer = auth
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	e.logger = logger.With(slog.String("component", ModuleName))
}

// Domain returns the signing domain on-behalf signatures must target.
func (e *Engine) Domain() Domain { return e.domain }

// Escrow returns the custody account.
func (e *Engine) Escrow() [20]byte { return e.escrow }

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.ledger == nil || e.height == nil {
		return ErrNilState
	}
	return nil
}

func (e *Engine) guard() error {
	if err := e.ready(); err != nil {
		return err
	}
	return common.Guard(e.pauses, ModuleName)
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil && evt != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) record(op string, start time.Time, err error) {
	observability.HTLC().Observe(op, outcome(err), time.Since(start))
	if err != nil || e == nil || e.ledger == nil {
		return
	}
	if bal, balErr := e.ledger.BalanceOf(e.escrow); balErr == nil {
		observability.HTLC().SetEscrowed(bal)
	}
}

// outcome maps an error onto a bounded metric label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	case errors.Is(err, ErrInvalidParty):
		return "invalid_party"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidTimelock):
		return "invalid_timelock"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrDuplicateOrder):
		return "duplicate"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyFulfilled):
		return "already_fulfilled"
	case errors.Is(err, ErrSecretMismatch):
		return "secret_mismatch"
	case errors.Is(err, ErrTimelockNotExpired):
		return "timelock_active"
	case errors.Is(err, ErrSignatureInvalid):
		return "bad_signature"
	default:
		return "error"
	}
}

func ledgerError(action string, err error) error {
	if coreerrors.IsInsufficientFunds(err) {
		return fmt.Errorf("%w: %s: %w", ErrInsufficientFunds, action, err)
	}
	return fmt.Errorf("htlc: %s: %w", action, err)
}

func (e *Engine) validate(funder, initiator [20]byte, p CreateParams) error {
	if p.Amount == nil || p.Amount.Sign() <= 0 || p.Amount.BitLen() > 256 {
		return ErrInvalidAmount
	}
	if p.Timelock == 0 {
		return ErrInvalidTimelock
	}
	var zero [20]byte
	switch {
	case initiator == zero || funder == zero:
		return fmt.Errorf("%w: zero account", ErrInvalidParty)
	case initiator == e.escrow || funder == e.escrow:
		return fmt.Errorf("%w: escrow account cannot fund orders", ErrInvalidParty)
	case p.Redeemer == zero:
		return fmt.Errorf("%w: zero redeemer", ErrInvalidParty)
	case p.Redeemer == initiator:
		return fmt.Errorf("%w: redeemer equals initiator", ErrInvalidParty)
	case p.Redeemer == e.escrow:
		return fmt.Errorf("%w: redeemer is the escrow account", ErrInvalidParty)
	case p.Redeemer == e.tokenLedger:
		return fmt.Errorf("%w: redeemer is the token ledger", ErrInvalidParty)
	}
	return nil
}

// Create locks p.Amount from caller for p.Redeemer. The caller is both the
// funder and the recorded initiator.
func (e *Engine) Create(caller [20]byte, p CreateParams) (id [32]byte, err error) {
	start := time.Now()
	defer func() { e.record("create", start, err) }()
	if err := e.guard(); err != nil {
		return [32]byte{}, err
	}
	if err := e.validate(caller, caller, p); err != nil {
		return [32]byte{}, err
	}
	return e.create(caller, caller, p)
}

// CreateOnBehalf locks p.Amount funded by the relaying caller for an order
// whose initiator is the signer of sig. The signature must cover the typed
// digest of p under the engine's domain.
func (e *Engine) CreateOnBehalf(caller, initiator [20]byte, p CreateParams, sig []byte) (id [32]byte, err error) {
	start := time.Now()
	defer func() { e.record("create_on_behalf", start, err) }()
	if err := e.guard(); err != nil {
		return [32]byte{}, err
	}
	if err := e.validate(caller, initiator, p); err != nil {
		return [32]byte{}, err
	}
	digest, err := TypedDigest(e.domain, p)
	if err != nil {
		return [32]byte{}, ErrInvalidAmount
	}
	if !e.authorizer.Authorize(initiator, digest, sig) {
		return [32]byte{}, ErrSignatureInvalid
	}
	return e.create(caller, initiator, p)
}

func (e *Engine) create(funder, initiator [20]byte, p CreateParams) ([32]byte, error) {
	id := OrderID(initiator, p.SecretHash)
	release := e.locks.Lock(id)
	defer release()

	if _, exists, err := e.store.HTLCGet(id); err != nil {
		return [32]byte{}, fmt.Errorf("htlc: load order: %w", err)
	} else if exists {
		return [32]byte{}, ErrDuplicateOrder
	}

	height := e.height.CurrentHeight()
	if p.Timelock > math.MaxUint64-height {
		return [32]byte{}, fmt.Errorf("%w: expiry overflows block height", ErrInvalidTimelock)
	}

	balance, err := e.ledger.BalanceOf(funder)
	if err != nil {
		return [32]byte{}, ledgerError("read balance", err)
	}
	if balance.Cmp(p.Amount) < 0 {
		return [32]byte{}, fmt.Errorf("%w: balance %s below %s", ErrInsufficientFunds, balance, p.Amount)
	}
	allowance, err := e.ledger.Allowance(funder, e.escrow)
	if err != nil {
		return [32]byte{}, ledgerError("read allowance", err)
	}
	if allowance.Cmp(p.Amount) < 0 {
		return [32]byte{}, fmt.Errorf("%w: allowance %s below %s", ErrInsufficientFunds, allowance, p.Amount)
	}

	amount := new(big.Int).Set(p.Amount)
	if err := e.ledger.TransferFrom(e.escrow, funder, e.escrow, amount); err != nil {
		return [32]byte{}, ledgerError("pull funds", err)
	}

	order := &Order{
		ID:         id,
		Initiator:  initiator,
		Redeemer:   p.Redeemer,
		Funder:     funder,
		CreatedAt:  height,
		Timelock:   p.Timelock,
		Amount:     amount,
		SecretHash: p.SecretHash,
		Status:     OrderPending,
	}
	if err := e.store.HTLCPut(order); err != nil {
		storeErr := fmt.Errorf("htlc: store order: %w", err)
		return [32]byte{}, errors.Join(storeErr, e.unwindFunding(funder, amount))
	}

	e.emit(events.HTLCInitiated{
		ID:         id,
		Initiator:  initiator,
		Redeemer:   p.Redeemer,
		Funder:     funder,
		Amount:     new(big.Int).Set(amount),
		SecretHash: p.SecretHash,
		CreatedAt:  height,
		Timelock:   p.Timelock,
	})
	e.logger.Info("htlc order initiated",
		slog.String("order_id", hex.EncodeToString(id[:])),
		slog.String("secret_hash", hex.EncodeToString(p.SecretHash[:])),
		slog.String("amount", amount.String()),
		slog.Uint64("height", height),
		slog.Bool("on_behalf", funder != initiator))
	return id, nil
}

// unwindFunding returns a pulled amount to the funder and adds the consumed
// allowance back. Spends by other orders in between are preserved.
func (e *Engine) unwindFunding(funder [20]byte, amount *big.Int) error {
	var errs []error
	if err := e.ledger.TransferFrom(e.escrow, e.escrow, funder, amount); err != nil {
		errs = append(errs, fmt.Errorf("htlc: return funds: %w", err))
	} else if err := e.ledger.IncreaseAllowance(funder, e.escrow, amount); err != nil {
		errs = append(errs, fmt.Errorf("htlc: restore allowance: %w", err))
	}
	if len(errs) > 0 {
		e.logger.Error("htlc funding rollback failed", slog.Any("error", errors.Join(errs...)))
	}
	return errors.Join(errs...)
}

func (e *Engine) loadOrder(id [32]byte) (*Order, error) {
	order, ok, err := e.store.HTLCGet(id)
	if err != nil {
		return nil, fmt.Errorf("htlc: load order: %w", err)
	}
	if !ok || order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// Redeem pays the order's amount to its redeemer when secret hashes to the
// stored commitment. Any caller may redeem and expiry does not block it.
func (e *Engine) Redeem(id [32]byte, secret []byte) (err error) {
	start := time.Now()
	defer func() { e.record("redeem", start, err) }()
	if err := e.guard(); err != nil {
		return err
	}
	release := e.locks.Lock(id)
	defer release()

	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if order.Fulfilled {
		return ErrAlreadyFulfilled
	}
	if !VerifySecret(secret, order.SecretHash) {
		return ErrSecretMismatch
	}

	height := e.height.CurrentHeight()
	resolved := order.Clone()
	resolved.Fulfilled = true
	resolved.Status = OrderRedeemed
	resolved.Secret = append([]byte(nil), secret...)
	resolved.ResolvedAt = height
	if err := e.settle(order, resolved, order.Redeemer); err != nil {
		return err
	}

	e.emit(events.HTLCRedeemed{
		ID:       id,
		Redeemer: order.Redeemer,
		Amount:   new(big.Int).Set(order.Amount),
		Secret:   append([]byte(nil), secret...),
		Height:   height,
	})
	e.logger.Info("htlc order redeemed",
		slog.String("order_id", hex.EncodeToString(id[:])),
		logging.MaskField("secret", hex.EncodeToString(secret)),
		slog.Uint64("height", height))
	return nil
}

// Refund returns the order's amount to its initiator once the current height
// is strictly past CreatedAt+Timelock. Any caller may trigger it.
func (e *Engine) Refund(id [32]byte) (err error) {
	start := time.Now()
	defer func() { e.record("refund", start, err) }()
	if err := e.guard(); err != nil {
		return err
	}
	release := e.locks.Lock(id)
	defer release()

	order, err := e.loadOrder(id)
	if err != nil {
		return err
	}
	if order.Fulfilled {
		return ErrAlreadyFulfilled
	}
	height := e.height.CurrentHeight()
	if !order.Refundable(height) {
		return fmt.Errorf("%w: refundable after height %d, now %d", ErrTimelockNotExpired, order.ExpiresAt(), height)
	}

	resolved := order.Clone()
	resolved.Fulfilled = true
	resolved.Status = OrderRefunded
	resolved.ResolvedAt = height
	if err := e.settle(order, resolved, order.Initiator); err != nil {
		return err
	}

	e.emit(events.HTLCRefunded{
		ID:        id,
		Initiator: order.Initiator,
		Amount:    new(big.Int).Set(order.Amount),
		Height:    height,
	})
	e.logger.Info("htlc order refunded",
		slog.String("order_id", hex.EncodeToString(id[:])),
		slog.Uint64("height", height))
	return nil
}

// settle flips the order to resolved and pays out of custody. A failed payout
// restores the unresolved record so the order can be retried.
func (e *Engine) settle(pending, resolved *Order, recipient [20]byte) error {
	if err := e.store.HTLCPut(resolved); err != nil {
		return fmt.Errorf("htlc: store order: %w", err)
	}
	if err := e.ledger.TransferFrom(e.escrow, e.escrow, recipient, pending.Amount); err != nil {
		payoutErr := ledgerError("pay out", err)
		if rbErr := e.store.HTLCPut(pending); rbErr != nil {
			e.logger.Error("htlc order rollback failed",
				slog.String("order_id", hex.EncodeToString(pending.ID[:])),
				slog.Any("error", rbErr))
			return errors.Join(payoutErr, fmt.Errorf("htlc: restore order: %w", rbErr))
		}
		return payoutErr
	}
	return nil
}

// Order returns a copy of the record stored under id.
func (e *Engine) Order(id [32]byte) (*Order, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	order, err := e.loadOrder(id)
	if err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// Escrowed returns the balance currently held in custody, which equals the sum
// of all unresolved order amounts.
func (e *Engine) Escrowed() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	bal, err := e.ledger.BalanceOf(e.escrow)
	if err != nil {
		return nil, ledgerError("read escrow balance", err)
	}
	return new(big.Int).Set(bal), nil
}
