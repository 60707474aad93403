package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	coreerrors "htlcchain/core/errors"
	"htlcchain/core/events"
	"htlcchain/core/state"
	"htlcchain/core/types"
	"htlcchain/native/common"
	"htlcchain/native/htlc"
	"htlcchain/storage"
)

// DefaultEventBuffer bounds the in-memory event history kept for RPC clients.
const DefaultEventBuffer = 1024

// NodeOptions configures the components a Node wires together.
type NodeOptions struct {
	ChainID     uint64
	Genesis     []types.Allocation
	Pauses      map[string]bool
	EventBuffer int
	Logger      *slog.Logger
	// Emitters receive every ledger and escrow event in addition to the
	// node's own recorder.
	Emitters []events.Emitter
}

// Node is the central controller, wiring storage, the token ledger, the
// height clock and the escrow engine together.
type Node struct {
	db      storage.Database
	state   *state.Manager
	chain   *Blockchain
	engine  *htlc.Engine
	pauses  *common.Pauses
	events  *events.Recorder
	chainID uint64
	logger  *slog.Logger
}

// NewNode composes a node on db. Genesis allocations are applied only the
// first time a database is opened.
func NewNode(db storage.Database, opts NodeOptions) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: nil database")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.EventBuffer
	if limit == 0 {
		limit = DefaultEventBuffer
	}

	recorder := events.NewRecorder(limit)
	emitter := events.Fanout(append([]events.Emitter{recorder}, opts.Emitters...))

	manager := state.NewManager(db)
	manager.SetEmitter(emitter)

	if len(opts.Genesis) > 0 {
		err := manager.ApplyGenesis(opts.Genesis)
		switch {
		case errors.Is(err, coreerrors.ErrGenesisAlreadyApplied):
			logger.Debug("genesis already applied")
		case err != nil:
			return nil, fmt.Errorf("core: apply genesis: %w", err)
		default:
			logger.Info("genesis applied", slog.Int("allocations", len(opts.Genesis)))
		}
	}

	chain, err := NewBlockchain(manager, logger.With(slog.String("component", "chain")))
	if err != nil {
		return nil, err
	}

	pauses := common.NewPauses(opts.Pauses)
	engine := htlc.NewEngine(opts.ChainID)
	engine.SetStore(manager)
	engine.SetLedger(manager)
	engine.SetHeightSource(chain)
	engine.SetEmitter(emitter)
	engine.SetPauses(pauses)
	engine.SetLogger(logger)

	logger.Info("node ready",
		slog.Uint64("chain_id", opts.ChainID),
		slog.Uint64("height", chain.CurrentHeight()))

	return &Node{
		db:      db,
		state:   manager,
		chain:   chain,
		engine:  engine,
		pauses:  pauses,
		events:  recorder,
		chainID: opts.ChainID,
		logger:  logger,
	}, nil
}

func (n *Node) ChainID() uint64 { return n.chainID }

// Chain returns the height clock.
func (n *Node) Chain() *Blockchain { return n.chain }

// Engine exposes the escrow engine.
func (n *Node) Engine() *htlc.Engine { return n.engine }

// Domain returns the signing domain for on-behalf orders.
func (n *Node) Domain() htlc.Domain { return n.engine.Domain() }

func (n *Node) CurrentHeight() uint64 { return n.chain.CurrentHeight() }

// AdvanceHeight produces n empty blocks at once.
func (n *Node) AdvanceHeight(blocks uint64) (uint64, error) {
	return n.chain.Advance(blocks)
}

// SetModulePaused toggles a module pause at runtime.
func (n *Node) SetModulePaused(module string, paused bool) {
	n.pauses.Set(module, paused)
	n.logger.Warn("module pause updated",
		slog.String("module", strings.ToLower(strings.TrimSpace(module))),
		slog.Bool("paused", paused))
}

func (n *Node) ModulePaused(module string) bool { return n.pauses.IsPaused(module) }

// Events returns the recent event history, oldest first.
func (n *Node) Events() []*types.Event { return n.events.Events() }

func (n *Node) HTLCCreate(caller [20]byte, p htlc.CreateParams) ([32]byte, error) {
	return n.engine.Create(caller, p)
}

func (n *Node) HTLCCreateOnBehalf(caller, initiator [20]byte, p htlc.CreateParams, sig []byte) ([32]byte, error) {
	return n.engine.CreateOnBehalf(caller, initiator, p, sig)
}

func (n *Node) HTLCRedeem(id [32]byte, secret []byte) error {
	return n.engine.Redeem(id, secret)
}

func (n *Node) HTLCRefund(id [32]byte) error {
	return n.engine.Refund(id)
}

func (n *Node) HTLCGet(id [32]byte) (*htlc.Order, error) {
	return n.engine.Order(id)
}

func (n *Node) HTLCEscrowed() (*big.Int, error) {
	return n.engine.Escrowed()
}

func (n *Node) TokenBalance(addr [20]byte) (*big.Int, error) {
	return n.state.BalanceOf(addr)
}

func (n *Node) TokenAllowance(owner, spender [20]byte) (*big.Int, error) {
	return n.state.Allowance(owner, spender)
}

// TokenApprove sets spender's allowance over owner's balance.
func (n *Node) TokenApprove(owner, spender [20]byte, amount *big.Int) error {
	return n.state.Approve(owner, spender, amount)
}

// TokenTransfer moves tokens between accounts. The escrow account is excluded
// so custody only ever moves through the engine.
func (n *Node) TokenTransfer(from, to [20]byte, amount *big.Int) error {
	if from == n.engine.Escrow() {
		return fmt.Errorf("core: escrow custody cannot be transferred directly")
	}
	return n.state.Transfer(from, to, amount)
}

// Close releases the underlying database.
func (n *Node) Close() {
	if n == nil || n.db == nil {
		return
	}
	n.db.Close()
}
