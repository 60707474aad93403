package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"htlcchain/core/state"
)

// ErrHeightOverflow is returned when advancing would wrap the block height.
var ErrHeightOverflow = errors.New("core: block height overflow")

// Blockchain is the block-height clock orders are timed against. The height
// is persisted through the state manager so it survives restarts and never
// moves backwards.
type Blockchain struct {
	state  *state.Manager
	mu     sync.RWMutex
	height uint64
	logger *slog.Logger
}

// NewBlockchain restores the last persisted height from manager.
func NewBlockchain(manager *state.Manager, logger *slog.Logger) (*Blockchain, error) {
	if manager == nil {
		return nil, fmt.Errorf("core: nil state manager")
	}
	height, err := manager.Height()
	if err != nil {
		return nil, fmt.Errorf("core: load height: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Blockchain{state: manager, height: height, logger: logger}, nil
}

// CurrentHeight returns the latest block height.
func (bc *Blockchain) CurrentHeight() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.height
}

// Advance moves the height forward by n blocks and returns the new height.
// The in-memory height only changes once the new value is persisted.
func (bc *Blockchain) Advance(n uint64) (uint64, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if n == 0 {
		return bc.height, nil
	}
	if n > math.MaxUint64-bc.height {
		return bc.height, ErrHeightOverflow
	}
	next := bc.height + n
	if err := bc.state.SetHeight(next); err != nil {
		return bc.height, fmt.Errorf("core: persist height: %w", err)
	}
	bc.height = next
	return next, nil
}

// Run produces one block per interval until ctx is cancelled. A non-positive
// interval disables automatic production and Run just waits for ctx.
func (bc *Blockchain) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			height, err := bc.Advance(1)
			if err != nil {
				bc.logger.Error("block production failed", slog.Any("error", err))
				return err
			}
			bc.logger.Debug("block produced", slog.Uint64("height", height))
		}
	}
}
