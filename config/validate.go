package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"htlcchain/core/types"
	"htlcchain/crypto"
)

var (
	// MinBlockInterval bounds how fast the local height clock may tick.
	MinBlockInterval = 10 * time.Millisecond

	supportedBackends = map[string]struct{}{
		"leveldb": {},
		"bolt":    {},
		"memory":  {},
	}
)

// ValidateConfig checks a normalised configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if _, ok := supportedBackends[cfg.StorageBackend]; !ok {
		return fmt.Errorf("config: unsupported StorageBackend %q", cfg.StorageBackend)
	}
	interval, err := cfg.BlockDuration()
	if err != nil {
		return err
	}
	if interval != 0 && interval < MinBlockInterval {
		return fmt.Errorf("config: BlockInterval %s below minimum %s", interval, MinBlockInterval)
	}
	if cfg.EventBuffer < 0 {
		return fmt.Errorf("config: EventBuffer must not be negative")
	}
	if cfg.RPC.RateLimitPerSecond < 0 {
		return fmt.Errorf("rpc: RateLimitPerSecond must not be negative")
	}
	if _, err := parseDuration("rpc.ReadTimeout", cfg.RPC.ReadTimeout); err != nil {
		return err
	}
	if _, err := parseDuration("rpc.WriteTimeout", cfg.RPC.WriteTimeout); err != nil {
		return err
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	if _, err := cfg.GenesisAllocations(); err != nil {
		return err
	}
	return nil
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", field, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", field)
	}
	return d, nil
}

// BlockDuration returns the block production interval. Zero disables the
// ticker.
func (cfg *Config) BlockDuration() (time.Duration, error) {
	return parseDuration("BlockInterval", cfg.BlockInterval)
}

// RPCTimeouts returns the parsed read and write timeouts.
func (cfg *Config) RPCTimeouts() (time.Duration, time.Duration, error) {
	read, err := parseDuration("rpc.ReadTimeout", cfg.RPC.ReadTimeout)
	if err != nil {
		return 0, 0, err
	}
	write, err := parseDuration("rpc.WriteTimeout", cfg.RPC.WriteTimeout)
	if err != nil {
		return 0, 0, err
	}
	return read, write, nil
}

// GenesisAllocations parses the configured faucet balances.
func (cfg *Config) GenesisAllocations() ([]types.Allocation, error) {
	out := make([]types.Allocation, 0, len(cfg.Genesis))
	seen := make(map[[20]byte]struct{}, len(cfg.Genesis))
	for i, alloc := range cfg.Genesis {
		addr, err := crypto.ParseAccount(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("genesis[%d]: duplicate allocation for %s", i, alloc.Address)
		}
		seen[addr] = struct{}{}
		amount, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10)
		if !ok || amount.Sign() <= 0 {
			return nil, fmt.Errorf("genesis[%d]: invalid amount %q", i, alloc.Amount)
		}
		out = append(out, types.Allocation{Address: addr, Amount: amount})
	}
	return out, nil
}
