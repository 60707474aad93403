package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir        string          `toml:"DataDir" yaml:"DataDir"`
	StorageBackend string          `toml:"StorageBackend" yaml:"StorageBackend"`
	ChainID        uint64          `toml:"ChainID" yaml:"ChainID"`
	BlockInterval  string          `toml:"BlockInterval" yaml:"BlockInterval"`
	MetricsAddress string          `toml:"MetricsAddress" yaml:"MetricsAddress"`
	EventBuffer    int             `toml:"EventBuffer" yaml:"EventBuffer"`
	Logging        Logging         `toml:"logging" yaml:"logging"`
	RPC            RPC             `toml:"rpc" yaml:"rpc"`
	Telemetry      Telemetry       `toml:"telemetry" yaml:"telemetry"`
	Pauses         map[string]bool `toml:"pauses" yaml:"pauses"`
	Genesis        []GenesisAlloc  `toml:"genesis" yaml:"genesis"`
}

// Default returns the configuration written when no file exists yet.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads the configuration from the given path. TOML is assumed unless the
// file ends in .yaml or .yml. A missing file is created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
		}
	}

	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./htlc-data"
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = "leveldb"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 31337
	}
	if strings.TrimSpace(cfg.BlockInterval) == "" {
		cfg.BlockInterval = "1s"
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = 1024
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if strings.TrimSpace(cfg.RPC.Address) == "" {
		cfg.RPC.Address = ":8080"
	}
	if cfg.RPC.RateLimitPerSecond > 0 && cfg.RPC.RateLimitBurst <= 0 {
		cfg.RPC.RateLimitBurst = int(cfg.RPC.RateLimitPerSecond) + 1
	}
	if strings.TrimSpace(cfg.RPC.ReadTimeout) == "" {
		cfg.RPC.ReadTimeout = "15s"
	}
	if strings.TrimSpace(cfg.RPC.WriteTimeout) == "" {
		cfg.RPC.WriteTimeout = "15s"
	}
	if cfg.RPC.MaxBodyBytes <= 0 {
		cfg.RPC.MaxBodyBytes = 1 << 20
	}
	if cfg.Telemetry.Enabled && !cfg.Telemetry.Traces && !cfg.Telemetry.Metrics {
		cfg.Telemetry.Traces = true
		cfg.Telemetry.Metrics = true
	}
	if cfg.Pauses == nil {
		cfg.Pauses = map[string]bool{}
	}
	normalized := make(map[string]bool, len(cfg.Pauses))
	for module, paused := range cfg.Pauses {
		normalized[strings.ToLower(strings.TrimSpace(module))] = paused
	}
	cfg.Pauses = normalized
	if cfg.Genesis == nil {
		cfg.Genesis = []GenesisAlloc{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
