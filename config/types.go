package config

// Logging controls the structured logger and optional file rotation.
type Logging struct {
	Level      string `toml:"Level" yaml:"Level"`
	Env        string `toml:"Env" yaml:"Env"`
	File       string `toml:"File" yaml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress" yaml:"Compress"`
}

// RPC configures the JSON-RPC listener and its admission controls.
type RPC struct {
	Address string `toml:"Address" yaml:"Address"`
	// AuthToken is a static bearer token accepted for mutating methods.
	AuthToken string `toml:"AuthToken" yaml:"AuthToken"`
	// JWTSecret enables HS256 bearer tokens; the subject names the caller.
	JWTSecret string `toml:"JWTSecret" yaml:"JWTSecret"`
	JWTIssuer string `toml:"JWTIssuer" yaml:"JWTIssuer"`
	// RateLimitPerSecond is the sustained per-source request rate. Zero
	// disables rate limiting.
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond" yaml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst" yaml:"RateLimitBurst"`
	TrustProxyHeaders  bool    `toml:"TrustProxyHeaders" yaml:"TrustProxyHeaders"`
	// EnableDevMethods exposes chain_advance.
	EnableDevMethods bool   `toml:"EnableDevMethods" yaml:"EnableDevMethods"`
	ReadTimeout      string `toml:"ReadTimeout" yaml:"ReadTimeout"`
	WriteTimeout     string `toml:"WriteTimeout" yaml:"WriteTimeout"`
	MaxBodyBytes     int64  `toml:"MaxBodyBytes" yaml:"MaxBodyBytes"`
}

// Telemetry configures OTLP export of traces and metrics.
type Telemetry struct {
	Enabled     bool    `toml:"Enabled" yaml:"Enabled"`
	Endpoint    string  `toml:"Endpoint" yaml:"Endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"Insecure"`
	Headers     string  `toml:"Headers" yaml:"Headers"`
	Traces      bool    `toml:"Traces" yaml:"Traces"`
	Metrics     bool    `toml:"Metrics" yaml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"SampleRatio"`
}

// GenesisAlloc credits Amount base units to Address the first time the data
// directory is initialised. Address may be bech32 (htlc1...) or 0x hex.
type GenesisAlloc struct {
	Address string `toml:"Address" yaml:"Address"`
	Amount  string `toml:"Amount" yaml:"Amount"`
}
