package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/log"
)

// Storage backends
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
)

// Duration is a time.Duration written as text ("30s", "5m") in config files
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// VMConfig holds executor settings
type VMConfig struct {
	GasLimit      uint64 // Gas for runs that don't set one, and the most an RPC may request
	MaxStackDepth int    // Stack depth limit
	Journaling    bool   // Buffer writes and drop them when a run fails
	ChainID       uint64 // Value of CHAINID
}

// StorageConfig holds state backend settings
type StorageConfig struct {
	Backend string // "memory" or "leveldb"
	DataDir string // Directory for LevelDB data
}

// RateLimitConfig holds per-peer rate limiting settings
type RateLimitConfig struct {
	Enabled            bool
	RequestsPerSecond  int
	BurstSize          int
	BanDuration        Duration // How long a misbehaving peer stays banned
	MaxInvalidRequests int      // Failed requests before a ban
}

// TLSConfig holds TLS certificate settings
type TLSConfig struct {
	Enabled      bool
	CertFile     string
	KeyFile      string
	AutoGenerate bool // Generate a self-signed cert if the files don't exist
}

// RPCConfig holds gRPC server settings
type RPCConfig struct {
	Host      string
	Port      int
	Timeout   Duration // Per-request deadline, 0 disables it
	RateLimit RateLimitConfig
	TLS       TLSConfig
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string // trace, debug, info, warn, error, crit
	Color bool
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool
}

// Config is the main configuration structure
type Config struct {
	VM      VMConfig
	Storage StorageConfig
	RPC     RPCConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		VM: VMConfig{
			GasLimit:      10000000,
			MaxStackDepth: 1024,
			Journaling:    true,
			ChainID:       1,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			DataDir: "data",
		},
		RPC: RPCConfig{
			Host:    "127.0.0.1",
			Port:    9545,
			Timeout: Duration(10 * time.Second),
			RateLimit: RateLimitConfig{
				Enabled:            true,
				RequestsPerSecond:  100,
				BurstSize:          200,
				BanDuration:        Duration(5 * time.Minute),
				MaxInvalidRequests: 10,
			},
			TLS: TLSConfig{
				Enabled:      false,
				CertFile:     "certs/server.crt",
				KeyFile:      "certs/server.key",
				AutoGenerate: true,
			},
		},
		Log: LogConfig{
			Level: "info",
			Color: false,
		},
	}
}

// LoadConfig loads configuration from a TOML file. Keys missing from the
// file keep their default values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes configuration to a TOML file
func SaveConfig(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.VM.GasLimit == 0 {
		return fmt.Errorf("vm.gasLimit must be > 0")
	}
	if c.VM.MaxStackDepth < 1 || c.VM.MaxStackDepth > 1024 {
		return fmt.Errorf("vm.maxStackDepth must be between 1 and 1024")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLevelDB:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.dataDir is required for the leveldb backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.RPC.Port < 1 || c.RPC.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.RPC.Timeout < 0 {
		return fmt.Errorf("rpc.timeout must not be negative")
	}
	if c.RPC.RateLimit.Enabled {
		if c.RPC.RateLimit.RequestsPerSecond < 1 {
			return fmt.Errorf("requestsPerSecond must be >= 1")
		}
		if c.RPC.RateLimit.BurstSize < c.RPC.RateLimit.RequestsPerSecond {
			return fmt.Errorf("burstSize must be >= requestsPerSecond")
		}
	}
	if c.RPC.TLS.Enabled && !c.RPC.TLS.AutoGenerate {
		if c.RPC.TLS.CertFile == "" || c.RPC.TLS.KeyFile == "" {
			return fmt.Errorf("tls.certFile and tls.keyFile are required when autoGenerate is off")
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.RPC.Host, c.RPC.Port)
}

// NewLogger builds a terminal logger writing to w at the configured level
func (c LogConfig) NewLogger(w io.Writer) (log.Logger, error) {
	lvl, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	return log.NewLogger(log.NewTerminalHandlerWithLevel(w, lvl, c.Color)), nil
}

// ParseLevel maps a level name to its log level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "trce":
		return log.LevelTrace, nil
	case "debug", "dbug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn":
		return log.LevelWarn, nil
	case "error", "eror":
		return log.LevelError, nil
	case "crit":
		return log.LevelCrit, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", name)
	}
}
