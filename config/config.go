// Package config loads the csmtree configuration from a TOML file and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Configuration errors.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Defaults.
const (
	DefaultGW3Endpoint = "https://gw3.io"
	DefaultGateway     = "https://ipfs.io"
	DefaultTimeout     = 120 * time.Second
	DefaultCacheSize   = 16
	DefaultLookback    = 45 * 24 * time.Hour
	DefaultSlotTime    = 12 * time.Second
)

// LedgerConfig locates the fee distributor contract.
type LedgerConfig struct {
	RPCURL             string        `toml:"rpc_url"`
	DistributorAddress string        `toml:"distributor_address"`
	Lookback           time.Duration `toml:"lookback"`
	SlotTime           time.Duration `toml:"slot_time"`
}

// IPFSConfig selects how tree documents are fetched. The signed GW3 gateway
// is used when both keys are set, the public gateway otherwise.
type IPFSConfig struct {
	GW3Endpoint  string        `toml:"gw3_endpoint"`
	GW3AccessKey string        `toml:"gw3_access_key"`
	GW3SecretKey string        `toml:"gw3_secret_key"`
	Gateway      string        `toml:"gateway"`
	Timeout      time.Duration `toml:"timeout"`
	CacheSize    int           `toml:"cache_size"`
}

// UseGW3 reports whether GW3 credentials are configured.
func (c IPFSConfig) UseGW3() bool {
	return c.GW3AccessKey != "" && c.GW3SecretKey != ""
}

// LogConfig mirrors log.Options.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// MetricsConfig controls the metrics textfile.
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// OutputConfig controls where dump writes its files.
type OutputConfig struct {
	Dir          string `toml:"dir"`
	GithubOutput string `toml:"github_output"`
}

// Config aggregates all configuration sources (TOML file, environment, CLI
// flags) into a single structure.
type Config struct {
	Ledger  LedgerConfig  `toml:"ledger"`
	IPFS    IPFSConfig    `toml:"ipfs"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Output  OutputConfig  `toml:"output"`

	// ConfigFile is the path of the TOML file that was loaded, if any.
	ConfigFile string `toml:"-"`
}

// Default returns a Config with every optional field set.
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Lookback: DefaultLookback,
			SlotTime: DefaultSlotTime,
		},
		IPFS: IPFSConfig{
			GW3Endpoint: DefaultGW3Endpoint,
			Gateway:     DefaultGateway,
			Timeout:     DefaultTimeout,
			CacheSize:   DefaultCacheSize,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		Output: OutputConfig{Dir: "."},
	}
}

// Load reads a TOML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}
	cfg.ConfigFile = path
	MergeDefaults(cfg)
	return cfg, nil
}

// MergeDefaults fills zero-valued optional fields with their defaults.
func MergeDefaults(cfg *Config) {
	d := Default()
	if cfg.Ledger.Lookback == 0 {
		cfg.Ledger.Lookback = d.Ledger.Lookback
	}
	if cfg.Ledger.SlotTime == 0 {
		cfg.Ledger.SlotTime = d.Ledger.SlotTime
	}
	if cfg.IPFS.GW3Endpoint == "" {
		cfg.IPFS.GW3Endpoint = d.IPFS.GW3Endpoint
	}
	if cfg.IPFS.Gateway == "" {
		cfg.IPFS.Gateway = d.IPFS.Gateway
	}
	if cfg.IPFS.Timeout == 0 {
		cfg.IPFS.Timeout = d.IPFS.Timeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = d.Output.Dir
	}
}

// ApplyEnvironment overrides fields from the environment variables used by
// the CI workflows.
func ApplyEnvironment(cfg *Config) {
	ApplyLookup(cfg, os.LookupEnv)
}

// ApplyLookup is ApplyEnvironment over an arbitrary lookup function.
func ApplyLookup(cfg *Config, lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("RPC_URL", &cfg.Ledger.RPCURL)
	set("DISTRIBUTOR_ADDRESS", &cfg.Ledger.DistributorAddress)
	set("GW3_ACCESS_KEY", &cfg.IPFS.GW3AccessKey)
	set("GW3_SECRET_KEY", &cfg.IPFS.GW3SecretKey)
	set("IPFS_GATEWAY", &cfg.IPFS.Gateway)
	set("LOG_LEVEL", &cfg.Log.Level)
	set("GITHUB_OUTPUT", &cfg.Output.GithubOutput)
}

// Validate checks the Config for internal consistency and returns an error
// describing the first problem found.
func (c *Config) Validate() error {
	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("%w: rpc_url is not set", ErrInvalidConfig)
	}
	if _, err := url.ParseRequestURI(c.Ledger.RPCURL); err != nil {
		return fmt.Errorf("%w: rpc_url: %v", ErrInvalidConfig, err)
	}
	if !common.IsHexAddress(c.Ledger.DistributorAddress) {
		return fmt.Errorf("%w: distributor_address %q is not an address", ErrInvalidConfig, c.Ledger.DistributorAddress)
	}
	if c.Ledger.Lookback < c.Ledger.SlotTime || c.Ledger.SlotTime <= 0 {
		return fmt.Errorf("%w: lookback %s must cover at least one slot of %s", ErrInvalidConfig, c.Ledger.Lookback, c.Ledger.SlotTime)
	}
	if (c.IPFS.GW3AccessKey == "") != (c.IPFS.GW3SecretKey == "") {
		return fmt.Errorf("%w: gw3 access and secret keys must be set together", ErrInvalidConfig)
	}
	for name, raw := range map[string]string{"gw3_endpoint": c.IPFS.GW3Endpoint, "gateway": c.IPFS.Gateway} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: %s %q is not an http(s) url", ErrInvalidConfig, name, raw)
		}
	}
	if c.IPFS.Timeout <= 0 {
		return fmt.Errorf("%w: ipfs timeout must be positive", ErrInvalidConfig)
	}
	if c.IPFS.CacheSize < 0 {
		return fmt.Errorf("%w: cache_size must not be negative", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Address returns the distributor address. Call after Validate.
func (c *Config) Address() common.Address {
	return common.HexToAddress(c.Ledger.DistributorAddress)
}

// BlockRange is the number of blocks the ledger scans for distribution
// events.
func (c *Config) BlockRange() uint64 {
	if c.Ledger.SlotTime <= 0 {
		return 0
	}
	return uint64(c.Ledger.Lookback / c.Ledger.SlotTime)
}
