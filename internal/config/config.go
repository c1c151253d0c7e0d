// Package config defines the top-level configuration for the position view
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/positionview/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POSVIEW_* environment variables.
type Config struct {
	Chains   []ChainConfig  `toml:"chains"`
	Engine   EngineConfig   `toml:"engine"`
	Watch    WatchConfig    `toml:"watch"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig describes one deployment of the position contract.
type ChainConfig struct {
	ChainID          uint64       `toml:"chain_id"`
	Name             string       `toml:"name"`
	RPCURL           string       `toml:"rpc_url"`
	PositionContract string       `toml:"position_contract"`
	ProbeOnStart     bool         `toml:"probe_on_start"`
	Pools            []PoolConfig `toml:"pools"`
}

// PoolConfig is the static metadata of one lending pool.
type PoolConfig struct {
	ID       uint64 `toml:"id"`
	Name     string `toml:"name"`
	Ticker   string `toml:"ticker"`
	Decimals uint8  `toml:"decimals"`
	Asset    string `toml:"asset"`
	LTVBps   uint16 `toml:"ltv_bps"`
}

// Registry builds the pool registry of the chain.
func (c ChainConfig) Registry() (*domain.PoolRegistry, error) {
	pools := make([]domain.Pool, 0, len(c.Pools))
	for _, p := range c.Pools {
		pools = append(pools, domain.Pool{
			ID:       p.ID,
			Name:     p.Name,
			Ticker:   p.Ticker,
			Decimals: p.Decimals,
			Asset:    common.HexToAddress(p.Asset),
			LTVBps:   p.LTVBps,
		})
	}
	return domain.NewPoolRegistry(pools)
}

// Contract returns the parsed position contract address.
func (c ChainConfig) Contract() common.Address {
	return common.HexToAddress(c.PositionContract)
}

// Chain returns the configuration of chainID.
func (c *Config) Chain(chainID uint64) (ChainConfig, bool) {
	for _, ch := range c.Chains {
		if ch.ChainID == chainID {
			return ch, true
		}
	}
	return ChainConfig{}, false
}

// EngineConfig tunes refresh cycles.
type EngineConfig struct {
	PageSize         uint64   `toml:"page_size"`
	MaxConcurrency   int      `toml:"max_concurrency"`
	MaxAuctionIDs    uint64   `toml:"max_auction_ids"`
	MaxTokens        uint64   `toml:"max_tokens"`
	AuctionMerge     string   `toml:"auction_merge"`
	DisplayPrecision int      `toml:"display_precision"`
	CallTimeout      duration `toml:"call_timeout"`
	RefreshInterval  duration `toml:"refresh_interval"`
	// IdleTimeout forgets identities nobody asked about for this long. Zero
	// disables the sweep; watched owners are never forgotten.
	IdleTimeout   duration `toml:"idle_timeout"`
	MaxIdentities int      `toml:"max_identities"`
}

// WatchConfig lists the identities refreshed by the watch and once modes.
type WatchConfig struct {
	ChainID uint64   `toml:"chain_id"`
	Owners  []string `toml:"owners"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds Prometheus parameters.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			PageSize:         100,
			MaxConcurrency:   8,
			MaxAuctionIDs:    10_000,
			MaxTokens:        1_000,
			AuctionMerge:     "additive",
			DisplayPrecision: 6,
			CallTimeout:      duration{10 * time.Second},
			RefreshInterval:  duration{time.Minute},
			IdleTimeout:      duration{15 * time.Minute},
			MaxIdentities:    10_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			SnapshotTTL: duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "positionview",
			Prefix:         "snapshots",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"cycle_failed"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "positionview",
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"watch":  true,
	"once":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validMergePolicies = map[string]bool{
	"additive": true,
	"dedupe":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, watch, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chains
	if len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one chain must be configured")
	}
	seen := make(map[uint64]bool, len(c.Chains))
	for i, ch := range c.Chains {
		prefix := fmt.Sprintf("chains[%d]", i)
		if ch.ChainID == 0 {
			errs = append(errs, prefix+": chain_id must be positive")
		}
		if seen[ch.ChainID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate chain_id %d", prefix, ch.ChainID))
		}
		seen[ch.ChainID] = true
		if ch.RPCURL == "" {
			errs = append(errs, prefix+": rpc_url must not be empty")
		}
		if !common.IsHexAddress(ch.PositionContract) {
			errs = append(errs, fmt.Sprintf("%s: position_contract %q is not an address", prefix, ch.PositionContract))
		}
		pools := make(map[uint64]bool, len(ch.Pools))
		for j, p := range ch.Pools {
			pp := fmt.Sprintf("%s.pools[%d]", prefix, j)
			if p.ID == 0 {
				errs = append(errs, pp+": id must be positive")
			}
			if pools[p.ID] {
				errs = append(errs, fmt.Sprintf("%s: duplicate pool id %d", pp, p.ID))
			}
			pools[p.ID] = true
			if p.Asset != "" && !common.IsHexAddress(p.Asset) {
				errs = append(errs, fmt.Sprintf("%s: asset %q is not an address", pp, p.Asset))
			}
			if p.Decimals > 77 {
				errs = append(errs, fmt.Sprintf("%s: decimals must be <= 77, got %d", pp, p.Decimals))
			}
			if p.LTVBps > 10_000 {
				errs = append(errs, fmt.Sprintf("%s: ltv_bps must be <= 10000, got %d", pp, p.LTVBps))
			}
		}
	}

	// Engine
	if c.Engine.PageSize == 0 {
		errs = append(errs, "engine: page_size must be >= 1")
	}
	if c.Engine.MaxTokens == 0 {
		errs = append(errs, "engine: max_tokens must be >= 1")
	}
	if c.Engine.MaxConcurrency < 1 {
		errs = append(errs, "engine: max_concurrency must be >= 1")
	}
	if !validMergePolicies[strings.ToLower(c.Engine.AuctionMerge)] {
		errs = append(errs, fmt.Sprintf("engine: unknown auction_merge %q (valid: additive, dedupe)", c.Engine.AuctionMerge))
	}
	if c.Engine.DisplayPrecision < 0 || c.Engine.DisplayPrecision > 18 {
		errs = append(errs, fmt.Sprintf("engine: display_precision must be 0-18, got %d", c.Engine.DisplayPrecision))
	}
	if c.Engine.CallTimeout.Duration < 0 {
		errs = append(errs, "engine: call_timeout must not be negative")
	}
	if c.Engine.IdleTimeout.Duration < 0 {
		errs = append(errs, "engine: idle_timeout must not be negative")
	}
	if c.Engine.MaxIdentities < 1 {
		errs = append(errs, "engine: max_identities must be >= 1")
	}

	// Watch
	mode := strings.ToLower(c.Mode)
	if mode == "watch" || mode == "once" {
		if len(c.Watch.Owners) == 0 {
			errs = append(errs, "watch: owners must not be empty for mode "+c.Mode)
		}
		if _, ok := c.Chain(c.Watch.ChainID); !ok {
			errs = append(errs, fmt.Sprintf("watch: chain_id %d is not configured", c.Watch.ChainID))
		}
		if mode == "watch" && c.Engine.RefreshInterval.Duration <= 0 {
			errs = append(errs, "engine: refresh_interval must be > 0 for mode watch")
		}
	}
	for _, o := range c.Watch.Owners {
		if !common.IsHexAddress(o) {
			errs = append(errs, fmt.Sprintf("watch: owner %q is not an address", o))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled || mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
