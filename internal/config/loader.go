package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POSVIEW_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POSVIEW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). RPC endpoints usually embed provider keys, so each chain accepts
// POSVIEW_CHAIN_<chain_id>_RPC_URL.
func applyEnvOverrides(cfg *Config) {
	// ── Chains ──
	for i := range cfg.Chains {
		ch := &cfg.Chains[i]
		prefix := fmt.Sprintf("POSVIEW_CHAIN_%d_", ch.ChainID)
		setStr(&ch.RPCURL, prefix+"RPC_URL")
		setStr(&ch.PositionContract, prefix+"POSITION_CONTRACT")
		setBool(&ch.ProbeOnStart, prefix+"PROBE_ON_START")
	}

	// ── Engine ──
	setUint64(&cfg.Engine.PageSize, "POSVIEW_ENGINE_PAGE_SIZE")
	setInt(&cfg.Engine.MaxConcurrency, "POSVIEW_ENGINE_MAX_CONCURRENCY")
	setUint64(&cfg.Engine.MaxAuctionIDs, "POSVIEW_ENGINE_MAX_AUCTION_IDS")
	setUint64(&cfg.Engine.MaxTokens, "POSVIEW_ENGINE_MAX_TOKENS")
	setStr(&cfg.Engine.AuctionMerge, "POSVIEW_ENGINE_AUCTION_MERGE")
	setInt(&cfg.Engine.DisplayPrecision, "POSVIEW_ENGINE_DISPLAY_PRECISION")
	setDuration(&cfg.Engine.CallTimeout, "POSVIEW_ENGINE_CALL_TIMEOUT")
	setDuration(&cfg.Engine.RefreshInterval, "POSVIEW_ENGINE_REFRESH_INTERVAL")
	setDuration(&cfg.Engine.IdleTimeout, "POSVIEW_ENGINE_IDLE_TIMEOUT")
	setInt(&cfg.Engine.MaxIdentities, "POSVIEW_ENGINE_MAX_IDENTITIES")

	// ── Watch ──
	setUint64(&cfg.Watch.ChainID, "POSVIEW_WATCH_CHAIN_ID")
	setStringSlice(&cfg.Watch.Owners, "POSVIEW_WATCH_OWNERS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POSVIEW_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POSVIEW_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "POSVIEW_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POSVIEW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POSVIEW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POSVIEW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POSVIEW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POSVIEW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POSVIEW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POSVIEW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POSVIEW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POSVIEW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POSVIEW_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POSVIEW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POSVIEW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POSVIEW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POSVIEW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POSVIEW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POSVIEW_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTTL, "POSVIEW_REDIS_SNAPSHOT_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POSVIEW_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POSVIEW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POSVIEW_S3_REGION")
	setStr(&cfg.S3.Bucket, "POSVIEW_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POSVIEW_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POSVIEW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POSVIEW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POSVIEW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POSVIEW_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POSVIEW_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POSVIEW_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POSVIEW_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POSVIEW_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POSVIEW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POSVIEW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POSVIEW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POSVIEW_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "POSVIEW_METRICS_ENABLED")
	setStr(&cfg.Metrics.Namespace, "POSVIEW_METRICS_NAMESPACE")

	// ── Top-level ──
	setStr(&cfg.Mode, "POSVIEW_MODE")
	setStr(&cfg.LogLevel, "POSVIEW_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
