package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleTOML = `
mode = "watch"
log_level = "debug"

[engine]
page_size = 50
auction_merge = "dedupe"
refresh_interval = "30s"

[watch]
chain_id = 8453
owners = ["0x00000000000000000000000000000000000000a1"]

[[chains]]
chain_id = 8453
name = "base"
rpc_url = "https://rpc.example/key"
position_contract = "0x1111111111111111111111111111111111111111"

  [[chains.pools]]
  id = 1
  name = "USDC Pool"
  ticker = "USDC"
  decimals = 6
  asset = "0x2222222222222222222222222222222222222222"
  ltv_bps = 8000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "watch", cfg.Mode)
	require.Equal(t, uint64(50), cfg.Engine.PageSize)
	require.Equal(t, 8, cfg.Engine.MaxConcurrency)
	require.Equal(t, "dedupe", cfg.Engine.AuctionMerge)
	require.Equal(t, 30*time.Second, cfg.Engine.RefreshInterval.Duration)
	require.Equal(t, 10*time.Second, cfg.Engine.CallTimeout.Duration)
	require.Equal(t, uint64(1_000), cfg.Engine.MaxTokens)
	require.Equal(t, 15*time.Minute, cfg.Engine.IdleTimeout.Duration)
	require.Equal(t, 10_000, cfg.Engine.MaxIdentities)

	ch, ok := cfg.Chain(8453)
	require.True(t, ok)
	reg, err := ch.Registry()
	require.NoError(t, err)
	pool, ok := reg.Lookup(1)
	require.True(t, ok)
	require.Equal(t, uint8(6), pool.Decimals)
	require.Equal(t, uint16(8000), pool.LTVBps)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POSVIEW_CHAIN_8453_RPC_URL", "https://override.example")
	t.Setenv("POSVIEW_ENGINE_MAX_CONCURRENCY", "3")
	t.Setenv("POSVIEW_ENGINE_CALL_TIMEOUT", "2s")
	t.Setenv("POSVIEW_ENGINE_MAX_TOKENS", "250")
	t.Setenv("POSVIEW_ENGINE_IDLE_TIMEOUT", "0s")
	t.Setenv("POSVIEW_WATCH_OWNERS", " 0x00000000000000000000000000000000000000b2 , ")
	t.Setenv("POSVIEW_REDIS_ENABLED", "true")
	t.Setenv("POSVIEW_ENGINE_PAGE_SIZE", "not-a-number")

	cfg, err := Load(writeConfig(t, sampleTOML))
	require.NoError(t, err)
	require.Equal(t, "https://override.example", cfg.Chains[0].RPCURL)
	require.Equal(t, 3, cfg.Engine.MaxConcurrency)
	require.Equal(t, 2*time.Second, cfg.Engine.CallTimeout.Duration)
	require.Equal(t, uint64(250), cfg.Engine.MaxTokens)
	require.Zero(t, cfg.Engine.IdleTimeout.Duration)
	require.Equal(t, []string{"0x00000000000000000000000000000000000000b2"}, cfg.Watch.Owners)
	require.True(t, cfg.Redis.Enabled)
	// Unparseable values leave the file value in place.
	require.Equal(t, uint64(50), cfg.Engine.PageSize)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "daemon"
	cfg.Engine.AuctionMerge = "max"
	cfg.Engine.MaxConcurrency = 0
	cfg.Chains = []ChainConfig{{
		ChainID:          1,
		PositionContract: "nope",
		Pools:            []PoolConfig{{ID: 1, LTVBps: 12_000}, {ID: 1}},
	}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	require.True(t, strings.HasPrefix(msg, "config validation failed:"))
	for _, want := range []string{
		`unknown mode "daemon"`,
		`unknown auction_merge "max"`,
		"max_concurrency must be >= 1",
		"rpc_url must not be empty",
		`position_contract "nope" is not an address`,
		"ltv_bps must be <= 10000",
		"duplicate pool id 1",
	} {
		require.Contains(t, msg, want)
	}
}

func TestValidateWatchNeedsOwners(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "once"
	cfg.Chains = []ChainConfig{{
		ChainID:          1,
		RPCURL:           "http://localhost:8545",
		PositionContract: "0x1111111111111111111111111111111111111111",
	}}
	err := cfg.Validate()
	require.ErrorContains(t, err, "owners must not be empty")
	require.ErrorContains(t, err, "chain_id 0 is not configured")

	cfg.Watch = WatchConfig{ChainID: 1, Owners: []string{"0x00000000000000000000000000000000000000a1"}}
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Chains = []ChainConfig{{ChainID: 1, RPCURL: "https://rpc.example/secret"}}
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = "tg"

	out := RedactedConfig(&cfg)
	require.Equal(t, "***", out.Chains[0].RPCURL)
	require.Equal(t, "***", out.Postgres.Password)
	require.Equal(t, "***", out.Server.APIKey)
	require.Equal(t, "***", out.Notify.TelegramToken)
	require.Empty(t, out.Redis.Password)

	require.Equal(t, "https://rpc.example/secret", cfg.Chains[0].RPCURL)
	out.Server.CORSOrigins[0] = "mutated"
	require.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
