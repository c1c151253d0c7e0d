package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/positionview/internal/blob/s3"
	"github.com/alanyoungcy/positionview/internal/cache/redis"
	"github.com/alanyoungcy/positionview/internal/chain"
	"github.com/alanyoungcy/positionview/internal/config"
	"github.com/alanyoungcy/positionview/internal/domain"
	"github.com/alanyoungcy/positionview/internal/engine"
	"github.com/alanyoungcy/positionview/internal/metrics"
	"github.com/alanyoungcy/positionview/internal/notify"
	"github.com/alanyoungcy/positionview/internal/refresh"
	"github.com/alanyoungcy/positionview/internal/server/handler"
	"github.com/alanyoungcy/positionview/internal/server/ws"
	"github.com/alanyoungcy/positionview/internal/service"
	"github.com/alanyoungcy/positionview/internal/store/postgres"
)

// ChainRuntime is everything wired for one deployment.
type ChainRuntime struct {
	Config       config.ChainConfig
	Client       *ethclient.Client
	Capabilities *chain.Capabilities
	Engine       *engine.Engine
}

// Dependencies bundles everything the operating modes need. It is constructed
// by Wire and torn down by the returned cleanup function. Infrastructure
// fields are nil when the corresponding section is disabled.
type Dependencies struct {
	// Storage
	SnapshotStore   domain.SnapshotStore
	SnapshotCache   domain.SnapshotCache
	CapabilityCache domain.CapabilityCache
	Archiver        domain.Archiver

	// Coordination
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Observability
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Health   map[string]handler.Check

	// Refresh
	Chains  map[uint64]*ChainRuntime
	Hub     *ws.Hub
	Manager *refresh.Manager
	Query   *service.SnapshotQuery
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Chains: make(map[uint64]*ChainRuntime, len(cfg.Chains)),
		Health: make(map[string]handler.Check),
	}

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New(cfg.Metrics.Namespace)
	}

	// --- PostgreSQL ---
	var pgCaps domain.CapabilityCache
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.SnapshotStore = postgres.NewSnapshotStore(pool)
		pgCaps = postgres.NewCapabilityStore(pool)
		deps.Health["postgres"] = pool.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SnapshotCache = redis.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.CapabilityCache = redis.NewCapabilityCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Health["redis"] = redisClient.Ping
	}
	if deps.CapabilityCache == nil {
		deps.CapabilityCache = pgCaps
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(buildSenders(cfg.Notify), cfg.Notify.Events, notify.DefaultCooldown, logger)

	// --- Chains ---
	engineCfg, err := engineConfig(cfg.Engine)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	loaders := make(map[uint64]refresh.Loader, len(cfg.Chains))
	for _, chCfg := range cfg.Chains {
		rt, err := wireChain(ctx, chCfg, cfg.Engine, engineCfg, deps, logger)
		if rt != nil && rt.Client != nil {
			closers = append(closers, rt.Client.Close)
		}
		if err != nil {
			return fail(fmt.Errorf("wire: chain %d: %w", chCfg.ChainID, err))
		}
		deps.Chains[chCfg.ChainID] = rt
		loaders[chCfg.ChainID] = rt.Engine
	}

	// --- Refresh ---
	if cfg.Server.Enabled && !strings.EqualFold(cfg.Mode, "once") {
		deps.Hub = ws.NewHub(deps.SignalBus, cfg.Server.CORSOrigins, logger)
	}
	pubDeps := service.PublisherDeps{
		Store:    deps.SnapshotStore,
		Cache:    deps.SnapshotCache,
		Bus:      deps.SignalBus,
		Archiver: deps.Archiver,
	}
	refreshDeps := refresh.Deps{
		Reporter: service.NewFailureReporter(deps.Notifier, logger),
		Logger:   logger,
	}
	if deps.Metrics != nil {
		pubDeps.Gauge = deps.Metrics
		refreshDeps.Recorder = deps.Metrics
	}
	if deps.Hub != nil {
		pubDeps.Broadcaster = deps.Hub
	}
	refreshDeps.Publisher = service.NewSnapshotPublisher(pubDeps, logger)

	deps.Manager = refresh.NewManager(ctx, loaders, refreshDeps, refresh.WithMaxIdentities(cfg.Engine.MaxIdentities))
	closers = append(closers, deps.Manager.Stop)
	deps.Query = service.NewSnapshotQuery(deps.SnapshotCache, deps.SnapshotStore, logger)

	return deps, cleanup, nil
}

// wireChain dials the chain, restores known capabilities and builds its
// engine. The returned runtime carries the client even on failure so the
// caller can close it.
func wireChain(ctx context.Context, chCfg config.ChainConfig, ec config.EngineConfig, engineCfg engine.Config, deps *Dependencies, logger *slog.Logger) (*ChainRuntime, error) {
	pools, err := chCfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("pools: %w", err)
	}

	client, err := chain.Dial(ctx, chCfg.RPCURL, chCfg.ChainID)
	if err != nil {
		return nil, err
	}
	rt := &ChainRuntime{Config: chCfg, Client: client}

	chainLogger := logger.With(slog.Uint64("chain_id", chCfg.ChainID))
	opts := []chain.ReaderOption{chain.WithCallTimeout(ec.CallTimeout.Duration)}
	if deps.Metrics != nil {
		opts = append(opts, chain.WithObserver(deps.Metrics.ObserveCall))
	}
	reader := chain.NewReader(client, chCfg.Contract(), opts...)

	rt.Capabilities = chain.NewCapabilities(chCfg.ChainID, chCfg.Contract(), deps.CapabilityCache, chainLogger)
	if err := rt.Capabilities.Restore(ctx); err != nil {
		chainLogger.WarnContext(ctx, "capability restore failed", slog.String("error", err.Error()))
	}
	if chCfg.ProbeOnStart {
		states, err := chain.Probe(ctx, reader, rt.Capabilities)
		if err != nil {
			return rt, fmt.Errorf("probe: %w", err)
		}
		chainLogger.InfoContext(ctx, "capabilities probed", slog.Any("capabilities", states))
	}

	rt.Engine = engine.New(reader, rt.Capabilities, pools, engineCfg, chainLogger)
	return rt, nil
}

func engineConfig(ec config.EngineConfig) (engine.Config, error) {
	policy, err := engine.ParseMergePolicy(strings.ToLower(ec.AuctionMerge))
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		PageSize:         ec.PageSize,
		MaxConcurrency:   ec.MaxConcurrency,
		MaxAuctionIDs:    ec.MaxAuctionIDs,
		MaxTokens:        ec.MaxTokens,
		AuctionMerge:     policy,
		DisplayPrecision: int32(ec.DisplayPrecision),
	}, nil
}

func buildSenders(cfg config.NotifyConfig) []notify.Sender {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return senders
}

// capabilitySources exposes each chain's capability set to the HTTP layer.
func (d *Dependencies) capabilitySources() map[uint64]handler.CapabilitySource {
	out := make(map[uint64]handler.CapabilitySource, len(d.Chains))
	for id, rt := range d.Chains {
		out[id] = rt.Capabilities
	}
	return out
}
