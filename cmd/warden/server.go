package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/guildwarden/warden/automod/ai"
	"github.com/guildwarden/warden/automod/authz"
	"github.com/guildwarden/warden/automod/cachestore"
	"github.com/guildwarden/warden/automod/commands"
	"github.com/guildwarden/warden/automod/cooldown"
	"github.com/guildwarden/warden/automod/countstore"
	"github.com/guildwarden/warden/automod/dispatch"
	"github.com/guildwarden/warden/automod/engine"
	"github.com/guildwarden/warden/automod/flagstore"
	"github.com/guildwarden/warden/automod/punish"
	"github.com/guildwarden/warden/automod/scheduler"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"
	"github.com/guildwarden/warden/util"

	"github.com/PuerkitoBio/purell"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type Server struct {
	logger     *slog.Logger
	store      store.Store
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	punish     *punish.Manager
	cooldowns  *cooldown.Ledger
	gateway    *platform.Gateway
	sched      *scheduler.Parallel
	rdb        *redis.Client
	httpd      *http.Server
	config     Config
}

type Config struct {
	Logger                *slog.Logger
	APIHost               string
	GatewayHost           string
	BotToken              string
	ApplicationID         string
	PlatformRateLimit     float64
	RedisURL              string
	SlackWebhookURL       string
	LLM                   ai.Config
	AssistantQuota        int64
	Concurrency           int
	SweepInterval         time.Duration
	CooldownSweepInterval time.Duration
	LeaseTTL              time.Duration
	CommandOverrides      []string
	Bind                  string
	// bearer token for the admin API; the admin API is disabled if empty
	AdminToken string
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	if !strings.HasPrefix(config.APIHost, "http") {
		return nil, fmt.Errorf("specified platform API host must include 'http://' or 'https://'")
	}
	apiHost, err := purell.NormalizeURLString(config.APIHost, purell.FlagsSafe|purell.FlagRemoveTrailingSlash|purell.FlagRemoveDuplicateSlashes)
	if err != nil {
		return nil, fmt.Errorf("invalid platform API host: %w", err)
	}
	// zero disables the in-process sweeper, eg when "warden sweep" runs from cron instead
	if config.SweepInterval < 0 {
		return nil, fmt.Errorf("sweep interval must not be negative")
	}

	clock := util.SystemClock{}
	gst := store.NewGormStore(db, clock)
	if err := gst.Migrate(); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	rest := platform.NewRESTClient(apiHost, config.BotToken, config.ApplicationID, config.PlatformRateLimit)

	var counters countstore.CountStore
	var cache cachestore.CacheStore
	var flags flagstore.FlagStore
	var lease punish.Lease
	var rdb *redis.Client
	if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}

		counters = countstore.NewRedisCountStore(rdb)
		cache = cachestore.NewRedisCacheStore(rdb, 30*time.Minute)
		flags = flagstore.NewRedisFlagStore(rdb)
		lease = punish.NewRedisLease(rdb, punish.DefaultHolder(), config.LeaseTTL)
	} else {
		counters = countstore.NewMemCountStore(clock)
		cache = cachestore.NewMemCacheStore(5_000, 30*time.Minute)
		flags = flagstore.NewMemFlagStore()
	}

	model, err := ai.NewModel(config.LLM)
	if err != nil {
		return nil, err
	}
	classifier := ai.NewLLMClassifier(model, config.LLM)
	assistant := ai.NewAssistant(model, gst, config.LLM, config.AssistantQuota)

	s := &Server{
		logger: logger,
		store:  gst,
		rdb:    rdb,
		config: config,
	}

	// the gateway learns the bot's own user ID on READY; everything else reads it from there
	s.gateway = platform.NewGateway(config.GatewayHost, config.BotToken, &platform.GatewayCallbacks{
		Ready:         s.handleReady,
		Interaction:   s.handleInteraction,
		Message:       s.handleMessage,
		MemberJoin:    s.handleMemberJoin,
		CommunityJoin: s.handleCommunityJoin,
	})

	eng := &engine.Engine{
		Logger:     logger.With("system", "engine"),
		Store:      gst,
		Classifier: classifier,
		Platform:   rest,
		Counters:   counters,
		Cache:      cache,
		Flags:      flags,
		Identity:   s.gateway,
		Dedupe:     engine.NewDedupeCache(50_000, time.Hour),
	}
	if config.SlackWebhookURL != "" {
		eng.Notifier = engine.NewSlackNotifier(config.SlackWebhookURL)
	}
	s.engine = eng

	s.punish = punish.NewManager(gst, rest, clock, s.gateway)
	s.punish.Lease = lease

	reg := dispatch.NewRegistry()
	if err := commands.Register(reg); err != nil {
		return nil, err
	}
	for _, raw := range config.CommandOverrides {
		name, ov, err := dispatch.ParseOverride(raw)
		if err != nil {
			return nil, err
		}
		if err := reg.ApplyOverride(name, ov); err != nil {
			return nil, err
		}
		logger.Info("applied command override", "override", raw)
	}

	s.cooldowns = cooldown.NewLedger(clock, logger)
	s.dispatcher = dispatch.NewDispatcher(reg, authz.NewResolver(gst, logger), s.cooldowns, &dispatch.Services{
		Store:     gst,
		Platform:  rest,
		Assistant: assistant,
		Punish:    s.punish,
		Engine:    eng,
		Registry:  reg,
		Clock:     clock,
	})
	s.dispatcher.Logger = logger.With("system", "dispatch")

	s.sched = scheduler.NewParallel(config.Concurrency, "events")
	s.httpd = s.newAPIServer(config.Bind)

	return s, nil
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// Runs the gateway subscription, background sweepers, and HTTP API until ctx is done or one of them fails.
func (s *Server) Run(ctx context.Context, metricsListen string) error {
	go func() {
		if err := s.RunMetrics(metricsListen); err != nil {
			slog.Error("failed to start metrics endpoint", "error", err)
			panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
		}
	}()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.gateway.Run(ctx)
	})
	eg.Go(func() error {
		if s.config.SweepInterval > 0 {
			s.punish.Run(ctx, s.config.SweepInterval)
		} else {
			s.logger.Info("punishment sweeper disabled")
		}
		return nil
	})
	eg.Go(func() error {
		if s.config.CooldownSweepInterval > 0 {
			s.cooldowns.Run(ctx, s.config.CooldownSweepInterval)
		}
		return nil
	})
	eg.Go(func() error {
		s.logger.Info("starting api server", "bind", s.httpd.Addr)
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpd.Shutdown(shutdownCtx)
	})

	err := eg.Wait()
	s.sched.Shutdown()
	if s.rdb != nil {
		if cerr := s.rdb.Close(); cerr != nil {
			s.logger.Warn("closing redis client", "err", cerr)
		}
	}
	return err
}

// Punishment manager for one-shot sweeps, without the gateway or the rest of the daemon. With a lease, it takes turns with any running daemon sharing the same redis.
func newSweepManager(db *gorm.DB, apiHost, token, botUserID string, lease punish.Lease) (*punish.Manager, error) {
	clock := util.SystemClock{}
	gst := store.NewGormStore(db, clock)
	if err := gst.Migrate(); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	rest := platform.NewRESTClient(apiHost, token, "", 0)
	mgr := punish.NewManager(gst, rest, clock, engine.StaticIdentity(botUserID))
	mgr.Lease = lease
	return mgr, nil
}
