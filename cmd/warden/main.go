package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guildwarden/warden/automod/ai"
	"github.com/guildwarden/warden/automod/punish"
	"github.com/guildwarden/warden/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "community moderation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string (sqlite:// or postgres://)",
			Value:   "sqlite://data/warden/warden.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
		&cli.BoolFlag{
			Name:    "dbtracing",
			Usage:   "emit OpenTelemetry spans for database queries",
			EnvVars: []string{"WARDEN_DB_TRACING"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		sweepCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "platform-api-host",
			Usage:   "method, hostname, and path prefix of the platform REST API",
			Value:   "https://discord.com/api/v10",
			EnvVars: []string{"WARDEN_PLATFORM_API_HOST"},
		},
		&cli.StringFlag{
			Name:    "platform-gateway-host",
			Usage:   "hostname of the platform realtime gateway (wss:// assumed)",
			Value:   "wss://gateway.discord.gg",
			EnvVars: []string{"WARDEN_PLATFORM_GATEWAY_HOST"},
		},
		&cli.StringFlag{
			Name:     "bot-token",
			Usage:    "bot authentication token",
			Required: true,
			EnvVars:  []string{"WARDEN_BOT_TOKEN", "DISCORD_TOKEN"},
		},
		&cli.StringFlag{
			Name:     "application-id",
			Usage:    "application ID, for interaction follow-ups",
			Required: true,
			EnvVars:  []string{"WARDEN_APPLICATION_ID", "CLIENT_ID"},
		},
		&cli.Float64Flag{
			Name:    "platform-rate-limit",
			Usage:   "max platform REST requests per second",
			Value:   40,
			EnvVars: []string{"WARDEN_PLATFORM_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL, for counters, caches, flags and the sweep lease; in-process stores are used if not set",
			EnvVars: []string{"WARDEN_REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for auto-moderation reports",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "llm-base-url",
			Usage:   "base URL of an OpenAI-compatible API; the default endpoint is used if not set",
			EnvVars: []string{"WARDEN_LLM_BASE_URL", "OPENAI_BASE_URL"},
		},
		&cli.StringFlag{
			Name:     "llm-api-token",
			Usage:    "API token for the language model",
			Required: true,
			EnvVars:  []string{"WARDEN_LLM_API_TOKEN", "OPENAI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "llm-model",
			Usage:   "model name used for classification and chat",
			Value:   "gpt-3.5-turbo",
			EnvVars: []string{"WARDEN_LLM_MODEL"},
		},
		&cli.Float64Flag{
			Name:    "llm-rate-limit",
			Usage:   "max language model requests per second",
			Value:   5,
			EnvVars: []string{"WARDEN_LLM_RATE_LIMIT"},
		},
		&cli.Int64Flag{
			Name:    "assistant-quota",
			Usage:   "max /ai requests per community per hour (0 for unlimited)",
			Value:   100,
			EnvVars: []string{"WARDEN_ASSISTANT_QUOTA"},
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "number of event-processing workers",
			Value:   20,
			EnvVars: []string{"WARDEN_CONCURRENCY"},
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "how often expired temporary punishments are reversed (0 disables the in-process sweeper)",
			Value:   time.Minute,
			EnvVars: []string{"WARDEN_SWEEP_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "cooldown-sweep-interval",
			Usage:   "how often expired command cooldowns are dropped from memory",
			Value:   5 * time.Minute,
			EnvVars: []string{"WARDEN_COOLDOWN_SWEEP_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "sweep-lease-ttl",
			Usage:   "lifetime of the redis lease held while sweeping (only with redis)",
			Value:   2 * time.Minute,
			EnvVars: []string{"WARDEN_SWEEP_LEASE_TTL"},
		},
		&cli.StringSliceFlag{
			Name:    "command-override",
			Usage:   "override a command's required role and/or cooldown, eg 'ban=admin:10s' or 'ai=:30s'",
			EnvVars: []string{"WARDEN_COMMAND_OVERRIDES"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3989",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token for the admin HTTP API (disabled if not set)",
			EnvVars: []string{"WARDEN_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3988",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger := cliutil.ConfigLogger(cctx, os.Stdout)

		shutdownOTEL := configOTEL("warden")
		defer shutdownOTEL()

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if cctx.Bool("dbtracing") {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return err
			}
		}

		llmConfig := ai.Config{
			BaseURL:   cctx.String("llm-base-url"),
			Token:     cctx.String("llm-api-token"),
			Model:     cctx.String("llm-model"),
			RateLimit: cctx.Float64("llm-rate-limit"),
		}

		srv, err := NewServer(
			db,
			Config{
				Logger:                logger,
				APIHost:               cctx.String("platform-api-host"),
				GatewayHost:           cctx.String("platform-gateway-host"),
				BotToken:              cctx.String("bot-token"),
				ApplicationID:         cctx.String("application-id"),
				PlatformRateLimit:     cctx.Float64("platform-rate-limit"),
				RedisURL:              cctx.String("redis-url"),
				SlackWebhookURL:       cctx.String("slack-webhook-url"),
				AssistantQuota:        cctx.Int64("assistant-quota"),
				Concurrency:           cctx.Int("concurrency"),
				SweepInterval:         cctx.Duration("sweep-interval"),
				CooldownSweepInterval: cctx.Duration("cooldown-sweep-interval"),
				LeaseTTL:              cctx.Duration("sweep-lease-ttl"),
				CommandOverrides:      cctx.StringSlice("command-override"),
				Bind:                  cctx.String("bind"),
				AdminToken:            cctx.String("admin-token"),
				LLM:                   llmConfig,
			},
		)
		if err != nil {
			return err
		}

		if err := srv.Run(ctx, cctx.String("metrics-listen")); err != nil {
			return fmt.Errorf("failed to run warden service: %w", err)
		}
		return nil
	},
}

// One-shot punishment sweep, eg from a cron job. Run the daemon with --sweep-interval=0 to leave sweeping to this, or pass the daemon's --redis-url so both take the same lease.
var sweepCmd = &cli.Command{
	Name:  "sweep",
	Usage: "reverse expired temporary punishments once, then exit",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "platform-api-host",
			Value:   "https://discord.com/api/v10",
			EnvVars: []string{"WARDEN_PLATFORM_API_HOST"},
		},
		&cli.StringFlag{
			Name:     "bot-token",
			Required: true,
			EnvVars:  []string{"WARDEN_BOT_TOKEN", "DISCORD_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "bot-user-id",
			Usage:   "recorded as the moderator of expiry log entries",
			EnvVars: []string{"WARDEN_BOT_USER_ID"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL; when set, the sweep lease is shared with running daemons",
			EnvVars: []string{"WARDEN_REDIS_URL"},
		},
		&cli.DurationFlag{
			Name:    "sweep-lease-ttl",
			Value:   2 * time.Minute,
			EnvVars: []string{"WARDEN_SWEEP_LEASE_TTL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := cliutil.ConfigLogger(cctx, os.Stderr)

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		var lease punish.Lease
		if cctx.String("redis-url") != "" {
			opt, err := redis.ParseURL(cctx.String("redis-url"))
			if err != nil {
				return fmt.Errorf("parsing redis URL: %v", err)
			}
			rdb := redis.NewClient(opt)
			defer rdb.Close()
			if _, err := rdb.Ping(ctx).Result(); err != nil {
				return fmt.Errorf("redis ping failed: %v", err)
			}
			lease = punish.NewRedisLease(rdb, punish.DefaultHolder(), cctx.Duration("sweep-lease-ttl"))
		} else {
			logger.Warn("no redis configured; this sweep is not coordinated with running daemons")
		}

		mgr, err := newSweepManager(db, cctx.String("platform-api-host"), cctx.String("bot-token"), cctx.String("bot-user-id"), lease)
		if err != nil {
			return err
		}
		res, err := mgr.Sweep(ctx, mgr.Clock.Now())
		if err != nil {
			return err
		}
		if res.Skipped {
			logger.Info("sweep skipped, another instance holds the lease")
		}
		logger.Info("sweep complete", "expired", res.Expired, "reversed", res.Reversed, "failed", res.Failed, "dropped", res.Dropped)
		fmt.Printf("expired=%d reversed=%d failed=%d dropped=%d\n", res.Expired, res.Reversed, res.Failed, res.Dropped)
		return nil
	},
}
