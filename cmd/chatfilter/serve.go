package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/whisper/chat-filter/internal/action"
	"github.com/whisper/chat-filter/internal/admin"
	"github.com/whisper/chat-filter/internal/audit"
	"github.com/whisper/chat-filter/internal/config"
	"github.com/whisper/chat-filter/internal/logging"
	"github.com/whisper/chat-filter/internal/messaging"
	"github.com/whisper/chat-filter/internal/metrics"
	"github.com/whisper/chat-filter/internal/service"
	"github.com/whisper/chat-filter/internal/violation"
)

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "run the moderation service",
	Action: runService,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config-dir",
			Usage:   "directory holding config.yml, words.yml and blacklist.yml",
			Value:   "chatfilter",
			EnvVars: []string{"CHATFILTER_CONFIG_DIR"},
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for sanctions and count snapshots (empty disables)",
			Value:   "localhost:6379",
			EnvVars: []string{"REDIS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Postgres URL for the incident audit log (empty disables)",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "address for the Prometheus /metrics endpoint (empty disables)",
			Value:   ":9090",
			EnvVars: []string{"CHATFILTER_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "sanction-timeout",
			Usage:   "how long a message waits on the ban/mute lookup before it is let through",
			Value:   service.DefaultSanctionTimeout,
			EnvVars: []string{"CHATFILTER_SANCTION_TIMEOUT"},
		},
		&cli.DurationFlag{
			Name:    "command-timeout",
			Usage:   "upper bound on running one stage's punishment commands",
			Value:   service.DefaultCommandTimeout,
			EnvVars: []string{"CHATFILTER_COMMAND_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "punish-workers",
			Usage:   "number of goroutines running punishment commands",
			Value:   service.DefaultPunishWorkers,
			EnvVars: []string{"CHATFILTER_PUNISH_WORKERS"},
		},
		&cli.IntFlag{
			Name:    "max-nodes",
			Usage:   "upper bound on matcher automaton nodes",
			EnvVars: []string{"CHATFILTER_MAX_NODES"},
		},
	},
}

func runService(cctx *cli.Context) error {
	dir := cctx.String("config-dir")
	if err := config.EnsureDefaults(dir); err != nil {
		return err
	}
	conf, err := config.Load(dir)
	if err != nil {
		return err
	}

	logOpts := logging.Options{
		Level:  conf.LogLevel(),
		Format: conf.LogFormat(),
		File:   conf.LogFile(),
	}
	if v := cctx.String("log-level"); v != "" {
		logOpts.Level = v
	}
	if v := cctx.String("log-format"); v != "" {
		logOpts.Format = v
	}
	logger, closeLog, err := logging.Setup(logOpts)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting chatfilter", "version", versioninfo.Short(), "config_dir", dir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cctx.String("nats-url")
	natsConfig.Name = "chatfilter"
	natsConfig.Logger = logger
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		return err
	}
	defer natsClient.Close()

	svcConfig := service.Config{
		Dir:       dir,
		Publisher: natsClient,
		Executor:  action.NewExecutor(nil, natsClient, logger),
		Logger:    logger,
		MaxNodes:  cctx.Int("max-nodes"),

		SanctionTimeout: cctx.Duration("sanction-timeout"),
		CommandTimeout:  cctx.Duration("command-timeout"),
		PunishWorkers:   cctx.Int("punish-workers"),
	}

	// Redis setup.
	if addr := cctx.String("redis-addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer rdb.Close()

		sanctions := action.NewStore(rdb)
		svcConfig.Sanctions = sanctions
		svcConfig.Executor = action.NewExecutor(sanctions, natsClient, logger)
		svcConfig.Snapshots = violation.NewRedisSnapshotter(rdb)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Postgres setup.
	if dbURL := cctx.String("database-url"); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := audit.Migrate(db); err != nil {
			return err
		}
		writer := audit.NewWriter(audit.NewStore(db), audit.WriterConfig{
			Logger: logger,
			OnDrop: func(n int) { metrics.AuditDropped.Add(float64(n)) },
		})
		svcConfig.Audit = writer
		g.Go(func() error { return writer.Run(ctx) })
	}

	svc, err := service.New(svcConfig)
	if err != nil {
		return err
	}
	if err := svc.Restore(ctx); err != nil {
		logger.Warn("could not restore violation counts", "err", err)
	}

	dispatcher := admin.NewDispatcher(logger)
	admin.RegisterDefaults(dispatcher, svc, versioninfo.Short())

	if err := natsClient.SubscribeModerationCheck(func(data []byte) {
		if err := svc.HandleCheck(ctx, data); err != nil {
			logger.Warn("moderation check failed", "err", err)
		}
	}); err != nil {
		return err
	}
	if err := natsClient.ServeAdmin(func(data []byte) []byte {
		return dispatcher.Dispatch(ctx, data)
	}); err != nil {
		return err
	}

	g.Go(func() error { return svc.Run(ctx) })

	if addr := cctx.String("metrics-listen"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("chatfilter running", "nats_url", natsConfig.URL)

	err = g.Wait()
	logger.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
