package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/livequiz/internal/auth"
	"github.com/playperu/livequiz/internal/broadcast"
	"github.com/playperu/livequiz/internal/config"
	"github.com/playperu/livequiz/internal/database"
	"github.com/playperu/livequiz/internal/devicelock"
	"github.com/playperu/livequiz/internal/handler/health"
	"github.com/playperu/livequiz/internal/migrations"
	"github.com/playperu/livequiz/internal/server"
	"github.com/playperu/livequiz/internal/session"
	"github.com/playperu/livequiz/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	deps := []health.Dependency{
		{Name: "sqlite", Checker: health.CheckFunc(db.PingContext)},
	}

	// --- Redis (device locks) ---
	var locks session.DeviceLocks = devicelock.NewMemory()
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		locks = devicelock.NewRedis(rdb)
		deps = append(deps, health.Dependency{
			Name:     "redis",
			Checker:  health.CheckFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			Optional: true,
		})
		logger.Info("connected to redis")
	}

	// --- NATS (broadcast relay) ---
	hubOpts := []broadcast.Option{broadcast.WithBuffer(cfg.SubscriberBuffer)}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("livequiz"))
		if err != nil {
			return fmt.Errorf("connecting to nats: %w", err)
		}
		defer nc.Drain()
		hubOpts = append(hubOpts, broadcast.WithRelay(broadcast.NewNATSRelay(nc, "")))
		deps = append(deps, health.Dependency{
			Name:     "nats",
			Checker:  health.CheckFunc(func(context.Context) error { return natsStatus(nc) }),
			Optional: true,
		})
		logger.Info("connected to nats", "url", nc.ConnectedUrlRedacted())
	}

	// --- Engine ---
	hub := broadcast.NewHub(logger, hubOpts...)
	engine := session.New(storage.NewSQLite(db), locks, hub, clockwork.NewRealClock(), logger, session.Options{
		JoinGracePeriod: cfg.JoinGracePeriod,
		ResumeCooldown:  cfg.ResumeCooldown,
	})
	defer engine.Close()

	tokens := auth.NewTokens(cfg.AuthSecret, cfg.ParticipantTokenTTL, nil)

	if cfg.SeedDemo {
		if err := server.SeedDemo(ctx, logger, engine, tokens); err != nil {
			return fmt.Errorf("seeding demo event: %w", err)
		}
	}

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Engine:      engine,
		Tokens:      tokens,
		Health:      health.NewHandler(logger, deps...).Routes(),
		CORSOrigins: cfg.CORSOrigins,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

func natsStatus(nc *nats.Conn) error {
	if !nc.IsConnected() {
		return fmt.Errorf("nats %s", nc.Status())
	}
	return nil
}
