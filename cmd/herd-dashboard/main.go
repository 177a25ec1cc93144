package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"herd-monitor/dashboard/internal/auth"
	"herd-monitor/dashboard/internal/client/api"
	"herd-monitor/dashboard/internal/config"
	"herd-monitor/dashboard/internal/dashboard"
	"herd-monitor/dashboard/internal/metrics"
	"herd-monitor/dashboard/internal/pipeline"
	"herd-monitor/dashboard/internal/store"
	"herd-monitor/dashboard/internal/stream"
	httptransport "herd-monitor/dashboard/internal/transport/http"
)

const appName = "herd-dashboard"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", appName).Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	if err := run(ctx, cfg, logger); err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			fmt.Fprintln(os.Stderr, "login required: set AUTH_TOKEN or AUTH_TOKEN_FILE")
			os.Exit(2)
		}
		logger.Fatal().Err(err).Msg("Dashboard stopped with error.")
	}
	logger.Info().Msg("Dashboard stopped.")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	session, err := auth.Restore(cfg.AuthToken, cfg.AuthTokenFile, logger)
	if err != nil {
		return err
	}
	metrics.Register()

	opts := dashboard.Options{
		Config: cfg,
		Auth:   session,
		API:    api.NewClient(cfg.RESTBaseURL(), session, cfg.RequestTimeout),
		Dialer: stream.NewWebsocketDialer(cfg.RequestTimeout),
		Logger: logger,
	}

	var keyLookup auth.KeyLookup
	if cfg.RedisEnabled() {
		redisStore, err := store.NewRedisStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer redisStore.Close() //nolint:errcheck
		opts.StatePublisher = redisStore
		opts.AlertDedup = pipeline.NewSharedDedup(redisStore, cfg.AlertDedupTTL)
		opts.AlertSinks = append(opts.AlertSinks, pipeline.AlertSinkFunc(redisStore.PublishAlert))
		keyLookup = redisStore
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Mirroring device state to redis.")
	}
	if cfg.DBEnabled() {
		db, err := store.NewTimescaleStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.AlertArchive = db
		logger.Info().Str("host", cfg.DBHost).Msg("Archiving alerts.")
	}

	dash, err := dashboard.New(opts)
	if err != nil {
		return err
	}
	keys := auth.NewKeyValidator(cfg.ViewAPIKeys, keyLookup, cfg.APIKeyCacheTTL)
	server := httptransport.NewServer(":"+cfg.HTTPPort, dash, keys, logger)

	loggedOut := make(chan string, 1)
	session.OnLogout(func(reason string) {
		select {
		case loggedOut <- reason:
		default:
		}
	})

	group, gCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return dash.Run(gCtx)
	})
	group.Go(func() error {
		return server.Run(gCtx)
	})
	// A forced logout ends the session; take the API down with it.
	group.Go(func() error {
		select {
		case <-gCtx.Done():
			return nil
		case reason := <-loggedOut:
			return fmt.Errorf("%w: %s", auth.ErrNoSession, reason)
		}
	})
	return group.Wait()
}
