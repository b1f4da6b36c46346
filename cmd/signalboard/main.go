// signalboard is the relay server for the room-to-catering signaling
// board. Room dashboards and catering displays connect over websocket;
// every accepted event is broadcast to all of them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/signalboard/signalboard/internal/analytics"
	"github.com/signalboard/signalboard/internal/api"
	"github.com/signalboard/signalboard/internal/config"
	"github.com/signalboard/signalboard/internal/relay"
	"github.com/signalboard/signalboard/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	flagSet := pflag.NewFlagSet("signalboard", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	flagSet.StringVar(&cfg.Env, "env", cfg.Env, "environment (development logs to the console)")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flagSet.StringVar(&cfg.WSPath, "ws-path", cfg.WSPath, "websocket endpoint path")
	flagSet.StringVar(&cfg.RoomsFile, "rooms", cfg.RoomsFile, "YAML room catalog")
	flagSet.StringVar(&cfg.AnalyticsDriver, "analytics-driver", cfg.AnalyticsDriver, "sqlite, postgres or none")
	flagSet.StringVar(&cfg.AnalyticsDSN, "analytics-dsn", cfg.AnalyticsDSN, "sqlite path or postgres url")
	flagSet.IntVar(&cfg.RateLimit, "rate-limit", cfg.RateLimit, "events per client per window, 0 disables")
	flagSet.DurationVar(&cfg.RateLimitWindow, "rate-limit-window", cfg.RateLimitWindow, "rate limit window")
	flagSet.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "share the rate limit through redis")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	rooms, err := cfg.Rooms()
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(logger, rooms)

	store, err := analytics.Open(ctx, cfg.AnalyticsDriver, cfg.AnalyticsDSN)
	if err != nil {
		return err
	}
	var recorder *analytics.Recorder
	if store != nil {
		defer store.Close()
		recorder = analytics.NewRecorder(store, rooms, logger, cfg.AnalyticsTimeout, 0)
		hub.AddObserver(recorder)
		logger.Info().Str("driver", cfg.AnalyticsDriver).Msg("analytics enabled")
	}

	forwarder := webhook.NewForwarder(cfg.WebhookRoomActionURL, cfg.WebhookRoomStateURL, cfg.WebhookTimeout, logger)
	if forwarder.Enabled() {
		hub.AddObserver(forwarder)
	}

	var limiter relay.Limiter
	switch {
	case cfg.RateLimit == 0:
	case cfg.RedisURL != "":
		rl, err := relay.NewRedisLimiter(ctx, cfg.RedisURL, cfg.RateLimit, cfg.RateLimitWindow, logger)
		if err != nil {
			return err
		}
		defer rl.Close()
		limiter = rl
		logger.Info().Msg("rate limiting through redis")
	default:
		limiter = relay.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	}

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	go hub.Run(hubCtx)
	if recorder != nil {
		go recorder.Run(hubCtx)
	}

	router := api.NewRouter(logger, api.Deps{
		Hub:            hub,
		Rooms:          rooms,
		Analytics:      store,
		Webhook:        forwarder,
		Limiter:        limiter,
		WSPath:         cfg.WSPath,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("ws_path", cfg.WSPath).
			Int("rooms", len(rooms.Rooms())).
			Msg("starting signalboard")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server...")

	// Closing the hub ends every websocket, so Shutdown is not held up by
	// hijacked connections.
	cancelHub()
	hub.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	if recorder != nil {
		recorder.Wait()
	}
	forwarder.Wait()

	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(level), nil
}
