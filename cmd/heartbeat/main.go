package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/star/heartbeat/internal/acquire"
	"github.com/star/heartbeat/internal/api"
	"github.com/star/heartbeat/internal/auth"
	"github.com/star/heartbeat/internal/display"
	"github.com/star/heartbeat/internal/frame"
	"github.com/star/heartbeat/internal/metrics"
	"github.com/star/heartbeat/internal/stream"
	"github.com/star/heartbeat/web"
)

func main() {
	endpointFlag := pflag.StringP("endpoint", "e", "", fmt.Sprintf("acquisition node frame URL (env HEARTBEAT_ENDPOINT, default %s)", frame.DefaultEndpoint))
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	addr := os.Getenv("HEARTBEAT_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	endpoint := resolveEndpoint(*endpointFlag)
	store := frame.NewStore()
	loop := acquire.NewLoop(frame.NewFetcher(endpoint), store, acquire.Config{}, logger.With("component", "acquire"))
	disp := display.New(store)

	streamCfg := loadStreamConfig(logger)
	streamHandler := stream.NewHandler(disp, streamCfg, logger.With("component", "stream"))

	srv := api.NewServer(addr, logger, authCfg, api.Deps{
		Store:      store,
		Display:    disp,
		Streams:    streamHandler,
		Ready:      func() bool { return loop.Cycles() > 0 },
		Static:     web.Content,
		TrustProxy: streamCfg.TrustProxy,
	})

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go loop.Run(ctx)

	// Background goroutine to keep the slot age gauge current between cycles.
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.SetSlot(store.AgeSeconds())
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server", "addr", addr, "endpoint", endpoint, "auth_enabled", authCfg.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...", "open_streams", streamHandler.Active(), "slot_overwrites", store.Overwrites())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// resolveEndpoint picks the monitored URL: flag, then environment, then default.
func resolveEndpoint(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("HEARTBEAT_ENDPOINT"); v != "" {
		return v
	}
	return frame.DefaultEndpoint
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("HEARTBEAT_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("HEARTBEAT_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("HEARTBEAT_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("HEARTBEAT_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}

func loadStreamConfig(logger *slog.Logger) stream.Config {
	cfg := stream.Config{
		MaxConcurrentPerIP: 10,
		FPS:                2,
		KeepaliveInterval:  30 * time.Second,
	}

	if v := os.Getenv("HEARTBEAT_STREAM_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid HEARTBEAT_STREAM_MAX_CONCURRENT value, using default", "value", v, "default", 10)
		} else {
			cfg.MaxConcurrentPerIP = n
		}
	}

	if v := os.Getenv("HEARTBEAT_STREAM_FPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > stream.MaxFPS {
			logger.Warn("invalid HEARTBEAT_STREAM_FPS value, using default", "value", v, "default", 2)
		} else {
			cfg.FPS = n
		}
	}

	if v := os.Getenv("HEARTBEAT_STREAM_KEEPALIVE_INTERVAL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid HEARTBEAT_STREAM_KEEPALIVE_INTERVAL value, using default", "value", v, "default", 30)
		} else {
			cfg.KeepaliveInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("HEARTBEAT_TRUST_PROXY"); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid HEARTBEAT_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = trust
		}
	}

	logger.Info("stream config",
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"fps", cfg.FPS,
		"keepalive_interval_seconds", cfg.KeepaliveInterval.Seconds(),
		"trust_proxy", cfg.TrustProxy,
	)

	return cfg
}
