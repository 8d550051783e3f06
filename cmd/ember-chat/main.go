// ABOUTME: Entry point for the ember-chat server
// ABOUTME: Wires config, store, broker, provider, and gateway; serves until signalled

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/2389/ember-chat/internal/approval"
	"github.com/2389/ember-chat/internal/auth"
	"github.com/2389/ember-chat/internal/chat"
	"github.com/2389/ember-chat/internal/config"
	"github.com/2389/ember-chat/internal/gateway"
	"github.com/2389/ember-chat/internal/provider"
	"github.com/2389/ember-chat/internal/store"
	"github.com/2389/ember-chat/internal/stream"
	"github.com/2389/ember-chat/internal/tools"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: ember-chat <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the chat server")
		fmt.Println("  health    Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	configPath := os.Getenv("EMBER_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	broker := newBroker(ctx, cfg, logger)
	defer broker.Close()

	prov, err := provider.NewLangChainProvider(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		cfg.Provider.Model,
		logger,
	)
	if err != nil {
		return fmt.Errorf("creating provider: %w", err)
	}

	svc := chat.NewService(
		st,
		broker,
		prov,
		tools.NewDefaultRegistry(nil),
		approval.NewCoordinator(logger),
		chat.Options{
			MaxSteps:     cfg.Generation.MaxSteps,
			TurnTimeout:  cfg.Generation.TurnTimeout,
			ResumeWindow: cfg.Generation.ResumeWindow,
		},
		logger,
	)

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	gw := gateway.NewGateway(cfg.Server.HTTPAddr, svc, verifier, logger)

	logger.Info("ember-chat starting",
		"addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
		"model", cfg.Provider.Model,
		"redis", cfg.Redis.Addr != "")

	return gw.Run(ctx)
}

// newBroker connects the Redis broker when configured, wrapped so an
// unreachable Redis degrades to in-process delivery instead of failing.
func newBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) stream.Broker {
	local := stream.NewMemoryBroker(cfg.Generation.StreamTTL, logger)

	if cfg.Redis.Addr == "" {
		logger.Info("no redis configured, streams are resumable on this instance only")
		return stream.NewFallbackBroker(nil, local, logger)
	}

	redisBroker, err := stream.NewRedisBroker(ctx, &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Generation.StreamTTL, logger)
	if err != nil {
		logger.Warn("redis unavailable, streams are resumable on this instance only", "error", err)
		return stream.NewFallbackBroker(nil, local, logger)
	}

	return stream.NewFallbackBroker(redisBroker, local, logger)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func runHealth(ctx context.Context) error {
	addr := os.Getenv("EMBER_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/healthz", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var status map[string]string
	if err := json.Unmarshal(body, &status); err != nil || resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d, body %s", resp.StatusCode, body)
	}

	fmt.Printf("ok: %s\n", status["status"])
	return nil
}
