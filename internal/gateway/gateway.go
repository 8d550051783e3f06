// ABOUTME: HTTP server lifecycle for the chat API
// ABOUTME: Route registration, auth middleware wiring, and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/ember-chat/internal/auth"
	"github.com/2389/ember-chat/internal/chat"
)

// Gateway serves the chat HTTP API.
type Gateway struct {
	svc      *chat.Service
	verifier auth.TokenVerifier
	logger   *slog.Logger
	server   *http.Server
}

// NewGateway builds the gateway with all routes registered behind the auth
// middleware. Pass nil logger for default.
func NewGateway(addr string, svc *chat.Service, verifier auth.TokenVerifier, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		svc:      svc,
		verifier: verifier,
		logger:   logger.With("component", "gateway"),
	}

	authMiddleware := auth.HTTPAuthMiddleware(verifier, logger)

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", authMiddleware(http.HandlerFunc(g.handleChat)))
	mux.Handle("GET /api/chat/{id}/stream", authMiddleware(http.HandlerFunc(g.handleStream)))
	mux.Handle("GET /api/chat/{id}/messages", authMiddleware(http.HandlerFunc(g.handleMessages)))
	mux.Handle("POST /api/chat/{id}/stop", authMiddleware(http.HandlerFunc(g.handleStop)))
	mux.Handle("DELETE /api/chat/{id}", authMiddleware(http.HandlerFunc(g.handleDeleteChat)))
	mux.Handle("GET /api/chats", authMiddleware(http.HandlerFunc(g.handleListChats)))
	mux.Handle("POST /api/approvals", authMiddleware(http.HandlerFunc(g.handleApproval)))
	mux.HandleFunc("GET /healthz", g.handleHealth)

	g.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Handler exposes the routed handler for tests.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully:
// first the listener stops accepting, then in-flight turns get a bounded
// window to finish persisting.
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("http server listening", "addr", g.server.Addr)
		if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		g.logger.Info("shutting down")
		if err := g.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return g.svc.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
