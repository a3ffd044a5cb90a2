// Package main is the entry point for the API server.
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/gemini-relay/internal/config"
	"github.com/capitalize-ai/gemini-relay/internal/handler"
	"github.com/capitalize-ai/gemini-relay/internal/llm"
	natsclient "github.com/capitalize-ai/gemini-relay/internal/nats"
	"github.com/capitalize-ai/gemini-relay/internal/service"
	"github.com/capitalize-ai/gemini-relay/internal/session"
	"github.com/capitalize-ai/gemini-relay/internal/token"
	"github.com/capitalize-ai/gemini-relay/pkg/logger"
	"github.com/capitalize-ai/gemini-relay/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.FromEnv(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", zap.Error(err))
		return err
	}

	log.Info("starting API server",
		zap.String("provider", string(cfg.LLMProvider)),
		zap.String("api_key", token.Mask(cfg.APIKey())),
		zap.Int("max_history", cfg.MaxHistory),
		zap.Duration("session_idle_timeout", cfg.SessionIdleTimeout),
		zap.Duration("reap_interval", cfg.ReapInterval),
		zap.Int("max_sessions", cfg.MaxSessions),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "gemini-relay", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
					log.Warn("failed to shut down tracing", zap.Error(err))
				}
			}()
		}
	}

	// Connect to NATS when the event feed is enabled
	var (
		events service.EventPublisher
		pinger handler.Pinger
	)
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			return err
		}
		defer natsClient.Close()

		publisher := natsclient.NewEventPublisher(natsClient)
		if err := publisher.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			return err
		}
		events = publisher
		pinger = natsClient
	}

	// Initialize LLM client
	llmClient, err := llm.NewClient(ctx, cfg.LLMProvider, cfg.APIKey(), cfg.LLMSettings())
	if err != nil {
		log.Error("failed to create LLM client", zap.Error(err))
		return err
	}

	issuer := token.NewIssuer()
	if err := checkIssuer(issuer); err != nil {
		log.Error("entropy source unavailable", zap.Error(err))
		return err
	}

	// Initialize services
	store := session.NewStore(session.WithMaxSessions(cfg.MaxSessions))
	chatSvc := service.NewChatService(store, llmClient, events, service.Config{
		MaxHistory:  cfg.MaxHistory,
		CallTimeout: cfg.LLMTimeout,
	}, log)
	reaper := session.NewReaper(store, cfg.SessionIdleTimeout, cfg.ReapInterval,
		session.WithReaperLogger(log),
		session.WithReapListener(chatSvc.OnReap),
	)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(pinger, chatSvc)
	chatHandler := handler.NewChatHandler(chatSvc, issuer, handler.CookieConfig{
		Name:   cfg.TokenCookieName,
		MaxAge: cfg.TokenCookieMaxAge,
		Secure: cfg.CookieSecure,
	}, cfg.MaxImageBytes, log)

	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: newRouter(cfg, log, routes{
			health: healthHandler,
			chat:   chatHandler,
			reaper: reaper,
		}),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}

	log.Info("server stopped")
	return nil
}

// checkIssuer draws one token so a broken entropy source stops the process
// before it serves traffic.
func checkIssuer(issuer *token.Issuer) error {
	if _, err := issuer.TryIssue(); err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	return nil
}
