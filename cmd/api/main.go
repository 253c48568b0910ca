// Package main is the entry point for the support chat server.
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

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/capitalize-ai/support-chat/internal/config"
	"github.com/capitalize-ai/support-chat/internal/handler"
	"github.com/capitalize-ai/support-chat/internal/middleware"
	"github.com/capitalize-ai/support-chat/internal/model"
	natsclient "github.com/capitalize-ai/support-chat/internal/nats"
	"github.com/capitalize-ai/support-chat/internal/realtime"
	"github.com/capitalize-ai/support-chat/internal/service"
	"github.com/capitalize-ai/support-chat/internal/store"
	"github.com/capitalize-ai/support-chat/pkg/logger"
	"github.com/capitalize-ai/support-chat/pkg/tracing"
)

func main() {
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var log *logger.Logger
	if cfg.LogDev {
		log, err = logger.NewDevelopment(cfg.LogLevel)
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if envErr != nil {
		log.Info("no .env file found, using environment variables")
	}
	if cfg.UsesDevSecret() {
		log.Warn("JWT_SECRET not set, using the development secret")
	}
	log.Info("starting chat server", zap.String("port", cfg.ServerPort))

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx := context.Background()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "support-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the store
	db, err := store.NewSQLiteStore(cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	// Connect to NATS when the event mirror is configured
	var natsClient *natsclient.Client
	var mirrorHealth handler.Pinger
	var mirror realtime.Mirror
	if cfg.NATSURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		natsClient, err = natsclient.Connect(connectCtx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			cancel()
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer natsClient.Close()

		if err := natsclient.NewStreamManager(natsClient, cfg.NATSStreamMaxAge).EnsureStream(connectCtx); err != nil {
			cancel()
			return fmt.Errorf("ensure stream: %w", err)
		}
		cancel()

		eventMirror := natsclient.NewEventMirror(natsClient, log)
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := eventMirror.Flush(flushCtx); err != nil {
				log.Warn("event mirror not fully flushed", zap.Error(err))
			}
		}()
		mirror = eventMirror
		mirrorHealth = natsClient
	} else {
		log.Info("NATS_URL not set, event mirror disabled")
	}

	// Initialize services
	hub := realtime.NewHub(mirror, log)
	defer hub.Close()

	conversationSvc := service.NewConversationService(db, service.FirstAvailable{}, log)
	messageSvc := service.NewMessageService(db, conversationSvc, hub, log)
	receiptSvc := service.NewReceiptService(db, messageSvc, conversationSvc, hub, log)
	presence := service.NewPresenceTracker(conversationSvc, hub, db, log)

	for _, adminID := range cfg.SeedAdminIDs {
		if err := conversationSvc.RegisterIdentity(ctx, model.Identity{UserID: adminID, Role: model.RoleAdmin}); err != nil {
			return fmt.Errorf("seed admin %s: %w", adminID, err)
		}
		log.Info("seeded admin", zap.String("admin_id", adminID))
	}

	authenticator := middleware.NewAuthenticator(cfg.JWTSecret, cfg.AuthCookieName)
	gateway := realtime.NewGateway(authenticator, hub, conversationSvc, messageSvc, receiptSvc, presence, realtime.Options{
		OriginPatterns: cfg.OriginPatterns(),
		SendBuffer:     cfg.WSSendBuffer,
		PingInterval:   cfg.WSPingInterval,
		WriteTimeout:   10 * time.Second,
	}, log)

	router := handler.NewRouter(handler.RouterConfig{
		Authenticator:     authenticator,
		Conversations:     conversationSvc,
		Messages:          messageSvc,
		Presence:          presence,
		Health:            handler.NewHealthHandler(db, mirrorHealth),
		Realtime:          gateway,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, log)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown.
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	// Handlers of closed sockets still record last seen; the store must
	// outlive them.
	if err := gateway.Wait(shutdownCtx); err != nil {
		log.Warn("websocket handlers still running at shutdown", zap.Error(err))
	}
	return nil
}
