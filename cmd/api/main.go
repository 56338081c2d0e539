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

	"github.com/zhouzirui/taptalk/backend/internal/config"
	"github.com/zhouzirui/taptalk/backend/internal/handler"
	"github.com/zhouzirui/taptalk/backend/internal/logger"
	"github.com/zhouzirui/taptalk/backend/internal/service/chat"
	"github.com/zhouzirui/taptalk/backend/internal/service/completion"
	"github.com/zhouzirui/taptalk/backend/internal/store"
)

func main() {
	if err := run(); err != nil {
		logger.Log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Log.Warnf("failed to load .env file: %v", err)
		logger.Log.Info("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.Log.Level)
	log := logger.Log

	// Open conversation store
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Errorf("failed to close store: %v", err)
		}
	}()

	// Initialize completion gateway
	completer, err := completion.New(cfg.Gateway, log)
	if err != nil {
		return fmt.Errorf("failed to initialize %s gateway: %w", cfg.Gateway.Provider, err)
	}

	defaultCredential := cfg.Gateway.DefaultCredential()
	if defaultCredential == "" {
		log.Warnf("no default credential for provider %s; requests must carry an apiKey", cfg.Gateway.Provider)
	}

	chatService := chat.NewService(st, completer, chat.Options{
		DefaultCredential:     defaultCredential,
		RejectUnknownSessions: cfg.Chat.UnknownSessionPolicy == config.PolicyReject,
	}, log)

	router := handler.NewRouter(chatService, cfg.CORS.AllowedOrigins, log)

	if err := startServer(ctx, cfg.Server, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == config.DriverBadger {
		return store.NewBadgerStore(cfg.SessionTTL)
	}

	mem := store.NewMemoryStore(cfg.SessionTTL)
	go mem.Run(ctx, cfg.SweepInterval)
	return mem, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Log.Infof("TapTalk backend listening on %s", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
