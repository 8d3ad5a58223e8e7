package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/digitalforce/flexi/backend/internal/config"
	"github.com/digitalforce/flexi/backend/internal/handler"
	"github.com/digitalforce/flexi/backend/internal/logging"
	"github.com/digitalforce/flexi/backend/internal/metrics"
	"github.com/digitalforce/flexi/backend/internal/middleware"
	"github.com/digitalforce/flexi/backend/internal/model/lead"
	"github.com/digitalforce/flexi/backend/internal/service/ai"
	"github.com/digitalforce/flexi/backend/internal/service/canned"
	"github.com/digitalforce/flexi/backend/internal/service/chat"
	"github.com/digitalforce/flexi/backend/internal/service/external"
	"github.com/digitalforce/flexi/backend/internal/service/session"
	"github.com/digitalforce/flexi/backend/internal/store"
)

var version = "dev"

const (
	sessionIdleTTL  = 24 * time.Hour
	janitorInterval = 10 * time.Minute
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.Logging.Verbose)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn("failed to load .env file, continuing with system environment variables only", "error", envErr)
	}

	metrics.BuildInfo.WithLabelValues(version).Set(1)

	sessions, leads, storeHealth, closeStore, err := openStorage(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	responder, err := canned.Load(cfg.Canned.ResponsesFile)
	if err != nil {
		logger.Error("failed to load canned responses", "error", err)
		os.Exit(1)
	}

	if cfg.Primary.Enabled() {
		logger.Info("primary model configured", "provider", cfg.Primary.Provider)
	} else {
		logger.Info("primary model credentials not configured, tier disabled")
	}
	if cfg.External.Enabled() {
		logger.Info("external model endpoint configured", "url", cfg.External.URL)
	}
	logger.Info("canned fallback", "allowed", cfg.CannedAllowed(), "use_fallback", cfg.Fallback.Enabled)

	holder := config.NewHolder(cfg)
	go reloadOnHangup(ctx, holder, logger)
	prober := external.NewProber(logger)
	client := ai.NewClient(logger, nil)
	resolver := chat.NewService(holder, sessions, chat.DefaultStrategies(prober, client, responder), logger)

	limiter := middleware.NewRateLimiter(cfg.RateLimit, nil, logger)
	limiter.Start()
	defer limiter.Stop()

	router := handler.NewRouter(handler.Dependencies{
		Config:   holder,
		Resolver: resolver,
		Prober:   prober,
		Leads:    leads,
		Storage:  storeHealth,
		Limiter:  limiter,
		Logger:   logger,
	})

	startServer(ctx, logger, cfg.Server, router)
}

// openStorage returns the session and lead stores selected by cfg and starts
// idle-session pruning. The pinger is nil for in-memory storage.
func openStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (session.Store, lead.Store, handler.Pinger, func(), error) {
	switch cfg.Driver {
	case config.StorageSQLite:
		db, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		logger.Info("using sqlite storage", "path", cfg.DBPath)
		go pruneSQLite(ctx, db, logger)
		return db, db, db, func() { _ = db.Close() }, nil
	default:
		sessions := session.NewMemoryStore()
		go sessions.RunJanitor(ctx, janitorInterval, sessionIdleTTL)
		logger.Info("using in-memory storage")
		return sessions, lead.NewMemoryStore(), nil, func() {}, nil
	}
}

// reloadOnHangup re-reads the environment and overlay on SIGHUP.
func reloadOnHangup(ctx context.Context, holder *config.Holder, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := holder.Reload(); err != nil {
				logger.Warn("config reload failed, keeping previous configuration", "error", err)
				continue
			}
			logger.Info("configuration reloaded")
		}
	}
}

func pruneSQLite(ctx context.Context, db *store.SQLiteStore, logger *slog.Logger) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			removed, err := db.PruneSessions(ctx, t.Add(-sessionIdleTTL))
			if err != nil {
				logger.Warn("failed to prune sessions", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debug("pruned idle sessions", "count", removed)
			}
		}
	}
}

func startServer(ctx context.Context, logger *slog.Logger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("Flexi backend listening", "addr", addr, "version", version)
	if err := runServer(ctx, srv); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
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
