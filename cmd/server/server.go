package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"roomchat/internal/auth"
	"roomchat/internal/cache"
	"roomchat/internal/config"
	"roomchat/internal/database"
	"roomchat/internal/handlers"
	"roomchat/internal/metrics"
	"roomchat/internal/realtime"
	"roomchat/internal/services"
	"roomchat/internal/websocket"
	"roomchat/pkg/logger"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func runServer(ctx context.Context, configPath string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	closeLogs := setupLogging(cfg)
	defer closeLogs()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Connections left open by a previous process are stale now.
	if n, err := db.CloseStaleConnections(ctx); err != nil {
		logger.Warn("failed to close stale connections", "error", err)
	} else if n > 0 {
		logger.Info("closed stale connections", "count", n)
	}

	backend, closeBackend := newCacheBackend(ctx, cfg.Redis)
	defer closeBackend()
	roomCache := cache.NewRoomCache(backend, db, cfg.Redis.RoomCacheTTL)

	var (
		m        *metrics.Metrics
		registry *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(registry)
	}

	// Initialize services
	authService := auth.NewService(db, cfg.JWT)
	roomService := services.NewRoomService(db, roomCache)
	engine := realtime.NewEngine(roomService, authService, db, realtime.Options{
		HistoryLimit:     cfg.Chat.HistoryLimit,
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		StoreTimeout:     cfg.Database.StoreTimeout,
		TypingWindow:     cfg.Chat.TypingWindow,
		Metrics:          m,
	})
	hub := websocket.NewHub()

	router := &handlers.Router{
		Auth:   handlers.NewAuthHandlers(authService),
		Rooms:  handlers.NewRoomHandlers(roomService, engine),
		Health: handlers.NewHealthHandlers(db, engine),
		WebSocket: handlers.NewWebSocketHandlers(authService, engine, hub, websocket.Options{
			SendBuffer:        cfg.Chat.SendBuffer,
			MaxFrameBytes:     cfg.Chat.MaxFrameBytes,
			MessagesPerSecond: cfg.Chat.MessagesPerSecond,
			MessageBurst:      cfg.Chat.MessageBurst,
		}, cfg.Server.AllowedOrigins, m),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if registry != nil {
		router.MetricsPath = cfg.Metrics.Path
		router.Gatherer = registry
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server starting", "version", Version, "addr", cfg.Server.Port, "driver", cfg.Database.Driver)
	handlers.LogRoutes(router.MetricsPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down")
		daemon.SdNotify(false, daemon.SdNotifyStopping)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := hub.CloseAll(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("closing websocket clients: %w", err))
		}
		if err := engine.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	// Notify systemd that we're ready
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("failed to notify systemd", "error", err)
	}

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newCacheBackend uses Redis when an address is configured and reachable and
// falls back to the in-process cache otherwise.
func newCacheBackend(ctx context.Context, cfg config.RedisConfig) (cache.Backend, func()) {
	if cfg.Addr == "" {
		return cache.NewMemoryBackend(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	backend := cache.NewRedisBackend(client, cfg.Prefix)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := backend.Ping(pingCtx); err != nil {
		logger.Warn("redis unavailable, using in-memory room cache", "addr", cfg.Addr, "error", err)
		client.Close()
		return cache.NewMemoryBackend(), func() {}
	}

	logger.Info("room cache backed by redis", "addr", cfg.Addr)
	return backend, func() { backend.Close() }
}
