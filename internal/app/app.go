// Package app assembles the gateway from configuration and owns its
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"realtime_chat/internal/config"
	"realtime_chat/internal/connectivity"
	"realtime_chat/internal/docstore"
	"realtime_chat/internal/handler"
	"realtime_chat/internal/metrics"
	"realtime_chat/internal/middleware"
	"realtime_chat/internal/objectstore"
	"realtime_chat/internal/repository"
	"realtime_chat/internal/service"
	"realtime_chat/pkg/logger"
)

type App struct {
	cfg      *config.Config
	log      logger.Logger
	store    docstore.Store
	redis    *redis.Client
	monitor  *connectivity.Monitor
	services *service.Services
	server   *http.Server

	stopProbe   context.CancelFunc
	probeDone   chan struct{}
	unsubscribe func()
	closeOnce   sync.Once
}

func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info("Redis connection established", "addr", cfg.Redis.Addr)

	var feed docstore.Feed
	switch cfg.Store.Feed {
	case config.FeedRedis:
		feed = docstore.NewRedisFeed(rdb, log)
	default:
		feed = docstore.NewLocalFeed()
	}

	store, err := openStore(ctx, cfg.Store, feed, log)
	if err != nil {
		_ = feed.Close()
		_ = rdb.Close()
		return nil, err
	}

	objects, mediaDir, err := openObjects(cfg.Media, log)
	if err != nil {
		_ = store.Close()
		_ = rdb.Close()
		return nil, err
	}

	monitor := connectivity.NewMonitor(true)
	metrics.SetOnline(true)
	unsubscribe := monitor.Subscribe(metrics.SetOnline)

	var sender service.CodeSender
	if cfg.Auth.SMSGatewayURL != "" {
		sender = service.NewHTTPCodeSender(cfg.Auth.SMSGatewayURL, cfg.Auth.SMSGatewayToken, cfg.Auth.SMSTimeout, log)
	}

	repos := repository.NewRepositories(store, rdb, log)
	services := service.NewServices(repos, service.Deps{
		Objects:    objects,
		Monitor:    monitor,
		CodeSender: sender,
	}, cfg, log)

	handlers := handler.NewHandlers(services, store, monitor, cfg, log)
	router := handler.NewRouter(handlers, handler.RouterOptions{
		Auth:      middleware.NewAuthMiddleware(services.Auth, log),
		RateLimit: middleware.NewRateLimitMiddleware(services.RateLimit, log),
		MediaDir:  mediaDir,
	}, cfg, log)

	// No WriteTimeout: WebSocket streams are long-lived.
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       60 * time.Second,
	}

	interval := cfg.Store.ProbeInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	probeCtx, stopProbe := context.WithCancel(context.Background())
	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		connectivity.Probe(probeCtx, monitor, store, interval, log)
	}()

	return &App{
		cfg:         cfg,
		log:         log,
		store:       store,
		redis:       rdb,
		monitor:     monitor,
		services:    services,
		server:      server,
		stopProbe:   stopProbe,
		probeDone:   probeDone,
		unsubscribe: unsubscribe,
	}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, feed docstore.Feed, log logger.Logger) (docstore.Store, error) {
	switch cfg.Driver {
	case config.StoreDriverMemory:
		log.Warn("Using in-memory store; data is lost on restart")
		return docstore.NewMemory(feed, log), nil

	case config.StoreDriverSQLite:
		store, err := docstore.OpenSQLite(ctx, cfg.SQLitePath, feed, log)
		if err != nil {
			return nil, err
		}
		log.Info("SQLite store opened", "path", cfg.SQLitePath)
		return store, nil

	case config.StoreDriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse database dsn: %w", err)
		}
		if cfg.MaxConnections > 0 {
			poolCfg.MaxConns = int32(cfg.MaxConnections)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if err := docstore.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("Database connection established")
		return docstore.NewPostgres(pool, feed, log), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// openObjects returns the media store and, for the local store, the
// directory the router serves.
func openObjects(cfg config.MediaConfig, log logger.Logger) (objectstore.Store, string, error) {
	if cfg.RemoteURL != "" {
		log.Info("Using remote object store", "url", cfg.RemoteURL)
		return objectstore.NewRemoteStore(cfg.RemoteURL, cfg.RemoteToken, cfg.UploadTimeout, log), "", nil
	}

	local, err := objectstore.NewLocalStore(cfg.Dir, cfg.BaseURL, log)
	if err != nil {
		return nil, "", err
	}
	return local, local.Dir(), nil
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Services() *service.Services {
	return a.services
}

func (a *App) Monitor() *connectivity.Monitor {
	return a.monitor
}

// Run serves HTTP until Shutdown is called.
func (a *App) Run() error {
	a.log.Info("Starting server", "addr", a.server.Addr)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown drains HTTP, stops the store probe and releases the store and
// Redis. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}

		a.stopProbe()
		<-a.probeDone
		a.unsubscribe()

		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		a.log.Info("Server exited")
	})
	return errors.Join(errs...)
}
