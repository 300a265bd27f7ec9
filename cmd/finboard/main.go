package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"finboard/internal/api"
	"finboard/internal/cache"
	"finboard/internal/config"
	"finboard/internal/dashboard"
	"finboard/internal/events"
	apphttp "finboard/internal/http"
	"finboard/internal/log"
	"finboard/internal/middleware/ratelimit"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg := config.Load()

	logCfg := log.DefaultConfig()
	logCfg.Level = log.ParseLevel(cfg.LogLevel)
	logger := log.New(logCfg)
	log.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("finboard stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("finboard stopped gracefully")
}

func run(cfg *config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiCfg := api.DefaultConfig()
	apiCfg.BaseURL = cfg.APIBaseURL
	apiCfg.Token = cfg.APIToken
	apiCfg.Timeout = cfg.APITimeout
	apiCfg.MaxRetries = cfg.APIMaxRetries
	apiCfg.RetryBaseDelay = cfg.APIRetryBaseDelay
	client, err := api.NewClient(apiCfg, logger)
	if err != nil {
		return err
	}

	caches := cache.NewManager(logger)
	defer caches.Stop()

	initial, err := cfg.InitialFilter()
	if err != nil {
		return err
	}
	storeCfg := dashboard.DefaultConfig()
	storeCfg.InitialFilter = initial
	storeCfg.Debounce = cfg.RefreshDebounce
	if cfg.SnapshotCacheSize > 0 {
		snapshots := cache.NewLRUCache[dashboard.Snapshots](cfg.SnapshotCacheSize, cfg.SnapshotCacheTTL)
		caches.Register(snapshots)
		storeCfg.SnapshotCache = snapshots
	}
	store, err := dashboard.New(client, storeCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	srvCfg := apphttp.DefaultConfig()
	srvCfg.Addr = net.JoinHostPort("", cfg.Port)
	srvCfg.RefreshLimit = ratelimit.Config{Requests: cfg.RefreshRateLimit, Window: time.Minute}
	srv := apphttp.NewServer(srvCfg, store, logger)

	var sub *events.Subscriber
	if cfg.EventsEnabled() {
		eventsCfg := events.DefaultConfig()
		eventsCfg.URL = cfg.AMQPURL
		eventsCfg.Exchange = cfg.AMQPExchange
		eventsCfg.Queue = cfg.AMQPQueue
		sub, err = events.NewSubscriber(eventsCfg, events.NewRefreshHandler(store, logger), logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info("Change events disabled - no AMQP_URL provided")
	}

	if cfg.SnapshotCacheTTL > 0 {
		caches.StartCleanup(cfg.SnapshotCacheTTL)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting finboard server",
			"addr", srvCfg.Addr,
			"api", cfg.APIBaseURL,
			"filter", initial.Key(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if sub != nil {
		g.Go(func() error { return sub.Run(gctx) })
	}

	// Warm the dashboard for the initial filter.
	store.ScheduleRefresh()

	return g.Wait()
}
