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

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"wintrust/internal/config"
	"wintrust/internal/handlers"
	"wintrust/internal/metrics"
	"wintrust/internal/proofgate"
	"wintrust/internal/ratelimit"
	"wintrust/internal/scheduler"
	"wintrust/internal/services"
	"wintrust/internal/store"
	"wintrust/internal/tracing"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE:  serveRun,
	}
}

func serveRun(cmd *cobra.Command, _ []string) error {
	cfg := config.FromContext(cmd.Context())
	if cfg == nil {
		return errors.New("no config found in context")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := tracing.Setup(cfg.Tracing, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warningf("flushing traces: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warningf("closing store: %v", err)
		}
	}()

	ledger, closeLedger, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLedger(); err != nil {
			logger.Warningf("closing proof ledger: %v", err)
		}
	}()

	verifier := proofgate.NewWorldIDVerifier(cfg.WorldID.AppID,
		proofgate.WithBaseURL(cfg.WorldID.BaseURL),
		proofgate.WithHTTPClient(&http.Client{Timeout: cfg.WorldID.Timeout}),
	)
	gate := proofgate.New(verifier, ledger, proofgate.WithMetrics(m))
	svc := services.NewRaffleService(st, gate,
		services.WithMetrics(m),
		services.WithDefaultDuration(cfg.Raffles.DefaultDuration),
		services.WithMaxTotalNumbers(cfg.Raffles.MaxTotalNumbers),
	)

	limiter := ratelimit.NewSlidingWindow(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	sched, err := scheduler.New(svc, limiter, cfg.SettleInterval)
	if err != nil {
		return err
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	handlers.NewHTTPHandler(svc).RegisterRoutes(router, ratelimit.Middleware(limiter, m))
	handlers.RegisterMetrics(router, reg)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched.Start()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Server starting on %s (store=%s, ledger=%s)", cfg.ListenAddr, cfg.Store.Backend, cfg.Ledger.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if serr := sched.Stop(); serr != nil {
			logger.Warningf("stopping scheduler: %v", serr)
		}
		return err
	})
	return g.Wait()
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreSQLite, config.StorePostgres:
		var (
			gs  *store.GormStore
			err error
		)
		if cfg.Backend == config.StoreSQLite {
			gs, err = openGorm(store.OpenSQLite(cfg.Path))
		} else {
			gs, err = openGorm(store.OpenPostgres(cfg.DSN))
		}
		if err != nil {
			return nil, fmt.Errorf("opening %s store: %w", cfg.Backend, err)
		}
		return gs, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func openLedger(ctx context.Context, cfg config.LedgerConfig) (proofgate.Ledger, func() error, error) {
	switch cfg.Backend {
	case config.LedgerRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return proofgate.NewRedisLedger(client, proofgate.WithReservationTTL(cfg.ReservationTTL)), client.Close, nil
	case config.LedgerBadger:
		l, err := proofgate.OpenBadgerLedger(cfg.BadgerDir, cfg.ReservationTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening badger ledger: %w", err)
		}
		return l, l.Close, nil
	default:
		return proofgate.NewMemoryLedger(), func() error { return nil }, nil
	}
}

func openGorm(db *gorm.DB, err error) (*store.GormStore, error) {
	if err != nil {
		return nil, err
	}
	gs, err := store.NewGormStore(db)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return gs, nil
}
