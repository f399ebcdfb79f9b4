// Command score-server serves the points store over HTTP with a gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/score-store/internal/config"
	"github.com/and161185/score-store/internal/feed"
	"github.com/and161185/score-store/internal/limiter"
	"github.com/and161185/score-store/internal/metrics"
	"github.com/and161185/score-store/internal/migrate"
	"github.com/and161185/score-store/internal/repository"
	"github.com/and161185/score-store/internal/repository/memory"
	"github.com/and161185/score-store/internal/repository/postgres"
	grpcserver "github.com/and161185/score-store/internal/server/grpc"
	httpserver "github.com/and161185/score-store/internal/server/http"
	"github.com/and161185/score-store/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("store", cfg.Store),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// openStore returns the configured backend with a matching login limiter and a close func.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, limiter.Limiter, func(), error) {
	limCfg := limiter.Config{Window: cfg.LoginWindow, MaxFails: cfg.LoginMaxFails, BlockFor: cfg.LoginBlockFor}
	if cfg.Store == config.StoreMemory {
		return memory.New(), limiter.NewMemory(limCfg), func() {}, nil
	}

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		return nil, nil, nil, fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect: %w", err)
	}
	return postgres.NewStore(db), limiter.NewPG(db.Pool, limCfg), db.Close, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, lim, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	fd := feed.New(cfg.FeedSoftCap, cfg.FeedRetain)
	metrics.FeedMessages.Set(0)

	r := store.Repos()
	authSvc := service.NewAuthService(r.Accounts, r.Credentials, lim)
	regSvc := service.NewRegistrationService(store, fd, cfg.ConfirmMarker, cfg.PendingTTL)
	ledgerSvc := service.NewLedgerService(r.Accounts, r.Ledger)
	goodsSvc := service.NewGoodsService(authSvc, r.Goods)
	checkoutSvc := service.NewCheckoutService(authSvc, store, cfg.MinBalance, logger.Named("checkout"))

	go regSvc.RunSweeper(ctx, cfg.SweepInterval, logger.Named("sweeper"))

	api := httpserver.New(httpserver.Deps{
		Registration:   regSvc,
		Auth:           authSvc,
		Ledger:         ledgerSvc,
		Goods:          goodsSvc,
		Checkout:       checkoutSvc,
		Feed:           fd,
		Store:          store,
		Log:            logger.Named("http"),
		RequestTimeout: cfg.RequestTimeout,
		CollectorKey:   []byte(cfg.CollectorKey),
	})
	hs := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var ops *grpcserver.Ops
	if cfg.OpsAddr != "" {
		lis, err := net.Listen("tcp", cfg.OpsAddr)
		if err != nil {
			return fmt.Errorf("ops listen: %w", err)
		}
		ops = grpcserver.NewOps(store, logger.Named("ops"), cfg.Dev)
		go ops.Watch(ctx, 10*time.Second)
		go func() {
			logger.Info("ops listening", zap.String("addr", cfg.OpsAddr))
			if err := ops.Serve(lis); err != nil {
				errCh <- fmt.Errorf("ops: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if ops != nil {
		ops.Shutdown(shutdownTimeout)
	}
	if serr := hs.Shutdown(sctx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	return err
}
