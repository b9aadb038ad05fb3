package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment, if present")
	flag.Parse()

	cfg, err := LoadServerConfig(*envFile)
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	logger.WithFields(logrus.Fields{
		"env":   cfg.AppEnv,
		"store": cfg.StoreBackend,
	}).Info("starting coin miner")

	flags := loadFeatureFlags()

	econ, err := LoadEconomyConfig(cfg.EconomyConfigPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load economy config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, leader, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer closeStore()

	var metrics *gameMetrics
	if flags.Metrics {
		metrics = newGameMetrics()
	}
	engine := NewEngine(store, econ, realClock{}, logger, metrics)

	var limiter *clientRateLimiter
	if flags.RateLimit {
		limiter = newClientRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.TrustForwardedFor, logger)
		limiter.StartCleanup(10*time.Minute, ctx.Done())
	}

	if flags.SyncSweep && leader {
		sweeper := newSyncSweeper(engine, logger)
		if err := sweeper.Start(ctx, cfg.SyncSweepSchedule); err != nil {
			logger.WithError(err).Fatal("invalid SYNC_SWEEP_SCHEDULE")
		}
		defer sweeper.Stop()
	} else if flags.SyncSweep {
		logger.Info("leader lock held by another instance; sync sweep disabled here")
	}

	srv := &http.Server{
		Addr: "0.0.0.0:" + cfg.Port,
		Handler: newRouter(routerDeps{
			engine:  engine,
			log:     logger,
			metrics: metrics,
			limiter: limiter,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("server shutdown")
		}
	}()

	logger.WithField("addr", srv.Addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server failed")
	}
	logger.Info("server stopped")
}

// openStore connects the configured backend. leader reports whether this
// process should run background work: with Postgres only the holder of the
// advisory lock does, other backends assume a single process.
func openStore(ctx context.Context, cfg ServerConfig, logger *logrus.Logger) (Store, bool, func(), error) {
	switch cfg.StoreBackend {
	case StorePostgres:
		pg, err := OpenPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, false, nil, err
		}
		logger.Info("connected to PostgreSQL")

		lockConn, acquired, err := acquireLeaderLock(ctx, pg.DB())
		if err != nil {
			_ = pg.Close()
			return nil, false, nil, err
		}
		closer := func() {
			if lockConn != nil {
				_ = lockConn.Close()
			}
			_ = pg.Close()
		}
		if acquired {
			logger.Info("leader lock acquired")
		}
		return pg, acquired, closer, nil

	case StoreRedis:
		rs, err := OpenRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, false, nil, err
		}
		logger.Info("connected to Redis")
		return rs, true, func() { _ = rs.Close() }, nil

	default:
		return NewMemoryStore(), true, func() {}, nil
	}
}
