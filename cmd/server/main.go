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

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tradegate/tradegate/internal/accounts"
	"github.com/tradegate/tradegate/internal/api"
	"github.com/tradegate/tradegate/internal/audit"
	"github.com/tradegate/tradegate/internal/broker"
	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/config"
	"github.com/tradegate/tradegate/internal/database"
	"github.com/tradegate/tradegate/internal/logging"
	"github.com/tradegate/tradegate/internal/middleware"
	"github.com/tradegate/tradegate/internal/models"
	"github.com/tradegate/tradegate/internal/observability"
	"github.com/tradegate/tradegate/internal/oracle"
	"github.com/tradegate/tradegate/internal/services/distributedlock"
	"github.com/tradegate/tradegate/internal/services/jobqueue"
	"github.com/tradegate/tradegate/internal/services/ledger"
	"github.com/tradegate/tradegate/internal/services/monitor"
	"github.com/tradegate/tradegate/internal/services/pipeline"
	"github.com/tradegate/tradegate/internal/services/riskgate"
	"github.com/tradegate/tradegate/internal/services/supervisor"
	"github.com/tradegate/tradegate/internal/services/workerpool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := observability.Init(cfg.Sentry, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Sentry: %v\n", err)
	}
	defer observability.Flush(2 * time.Second)

	logger := logging.Logger(logging.NewStandardLogger(cfg.LogLevel, cfg.Environment))
	defer func() { _ = logger.Sync() }()

	db, err := database.NewDatabaseConnection(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Error("failed to close database connection")
		}
	}()

	ctx := context.Background()
	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient, err := database.NewRedisConnection(cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	clk := clock.Real{}

	sessions := database.NewSessionStore(db)
	positions := database.NewPositionStore(db)
	orders := database.NewOrderStore(db)

	// TODO: replace the seeded in-memory account store with the accounts
	// service client once it ships.
	users := accounts.NewInMemoryUserStore()
	users.Seed("demo-user", decimal.NewFromInt(10000), true)

	priceOracle := oracle.NewCachedOracle(
		oracle.NewStaticOracle(clk),
		redisClient.Client,
		cfg.Executor.MaxPriceAge,
		logger,
	)
	gateway := broker.NewPaperGateway(broker.DefaultPaperConfig(), priceOracle, clk, logger)

	sink := audit.NewMultiSink(
		audit.NewLogSink(logger),
		audit.NewStreamSink(redisClient.Client, "audit:events", 10000, logger),
	)

	gate := riskgate.NewGate(cfg.Session, cfg.Risk, logger)
	lgr := ledger.New(db, positions, sessions, clk, logger)
	pl := pipeline.New(gate, lgr, orders, sessions, gateway, priceOracle, sink, clk, cfg.Executor, logger)

	sup := supervisor.New(sessions, users, gate, sink, clk, logger)
	sup.SetLiquidator(pl)
	sup.SetStartHook(func(session *models.TradingSession, user *models.UserAccount) {
		gateway.Fund(session.ID, user.Balance)
	})

	mon := monitor.New(sessions, sup, sink, clk, cfg.Monitor, logger)
	if err := mon.Start(); err != nil {
		return fmt.Errorf("failed to start session monitor: %w", err)
	}
	defer mon.Stop()

	pool := workerpool.New(workerpool.Config{Workers: cfg.Executor.Workers}, logger)
	if err := pool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	defer func() { _ = pool.Stop() }()

	queue := jobqueue.New(redisClient.Client, jobqueue.Config{
		Namespace:   "tradegate",
		MaxAttempts: cfg.Executor.JobMaxAttempts,
		BackoffBase: cfg.Executor.JobBackoffBase,
	}, clk, logger)

	dispatcher := jobqueue.NewDispatcher(queue, pool, 500*time.Millisecond, logger)
	registerJobHandlers(dispatcher, pl, mon, clk)
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start job dispatcher: %w", err)
	}
	defer dispatcher.Stop()

	locker := distributedlock.NewLocker(redisClient.Client)
	stopSweeps := startSweepScheduler(queue, locker, cfg.Monitor.SweepInterval, logger)
	defer stopSweeps()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig(), redisClient.Client, logger)
	router.Use(limiter.Middleware())

	api.SetupRoutes(router, api.Deps{
		DB:         db,
		Redis:      redisClient.Client,
		Supervisor: sup,
		Pipeline:   pl,
		Ledger:     lgr,
		Orders:     orders,
		Monitor:    mon,
		Queue:      queue,
		Pool:       pool,
		Clock:      clk,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// registerJobHandlers binds queue job types to their executors.
func registerJobHandlers(d *jobqueue.Dispatcher, pl *pipeline.Pipeline, mon *monitor.Monitor, clk clock.Clock) {
	d.Register(jobqueue.JobTypeDecisionExecute, func(ctx context.Context, job jobqueue.Job) error {
		decision, err := decisionFromPayload(job.Payload, clk)
		if err != nil {
			return err
		}
		_, err = pl.ExecuteDecision(ctx, decision)
		return err
	})
	d.Register(jobqueue.JobTypePositionSweep, func(ctx context.Context, _ jobqueue.Job) error {
		return pl.SweepPositions(ctx)
	})
	d.Register(jobqueue.JobTypeOrderReconcile, func(ctx context.Context, job jobqueue.Job) error {
		sessionID, _ := job.Payload["session_id"].(string)
		if sessionID == "" {
			return fmt.Errorf("order_reconcile job missing session_id")
		}
		return pl.ReconcileOpenOrders(ctx, sessionID)
	})
	d.Register(jobqueue.JobTypeRiskCheck, func(ctx context.Context, _ jobqueue.Job) error {
		return mon.CheckOnce(ctx)
	})
}

func decisionFromPayload(payload map[string]any, clk clock.Clock) (models.Decision, error) {
	sessionID, _ := payload["session_id"].(string)
	symbol, _ := payload["symbol"].(string)
	action, _ := payload["action"].(string)
	if sessionID == "" || symbol == "" || action == "" {
		return models.Decision{}, fmt.Errorf("decision job missing session_id, symbol or action")
	}

	fraction := decimal.Zero
	if raw, ok := payload["position_size_fraction"].(string); ok && raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return models.Decision{}, fmt.Errorf("invalid position_size_fraction: %w", err)
		}
		fraction = parsed
	}

	id, _ := payload["decision_id"].(string)
	strategy, _ := payload["strategy"].(string)

	return models.Decision{
		ID:                   id,
		SessionID:            sessionID,
		Symbol:               symbol,
		Action:               models.DecisionAction(action),
		PositionSizeFraction: fraction,
		Strategy:             strategy,
		CreatedAt:            clk.Now(),
	}, nil
}

// startSweepScheduler enqueues a recurring position sweep. A short-lived
// distributed lock keeps multiple replicas from enqueueing the same sweep.
// Returns a stop function.
func startSweepScheduler(queue *jobqueue.Queue, locker *distributedlock.Locker, interval time.Duration, logger logging.Logger) func() {
	if interval <= 0 {
		interval = time.Minute
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx := context.Background()
				lock, err := locker.TryAcquire(ctx, "tradegate:sweep:leader", interval)
				if err != nil {
					if !errors.Is(err, distributedlock.ErrNotAcquired) {
						logger.WithError(err).Warn("sweep leader election failed")
					}
					continue
				}
				if _, err := queue.Enqueue(ctx, jobqueue.JobTypePositionSweep, nil); err != nil {
					logger.WithError(err).Warn("failed to enqueue position sweep")
					_ = lock.Release(ctx)
				}
			}
		}
	}()
	return func() { close(done) }
}
