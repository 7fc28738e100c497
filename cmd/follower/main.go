package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"followtrader/internal/agent"
	"followtrader/internal/broker"
	"followtrader/internal/broker/binance"
	"followtrader/internal/config"
	cronrunner "followtrader/internal/cron"
	"followtrader/internal/db"
	"followtrader/internal/follow"
	"followtrader/internal/handler"
	"followtrader/internal/ledger"
	"followtrader/internal/logger"
	"followtrader/internal/reconcile"
	gormrepository "followtrader/internal/repository/gorm"
	"followtrader/internal/risk"
	"followtrader/internal/scheduler"
)

func main() {
	cfgPath := os.Getenv("FT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("FT_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	brokerHTTP := &http.Client{Timeout: cfg.Broker.Timeout}
	venue := binance.NewClient(brokerHTTP, cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.APISecret, cfg.Broker.RecvWindow)
	feedHTTP := &http.Client{Timeout: cfg.AgentFeed.Timeout}
	feed := agent.NewClient(feedHTTP, cfg.AgentFeed.BaseURL)

	prices := broker.NewPriceCache()
	ledgerSvc := &ledger.Ledger{Repo: store, Logger: logger}
	gate := reconcile.NewGate(store, ledgerSvc, logger, reconcile.Tolerance{
		Price:    decimal.NewFromFloat(cfg.Reconcile.PriceTolerance),
		Quantity: decimal.NewFromFloat(cfg.Reconcile.QuantityEpsilon),
	})
	riskMgr := &risk.Manager{Prices: prices, Logger: logger}
	executor := &follow.Executor{
		Broker:          venue,
		Gate:            gate,
		Risk:            riskMgr,
		Ledger:          ledgerSvc,
		Repo:            store,
		Prices:          prices,
		Logger:          logger,
		QuantityEpsilon: decimal.NewFromFloat(cfg.Follow.QuantityEpsilon),
	}

	sched := scheduler.New(logger, nil, func(ctx context.Context, task scheduler.Task) (*follow.Result, error) {
		targets, err := feed.TargetBook(ctx, task.AgentID)
		if err != nil {
			return nil, err
		}
		return executor.Run(ctx, task.ID, task.AgentID, targets, task.Options)
	})
	defer sched.Close()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn}
	healthHandler.Register(engine)
	taskHandler := &handler.TaskHandler{Scheduler: sched, Logger: logger}
	taskHandler.Register(engine)
	reconcileHandler := &handler.ReconcileHandler{Gate: gate, Broker: venue, Repo: store, Logger: logger}
	reconcileHandler.Register(engine)
	tradeHandler := &handler.TradeHandler{Repo: store, Broker: venue, Logger: logger}
	tradeHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Stream.Enabled {
		stream := &binance.MarkPriceStream{
			Logger:  logger,
			URL:     cfg.Stream.URL,
			Symbols: cfg.Stream.Symbols,
			Cache:   prices,
		}
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("mark price stream stopped", zap.Error(err))
			}
		}()
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add("portfolio_snapshot", cfg.Cron.PortfolioSnapshot, func(ctx context.Context) {
			positions, err := venue.GetPositions(ctx)
			if err != nil {
				logger.Warn("portfolio snapshot: position fetch failed", zap.Error(err))
				return
			}
			if err := ledgerSvc.SnapshotPortfolio(ctx, positions); err != nil {
				logger.Warn("portfolio snapshot failed", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("cron register portfolio snapshot failed", zap.Error(err))
		}

		_, err = cronRunner.Add("reconcile_prune", cfg.Cron.ReconcilePrune, func(ctx context.Context) {
			before := time.Now().UTC().Add(-cfg.Cron.ReconcileRetention)
			n, err := store.DeleteReconcileEventsBefore(ctx, before)
			if err != nil {
				logger.Warn("reconcile event prune failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("pruned reconcile events", zap.Int64("count", n))
			}
		})
		if err != nil {
			logger.Warn("cron register reconcile prune failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
