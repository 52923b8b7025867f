package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lv-paperdesk/internal/accounts"
	"lv-paperdesk/internal/admin"
	"lv-paperdesk/internal/auth"
	rediscache "lv-paperdesk/internal/cache/redis"
	"lv-paperdesk/internal/config"
	"lv-paperdesk/internal/db"
	"lv-paperdesk/internal/health"
	"lv-paperdesk/internal/httpserver"
	"lv-paperdesk/internal/kyc"
	"lv-paperdesk/internal/ledger"
	"lv-paperdesk/internal/logging"
	"lv-paperdesk/internal/marketdata"
	"lv-paperdesk/internal/matching"
	"lv-paperdesk/internal/orders"
	"lv-paperdesk/internal/positions"
	"lv-paperdesk/internal/riskwatch"
	"lv-paperdesk/internal/store/memory"
	"lv-paperdesk/internal/store/postgres"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var store accounts.Store
	storeKind := "memory"
	if cfg.DBDSN != "" {
		storeKind = "postgres"
	}
	healthHandler := health.NewHandler(time.Now(), storeKind)
	if cfg.DBDSN != "" {
		pool, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		store = postgres.New(pool)
		healthHandler.AddCheck("postgres", pool.Ping)
		healthHandler.SetPool(pool)
		logger.Info("using postgres store")
	} else {
		store = memory.New()
		logger.Warn("DB_DSN not set, using in-memory store")
	}

	bus := marketdata.NewBus()
	market := marketdata.NewService(marketdata.NewCatalog(), marketdata.NewPriceBook(), bus, logger.Named("marketdata"))

	accountSvc := accounts.NewService(store, logger.Named("accounts"))
	accountSvc.SetPublisher(bus)
	if err := accountSvc.Load(ctx); err != nil {
		return err
	}

	book := positions.NewBook(accountSvc, market, logger.Named("positions"))
	if cfg.RedisAddr != "" {
		rc, err := rediscache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rc.Close()
		market.SetMirror(rediscache.NewPriceCache(rc))
		book.SetCache(rediscache.NewMetricsCache(rc, rediscache.DefaultMetricsTTL))
		healthHandler.AddCheck("redis", rc.Ping)
		logger.Info("redis cache enabled", zap.String("addr", cfg.RedisAddr))
	}
	market.Warm(ctx)

	ledgerSvc := ledger.NewService(accountSvc, cfg.FundingMax, logger.Named("ledger"))
	orderSvc := orders.NewService(accountSvc, book, market, kyc.NewPolicy(cfg.KYCAllowPending), logger.Named("orders"))
	orderSvc.SetCommissionRate(cfg.CommissionRate)
	engine := matching.NewEngine(accountSvc, orderSvc, book, market, logger.Named("matching"))
	watch := riskwatch.New(accountSvc, book, market, logger.Named("riskwatch"))

	authSvc := auth.NewService(cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	ledgerHandler := ledger.NewHandler(ledgerSvc)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:     auth.NewHandler(authSvc),
		AccountsHandler: accounts.NewHandler(accountSvc),
		LedgerHandler:   ledgerHandler,
		PositionHandler: positions.NewHandler(book),
		OrderHandler:    orders.NewHandler(orderSvc),
		MarketHandler:   marketdata.NewHandler(market, book),
		AdminHandler: admin.NewHandler(admin.Credentials{
			Username:     cfg.AdminUsername,
			PasswordHash: cfg.AdminPasswordHash,
		}, authSvc, accountSvc, ledgerHandler, book, logger.Named("admin")),
		AuthService:   authSvc,
		InternalToken: cfg.InternalToken,
		WSHandler:     httpserver.NewWSHandler(bus, authSvc, book, cfg.WebSocketOrigin, logger.Named("ws")),
		RateLimiter:   httpserver.NewRateLimiter(50, 100),
		HealthHandler: healthHandler,
		Log:           logger.Named("http"),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return watch.Run(gctx) })
	if cfg.SimFeed {
		feed := marketdata.NewSimFeed(market, book, cfg.PriceFeedInterval, time.Now().UnixNano())
		g.Go(func() error { return feed.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("api listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("api stopped")
	return nil
}
