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

	"djtips-platform/internal/audit"
	"djtips-platform/internal/auth"
	"djtips-platform/internal/catalog"
	"djtips-platform/internal/config"
	"djtips-platform/internal/domain"
	"djtips-platform/internal/dupguard"
	"djtips-platform/internal/gateway/mpesa"
	"djtips-platform/internal/httpapi"
	"djtips-platform/internal/ledger"
	"djtips-platform/internal/metrics"
	"djtips-platform/internal/notify"
	"djtips-platform/internal/payments"
	"djtips-platform/internal/ratelimit"
	"djtips-platform/internal/refdata"
	"djtips-platform/internal/reporting"
	"djtips-platform/internal/requests"
	"djtips-platform/internal/store"
	"djtips-platform/internal/store/memory"
	"djtips-platform/internal/store/postgres"
	"djtips-platform/internal/wallet"
	"djtips-platform/internal/withdrawals"
	"djtips-platform/pkg/logger"
	"djtips-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const refdataCacheTTL = time.Minute

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	var st store.Store
	switch cfg.Store.Driver {
	case "memory":
		log.Warn("using in-memory store; balances are lost on restart")
		st = memory.New()
	default:
		db, err := utils.OpenPostgres(rootCtx, postgres.DriverName, cfg.PostgresDSN(), utils.PostgresPoolConfig{
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		st = postgres.New(db)
	}
	st = store.WithRetry(st, store.RetryOptions{MaxAttempts: cfg.Ledger.TxMaxAttempts, OnRetry: m.TxRetry})

	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	sinks := notify.Fanout{notify.LogSink{Log: log}}
	guardOpts := []dupguard.Option{dupguard.WithWindow(cfg.Requests.DuplicateWindow), dupguard.WithLogger(log)}
	if rdb != nil {
		sinks = append(sinks, notify.NewRedisSink(rdb, cfg.Notify.ChannelPrefix))
		guardOpts = append(guardOpts, dupguard.WithRedis(rdb, cfg.Requests.LockTTL))
	}
	dispatcher := notify.NewDispatcher(sinks, cfg.Notify.Timeout, log, m.Notification)

	rec := ledger.NewRecorder(ledger.WithPostedHook(m.LedgerPosted))
	aud := audit.NewService()
	walletSvc := wallet.NewService(st, rec, aud, cfg.Ledger.Currency)

	ref := refdata.NewService(st, aud, refdata.Settings{
		Currency:            cfg.Ledger.Currency,
		SupportedCurrencies: cfg.Ledger.SupportedCurrencies,
		TipLimits:           domain.Limits{Min: cfg.Limits.TipMin, Max: cfg.Limits.TipMax},
		WithdrawalLimits:    domain.Limits{Min: cfg.Limits.WithdrawalMin, Max: cfg.Limits.WithdrawalMax},
		TopupLimits:         domain.Limits{Min: cfg.Limits.TopupMin, Max: cfg.Limits.TopupMax},
		PaymentMethods: map[string]bool{
			refdata.KindMpesa: cfg.MpesaEnabled(),
		},
	}, refdataCacheTTL)
	settings := ref.Settings()

	// nil interface, not a nil *Cached, when no catalog is configured
	var cat catalog.Catalog
	if cfg.Catalog.URL != "" {
		cat = catalog.NewCached(catalog.NewHTTPClient(cfg.Catalog.URL, cfg.Catalog.Timeout), cfg.Catalog.CacheTTL)
	}

	requestSvc := requests.NewService(requests.Deps{
		Store:         st,
		Wallet:        walletSvc,
		Ledger:        rec,
		Guard:         dupguard.New(guardOpts...),
		Catalog:       cat,
		Notifier:      dispatcher,
		Logger:        log,
		Limits:        settings.TipLimits,
		LookupTimeout: cfg.Catalog.Timeout,
		OnTransition:  m.RequestTransition,
	})
	withdrawalSvc := withdrawals.NewProcessor(withdrawals.Deps{
		Store:        st,
		Wallet:       walletSvc,
		Ledger:       rec,
		Audit:        aud,
		Methods:      ref,
		Notifier:     dispatcher,
		Logger:       log,
		Limits:       settings.WithdrawalLimits,
		OnTransition: m.WithdrawalTransition,
	})

	var gw payments.Gateway
	if cfg.MpesaEnabled() {
		gw = mpesa.New(mpesa.Config{
			BaseURL:        cfg.Mpesa.BaseURL,
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			PassKey:        cfg.Mpesa.PassKey,
			ShortCode:      cfg.Mpesa.ShortCode,
			Timeout:        cfg.Mpesa.Timeout,
		})
	} else {
		log.Warn("mpesa not configured; top-ups disabled")
	}
	paymentSvc := payments.NewReconciler(payments.Deps{
		Store:          st,
		Wallet:         walletSvc,
		Ledger:         rec,
		Gateway:        gw,
		Settings:       ref,
		Notifier:       dispatcher,
		Logger:         log,
		Limits:         settings.TopupLimits,
		CallbackURL:    cfg.MpesaCallbackURL(),
		GatewayTimeout: cfg.Mpesa.Timeout,
		OnOutcome:      func(o payments.Outcome) { m.CallbackOutcome(string(o)) },
	})

	h := httpapi.Handlers{
		Auth:          authManager,
		Wallet:        walletSvc,
		Requests:      requestSvc,
		Withdrawals:   withdrawalSvc,
		Payments:      paymentSvc,
		Refdata:       ref,
		Reporting:     reporting.NewService(st, cfg.Ledger.Currency),
		Audit:         aud,
		Catalog:       cat,
		Store:         st,
		CallbackToken: cfg.Mpesa.CallbackToken,
		ParseCallback: mpesa.ParseCallback,
		DevLogin:      !cfg.IsProduction(),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(m.Middleware())
	r.Use(httpapi.ClientIP())

	registerRoutes(r, h, routeDeps{
		authMW:  auth.RequireAccessToken(authManager),
		limitMW: ratelimit.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst, 0).Middleware(),
		metrics: m.Handler(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// in-flight notifications carry their own timeout
	dispatcher.Wait()
	log.Info("shutdown complete")
}
