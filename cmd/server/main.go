package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/database"
	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/logging"
	"github.com/iliyamo/studio-booking/internal/metrics"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/payment"
	"github.com/iliyamo/studio-booking/internal/queue"
	"github.com/iliyamo/studio-booking/internal/repository"
	"github.com/iliyamo/studio-booking/internal/router"
	"github.com/iliyamo/studio-booking/internal/service"
)

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
		log.Info("schema applied")
	}

	m := metrics.New()
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable; rate limiting and availability cache disabled")
	} else {
		defer rdb.Close()
	}

	var events service.EventPublisher
	if cfg.EventsEnabled {
		pub := queue.NewPublisher(cfg.RabbitURL, log)
		defer pub.Close()
		events = pub

		consumer := &queue.BillingConsumer{URL: cfg.RabbitURL, Dir: cfg.BillingLogDir, Log: log}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("billing consumer stopped", zap.Error(err))
			}
		}()
	}

	var gateway service.PaymentGateway = payment.ManualGateway{}
	if cfg.StripeSecretKey != "" {
		sg, err := payment.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		if err != nil {
			log.Fatal("stripe gateway", zap.Error(err))
		}
		gateway = sg
	}

	classes := repository.NewClassRepo(db)
	bookings := repository.NewBookingRepo(db)
	clock := service.Clock(time.Now)

	capacity := service.NewCapacityLedger(repository.NewSeatRepo(db), clock, log, m)
	credits := service.NewCreditLedger(repository.NewCreditRepo(db), clock, log)
	coupons := service.NewCouponEvaluator(repository.NewCouponRepo(db), bookings, clock, log, m)
	orch := service.NewOrchestrator(service.Deps{
		Classes:     classes,
		Bookings:    bookings,
		Capacity:    capacity,
		Credits:     credits,
		Coupons:     coupons,
		Payments:    gateway,
		Events:      events,
		Clock:       clock,
		Log:         log,
		Metrics:     m,
		MaxAttempts: config.LoadBookingConfig().MaxAttempts,
	})

	cache := middleware.NewAvailabilityCache(config.LoadCacheConfig(), rdb, log)
	deps := router.Deps{
		Bookings:  handler.NewBookingHandler(orch, cache, log),
		Staff:     handler.NewStaffHandler(orch, coupons, cache, log),
		Cache:     cache,
		DB:        db,
		Redis:     rdb,
		RateLimit: config.LoadRateLimitConfig(),
		JWTSecret: cfg.JWTSecret,
		Metrics:   m,
		Log:       log,
	}
	if cfg.StripeWebhookSecret != "" {
		deps.Webhooks = handler.NewWebhookHandler(orch, cfg.StripeWebhookSecret, cache, log)
	}
	e := router.New(deps)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
}
