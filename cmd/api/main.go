package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xiello/qrchek/internal/attendance"
	"github.com/xiello/qrchek/internal/autocheckout"
	"github.com/xiello/qrchek/internal/config"
	"github.com/xiello/qrchek/internal/cooldown"
	"github.com/xiello/qrchek/internal/handler"
	"github.com/xiello/qrchek/internal/httpmiddleware"
	"github.com/xiello/qrchek/internal/logging"
	"github.com/xiello/qrchek/internal/metrics"
	"github.com/xiello/qrchek/internal/notify"
	"github.com/xiello/qrchek/internal/queue"
	"github.com/xiello/qrchek/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := logging.Init(logging.ConfigFromEnv("api"))
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger.Sugar()); err != nil {
		logger.Sugar().Fatalw("http server failed", "error", err)
	}
}

func runHTTP(cfg config.App, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	clock := clockwork.NewRealClock()
	loc := cfg.Location()

	var rdb *store.Redis
	if cfg.CooldownBackend == "redis" || cfg.QueueBackend == "redis" {
		rdb = store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		if !rdb.Healthy(ctx) {
			log.Warnw("redis not reachable at startup", "addr", cfg.RedisAddr)
		}
	}

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	var governor cooldown.Governor
	switch cfg.CooldownBackend {
	case "memory":
		governor = cooldown.NewMemory(cfg.ScanCooldown)
	case "redis":
		governor = cooldown.NewRedis(rdb.Client, cfg.ScanCooldown)
	}

	var events queue.Queue
	switch cfg.QueueBackend {
	case "memory":
		mem := queue.NewInMemory(64)
		events = mem
		// no separate worker can reach an in-process queue
		go func() { _ = notify.New(mem, log.Named("notify")).Run(ctx) }()
	case "redis":
		events = queue.NewRedisQueue(rdb.Client, cfg.QueueKey)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	svc := attendance.NewService(attendance.Options{
		Store:        st,
		Governor:     governor,
		Clock:        clock,
		ValidQRCodes: cfg.ValidQRCodes,
		Location:     loc,
		DefaultRate:  cfg.DefaultHourlyRate,
		Logger:       log.Named("attendance"),
		Metrics:      m,
	})

	cutoff, err := autocheckout.ParseCutoff(cfg.AutoCheckoutTime, loc)
	if err != nil {
		return fmt.Errorf("auto-checkout time: %w", err)
	}
	sweeper := autocheckout.NewSweeper(st, cutoff, clock, events, log.Named("autocheckout"), m)
	if cfg.AutoCheckoutEnabled {
		go autocheckout.NewScheduler(sweeper, clock, log.Named("autocheckout")).Run(ctx)
	} else {
		log.Infow("auto-checkout scheduler disabled")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.Logger(log.Named("http"), "/metrics", "/api/health"))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, clock).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	var redisCheck handler.Checker
	if rdb != nil {
		redisCheck = rdb
	}
	h := handler.New(svc, sweeper, handler.Tokens{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, redisCheck, log.Named("handler"))
	authLimit := httpmiddleware.NewTokenBucket(cfg.AuthRateLimitPerMin, cfg.AuthRateLimitPerMin, clock)
	h.Routes(r, authLimit.GinMiddleware())

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("starting server", "port", cfg.HTTPPort, "store", cfg.StoreBackend, "timezone", loc.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Infow("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced shutdown", "error", err)
	}
	log.Infow("server exited")
	return nil
}

func openStore(ctx context.Context, cfg config.App, log *zap.SugaredLogger) (attendance.Store, func(), error) {
	if cfg.StoreBackend == "memory" {
		log.Warnw("using in-memory store, data is lost on restart")
		return attendance.NewMemoryStore(), func() {}, nil
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if cfg.RunMigrations {
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("db migrate: %w", err)
		}
		log.Infow("migrations applied")
	}
	return attendance.NewPostgresStore(db.Client), func() { _ = db.Close() }, nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", httpmiddleware.RequestIDHeader},
		ExposeHeaders: []string{"Content-Disposition", httpmiddleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}
