package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/grpcserver"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Service, cfg.LogLevel)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
	}

	var (
		windowRepo availability.Repository
		apptStore  ledger.Store
		cat        catalog.Catalog
		checks     []runtime.ReadyCheck
	)

	switch cfg.Storage {
	case storageMemory:
		static, err := catalog.ParseStatic(cfg.MemoryCatalog)
		if err != nil {
			logger.Error("invalid MEMORY_CATALOG", "err", err)
			os.Exit(1)
		}
		mem := storage.NewMemory()
		windowRepo, apptStore, cat = mem, mem, static
		logger.Warn("using in-memory storage; data is lost on restart")

	default:
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		outboxRepo := outbox.NewRepository()
		windowRepo = storage.NewWindowRepository(pool)
		apptStore = storage.NewAppointmentRepository(pool, outboxRepo)
		cat = catalog.NewRepository(pool)

		var cache *catalog.Cache
		if rdb != nil {
			cache = catalog.NewCache(cat, rdb, cfg.CatalogCacheTTL, logger)
			cat = cache
			checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
		}

		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			PollEvery: cfg.OutboxPollInterval,
			BatchSize: 50,
		})
		go publisher.Run(ctx)

		if cfg.KafkaBrokers != "" {
			checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
			if cache != nil && strings.TrimSpace(cfg.KafkaCatalogTopic) != "" {
				catalogConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
					Brokers: cfg.KafkaBrokers,
					GroupID: cfg.KafkaGroupID,
					Topic:   cfg.KafkaCatalogTopic,
				}, consumer.CatalogHandler(cache, logger))
				go catalogConsumer.Run(ctx)
			}
		}
	}

	windows := availability.NewStore(windowRepo, cat)
	svc := booking.New(windows, ledger.New(apptStore, cat, windows), cat, cfg.Booking, logger, metrics.New(reg))

	opts := handlers.Options{
		Verifier:     httpx.Verifier{Secret: cfg.JWTSecret},
		MaxBodyBytes: int64(cfg.BodyLimitBytes),
	}
	if cfg.JWKSURL != "" {
		opts.Verifier.JWKS = auth.NewJWKSClient(cfg.JWKSURL, cfg.JWKSTTL)
	}
	if rdb != nil {
		opts.BookLimit = httpx.NewRedisRateLimiter(rdb, cfg.BookRatePerMin, time.Minute, "rl:book")
		opts.BookLimitFailOpen = cfg.RateLimitFailOpen
	}

	router := chi.NewRouter()
	handlers.NewBookingHandler(svc, logger).Routes(router, opts)

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/api/", router)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpcserver.New(logger, checks...)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		os.Exit(1)
	}
	go grpcSrv.Watch(ctx, 10*time.Second)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	grpcSrv.Stop()
	logger.Info("servers stopped")
}
