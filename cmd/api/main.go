package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/safar/greenvillage/internal/auth"
	"github.com/safar/greenvillage/internal/blob"
	"github.com/safar/greenvillage/internal/config"
	"github.com/safar/greenvillage/internal/database"
	"github.com/safar/greenvillage/internal/events"
	"github.com/safar/greenvillage/internal/httpapi"
	"github.com/safar/greenvillage/internal/logging"
	"github.com/safar/greenvillage/internal/orders"
	"github.com/safar/greenvillage/internal/ratelimit"
	"github.com/safar/greenvillage/internal/shutdown"
	"github.com/safar/greenvillage/internal/store"
	"github.com/safar/greenvillage/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	log := logging.New(cfg.App.LogLevel)
	slog.SetDefault(log)

	stopTracing := tracing.Setup(cfg.App.Name)
	defer func() {
		if err := stopTracing(context.Background()); err != nil {
			log.Error("tracer shutdown", "err", err)
		}
	}()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Error("connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("connected to database")

	if cfg.Database.AutoMigrate {
		applied, err := database.Migrate(ctx, db, database.DirectionUp)
		if err != nil {
			log.Error("run migrations", "err", err)
			os.Exit(1)
		}
		log.Info("migrations applied", "files", applied)
	}

	images, err := blob.NewLocalStore(cfg.Uploads.Dir, cfg.Uploads.BaseURL)
	if err != nil {
		log.Error("open upload store", "err", err)
		os.Exit(1)
	}

	pricing := orders.Pricing{
		FreeShippingThreshold: cfg.Orders.FreeShippingThreshold,
		FlatShippingFee:       cfg.Orders.FlatShippingFee,
	}
	svc := orders.NewService(store.NewOrders(db, cfg.Orders.TxMaxRetries), pricing, log)

	deps := httpapi.Deps{
		Log:       log,
		Env:       cfg.App.Env,
		Orders:    svc,
		Catalog:   store.NewCatalog(db),
		Images:    images,
		Auth:      auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		UploadDir: cfg.Uploads.Dir,
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		limiter := ratelimit.New(ratelimit.NewRedisCounter(rdb), cfg.Redis.RateLimit, cfg.Redis.RateLimitSpan, log)
		deps.RateLimit = limiter.Middleware
		log.Info("rate limiting enabled", "limit", cfg.Redis.RateLimit, "window", cfg.Redis.RateLimitSpan.String())
	}

	if len(cfg.Kafka.Brokers) > 0 {
		startRelay(ctx, log, db, cfg.Kafka)
	} else {
		log.Warn("KAFKA_BROKERS not set, order events stay in the outbox")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpapi.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("http listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "err", err)
	}
	log.Info("shutdown complete")
}

func startRelay(ctx context.Context, log *slog.Logger, db *sql.DB, cfg config.KafkaConfig) {
	writer := events.NewKafkaWriter(cfg.Brokers)
	dispatch := events.NewDispatcher(log, writer, cfg.Topic)
	relay := events.NewRelay(log, store.NewOutboxStore(db), dispatch, "api-"+uuid.NewString()[:8])

	go func() {
		defer writer.Close()
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()
}
