package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-reservations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/seat-reservations/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/seat-reservations/internal/adapters/redis"
	"github.com/robertarktes/seat-reservations/internal/config"
	httphandler "github.com/robertarktes/seat-reservations/internal/http"
	"github.com/robertarktes/seat-reservations/internal/idempotency"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/robertarktes/seat-reservations/internal/rateLimit"
	"github.com/robertarktes/seat-reservations/internal/reservation"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "seats-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(cfg.LogLevel)
	observability.InitMetrics()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	if cfg.MigrateOnStart {
		if err := crdb.Migrate(context.Background(), pool); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}
	repo := crdb.NewRepository(pool)

	deps := reservation.Deps{Store: repo, Logger: logger}
	checks := map[string]httphandler.Check{"crdb": repo.Ping}

	var rl *rateLimit.RateLimiter
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cache := redisadapter.NewCache(redisClient, cfg.SnapshotCacheTTL)
		if err := cache.Ping(context.Background()); err != nil {
			logger.WithError(err).Warn("redis unreachable at startup, continuing without cache")
		}
		deps.Cache = cache
		deps.Guard = idempotency.NewGuard(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
		rl = rateLimit.NewRateLimiter(redisClient, logger)
		checks["redis"] = cache.Ping
	}

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		mongoDB := mongoClient.Database(cfg.MongoDB)
		deps.Audit = mongoadapter.NewAuditLogger(mongoDB, logger)
		deps.Catalog = mongoadapter.NewVenueCatalog(mongoDB, logger)
		checks["mongo"] = func(ctx context.Context) error {
			return mongoClient.Ping(ctx, readpref.Primary())
		}
	}

	pubKey, err := httphandler.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("failed to parse jwt public key: %v", err)
	}
	if pubKey == nil {
		logger.Warn("JWT_PUBLIC_KEY not set, order and admin routes are open")
	}

	holds := reservation.NewHoldManager(deps, cfg.HoldTTL, cfg.HoldMaxTTL)
	finalizer := reservation.NewFinalizer(deps, cfg.DefaultCurrency, cfg.EnforceAmountMatch)
	inventory := reservation.NewInventory(deps)
	desk := reservation.NewOrderDesk(deps, finalizer)

	handlers := httphandler.NewHandlers(holds, finalizer, inventory, desk, checks, logger)
	r := httphandler.SetupRouter(handlers, logger, rl, httphandler.RouterConfig{
		JWTKey:             pubKey,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
