package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/loyalty/fraud-service/internal/audit"
	"github.com/loyalty/fraud-service/internal/config"
	"github.com/loyalty/fraud-service/internal/consumer"
	"github.com/loyalty/fraud-service/internal/locking"
	"github.com/loyalty/fraud-service/internal/metrics"
	"github.com/loyalty/fraud-service/internal/pkg/logger"
	"github.com/loyalty/fraud-service/internal/pkg/telemetry"
	"github.com/loyalty/fraud-service/internal/scoring"
	"github.com/loyalty/fraud-service/internal/store/memory"
	"github.com/loyalty/fraud-service/internal/store/postgres"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize Logger
	log, err := logger.New(cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, cfg.Log.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Tracing
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}

	// 4. Storage
	var (
		store    scoring.Store
		sinks    []audit.Sink
		pool     *pgxpool.Pool
		checkers = map[string]func(context.Context) error{}
	)
	switch cfg.Database.Driver {
	case "postgres":
		pool, err = postgres.Connect(ctx, cfg.Database)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, pool, log); err != nil {
				log.Fatal("failed to migrate database", zap.Error(err))
			}
		}
		store = postgres.New(pool, cfg.Database.QueryTimeout)
		sinks = append(sinks, audit.Sink{Name: "postgres", AuditSink: postgres.NewAuditLog(pool)})
		checkers["database"] = pool.Ping
	default:
		log.Warn("using in-memory storage; data is lost on restart")
		store = memory.New()
		sinks = append(sinks, audit.Sink{Name: "memory", AuditSink: memory.NewAuditLog()})
	}

	// 5. Account locking
	var locker scoring.AccountLocker
	switch cfg.Locking.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		locker = locking.NewRedis(rdb, locking.RedisConfig{
			KeyPrefix:  cfg.Locking.KeyPrefix,
			TTL:        cfg.Locking.TTL,
			RetryDelay: cfg.Locking.RetryDelay,
		}, log)
		checkers["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	default:
		locker = locking.NewLocal()
	}

	// 6. Audit publishing
	if cfg.Kafka.Enabled {
		producer, err := audit.NewSyncProducer(cfg.Kafka)
		if err != nil {
			log.Fatal("failed to create kafka producer", zap.Error(err))
		}
		publisher := audit.NewKafkaPublisher(producer, cfg.Kafka, log)
		defer func() { _ = publisher.Close() }()
		sinks = append(sinks, audit.Sink{Name: "kafka", AuditSink: publisher})
	}

	// 7. Scoring engine
	thresholds, err := cfg.Rules.Thresholds()
	if err != nil {
		log.Fatal("invalid rules configuration", zap.Error(err))
	}
	policy, err := cfg.Rules.Policy()
	if err != nil {
		log.Fatal("invalid rules configuration", zap.Error(err))
	}
	engine, err := scoring.NewEngine(store, audit.NewFanOut(sinks...), locker, scoring.Config{
		Thresholds:    thresholds,
		AnalyzePolicy: policy,
		LatencyBudget: cfg.Rules.LatencyBudget,
	}, log)
	if err != nil {
		log.Fatal("failed to create scoring engine", zap.Error(err))
	}

	// 8. Transaction consumer
	consumerDone := make(chan struct{})
	if cfg.Kafka.Enabled {
		group, err := consumer.NewConsumerGroup(cfg.Kafka)
		if err != nil {
			log.Fatal("failed to create consumer group", zap.Error(err))
		}
		c := consumer.New(group, cfg.Kafka.TransactionTopic, consumer.NewHandler(engine, log), log)
		go func() {
			defer close(consumerDone)
			if err := c.Run(ctx); err != nil {
				log.Error("consumer stopped", zap.Error(err))
			}
		}()
		defer func() { _ = c.Close() }()
	} else {
		close(consumerDone)
	}

	// 9. Operational HTTP surface
	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())
	e.Use(metrics.Middleware())

	e.GET("/health", health(checkers))
	e.GET("/metrics", metrics.Handler())

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal("shutting down the server", zap.Error(err))
		}
	}()
	log.Info("server started", zap.String("addr", serverAddr))

	// Wait for interrupt signal to gracefully shutdown the server with a timeout
	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn("consumer did not stop before the shutdown deadline")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown failed", zap.Error(err))
	}

	log.Info("server exited properly")
}

// health reports the status of each backing dependency
func health(checkers map[string]func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checkers {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		return c.JSON(status, body)
	}
}
