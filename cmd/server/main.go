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

	"stageflow/config"
	"stageflow/internal/activity"
	"stageflow/internal/handler"
	"stageflow/internal/httpserver"
	"stageflow/internal/lock"
	"stageflow/internal/repository"
	"stageflow/internal/service/schedule"
	"stageflow/pkg/circuitbreaker"
	"stageflow/pkg/db"
	"stageflow/pkg/logger"
	"stageflow/pkg/mq"
	"stageflow/pkg/redis"
)

func main() {
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "config"
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting stageflow...",
		zap.String("env", cfg.Env),
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("lock_backend", cfg.Lock.Backend),
		zap.Bool("mq_enabled", cfg.MQ.Enabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	log.Info("Initializing database connection...")
	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer pool.Close()
	log.Info("Database connection established successfully")

	if cfg.DB.Migrate {
		if err := db.Migrate(ctx, pool, log); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	st := repository.NewStore(pool, log)
	readyChecks := map[string]func(context.Context) error{
		"db": st.Ping,
	}

	// Item lock
	var locker schedule.ItemLocker = lock.NewLocal()
	if cfg.Lock.Backend == "redis" {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to init Redis", zap.Error(err))
		}
		defer rdb.Close()
		locker = lock.NewRedis(rdb, cfg.Lock.TTL, cfg.Lock.Wait, log)
		readyChecks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info("Redis item lock enabled", zap.String("addr", cfg.Redis.Addr))
	}

	// Activity log sink
	var recorder schedule.ActivityRecorder = activity.NewLogRecorder(log)
	if cfg.MQ.Enabled {
		publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()
		breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
		recorder = activity.NewMQRecorder(publisher, breaker, log)
		readyChecks["mq"] = func(context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("publisher disconnected")
			}
			return nil
		}
		log.Info("Activity entries published to MQ", zap.String("exchange", cfg.MQ.Exchange))
	}

	svc := schedule.NewService(st, locker, recorder, schedule.Config{
		MinLag:          cfg.Schedule.MinLag,
		SystemStageType: cfg.Schedule.SystemStageType,
		SystemStageName: cfg.Schedule.SystemStageName,
	}, log)

	router := httpserver.NewRouter(httpserver.Handlers{
		Projects:     handler.NewProjectHandler(svc, log),
		Stages:       handler.NewStageHandler(svc, log),
		Dependencies: handler.NewDependencyHandler(svc, log),
		Templates:    handler.NewTemplateHandler(svc, log),
	}, httpserver.Options{
		JWTSecret:      cfg.JWT.Secret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ReadyChecks:    readyChecks,
	}, log)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
	log.Info("Server stopped")
}
