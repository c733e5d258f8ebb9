// Command odmserver wires the session/transaction core's infrastructure
// — database and Redis connections, metrics, and tracing — into a
// long-running process exposing health, readiness, and metrics
// endpoints. It constructs no backend adapter and no Router: those need
// the embedding application's field/descriptor system, which this
// command does not itself define.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	appconfig "github.com/hedgehog/odm/internal/config"
	"github.com/hedgehog/odm/internal/monitoring"
	"github.com/hedgehog/odm/internal/telemetry"
)

func main() {
	cfg := appconfig.Load()

	logger, err := telemetry.NewLogger(cfg.Environment)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting odm server", zap.String("environment", cfg.Environment))

	db, err := initializeDatabase(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("database connected")

	redisClient, err := initializeRedis(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis connection failed, continuing without it", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		logger.Info("redis connected")
	}

	metricsCollector := monitoring.NewMetricsCollector()
	logger.Info("metrics collector initialized")

	tracingProvider, err := monitoring.NewTracingProvider(&monitoring.TracingConfig{
		Enabled:      cfg.TracingEnabled,
		OTLPEndpoint: cfg.OTLPEndpoint,
		ServiceName:  monitoring.ServiceName,
		Environment:  cfg.Environment,
		SamplingRate: cfg.SamplingRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer tracingProvider.Shutdown(context.Background())
	logger.Info("tracing provider initialized")

	// Backend adapters need a Mapper/Serializer supplied by the
	// embedding application's field/descriptor system, so this command
	// only holds the connections open; the application wires
	// sqlbackend.New/redisbackend.New with its own mapper and registers
	// the result on a unitofwork.Router before serving requests.

	router := mux.NewRouter()
	router.Use(metricsCollector.HTTPMiddleware)
	router.Use(tracingProvider.HTTPMiddleware)

	router.Handle("/metrics", metricsCollector.Handler())
	router.HandleFunc("/healthz", metricsCollector.HealthzHandler())
	router.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"not_ready","reason":"database_unavailable"}`))
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"not_ready","reason":"redis_unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("odm server listening", zap.String("addr", cfg.ServerAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	logger.Info("odm server fully initialized")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down odm server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}

	logger.Info("odm server shutdown complete")
}

func initializeDatabase(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func initializeRedis(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}
