package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"labReport/internal/config"
	"labReport/internal/database"
	"labReport/internal/notify"
	"labReport/internal/report"
	"labReport/internal/storage"
	"labReport/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if !cfg.Redis.Enabled {
		log.Fatal("worker requires REDIS_ENABLED=true; without redis the api runs jobs in-process")
	}

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	log.Println("database connection ready for worker")

	assets, err := storage.New(cfg.Storage, cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	log.Printf("storage ready, driver=%s", cfg.Storage.Driver)

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	templates := database.NewTemplateStore(db)
	bus := notify.NewRedis(redisClient)
	flag := notify.NewRedisFlag(redisClient, notify.DefaultFlagTTL, logger)
	reports := report.NewService(templates, database.NewReportSource(db), assets, flag, nil, report.OptionsFrom(cfg.Render), logger)

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	mux := worker.NewServeMux(
		worker.NewPDFTaskHandler(reports, bus, logger),
		worker.NewTemplatePreviewHandler(reports, templates, assets, bus, logger),
	)

	if cfg.Worker.MetricsPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Worker.MetricsPort)
			if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
				logger.Error("metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	logger.Info("worker service started", slog.String("redis_addr", redisAddr), slog.Int("concurrency", cfg.Worker.Concurrency))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
