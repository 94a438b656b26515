package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"labReport/internal/api"
	"labReport/internal/config"
	"labReport/internal/database"
	"labReport/internal/editor"
	"labReport/internal/notify"
	"labReport/internal/report"
	"labReport/internal/storage"
	"labReport/internal/tasks"
	"labReport/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	logger.Info("database ready", slog.String("driver", cfg.Database.Driver))

	assets, err := storage.New(cfg.Storage, cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage: %v", err)
	}
	logger.Info("storage ready", slog.String("driver", cfg.Storage.Driver))

	templates := database.NewTemplateStore(db)
	projects := database.NewReportSource(db)

	var (
		flag       notify.InFlight
		publisher  notify.Publisher
		subscriber notify.Subscriber
		jobs       tasks.Enqueuer
		limiter    api.Limiter
		inline     *worker.Inline
	)

	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
		defer redisClient.Close()
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("ping redis: %v", err)
		}
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
		defer asynqClient.Close()

		bus := notify.NewRedis(redisClient)
		flag = notify.NewRedisFlag(redisClient, notify.DefaultFlagTTL, logger)
		publisher, subscriber = bus, bus
		jobs = tasks.NewAsynqEnqueuer(asynqClient)
		limiter = api.NewRedisLimiter(redisClient, 60, time.Minute)
		logger.Info("redis enabled, jobs go to asynq", slog.String("redis_addr", cfg.Redis.Addr()))
	} else {
		hub := notify.NewHub()
		flag = notify.NewMemoryFlag()
		publisher, subscriber = hub, hub
		logger.Info("redis disabled, jobs run in-process")
	}

	reports := report.NewService(templates, projects, assets, flag, nil, report.OptionsFrom(cfg.Render), logger)
	sessions := editor.NewManager(reports.Registry(), cfg.Render.HistoryLimit, editor.DefaultIdleTTL)

	if jobs == nil {
		mux := worker.NewServeMux(
			worker.NewPDFTaskHandler(reports, publisher, logger),
			worker.NewTemplatePreviewHandler(reports, templates, assets, publisher, logger),
		)
		inline = worker.NewInline(mux, 0, logger)
		jobs = inline
	}

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, api.Deps{
		Config:     cfg,
		Logger:     logger,
		Templates:  templates,
		Projects:   projects,
		Reports:    reports,
		Sessions:   sessions,
		Assets:     assets,
		Jobs:       jobs,
		Subscriber: subscriber,
		Limiter:    limiter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweepSessions(ctx, sessions, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("api listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", slog.Any("error", err))
	}
	if inline != nil {
		inline.Wait()
	}
}

func sweepSessions(ctx context.Context, sessions *editor.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := sessions.Sweep(now); n > 0 {
				logger.Info("expired idle editing sessions", slog.Int("count", n))
			}
		}
	}
}
