// The coordinator owns consent lifecycle state. It receives observer
// messages over HTTP, serializes them through the bus dispatcher, applies
// transitions through the lifecycle service, and runs the durable deadline
// scheduler.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"consentry/internal/auth"
	"consentry/internal/bus"
	"consentry/internal/chain"
	"consentry/internal/events"
	"consentry/internal/lifecycle"
	"consentry/internal/notify"
	"consentry/internal/platform/config"
	"consentry/internal/platform/httpserver"
	"consentry/internal/platform/kafka"
	"consentry/internal/platform/logger"
	platformredis "consentry/internal/platform/redis"
	"consentry/internal/scheduler"
	"consentry/internal/storage"
	httptransport "consentry/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}

	var (
		consents   storage.ConsentStore
		detections storage.DetectionStore
		settings   storage.SettingsStore
		tabs       storage.TabMapStore
	)
	if redisClient != nil {
		consents = storage.NewRedisConsentStore(redisClient.Client)
		detections = storage.NewRedisDetectionStore(redisClient.Client)
		settings = storage.NewRedisSettingsStore(redisClient.Client)
		tabs = storage.NewRedisTabMapStore(redisClient.Client)
		log.Info("using redis-backed stores")
	} else {
		consents = storage.NewMemoryConsentStore()
		detections = storage.NewMemoryDetectionStore()
		settings = storage.NewMemorySettingsStore()
		tabs = storage.NewMemoryTabMapStore()
		log.Warn("redis not configured, state will not survive restarts")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, storage.Schema); err != nil {
			log.Error("postgres schema setup failed", "error", err)
			os.Exit(1)
		}
		detections = storage.NewPostgresDetectionStore(pool)
		log.Info("archiving detections in postgres")
	}

	var publisher *events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:  cfg.KafkaBrokers,
			ClientID: "consentry-coordinator",
		}, log)
		if err != nil {
			log.Error("kafka producer setup failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := producer.Close(flushCtx); err != nil {
				log.Error("kafka producer close failed", "error", err)
			}
		}()
		publisher = events.NewPublisher(producer, log)
		log.Info("publishing lifecycle transitions", "topic", events.Topic)
	}

	var requester chain.Requester = chain.NopRequester{}
	if cfg.AgentBaseURL != "" {
		requester = chain.NewHTTPRequester(&http.Client{Timeout: 10 * time.Second}, cfg.AgentBaseURL, cfg.AgentToken)
	}

	// The service and the scheduler reference each other; the handler
	// closure breaks the cycle.
	var service *lifecycle.Service
	handleDeadline := func(ctx context.Context, kind scheduler.Kind, tokenID string) {
		service.HandleDeadline(ctx, kind, tokenID)
	}

	var sched scheduler.Scheduler
	var redisSched *scheduler.Redis
	if redisClient != nil {
		redisSched = scheduler.NewRedis(redisClient.Client, handleDeadline, log)
		sched = redisSched
	} else {
		sched = scheduler.NewMemory(handleDeadline, log)
	}

	service = lifecycle.New(lifecycle.Deps{
		Consents:   consents,
		Detections: detections,
		Settings:   settings,
		Tabs:       tabs,
		Scheduler:  sched,
		Chain:      requester,
		Notifier:   &notify.LogNotifier{Logger: log},
		Events:     publisher,
		Logger:     log,
	})

	dispatcher := bus.NewDispatcher(service, log)

	var health httptransport.HealthChecker
	if redisClient != nil {
		health = redisClient.Health
	}
	handler := httptransport.NewHandler(dispatcher, detections, settings, health, log)
	validator := auth.NewJWTService(cfg.JWTSigningKey, "consentry")
	router := httptransport.NewRouter(handler, validator, log)
	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := dispatcher.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if redisSched != nil {
		group.Go(func() error {
			err := redisSched.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	group.Go(func() error {
		log.Info("starting coordinator", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("coordinator exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("coordinator stopped")
}
