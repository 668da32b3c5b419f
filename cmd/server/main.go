// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"capstate/internal/capsule/handler"
	capmetrics "capstate/internal/capsule/metrics"
	"capstate/internal/capsule/service"
	"capstate/internal/capsule/store"
	"capstate/internal/capsule/store/lock"
	"capstate/internal/platform/config"
	"capstate/internal/platform/httpserver"
	"capstate/internal/platform/logger"
	platformmetrics "capstate/internal/platform/metrics"
	platformredis "capstate/internal/platform/redis"
	"capstate/internal/provenance"
)

var version = "dev"

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	platformmetrics.New(version)

	var db *sql.DB
	if cfg.StoreBackend == config.StorePostgres || cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
	}

	stateStore, err := buildStateStore(cfg, db)
	if err != nil {
		return err
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	var locker lock.Locker = lock.NewLocalLocker()
	if redisClient != nil {
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient.Client, cfg.LockTTL)
		log.Info("capsule lock backed by redis", "ttl", cfg.LockTTL)
	}

	// The durable evidence log serves history reads; the Kafka sink, when
	// configured, fans events out behind a worker so a slow broker never sits
	// on the request path.
	var evidenceLog provenance.Store
	if db != nil {
		evidenceLog = provenance.NewPostgres(db)
	} else {
		evidenceLog = provenance.NewInMemoryStore()
	}

	group, ctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := provenance.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer sink.Close()

		inbox := make(provenance.Inbox, 256)
		worker := provenance.NewWorker(sink, inbox)
		group.Go(func() error {
			err := worker.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		evidenceLog = provenance.Tee{evidenceLog, inbox}
		log.Info("evidence log fanning out to kafka", "topic", cfg.Kafka.Topic)
	}

	svc := service.New(stateStore, locker, evidenceLog, capmetrics.New())
	h := handler.New(svc, log)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", platformmetrics.Handler())
	h.Register(router)

	srv := httpserver.New(cfg.Addr, router)

	group.Go(func() error {
		log.Info("starting capstate", "addr", cfg.Addr, "store", cfg.StoreBackend, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func buildStateStore(cfg config.Server, db *sql.DB) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return store.NewInMemoryStore(), nil
	case config.StoreFile:
		return store.NewFileStore(cfg.StateDir)
	case config.StorePostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres store requires CAPSTATE_POSTGRES_DSN")
		}
		return store.NewPostgres(db), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
