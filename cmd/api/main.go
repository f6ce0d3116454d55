package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ssl-monitor/internal/api"
	"ssl-monitor/internal/conf"
	"ssl-monitor/internal/database"
	"ssl-monitor/internal/repository"
	"ssl-monitor/internal/service"

	"github.com/sirupsen/logrus"
)

func main() {
	// 1. Config + logging
	cfg, err := conf.LoadConfig()
	if err != nil {
		logrus.Fatalf("Config error: %v", err)
	}
	conf.SetupLogging(cfg.Log)

	// 2. Storage
	store, closeStore, err := openStore(cfg)
	if err != nil {
		logrus.Fatalf("Database error: %v", err)
	}
	defer closeStore()

	// 3. Redis (optional, shared cooldown)
	rdb, err := database.ConnectRedis(cfg.Redis)
	if err != nil {
		logrus.Fatalf("Redis error: %v", err)
	}
	var cooldown service.Cooldown = service.NewMemoryCooldown()
	if rdb != nil {
		defer rdb.Close()
		cooldown = service.NewRedisCooldown(rdb)
	}

	// 4. Services
	// Repo -> Service -> Handler
	notifierService, err := service.NewNotifierService(cfg.Notifier)
	if err != nil {
		logrus.Fatalf("Notifier error: %v", err)
	}
	defer notifierService.Stop()

	trigger := service.NewNotificationTrigger(notifierService)
	scheduler := service.NewCheckScheduler(store, service.NewTLSProber(), trigger, cooldown, cfg.Scheduler)
	domainService := service.NewDomainService(store, scheduler, notifierService)

	cronService := service.NewCronService(scheduler, store, cfg.Scheduler.Tick, cfg.Retention)
	if err := cronService.Start(); err != nil {
		logrus.Fatalf("Cron error: %v", err)
	}
	defer cronService.Stop()

	// 5. HTTP
	router := api.NewRouter(cfg.Server,
		api.NewDomainHandler(domainService, scheduler, notifierService),
		api.NewToolHandler(),
		api.NewHealthHandler(store, rdb),
	)
	run(cfg.Server.Port, router)
}

func run(port string, handler http.Handler) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 1. Serve until SIGINT / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.Infof("🚀 Server starting on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("Server startup failed: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down...")

	// 2. Drain in-flight requests; cron and workers stop via the deferred calls in main

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("graceful shutdown failed: %v", err)
	}
}

// openStore picks the backend named by storage.driver.
func openStore(cfg *conf.Config) (repository.Store, func(), error) {
	switch cfg.Storage.Driver {
	case "mongo":
		client, err := database.ConnectMongo(cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		db := client.Database(cfg.MongoDB.Database)

		// unique (user_id, name) must exist before the first insert

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := repository.EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return repository.NewMongoDomainRepo(db), func() { _ = client.Disconnect(context.Background()) }, nil

	case "postgres", "sqlite":
		db, err := database.OpenSQL(cfg.Storage.Driver, cfg.SQL, repository.Models()...) // AutoMigrate inside
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return repository.NewSQLDomainRepo(db), closer, nil

	default:
		logrus.Warn("⚠️ using the in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}
}
