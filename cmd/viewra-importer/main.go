package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mantonx/viewra-importer/internal/catalog"
	"github.com/mantonx/viewra-importer/internal/config"
	"github.com/mantonx/viewra-importer/internal/database"
	"github.com/mantonx/viewra-importer/internal/events"
	"github.com/mantonx/viewra-importer/internal/importer"
	"github.com/mantonx/viewra-importer/internal/jobstore"
	"github.com/mantonx/viewra-importer/internal/logger"
	"github.com/mantonx/viewra-importer/internal/metadata"
	"github.com/mantonx/viewra-importer/internal/resource"
	"github.com/mantonx/viewra-importer/internal/server"
	"github.com/mantonx/viewra-importer/internal/shares"
	"github.com/mantonx/viewra-importer/internal/throttle"
	"github.com/mantonx/viewra-importer/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "viewra-importer: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("VIEWRA_IMPORTER_CONFIG"); p != "" {
		return p
	}
	for _, candidate := range []string{"/app/viewra-data/importer.yaml", "./importer.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func run() error {
	path := configPath()
	if err := config.Load(path); err != nil {
		return err
	}
	cfg := config.Get()

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	logger.SetDefault(log)
	if path != "" {
		log.Info("configuration loaded", "path", path)
	} else {
		log.Info("using default configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	bus := events.NewBus(cfg.Importer.EventBufferSize, log)
	if err := bus.Start(ctx); err != nil {
		return err
	}

	cat := catalog.New(db, log)
	worker := importer.NewWorker(
		resource.NewLocalAccessor(),
		metadata.NewDefaultRegistry(cfg.Importer.FFprobePath),
		jobstore.New(db, log),
		bus,
		throttle.New(cfg.Importer.Throttle, log),
		log,
	)
	bus.Subscribe(events.EventFilter{Types: []events.EventType{events.EventSystemShuttingDown}}, worker.HandleEvent)

	if err := worker.Startup(ctx); err != nil {
		return err
	}
	if cfg.Importer.AutoActivate {
		worker.Activate(cat, cat)
	}

	var shareWatcher shares.Watcher
	fileWatcher, err := watcher.New(worker, cfg.Importer.WatchDebounce, log)
	if err != nil {
		log.Warn("file watching disabled", "error", err)
	} else {
		fileWatcher.Start(ctx)
		shareWatcher = fileWatcher
	}

	configured, err := shares.FromConfig(cfg.Shares)
	if err != nil {
		return err
	}
	shareManager := shares.NewManager(shares.NewGormStore(db), worker, cat, shareWatcher, bus, shares.Options{
		RefreshInterval:  cfg.Importer.RefreshInterval,
		RefreshOnStartup: cfg.Importer.RefreshOnStartup,
	}, log)
	if err := shareManager.Start(ctx, configured); err != nil {
		return err
	}

	srv := server.New(cfg.Server, server.Deps{
		Importer: worker,
		Browsing: cat,
		Results:  cat,
		Counter:  cat,
		Shares:   shareManager,
		Bus:      bus,
	}, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	_ = bus.PublishAsync(events.Event{Type: events.EventSystemStarted, Source: "system", Message: "importer started"})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
	case runErr = <-serverErr:
		log.Error("http server stopped", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := bus.Publish(shutdownCtx, events.Event{Type: events.EventSystemShuttingDown, Source: "system"}); err != nil {
		log.Warn("failed to publish shutdown event", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown error", "error", err)
	}
	shareManager.Stop()
	if fileWatcher != nil {
		if err := fileWatcher.Stop(); err != nil {
			log.Warn("file watcher shutdown error", "error", err)
		}
	}
	if err := worker.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to persist import queue", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("event bus shutdown error", "error", err)
	}

	log.Info("shutdown complete")
	return runErr
}
