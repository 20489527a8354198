package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flat-notifier/config"
	"flat-notifier/lock"
	"flat-notifier/metrics"
	"flat-notifier/notifier/telegram"
	"flat-notifier/scraper"
	"flat-notifier/scraper/browser"
	"flat-notifier/scraper/cian"
	"flat-notifier/scraper/yandex"
	"flat-notifier/server"
	"flat-notifier/services"
	"flat-notifier/storage"
	"flat-notifier/utils"
)

const lockKey = "flat-notifier:run"

func main() {
	os.Exit(run())
}

// run returns the process exit code. Deferred cleanup finishes before main
// exits.
func run() int {
	logger := utils.NewLogger()
	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration: %v", err)
		return 1
	}

	logger.Info("=== Flat notifier starting ===")
	logger.Info("Config: max price %d | rooms %v | destinations %d | store %s | retention %dd",
		cfg.MaxPrice, cfg.AllowedRooms, len(cfg.DestinationIDs), cfg.StoreDriver, cfg.RetentionDays)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	ledger, err := storage.Open(ctx, cfg.StoreDriver, cfg.StoreDSN(), logger)
	if err != nil {
		logger.Error("Failed to open store: %v", err)
		return 1
	}
	defer ledger.Close()

	runLock, err := newRunLock(cfg)
	if err != nil {
		logger.Error("Failed to set up run lock: %v", err)
		return 1
	}

	opts := services.Options{
		Filter:       services.NewFilter(cfg.MaxPrice, cfg.AllowedRooms),
		Destinations: cfg.DestinationIDs,
		Retention:    cfg.Retention(),
		SendSummary:  cfg.SendSummary,
	}
	if cfg.RawCSVPath != "" {
		csvWriter, err := storage.NewCSVWriter(cfg.RawCSVPath)
		if err != nil {
			logger.Error("Failed to create CSV writer: %v", err)
			return 1
		}
		defer csvWriter.Close()
		opts.RawSink = csvWriter
	}

	dispatcher := telegram.NewDispatcher(cfg.TelegramAPIURL, cfg.BotToken, cfg.MinMessageInterval, logger, m)
	coordinator := services.NewCoordinator(ledger, dispatcher, opts, logger, m)
	fetchers := newFetchers(cfg, logger)
	report := services.NewSummaryService()
	state := server.NewState()

	if cfg.StatusAddr != "" {
		srv := server.Start(cfg.StatusAddr, server.NewRouter(state, m.Handler(), ledger), logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	runOnce := func() error {
		if err := runLock.Acquire(ctx); err != nil {
			if errors.Is(err, lock.ErrLockHeld) {
				logger.Warn("Another run holds the lock, skipping this one")
			} else {
				logger.Error("Run lock unavailable, skipping this run: %v", err)
			}
			return nil
		}
		defer func() {
			if err := runLock.Release(context.Background()); err != nil {
				logger.Warn("Lock release: %v", err)
			}
		}()

		summary, err := coordinator.Run(ctx, fetchers...)
		report.Print(summary)
		state.Record(summary, err)

		if cfg.MetricsTextfile != "" {
			if werr := m.WriteTextfile(cfg.MetricsTextfile); werr != nil {
				logger.Warn("Metrics textfile: %v", werr)
			}
		}
		return err
	}

	if !cfg.Daemon {
		if err := runOnce(); err != nil {
			if isStoreError(logger, err) {
				return 1
			}
			logger.Warn("Run interrupted: %v", err)
		}
		logger.Info("=== Done ===")
		return 0
	}

	logger.Info("Running every %s until interrupted", cfg.RunInterval)
	ticker := time.NewTicker(cfg.RunInterval)
	defer ticker.Stop()
	for {
		if err := runOnce(); err != nil {
			if isStoreError(logger, err) {
				return 1
			}
			if ctx.Err() == nil {
				logger.Error("Run failed: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("=== Shutting down ===")
			return 0
		case <-ticker.C:
		}
	}
}

func newFetchers(cfg *config.Config, logger *utils.Logger) []scraper.Fetcher {
	yandexOpts := yandex.Options{
		RGID:     cfg.YandexRGID,
		Rooms:    cfg.AllowedRooms,
		MaxPrice: cfg.MaxPrice,
		Timeout:  cfg.HTTPTimeout,
		Retries:  cfg.FetchRetries,
	}
	if cfg.BrowserFallback {
		yandexOpts.Browser = browser.New(cfg.ChromeBin, 0, logger)
	}

	return []scraper.Fetcher{
		cian.New(cian.Options{
			Region:   cfg.CianRegion,
			Rooms:    cfg.AllowedRooms,
			MaxPrice: cfg.MaxPrice,
			Timeout:  cfg.HTTPTimeout,
		}, logger),
		yandex.New(yandexOpts, logger),
	}
}

func newRunLock(cfg *config.Config) (lock.RunLock, error) {
	if cfg.RedisURL == "" {
		return lock.Noop{}, nil
	}
	client, err := lock.NewClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return lock.NewRedisLock(client, lockKey, cfg.LockTTL), nil
}

// isStoreError reports, and logs, a store failure that must end the process.
func isStoreError(logger *utils.Logger, err error) bool {
	var storeErr *storage.StoreCorruptionError
	if !errors.As(err, &storeErr) {
		return false
	}
	logger.Error("Store failure, aborting: %v", err)
	return true
}
