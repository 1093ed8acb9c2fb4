package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/api"
	"github.com/streamarc/streamarc/internal/config"
	"github.com/streamarc/streamarc/internal/diskcache"
	"github.com/streamarc/streamarc/internal/fetch"
	"github.com/streamarc/streamarc/internal/jobs"
	"github.com/streamarc/streamarc/internal/livetv"
	"github.com/streamarc/streamarc/internal/matcher"
	"github.com/streamarc/streamarc/internal/providers"
	"github.com/streamarc/streamarc/internal/reconcile"
	"github.com/streamarc/streamarc/internal/store"
	"github.com/streamarc/streamarc/internal/tmdb"
	"github.com/streamarc/streamarc/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.WithField("version", version.Version).Info("StreamArc ingestion core starting")

	defs, err := config.LoadJobs(cfg.JobsFile)
	if err != nil {
		return err
	}
	policy, err := diskcache.LoadPolicy(cfg.CachePolicyFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Connect(ctx, cfg.MongoURL, cfg.MongoDB)
	if err != nil {
		return err
	}
	defer db.Client().Disconnect(context.Background())

	jobStore := store.NewJobStore(db)
	providerStore := store.NewProviderStore(db)
	providerTitleStore := store.NewProviderTitleStore(db)
	titleStore := store.NewTitleStore(db)
	channelStore := store.NewChannelStore(db)
	programStore := store.NewProgramStore(db)
	settingsStore := store.NewSettingsStore(db)

	// A run record can only be running at boot if a previous process died
	// mid-job.
	if orphaned, err := jobStore.ReconcileOrphans(ctx); err != nil {
		return fmt.Errorf("reconcile orphaned runs: %w", err)
	} else if orphaned > 0 {
		log.WithField("count", orphaned).Warn("Boot: orphaned run records marked failed")
	}

	cache, err := diskcache.New(cfg.CacheDir)
	if err != nil {
		return err
	}
	policyHolder := diskcache.NewPolicyHolder(policy)
	policyWatcher, err := diskcache.WatchPolicy(cfg.CachePolicyFile, policyHolder, log)
	if err != nil {
		log.WithError(err).Warn("Boot: policy watcher unavailable, edits need a restart")
	} else {
		defer policyWatcher.Stop()
	}
	sweeper := diskcache.NewSweeper(cache, policyHolder, cfg.CachePurgeEnabled, log)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	progress := providers.NewProgress(rdb)

	fetcher := fetch.NewClient(cache, log)
	authority := tmdb.NewClient(cfg.TMDBAPIKey, fetcher, policyHolder, log)

	pipeline := providers.NewPipeline(providerStore, providerTitleStore, fetcher, policyHolder, progress, log)
	titleMatcher := matcher.New(providerTitleStore, authority, log)
	reconciler := reconcile.New(titleStore, providerTitleStore, providerStore, settingsStore, authority, log)
	enricher := reconcile.NewEnricher(titleStore, authority, log)
	liveSyncer := livetv.NewSyncer(providerStore, channelStore, programStore, fetcher, policyHolder, log)

	queue := jobs.NewQueue(cfg.RedisAddr, 2, log)
	defer queue.Stop()
	scheduler := jobs.NewScheduler(defs, jobStore, queue, log)

	scheduler.Register("sync-providers", func(ctx context.Context, _ map[string]any) (string, error) {
		return pipeline.Run(ctx)
	})
	scheduler.Register("match-titles", func(ctx context.Context, _ map[string]any) (string, error) {
		return titleMatcher.Run(ctx)
	})
	scheduler.Register("reconcile-catalog", func(ctx context.Context, _ map[string]any) (string, error) {
		return reconciler.Run(ctx)
	})
	scheduler.Register("enrich-similar", func(ctx context.Context, _ map[string]any) (string, error) {
		return enricher.Run(ctx)
	})
	scheduler.Register("sync-live", func(ctx context.Context, _ map[string]any) (string, error) {
		return liveSyncer.Run(ctx)
	})
	scheduler.Register("sweep-cache", func(ctx context.Context, _ map[string]any) (string, error) {
		stats, err := sweeper.Sweep(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("scanned %d, expired %d, deleted %d, pruned %d dirs",
			stats.Scanned, stats.Expired, stats.Deleted, stats.DirsRemoved), nil
	})

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	server := api.NewServer(fmt.Sprintf(":%d", cfg.Port), scheduler, jobStore, progress, log)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Shutdown: api server did not stop cleanly")
	}
	return nil
}
