package main

import (
	"flag"
	"os"
	"time"

	"github.com/velocut/velocut/internal/config"
	"github.com/velocut/velocut/internal/logger"
	"github.com/velocut/velocut/internal/media"
	"github.com/velocut/velocut/internal/modules/framecachemodule"
	"github.com/velocut/velocut/internal/modules/perfmodule"
	"github.com/velocut/velocut/internal/modules/preloadmodule"
	"github.com/velocut/velocut/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("VELOCUT_CONFIG"), "path to config file")
	flag.Parse()

	manager := config.NewManager()
	if err := manager.Load(*configPath); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := manager.Get()

	monitor := perfmodule.NewMonitor(logger.Named("engine"), cfg.Monitor, perfmodule.Baseline{
		PoolSize:              cfg.Cache.PoolSize,
		PreloadRadius:         cfg.Preload.RadiusSeconds,
		MaxConcurrentPreloads: cfg.Preload.MaxConcurrent,
		CacheMaxFrames:        cfg.Cache.MaxFrames,
		SamplesPerSec:         cfg.Preload.SamplesPerSec,
	})
	monitor.Start()
	defer monitor.Stop()

	// The demo binary runs against the stub decoder; embedders supply a
	// real decode capability per byte source.
	factory := func(sourceID string, src media.ByteSource) (media.FrameDecoder, error) {
		dec := media.NewStubDecoder(sourceID)
		dec.DecodeDelay = 5 * time.Millisecond
		return dec, nil
	}

	cache := framecachemodule.NewManager(logger.Named("engine"), factory, monitor,
		framecachemodule.OptionsFromConfig(cfg.Cache))
	scheduler := preloadmodule.NewScheduler(logger.Named("engine"), cache,
		preloadmodule.OptionsFromConfig(cfg.Preload))

	// Config hot reload re-applies tuning to the live components. Values
	// pass through the same clamps as any other caller's.
	manager.AddWatcher(func(oldCfg, newCfg *config.Config) {
		cache.SetCapacity(newCfg.Cache.MaxFrames, newCfg.Cache.MaxBytes)
		cache.SetPoolSize(newCfg.Cache.PoolSize)
		scheduler.Configure(newCfg.Preload.RadiusSeconds, newCfg.Preload.MaxConcurrent)
		logger.Info("tuning re-applied from configuration",
			"max_frames", newCfg.Cache.MaxFrames, "radius", newCfg.Preload.RadiusSeconds)
	})

	reloader := config.NewHotReloader(manager, logger.Named("engine"))
	if err := reloader.Start(); err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
	}
	defer reloader.Stop()

	// Advisory loop: poll recommendations and apply them. Embedders that
	// want manual control simply skip this.
	go applyRecommendations(monitor, cache, scheduler)

	r := server.SetupRouter(cfg.Server, cache, scheduler, monitor)

	addr := server.Addr(cfg.Server)
	logger.Info("starting velocut debug server", "addr", addr)
	if err := r.Run(addr); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func applyRecommendations(monitor *perfmodule.Monitor, cache *framecachemodule.Manager, scheduler *preloadmodule.Scheduler) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		rec := monitor.GetRecommendations()
		cache.SetPoolSize(rec.PoolSize)
		cache.SetCapacity(rec.CacheMaxFrames, 0)
		scheduler.Configure(rec.PreloadRadius, rec.MaxConcurrentPreloads)
		monitor.SetBaseline(perfmodule.Baseline{
			PoolSize:              rec.PoolSize,
			PreloadRadius:         scheduler.Radius(),
			MaxConcurrentPreloads: scheduler.Concurrency(),
			CacheMaxFrames:        rec.CacheMaxFrames,
			SamplesPerSec:         rec.SamplesPerSec,
		})
	}
}
