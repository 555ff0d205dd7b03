// Command pipecache loads a shader directory and a pipeline manifest,
// drives a pipeline cache on a no-op GPU device and prints the state of
// every pipeline.
//
// Usage:
//
//	pipecache -manifest pipelines.yaml [-ticks 10] [-watch] [-metrics-addr :2112]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogpu/pipecache"
	"github.com/gogpu/pipecache/backend/native"
	"github.com/gogpu/pipecache/internal/parallel"
	"github.com/gogpu/pipecache/metrics"
	"github.com/gogpu/pipecache/watch"
)

type config struct {
	manifest    string
	ticks       int
	interval    time.Duration
	watch       bool
	sync        bool
	workers     int
	metricsAddr string
	verbose     bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.manifest, "manifest", "pipelines.yaml", "pipeline manifest (YAML)")
	flag.IntVar(&cfg.ticks, "ticks", 10, "number of ProcessQueue ticks to run")
	flag.DurationVar(&cfg.interval, "interval", 16*time.Millisecond, "time between ticks")
	flag.BoolVar(&cfg.watch, "watch", false, "keep ticking and reload shaders on change until interrupted")
	flag.BoolVar(&cfg.sync, "sync", false, "create pipelines inline instead of in the background")
	flag.IntVar(&cfg.workers, "workers", 0, "background creation workers (0 = manifest or GOMAXPROCS)")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flag.BoolVar(&cfg.verbose, "v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	pipecache.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("pipecache failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	m, err := LoadManifest(cfg.manifest)
	if err != nil {
		return err
	}

	dev, cleanup, err := native.OpenNoop()
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer cleanup()

	workers := cfg.workers
	if workers == 0 {
		workers = m.Workers
	}
	pool := parallel.NewPool(workers)
	defer pool.Close()

	cache, err := pipecache.New(dev,
		pipecache.WithSynchronousCompilation(cfg.sync || m.Sync),
		pipecache.WithExecutor(pool),
		pipecache.WithShaderValidation(m.ValidateShaders()),
		pipecache.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer cache.Destroy()

	dir, err := watch.New(m.Shaders, watch.WithLogger(logger), watch.WithValidation(m.ValidateShaders()))
	if err != nil {
		return err
	}
	defer dir.Close()
	if err := dir.Load(); err != nil {
		return err
	}
	if cfg.watch {
		if err := dir.Start(ctx); err != nil {
			return err
		}
	}

	if cfg.metricsAddr != "" {
		srv := serveMetrics(cfg.metricsAddr, cache, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pipelines := queueAll(cache, m)
	logger.Info("pipelines queued", "count", len(pipelines), "shaders", dir.Len())

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()
	for tick := 0; cfg.watch || tick < cfg.ticks; tick++ {
		cache.ExtractShaders(dir)
		cache.ProcessQueue()

		select {
		case <-ctx.Done():
			return printTable(os.Stdout, cache, pipelines)
		case <-ticker.C:
		}
	}
	return printTable(os.Stdout, cache, pipelines)
}

// serveMetrics exposes the cache statistics on addr in the background.
func serveMetrics(addr string, source metrics.StatsSource, logger *slog.Logger) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(source, ""))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return srv
}
