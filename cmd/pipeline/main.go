package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian/internal/config"
	"github.com/meridianhq/meridian/internal/pipeline"
	"github.com/meridianhq/meridian/internal/store"
	"github.com/meridianhq/meridian/internal/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "configs/pipeline.yaml", "path to pipeline config")
		runType    = flag.String("run-type", "daily", "run type: daily, weekly, monthly, adhoc")
		once       = flag.Bool("once", false, "run a single pipeline pass and exit")
		interval   = flag.Duration("interval", 24*time.Hour, "scheduled run interval")
		listen     = flag.String("listen", ":9090", "metrics listen address")
		logLevel   = flag.String("log-level", "info", "log level")
		dev        = flag.Bool("dev", false, "development logging")
	)
	flag.Parse()

	logger, err := telemetry.NewLogger(*logLevel, *dev)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	loader, err := config.NewLoader(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		logger.Fatal("config validation failed", zap.Error(err))
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	var (
		mu  sync.RWMutex
		svc *pipeline.Service
	)
	svc, err = pipeline.NewService(cfg, st, logger)
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}
	logger.Info("pipeline ready",
		zap.Int("metrics", len(cfg.Metrics)),
		zap.Int("funnels", len(cfg.Funnels)),
		zap.Int("segments", len(cfg.Segments)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		report, err := currentService(&mu, &svc).RunPipeline(ctx, pipeline.RunType(*runType))
		if err != nil {
			logger.Fatal("run failed", zap.Error(err))
		}
		if err := report.WriteJSON(os.Stdout); err != nil {
			logger.Fatal("write report", zap.Error(err))
		}
		if report.Status == string(pipeline.StatusFailed) {
			os.Exit(1)
		}
		return
	}

	loader.OnChange(func(newCfg *config.Config) {
		rebuilt, err := pipeline.NewService(newCfg, st, logger)
		if err != nil {
			logger.Warn("hot-reload skipped: pipeline rebuild failed", zap.Error(err))
			return
		}
		mu.Lock()
		svc = rebuilt
		mu.Unlock()
		logger.Info("pipeline hot-reloaded",
			zap.Int("metrics", len(newCfg.Metrics)),
			zap.Int("funnels", len(newCfg.Funnels)))
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("config watch unavailable", zap.Error(err))
	} else {
		defer stopWatch()
	}

	httpSrv := &http.Server{Addr: *listen, Handler: metricsMux()}
	go func() {
		logger.Info("metrics listening", zap.String("addr", *listen))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	logger.Info("scheduler started",
		zap.String("run_type", *runType),
		zap.Duration("interval", *interval))

	runOnce := func() {
		report, err := currentService(&mu, &svc).RunPipeline(ctx, pipeline.RunType(*runType))
		if err != nil {
			logger.Error("run failed", zap.Error(err))
			return
		}
		logger.Info("run complete",
			zap.String("run_id", report.RunID),
			zap.String("status", report.Status),
			zap.Int("insights", len(report.Insights)))
	}
	runOnce()

	for {
		select {
		case <-ticker.C:
			runOnce()
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
			return
		}
	}
}

func currentService(mu *sync.RWMutex, svc **pipeline.Service) *pipeline.Service {
	mu.RLock()
	defer mu.RUnlock()
	return *svc
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.Storage.Driver == "memory" {
		return store.NewMemory(), func() {}, nil
	}
	db, err := store.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
