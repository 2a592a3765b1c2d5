package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/petvitals/internal/config"
	"codeberg.org/mutker/petvitals/internal/errors"
	"codeberg.org/mutker/petvitals/internal/events"
	"codeberg.org/mutker/petvitals/internal/exporter"
	"codeberg.org/mutker/petvitals/internal/logger"
	"codeberg.org/mutker/petvitals/internal/metrics"
	"codeberg.org/mutker/petvitals/internal/pid"
	"codeberg.org/mutker/petvitals/internal/probe"
	"codeberg.org/mutker/petvitals/internal/report"
	"codeberg.org/mutker/petvitals/internal/store"
	"codeberg.org/mutker/petvitals/internal/telemetry"
	"github.com/spf13/pflag"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	if !cfg.Debug && !cfg.Verbose {
		if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
			logger.SetLogLevel(level)
		}
	}
	logger.Debug().Msg("Config loaded")
}

func main() {
	pidFile := pid.New(cfg.PIDFile)
	if err := pidFile.Write(); err != nil {
		logger.Fatal().Err(err).Str("path", pidFile.Path()).Msg("failed to write PID file")
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := run(ctx); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
	}
	logger.Info().Msg("Exiting...")
}

func run(ctx context.Context) error {
	errFactory := errors.New()

	storeSvc, err := store.NewService(cfg.Store(), logger.With("store"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	exp, err := exporter.New()
	if err != nil {
		_ = storeSvc.Close()
		return err
	}

	reporter := report.Multi{
		report.NewLog(logger.With("report")),
		storeSvc,
		exp,
	}

	collectorOpts := []metrics.Option{
		metrics.WithMemoryProbe(probe.Runtime{}),
		metrics.WithSink(storeSvc),
		metrics.WithSink(exp),
		metrics.WithLogger(logger.With("collector")),
	}

	var gpu *probe.GPU
	if cfg.GPU {
		// A GPU that fails to initialize still reports 0
		gpu, _ = probe.NewGPU(logger.With("nvml"))
		collectorOpts = append(collectorOpts, metrics.WithGPUProbe(gpu))
	}

	log := logger.With("telemetry")
	svc, err := telemetry.NewService(cfg.Telemetry(),
		telemetry.WithLogger(log),
		telemetry.WithReporter(reporter),
		telemetry.WithBus(events.NewBus(log)),
		telemetry.WithCollectorOptions(collectorOpts...),
	)
	if err != nil {
		_ = storeSvc.Close()
		return err
	}

	if err := svc.Initialize(ctx); err != nil {
		_ = storeSvc.Close()
		return err
	}

	// Cleanup runs in registration order, after the collector has stopped
	if gpu != nil {
		svc.Register(gpu.Close)
	}
	svc.Register(storeSvc.Close)

	if cfg.Listen != "" {
		svc.Register(serve(cfg.Listen, exp, svc))
	}

	reporter.ReportEvent(report.NewEvent(time.Now(), report.CategoryLifecycle, "petvitals started", map[string]any{
		"interval_ms": cfg.Interval,
		"persist":     cfg.Persist,
		"gpu":         cfg.GPU,
	}))

	<-ctx.Done()

	reporter.ReportEvent(report.NewEvent(time.Now(), report.CategoryLifecycle, "petvitals stopping", nil))

	return svc.Cleanup()
}

// serve starts the HTTP surface and returns its shutdown handle.
func serve(addr string, exp *exporter.Exporter, svc *telemetry.Service) func() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exp.Handler())
	// The daemon has no render loop calling svc.Frame, so fps stays 0 here
	// and in petvitals_vitals_fps. Embedders that own a frame callback feed it.
	mux.HandleFunc("/vitals", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(struct {
			Vitals metrics.Vitals   `json:"vitals"`
			Buffer []metrics.Sample `json:"buffer"`
		}{
			Vitals: svc.GetMetrics(),
			Buffer: svc.GetMetricsBuffer(),
		}); err != nil {
			logger.Debug().Err(err).Msg("failed to write vitals")
		}
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("Serving /metrics and /vitals")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("HTTP server failed")
		}
	}()

	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(ctx)
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
