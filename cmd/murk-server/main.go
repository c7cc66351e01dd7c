// Command murk-server runs a realtime murk world behind a Prometheus
// metrics endpoint and a non-blocking preflight probe, configured from a
// TOML file with command-line overrides (§10.3, §12 "CLI config loader").
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/murk-sim/murk/internal/demoworld"
	"github.com/murk-sim/murk/obs"
)

func main() {
	configPath := flag.String("config", "murk-server.toml", "path to the TOML world configuration")
	metricsAddr := flag.String("metrics-addr", "", "override the config file's metrics listen address")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := demoworld.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}

	reg := prometheus.NewRegistry()
	sink := obs.New(reg)

	world, err := demoworld.Build(cfg, logger, sink, nil)
	if err != nil {
		logger.Fatal("build world", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/preflight", func(w http.ResponseWriter, r *http.Request) {
		report := world.Preflight()
		fmt.Fprintf(w, "ingress_depth=%d newest_tick=%d ring_occupancy=%d max_skew=%d tick_disabled=%v\n",
			report.IngressDepth, report.NewestTickID, report.RingOccupancy, report.CurrentMaxSkew, report.TickDisabled)
	})
	httpSrv := &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("murk-server running",
		zap.String("metrics_addr", cfg.Observability.MetricsAddr),
		zap.Int("cells", cfg.World.Cells))
	world.Run(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	report := world.Shutdown(2*time.Second, 2*cfg.MaxEpochHold())
	logger.Info("shutdown complete",
		zap.Uint64("final_tick_id", uint64(report.FinalTickID)),
		zap.Int("commands_dropped", report.CommandsDropped),
		zap.Int("workers_stalled", report.WorkersStalled),
		zap.Duration("elapsed", report.Elapsed))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
