package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"c2c/internal/config"
	"c2c/internal/database"
	"c2c/internal/logging"
	"c2c/internal/metrics"
	"c2c/internal/report"
	"c2c/internal/scheduler"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	metricsAddr string
	once        bool
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduling engine",
		Long:  "Walks the network every pass and keeps worker threads allocated according to the current goal and targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(cmd, global, opts)
		},
	}
	runCmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, overrides metrics.listen")
	runCmd.Flags().BoolVar(&opts.once, "once", false, "Run a single pass, print the allocations and exit")
	return runCmd
}

func runEngine(cmd *cobra.Command, global *globalOptions, opts *runOptions) error {
	logger := logging.GetLogger()

	cfg, content, err := loadConfig(global)
	if err != nil {
		return err
	}

	// Set log level from configuration unless the flag already did
	if global.logLevel == "" {
		if err := logging.SetLogLevel(cfg.Engine.LogLevel); err != nil {
			logger.WithField("log_level", cfg.Engine.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			logging.SetLogLevel("info")
		}
		if err := logging.SetSchedulerLogLevel(cfg.Engine.SchedulerLogLevel); err != nil {
			logger.WithField("log_level", cfg.Engine.SchedulerLogLevel).WithError(err).Warn("Invalid scheduler log level in config, using INFO")
			logging.SetSchedulerLogLevel("info")
		}
	}

	network, err := openNetwork(cfg)
	if err != nil {
		return err
	}
	mailbox, err := openMailbox(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	started := time.Now()
	meta := database.CollectRunMetadata(runID, Version, cfg, content, started)

	observers, closeObservers := setupRecorders(ctx, cfg, meta)
	defer closeObservers()

	addr := cfg.Metrics.Listen
	if opts.metricsAddr != "" {
		addr = opts.metricsAddr
	}
	if addr != "" {
		exporter := metrics.NewExporter()
		observers = append(observers, exporter)
		shutdown := serveMetrics(addr, exporter)
		defer shutdown()
	}

	engine := scheduler.New(cfg, network, mailbox,
		scheduler.WithRunID(runID),
		scheduler.WithObservers(observers...),
	)
	engine.Calibrate()
	engine.Restore()

	logger.WithFields(logrus.Fields{
		"run_id":   runID,
		"topology": cfg.Engine.Topology,
		"ports":    cfg.Ports.Dir,
		"version":  Version,
	}).Info("Engine initialized")

	if opts.once {
		if _, err := engine.RunPass(ctx); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, report.Headline(engine.State()))
		return report.RenderAllocations(out, engine.State())
	}

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Received interrupt signal, shutting down")
	return nil
}

// setupRecorders connects the pass recorders the configuration asks for. When
// InfluxDB is unreachable, passes go to the spool directory instead.
func setupRecorders(ctx context.Context, cfg *config.Config, meta *database.RunMetadata) ([]scheduler.Observer, func()) {
	logger := logging.GetLogger()
	var observers []scheduler.Observer
	closeAll := func() {}

	if cfg.Data.DB.Enabled {
		dbClient, err := database.NewInfluxDBClient(cfg.Data.DB)
		if err == nil {
			if err := dbClient.WriteMetadata(ctx, meta); err != nil {
				logger.WithError(err).Warn("Failed to write run metadata")
			}
			return append(observers, dbClient), dbClient.Close
		}
		logger.WithError(err).Warn("InfluxDB unavailable, pass reports will not be recorded there")
	}

	if cfg.Data.SpoolDir != "" {
		spool := database.NewSpool(cfg.Data.SpoolDir, meta)
		logger.WithField("dir", spool.Dir()).Info("Spooling pass reports")
		observers = append(observers, spool)
	}
	return observers, closeAll
}

func serveMetrics(addr string, exporter *metrics.Exporter) func() {
	logger := logging.GetLogger()

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("addr", addr).WithError(err).Error("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.WithError(err).Warn("Failed to stop metrics server")
		}
	}
}
