package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/proofflow/proofflow"
	"github.com/proofflow/proofflow/backend/fevm"
	"github.com/proofflow/proofflow/meter"
)

var (
	// Path to the configuration file.
	configFile string

	rootCmd = &cobra.Command{
		Use:           "proofflow",
		Short:         "Filecoin warm storage payments preflight",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// app is the state shared by subcommands.
type app struct {
	cfg    proofflow.Config
	logger *slog.Logger
	meter  proofflow.Meter
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./proofflow.yaml", "path to the config file")

	for _, f := range []func(*cobra.Command){
		registerPreflight,
		registerBalances,
		registerAccount,
		registerDataSets,
		registerDeposit,
		registerWithdraw,
		registerApprove,
		registerWatch,
		registerPieces,
	} {
		f(rootCmd)
	}
}

// loadApp reads the config and sets up logging and metrics.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := proofflow.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	meters := []proofflow.Meter{meter.NewLogMeter(logger)}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		meters = append(meters, meter.NewPromMeter("proofflow", reg))
		serveMetrics(cmd.Context(), cfg.Metrics.Addr, reg, logger)
	}
	a.meter = meter.Multi(meters...)
	return a, nil
}

func newLogger(cfg proofflow.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("proofflow: config: log.level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("module", "proofflow"), nil
}

// serveMetrics exposes reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}

// dial connects the fevm client for the configured key.
func (a *app) dial(ctx context.Context) (*fevm.Client, error) {
	return fevm.Dial(ctx, a.cfg, fevm.WithLogger(a.logger))
}

// printer writes human-readable output to the command's stdout.
type printer struct {
	cmd *cobra.Command
}

func (p printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.cmd.OutOrStdout(), format, args...)
}

// statusObserver prints preflight status lines and progress to stderr.
func statusObserver(cmd *cobra.Command) proofflow.Observer {
	w := cmd.ErrOrStderr()
	return proofflow.ObserverFuncs{
		Status:   func(s string) { fmt.Fprintln(w, "»", s) },
		Progress: func(p int) { fmt.Fprintf(w, "  [%3d%%]\n", p) },
	}
}
