package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/sync/errgroup"

	"github.com/fabworks/shopfloor/internal/config"
	"github.com/fabworks/shopfloor/internal/engine"
	"github.com/fabworks/shopfloor/internal/logging"
	"github.com/fabworks/shopfloor/internal/qc"
	"github.com/fabworks/shopfloor/internal/rpc"
	"github.com/fabworks/shopfloor/internal/storage/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPathFlag != "" {
		cfg.DBPath = dbPathFlag
	}
	if addrFlag != "" {
		cfg.ListenAddr = addrFlag
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	logging.SetVerbose(cfg.Verbose)
	if cfg.LogFile != "" {
		logging.UseFile(cfg.LogFile)
		defer logging.Close()
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsStdout {
		shutdown, err := setupMetrics()
		if err != nil {
			return err
		}
		defer shutdown()
	}

	store, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	defer store.Close()

	eng := engine.New(store)
	qcSvc := qc.NewService(store)
	rpc.ServerVersion = Version
	server := rpc.NewServer(store, eng, qcSvc)
	httpServer := rpc.NewHTTPServer(server, cfg.ListenAddr)

	logging.Logf("shopfloor %s serving db=%s addr=%s", Version, cfg.DBPath, cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Logf("shutting down")
		return nil
	})
	return g.Wait()
}

// setupMetrics installs a periodic stdout exporter as the global meter
// provider. Returns the flush-and-shutdown hook.
func setupMetrics() (func(), error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(time.Minute))),
	)
	otel.SetMeterProvider(provider)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}, nil
}
