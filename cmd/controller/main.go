// Command controller runs the single registry and lifecycle manager of
// spec section 4.6: agent admission, router-map distribution, flush/STAT
// aggregation, and the three-phase garbage-collection state machine.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rebryant/cloudbdd-go/internal/config"
	"github.com/rebryant/cloudbdd-go/internal/controller"
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/spf13/cobra"
)

var (
	port        int
	routerCount uint16
	workerCount uint16
	clientLimit uint16
	shadowCheck bool
	hashBits    uint
	configFile  string
	metricsAddr string
	logLevel    string
	logFormat   string
)

func main() {
	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Registry and lifecycle manager for a distributed BDD dataflow cluster",
		Long: `controller accepts registrations from routers, workers, and clients,
distributes the router map to every worker and client, relays flush/kill/GC
control messages, aggregates per-worker statistics, and drives the
garbage-collection phase machine (spec section 4.6).`,
		RunE: run,
	}

	flags := cmd.Flags()
	flags.IntVarP(&port, "port", "p", 0, "TCP port to listen on (required)")
	flags.Uint16VarP(&routerCount, "routers", "r", 1, "number of routers to wait for before admitting workers")
	flags.Uint16VarP(&workerCount, "workers", "w", 1, "fixed worker count W (required)")
	flags.Uint16VarP(&clientLimit, "client-limit", "c", 16, "maximum number of concurrently admitted clients")
	flags.BoolVarP(&shadowCheck, "shadow", "C", false, "log a notice that CUDD shadow cross-check was requested (external collaborator, out of scope for this build)")
	flags.UintVar(&hashBits, "hash-bits", 32, "cluster-wide hash-signature width (spec section 3/9, pinned here rather than a compile-time constant)")
	flags.StringVar(&configFile, "config", "", "optional YAML overlay for tuning knobs (internal/config.Tuning)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flags.StringVar(&logLevel, "log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	_ = cmd.MarkFlagRequired("port")
	_ = cmd.MarkFlagRequired("workers")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if err := logger.Init(logger.Config{Level: logLevel, Format: logFormat}); err != nil {
		return err
	}

	tuning, err := config.Load(configFile)
	if err != nil {
		return err
	}
	// --hash-bits, when given, wins over the config file's hash_bits,
	// matching the CLI-over-file-over-default precedence of SPEC_FULL.md
	// section 1.3; without the flag the file's value (or the default)
	// stands.
	if cmd.Flags().Changed("hash-bits") {
		tuning.HashBits = hashBits
	}

	if shadowCheck {
		logger.Warn("controller: --shadow requested but the CUDD shadow backend is an external collaborator out of this build's scope; cross-check will not run")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("controller: listen: %w", err)
	}
	logger.Info("controller listening", "addr", listener.Addr().String(), "routers", routerCount, "workers", workerCount, "client_limit", clientLimit, "hash_bits", tuning.HashBits)

	ctrl := controller.New(listener, controller.Config{
		RouterCount: routerCount,
		WorkerCount: workerCount,
		ClientLimit: clientLimit,
		HashBits:    tuning.HashBits,
	})

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", ctrl.Registry.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("controller: metrics server failed", logger.Err(err))
			}
		}()
		logger.Info("controller metrics listening", "addr", metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var exitErr error
	select {
	case <-sigCh:
		logger.Info("controller: shutdown signal received")
		cancel()
		<-runErr
	case exitErr = <-runErr:
		if exitErr != nil {
			logger.Error("controller: run loop exited", logger.Err(exitErr))
		}
	}
	signal.Stop(sigCh)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if exitErr != nil && exitErr != context.Canceled {
		return exitErr
	}
	return nil
}
