// Command worker runs one shard of distributed BDD state: it registers
// with the controller, connects to every router, and executes the seven
// dataflow operators of spec section 4.4 against its local unique table,
// ITE cache, and deferred tables.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rebryant/cloudbdd-go/internal/agent"
	"github.com/rebryant/cloudbdd-go/internal/bdd"
	"github.com/rebryant/cloudbdd-go/internal/config"
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/wire"
	"github.com/rebryant/cloudbdd-go/internal/worker"
	"github.com/spf13/cobra"
)

var (
	host          string
	port          int
	noSelfRoute   bool
	hashBits      uint
	configFile    string
	inboundBuffer int
	metricsAddr   string
	logLevel      string
	logFormat     string
)

func main() {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Dataflow worker executing VAR/CANONIZE/ITE operators over a BDD shard",
		Long: `worker registers with the controller at -H/-P, receives the router map
and its assigned agent ID, connects to every router, and then services the
seven distributed BDD operators of spec section 4.4 against its own
unique table, ITE cache, and deferred tables (all worker-local, per spec
section 5).`,
		RunE: run,
	}

	flags := cmd.Flags()
	flags.StringVarP(&host, "host", "H", "127.0.0.1", "controller host to register with")
	flags.IntVarP(&port, "port", "P", 0, "controller port to register with (required)")
	flags.BoolVarP(&noSelfRoute, "no-self-route", "r", false, "disable the self-routing bypass (spec section 4.2); route self-addressed traffic through a router like any other destination")
	flags.UintVar(&hashBits, "hash-bits", 32, "this worker's configured hash-signature width; must match the controller's or admission is refused")
	flags.StringVar(&configFile, "config", "", "optional YAML overlay for tuning knobs (internal/config.Tuning)")
	flags.IntVar(&inboundBuffer, "inbound-buffer", 0, "size of the agent's fan-in channel (0 selects the config default)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve this worker's Prometheus metrics on this address")
	flags.StringVar(&logLevel, "log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	_ = cmd.MarkFlagRequired("port")

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
	if cmd.Flags().Changed("hash-bits") {
		tuning.HashBits = hashBits
	}
	if cmd.Flags().Changed("no-self-route") {
		tuning.SelfRoute = !noSelfRoute
	}
	if inboundBuffer > 0 {
		tuning.InboundBuf = inboundBuffer
	}

	engine, err := bdd.NewEngine(tuning.HashBits)
	if err != nil {
		return fmt.Errorf("worker: new engine: %w", err)
	}

	a := agent.New(agent.RoleWorker, 0, engine, tuning.InboundBuf)
	a.SelfRoute = tuning.SelfRoute

	controllerAddr := fmt.Sprintf("%s:%d", host, port)
	result, err := agent.Bootstrap(a, controllerAddr, tuning.HashBits)
	if err != nil {
		return fmt.Errorf("worker: bootstrap: %w", err)
	}
	logger.Info("worker admitted", "agent_id", a.ID, "worker_count", result.WorkerCount, "routers", len(result.RouterAddrs))

	w := worker.New(a, engine, result.WorkerCount, tuning.HashBits)

	var metricsSrv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", w.Registry.Handler())
		metricsSrv = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("worker: metrics server failed", logger.Err(err))
			}
		}()
		logger.Info("worker metrics listening", "addr", metricsAddr)
	}

	if err := a.Controller.SendChunk(wire.NewReadyWorker(a.ID).ToChunk()); err != nil {
		return fmt.Errorf("worker: send READY_WORKER: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- runAgent(a, ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var exitErr error
	select {
	case <-sigCh:
		logger.Info("worker: shutdown signal received")
		cancel()
		<-runErr
	case exitErr = <-runErr:
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

// runAgent drives a.Run and turns the errControllerLost panic (spec
// section 7: "EOF from controller is fatal on every agent") into a
// regular returned error instead of an unrecovered crash.
func runAgent(a *agent.Agent, ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: %v", r)
		}
	}()
	return a.Run(ctx)
}
