// Command client issues high-level BDD requests against a running
// cluster: it registers with the controller, reads a batch script (or
// stdin) of the verbs internal/client/script.go implements, and prints
// each command's result.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rebryant/cloudbdd-go/internal/agent"
	"github.com/rebryant/cloudbdd-go/internal/client"
	"github.com/rebryant/cloudbdd-go/internal/config"
	"github.com/rebryant/cloudbdd-go/internal/conjunct"
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/spf13/cobra"
)

var (
	host        string
	port        int
	scriptPath  string
	noSelfRoute bool
	chain       string
	hashBits    uint
	configFile  string
	logLevel    string
	logFormat   string
)

func main() {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Issue high-level BDD operations against a running dataflow cluster",
		Long: `client registers with the controller at -H/-P, then runs the command
script named by -f (or stdin, one command per line) against the cluster:
var/and/or/xor/not/ite/restrict/equant/uquant/conjoin/count/equal/info/
delete/collect, the core verb set of spec section 4 reduced from
original_source/runbdd.c's interactive console, which is out of this
build's scope.`,
		RunE: run,
	}

	flags := cmd.Flags()
	flags.StringVarP(&host, "host", "H", "127.0.0.1", "controller host to register with")
	flags.IntVarP(&port, "port", "P", 0, "controller port to register with (required)")
	flags.StringVarP(&scriptPath, "file", "f", "", "script file to run (default: read commands from stdin)")
	flags.BoolVarP(&noSelfRoute, "no-self-route", "r", false, "disable the self-routing bypass (spec section 4.2)")
	flags.StringVarP(&chain, "chain", "C", "all", "conjunction chaining mode: all (support-similarity heuristic) or none/constant (left-to-right fold)")
	flags.UintVar(&hashBits, "hash-bits", 32, "this client's configured hash-signature width; must match the controller's or admission is refused")
	flags.StringVar(&configFile, "config", "", "optional YAML overlay for tuning knobs (internal/config.Tuning, including the conjunction engine's defaults)")
	flags.StringVar(&logLevel, "log-level", "WARN", "log level: DEBUG, INFO, WARN, ERROR")
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

	a := agent.New(agent.RoleClient, 0, nil, tuning.InboundBuf)
	a.SelfRoute = tuning.SelfRoute

	controllerAddr := fmt.Sprintf("%s:%d", host, port)
	result, err := agent.Bootstrap(a, controllerAddr, tuning.HashBits)
	if err != nil {
		if err == agent.ErrAdmissionRefused {
			return fmt.Errorf("client: admission refused (client limit reached or hash-bits mismatch)")
		}
		return fmt.Errorf("client: bootstrap: %w", err)
	}
	logger.Info("client admitted", "agent_id", a.ID, "worker_count", result.WorkerCount, "routers", len(result.RouterAddrs))

	c := client.New(a, result.WorkerCount, tuning.HashBits)
	c.ConjoinCfg = conjunctConfig(tuning)
	c.ChainMode = chain

	in, closeIn, err := openScript()
	if err != nil {
		return err
	}
	defer closeIn()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("client: interrupted")
			cancel()
			os.Exit(1)
		case <-ctx.Done():
		}
	}()

	if err := c.RunScript(in, os.Stdout); err != nil {
		return fmt.Errorf("client: script run: %w", err)
	}
	return nil
}

func conjunctConfig(t config.Tuning) conjunct.Config {
	return conjunct.Config{
		AbortLimit:              t.Conjoin.AbortLimit,
		PassLimit:               t.Conjoin.PassLimit,
		ExpansionFactor:         t.Conjoin.ExpansionFactor,
		SoftAndThreshold:        t.Conjoin.SoftAndThreshold,
		MaxLargeArgumentPenalty: t.Conjoin.MaxLargeArgumentPenalty,
	}
}

func openScript() (*os.File, func(), error) {
	if scriptPath == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(scriptPath)
	if err != nil {
		return nil, nil, fmt.Errorf("client: open script: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
