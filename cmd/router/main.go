// Command router runs the message-switch process of spec section 4.5: it
// forwards operator/operand chunks between workers and clients and applies
// a per-destination outbound fairness discipline.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rebryant/cloudbdd-go/internal/agent"
	"github.com/rebryant/cloudbdd-go/internal/logger"
	"github.com/rebryant/cloudbdd-go/internal/router"
	"github.com/rebryant/cloudbdd-go/internal/wire"
	"github.com/spf13/cobra"
)

var (
	host           string
	port           int
	controllerAddr string
	bufOn          int
	logLevel       string
	logFormat      string
)

func main() {
	cmd := &cobra.Command{
		Use:   "router",
		Short: "Message switch forwarding operator/operand chunks between workers and clients",
		Long: `router maintains an agent-to-connection map and forwards operator and
operand messages it did not originate, applying a 25-destination-per-pass
outbound fairness cap (spec section 4.5).`,
		RunE: run,
	}

	flags := cmd.Flags()
	flags.StringVarP(&host, "host", "H", "0.0.0.0", "address to bind the router's own listen socket")
	flags.IntVarP(&port, "port", "P", 0, "TCP port to listen on (required); also announced to the controller for the local-router shortcut")
	flags.StringVar(&controllerAddr, "controller", "", "controller's host:port (required)")
	flags.IntVarP(&bufOn, "bufon", "b", 0, "per-connection read-ahead buffer depth (0 selects the built-in default)")
	flags.StringVar(&logLevel, "log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	flags.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	_ = cmd.MarkFlagRequired("port")
	_ = cmd.MarkFlagRequired("controller")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(*cobra.Command, []string) error {
	if err := logger.Init(logger.Config{Level: logLevel, Format: logFormat}); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return fmt.Errorf("router: listen: %w", err)
	}
	logger.Info("router listening", "addr", listener.Addr().String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrlConn, err := registerWithController(cancel)
	if err != nil {
		return err
	}
	defer ctrlConn.Close()

	r := router.New(listener, bufOn)

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var exitErr error
	select {
	case <-sigCh:
		logger.Info("router: shutdown signal received")
		cancel()
		<-runErr
	case <-ctx.Done():
		<-runErr
	case exitErr = <-runErr:
	}
	signal.Stop(sigCh)

	if exitErr != nil && exitErr != context.Canceled {
		return exitErr
	}
	return nil
}

// registerWithController dials the controller, announces this router's own
// bound address (ip, port) via REGISTER_ROUTER so the controller can
// recognize same-host agents' "local router shortcut" (spec section 4.2),
// and keeps reading that connection in the background for the one message
// a router ever needs to react to directly: a cluster-wide KILL (spec
// section 4.6's "Kill is a broadcast to every registered fd").
func registerWithController(cancel context.CancelFunc) (net.Conn, error) {
	conn, err := net.Dial("tcp", controllerAddr)
	if err != nil {
		return nil, fmt.Errorf("router: dial controller: %w", err)
	}

	localIP, err := localAddrIPv4(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	reg := wire.NewRegisterRouter(localIP, uint16(port))
	if err := wire.WriteChunk(conn, reg.ToChunk()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("router: register with controller: %w", err)
	}

	go func() {
		for {
			chunk, err := wire.ReadChunk(conn)
			if err != nil {
				if !agent.IsEOF(err) {
					logger.Warn("router: controller connection read error", logger.Err(err))
				}
				logger.Error("router: controller connection lost, exiting")
				cancel()
				return
			}
			if len(chunk.Words) == 0 {
				continue
			}
			h := wire.UnpackHeader(chunk.Words[0])
			if h.Code == wire.CodeKill {
				logger.Info("router: received KILL from controller")
				cancel()
				return
			}
		}
	}()

	return conn, nil
}

// localAddrIPv4 reports this router's own address on the conn used to
// reach the controller, as a big-endian uint32 (the REGISTER_ROUTER wire
// form), falling back to the configured --host when it names a concrete
// address rather than a wildcard.
func localAddrIPv4(conn net.Conn) (uint32, error) {
	if ip := net.ParseIP(host); ip != nil && !ip.IsUnspecified() {
		return agent.PackIPv4(ip), nil
	}
	local, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("router: could not determine local address")
	}
	return agent.PackIPv4(local.IP), nil
}
