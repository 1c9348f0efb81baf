// Command overlaynode starts one overlay routing node from its .env
// configuration, optionally sends one message, and with --show-table prints
// its routing table (spec.md §6 CLI surface).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/overlaymesh/router/config"
	"github.com/overlaymesh/router/overlaynode"
	"github.com/overlaymesh/router/packet"
)

func main() {
	rootCmd := runCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		envPath   string
		showTable bool
		waitSecs  float64
		sendTo    string
		sendBody  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "start an overlay node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), envPath, showTable, waitSecs, sendTo, sendBody)
		},
	}

	cmd.Flags().StringVar(&envPath, "env", "", "path to a .env configuration file")
	cmd.Flags().BoolVar(&showTable, "show-table", false, "print the routing table periodically while waiting")
	cmd.Flags().Float64Var(&waitSecs, "wait", 0, "seconds to run before exiting (0 = run until Ctrl+C)")
	cmd.Flags().StringVar(&sendTo, "send", "", "node id to send a message to after starting")
	cmd.Flags().StringVar(&sendBody, "body", "hello", "message body for --send")

	return cmd
}

func runNode(ctx context.Context, envPath string, showTable bool, waitSecs float64, sendTo, sendBody string) error {
	cfg, err := config.Load(envPath)
	if err != nil {
		return fmt.Errorf("overlaynode: %w", err)
	}
	configureLogging(cfg)

	node, err := overlaynode.Load(envPath, nil)
	if err != nil {
		return fmt.Errorf("overlaynode: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("overlaynode: starting node: %w", err)
	}
	defer node.Stop()

	if sendTo != "" {
		if err := node.SendMessage(ctx, packet.NodeID(sendTo), sendBody); err != nil {
			fmt.Fprintf(os.Stderr, "overlaynode: send to %s failed: %v\n", sendTo, err)
		}
	}

	switch {
	case showTable:
		printRoutingTableUntil(ctx, node, waitSecs)
	case waitSecs > 0:
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(waitSecs * float64(time.Second))):
		}
	default:
		<-ctx.Done()
	}

	return nil
}

// configureLogging installs the process-wide slog handler (text or JSON per
// LOG_FORMAT, level per LOG_LEVEL) before anything else is constructed
// (spec.md §6 "LOG_LEVEL").
func configureLogging(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// printRoutingTableUntil prints the routing table once a second for wait
// seconds (at least once when wait <= 0), or until ctx is cancelled by
// Ctrl+C.
func printRoutingTableUntil(ctx context.Context, node *overlaynode.Node, wait float64) {
	ticks := int(wait)
	if ticks <= 0 {
		ticks = 1
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < ticks; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Print(node.RoutingTableText())
		}
	}
}
