package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omegahq/gateway/internal/config"
	"github.com/omegahq/gateway/internal/gateway"
)

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway: channels, pipeline, scheduler, background loops, webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

// runGateway loads config, wires the composition root, and blocks until a
// termination signal arrives — grounded on cmd/gateway.go's
// context.WithCancel/signal.Notify setup, generalized down to the single
// App.Run call that now owns the rest of the shutdown sequence.
func runGateway() error {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	watcher, err := config.NewWatcher(cfgPath, cfg, func(err error) {
		slog.Error("gateway: config reload failed", "error", err)
	})
	if err != nil {
		slog.Warn("gateway: config hot-reload unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	app, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("wire gateway: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("gateway: termination signal received", "signal", sig)
		cancel()
	}()

	slog.Info("omega gateway starting", "version", Version, "channels", app.Channels.Names())
	return app.Run(ctx)
}
