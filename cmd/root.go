package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/slac/app"
	"github.com/kilianp07/slac/config"
	"github.com/kilianp07/slac/infra/logger"
	"github.com/kilianp07/slac/infra/transport"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "slacd",
	Short: "Signal level attenuation characterization service",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	link, err := transport.NewUDP(cfg.Transport.UDP)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer func() { _ = link.Close() }()

	svc, err := app.New(cfg, link)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
