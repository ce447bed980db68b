package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kingrea/apsboard/internal/config"
	"github.com/kingrea/apsboard/internal/logging"
	"github.com/kingrea/apsboard/internal/stubserver"
)

var (
	projectDir string
	port       int
	upperCamel bool
	machines   int
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:          "aps-stub",
	Short:        "Serve a local stand-in for the APS scheduling backend",
	Long:         "aps-stub serves /schedule/months and /schedule/run from a seeded order book and a greedy packer so the dashboard can run without the real backend.",
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	rootCmd.Flags().StringVar(&projectDir, "dir", cwd, "project directory containing .apsboard")
	rootCmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	rootCmd.Flags().BoolVar(&upperCamel, "upper-camel", false, "emit UpperCamel field names")
	rootCmd.Flags().IntVar(&machines, "machines", 0, "number of machine lanes (default from config)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := logging.Setup(os.Stdout, debug)

	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	settings := stubserver.SettingsFromConfig(cfg)
	if cmd.Flags().Changed("port") {
		settings.Port = port
	}
	if cmd.Flags().Changed("upper-camel") {
		settings.UpperCamel = upperCamel
	}
	if machines > 0 {
		settings.Machines = machines
	}

	srv := stubserver.NewServer(settings, stubserver.WithLogger(logger))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info().Str("url", srv.BaseURL()).Bool("upper_camel", settings.UpperCamel).Msg("aps-stub ready")

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully...")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}
	logger.Info().Msg("aps-stub stopped")
	return nil
}
