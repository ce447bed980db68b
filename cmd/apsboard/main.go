// cmd/apsboard/main.go
//
// This is the entry point for the apsboard CLI.
// Running `apsboard` with no subcommand opens the Steps dashboard for the
// current directory; `months` and `run` print the same data as tables.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kingrea/apsboard/internal/apsclient"
	"github.com/kingrea/apsboard/internal/config"
	"github.com/kingrea/apsboard/internal/fetch"
	"github.com/kingrea/apsboard/internal/kvstore"
	"github.com/kingrea/apsboard/internal/logging"
	"github.com/kingrea/apsboard/internal/monthindex"
	"github.com/kingrea/apsboard/internal/stubserver"
	"github.com/kingrea/apsboard/internal/tui"
)

var (
	projectDir string
	verbose    bool
	withStub   bool

	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "apsboard",
	Short:         "Terminal dashboard for the APS scheduling backend",
	Long:          "apsboard browses the month index, runs schedules and reorders the production queue of an APS scheduling backend.",
	RunE:          runDashboard,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the Steps dashboard",
	RunE:  runDashboard,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create .apsboard/config.yaml in the project directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitAppDir(projectDir); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", filepath.Join(projectDir, config.AppDir))
		return nil
	},
}

func init() {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	rootCmd.PersistentFlags().StringVar(&projectDir, "dir", cwd, "project directory containing .apsboard")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&withStub, "stub", false, "start the bundled stub backend and use it")
	rootCmd.AddCommand(dashboardCmd, initCmd, newMonthsCmd(), newRunCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads .apsboard/config.yaml and sets up the process logger.
func loadConfig(w io.Writer) error {
	var err error
	cfg, err = config.NewConfig(projectDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = logging.Setup(w, verbose)
	return nil
}

// startStub runs the bundled stub on an ephemeral port and points the config
// at it. The returned func stops it.
func startStub(ctx context.Context) (func(), error) {
	settings := stubserver.SettingsFromConfig(cfg)
	settings.Port = 0
	srv := stubserver.NewServer(settings, stubserver.WithLogger(logger.With().Str("component", "stub").Logger()))
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	cfg.Project.Backend.BaseURL = srv.BaseURL()
	logger.Info().Str("url", srv.BaseURL()).Msg("stub backend started")
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("stub shutdown")
		}
	}, nil
}

func newClient() (*apsclient.Client, error) {
	transport := apsclient.HeaderTransport{
		Base:    &http.Client{Timeout: cfg.Project.Backend.Timeout},
		Headers: cfg.Project.Backend.Headers,
	}
	return apsclient.New(cfg.Project.Backend.BaseURL,
		apsclient.WithTransport(transport),
		apsclient.WithLocation(cfg.Location()))
}

func newMonthCache(client *apsclient.Client) *monthindex.Cache {
	store, err := kvstore.OpenDisk(cfg.CacheDir())
	if err != nil {
		logger.Warn().Err(err).Msg("month index will not be persisted")
		return monthindex.New(client)
	}
	return monthindex.New(client, monthindex.WithStore(store), monthindex.WithLogger(logger))
}

func runDashboard(cmd *cobra.Command, args []string) error {
	if err := config.InitAppDir(projectDir); err != nil {
		return fmt.Errorf("initialize %s: %w", config.AppDir, err)
	}
	var err error
	cfg, err = config.NewConfig(projectDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// The alternate screen owns the terminal, so process logs go to a file.
	logFile, fileLogger, err := logging.Open(cfg, verbose)
	if err != nil {
		return err
	}
	defer logFile.Close()
	logger = fileLogger
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if withStub {
		stop, err := startStub(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	app, err := tui.NewApp(cfg, newMonthCache(client), fetch.New(client))
	if err != nil {
		return err
	}
	logger.Info().Str("backend", cfg.Project.Backend.BaseURL).Msg("dashboard starting")
	p := tea.NewProgram(app,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	logger.Info().Msg("dashboard closed")
	return nil
}
