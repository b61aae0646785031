// main package for the narrator-cli
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/spf13/cobra"

	"github.com/book-expert/component-narrator/internal/catalog"
	"github.com/book-expert/component-narrator/internal/config"
	"github.com/book-expert/component-narrator/internal/inference"
	"github.com/book-expert/component-narrator/internal/pipeline"
)

// Flag names and descriptions.
const (
	flagConfig      = "config"
	flagVerbose     = "verbose"
	flagConfigDesc  = "Path to a TOML configuration file"
	flagVerboseDesc = "Enable verbose output and logging"
)

// File names.
const (
	logFileNameDefault = "narrator-cli.log"
	logFileNameVerbose = "narrator-cli-verbose.log"
)

var errUnknownComponent = errors.New("unknown component")

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	verbose    bool

	cfg     *config.Config
	log     *logger.Logger
	catalog *catalog.Catalog

	// httpClient overrides the inference transport.
	httpClient *http.Client
	pipes      *pipeline.Pipelines
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand(&app{}).ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "narrator-cli",
		Short: "Identify electronic components from photos and narrate their descriptions",
		Long: "Identify electronic components from photos and generate voice descriptions " +
			"using the models hosted by the inference service.",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			a.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, flagConfig, "", flagConfigDesc)
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, flagVerbose, "v", false, flagVerboseDesc)

	rootCmd.AddCommand(
		newListCommand(a),
		newInfoCommand(a),
		newIdentifyCommand(a),
		newSpeakCommand(a),
	)

	return rootCmd
}

// setup loads the configuration, opens the log file and loads the catalog.
func (a *app) setup() error {
	cfg := config.Default()

	if a.configPath != "" {
		loaded, err := config.LoadFile(a.configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		cfg = loaded
	}

	logFileName := logFileNameDefault
	if a.verbose {
		logFileName = logFileNameVerbose
	}

	log, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	components, err := pipeline.LoadCatalog(cfg)
	if err != nil {
		_ = log.Close()

		return fmt.Errorf("failed to load catalog: %w", err)
	}

	a.cfg = cfg
	a.log = log
	a.catalog = components

	return nil
}

func (a *app) close() {
	if a.log != nil {
		_ = a.log.Close()
	}
}

// pipelines builds the inference-backed pipelines on first use so that catalog
// commands work without the inference service.
func (a *app) pipelines() (*pipeline.Pipelines, error) {
	if a.pipes != nil {
		return a.pipes, nil
	}

	httpClient := a.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	client := inference.NewClientWithHTTP(a.cfg.Inference.BaseURL, httpClient,
		inference.WithRequestTimeout(a.cfg.Inference.Timeout()))

	pipes, err := pipeline.Build(a.cfg, client, nil, a.log)
	if err != nil {
		return nil, err
	}

	a.pipes = pipes

	return pipes, nil
}

func (a *app) component(id string) (catalog.Component, error) {
	component, ok := a.catalog.ByID(id)
	if !ok {
		return catalog.Component{}, fmt.Errorf("%w: %q (available: %s)",
			errUnknownComponent, id, joinIDs(a.catalog.IDs()))
	}

	return component, nil
}
