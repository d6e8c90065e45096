// Package main is the operator CLI for the toxicity tagger: it scores text from
// the command line and runs the admin server with health, metrics and a scoring endpoint.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/taforever/ircd-toxicity/pkg/annotator"
	"github.com/taforever/ircd-toxicity/pkg/config"
	handlers "github.com/taforever/ircd-toxicity/pkg/handlers/http"
	"github.com/taforever/ircd-toxicity/pkg/infra/httpx"
	infraLogger "github.com/taforever/ircd-toxicity/pkg/infra/logger"
	"github.com/taforever/ircd-toxicity/pkg/infra/prometheus"
	"github.com/taforever/ircd-toxicity/pkg/perspective"
	"github.com/taforever/ircd-toxicity/pkg/server"
	"github.com/taforever/ircd-toxicity/pkg/version"
)

const unavailable = "unavailable"

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "toxicity",
		Short:         "Perspective toxicity scoring for IRC channel messages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Directory containing config.yaml")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newScoreCmd(), newServeCmd(), newVersionCmd())
	return rootCmd
}

func newScoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score TEXT...",
		Short: "Score text and print the two-decimal tag value",
		Long: `Sends the text to the Perspective API exactly as a channel message would be
sent and prints the value the taforever.com/toxicity tag would carry, or
"unavailable" when no score could be obtained.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runScore,
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin server (health, metrics, scoring endpoint)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetInfo().String())
		},
	}
}

type runtimeDeps struct {
	cfg       *config.Config
	logger    *logrus.Logger
	transport *httpx.FastHTTPClient
	scorer    *perspective.Client
	closeLog  func()
}

func (d *runtimeDeps) Close() {
	d.transport.Close()
	d.closeLog()
}

func setup(cmd *cobra.Command) (*runtimeDeps, error) {
	configDir, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, closeLog, err := infraLogger.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	prometheus.Initialize(cfg.Metrics)

	transport := httpx.NewFastHTTPClient(
		cfg.HTTP.Options(cfg.Perspective.Timeout, cfg.Perspective.MaxResponseBytes)...,
	)
	return &runtimeDeps{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		scorer:    perspective.NewClient(transport, logger, cfg.Perspective),
		closeLog:  closeLog,
	}, nil
}

func runScore(cmd *cobra.Command, args []string) error {
	deps, err := setup(cmd)
	if err != nil {
		return err
	}
	defer deps.Close()

	result := deps.scorer.Score(cmd.Context(), strings.Join(args, " "))
	if !result.Present {
		fmt.Fprintln(cmd.OutOrStdout(), unavailable)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), annotator.FormatScore(result.Value))
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	deps, err := setup(cmd)
	if err != nil {
		return err
	}
	defer deps.Close()

	srv := server.NewAdminServer(server.AdminServerDI{
		HandlerTransport: handlers.HandlerTransport{
			ScoreHandler:   handlers.NewScoreHandler(deps.logger, deps.scorer),
			VersionHandler: handlers.NewGetVersionHandler(deps.logger),
		},
		Config: deps.cfg,
		Logger: deps.logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	deps.logger.Info("shutting down server")
	if err := srv.Shutdown(); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	deps.logger.Info("server gracefully stopped")
	return nil
}
