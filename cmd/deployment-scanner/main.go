// Command deployment-scanner watches a deployment directory for marker
// files and reconciles them against the management facility.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/barreiro/wildfly-core/internal/config"
	"github.com/barreiro/wildfly-core/internal/infrastructure/content"
	"github.com/barreiro/wildfly-core/internal/infrastructure/management"
	"github.com/barreiro/wildfly-core/internal/infrastructure/sqlite"
	"github.com/barreiro/wildfly-core/internal/scanner"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "deployment-scanner",
		Short:        "Watches a deployment directory and reconciles marker files against the management facility",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "/etc/deployment-scanner/config.yaml", "path to the configuration file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	logrus.SetLevel(level)

	store, err := content.NewStore(cfg.ContentDir)
	if err != nil {
		return err
	}

	client := management.NewClient(cfg.Management.Endpoint, time.Duration(cfg.Management.Timeout))

	var opts []scanner.Option
	if cfg.IgnoreHidden {
		opts = append(opts, scanner.WithFilter(scanner.IgnoreHidden))
	}
	if cfg.HistoryDB != "" {
		db, err := sqlite.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, scanner.WithRecorder(&sqlite.ScanRecordRepo{DB: db}))
	}

	s, err := scanner.New(ctx, cfg.DeploymentDir, time.Duration(cfg.ScanInterval), client, store, opts...)
	if err != nil {
		return err
	}

	if cfg.ScanEnabled {
		s.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logrus.WithField("signal", sig.String()).Info("shutting down")
	s.Stop()
	return nil
}
