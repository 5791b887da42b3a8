package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trianglecurling/spares/internal/config"
	"github.com/trianglecurling/spares/internal/db"
	"github.com/trianglecurling/spares/internal/log"
	"github.com/trianglecurling/spares/internal/storage"
)

func main() {
	cmd := newRootCommand(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "spares:", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "spares",
		Short:         "Spares membership and scheduling database tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.toml")

	cmd.AddCommand(newMigrateCommand(out, &configPath))
	cmd.AddCommand(newDoctorCommand(out, &configPath))
	return cmd
}

func newMigrateCommand(out io.Writer, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			adapter, cleanup, err := openAdapter(ctx, *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := storage.RunMigrations(ctx, adapter, storage.DefaultMigrations()); err != nil {
				return err
			}

			version, err := storage.SchemaVersion(ctx, adapter)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "schema up to date at version %d\n", version)
			return nil
		},
	}
}

func newDoctorCommand(out io.Writer, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check database connectivity and schema state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			cfg, err := config.Load(config.LoadOptions{ConfigPath: *configPath})
			if err != nil {
				return err
			}

			adapter, cleanup, err := openConfiguredAdapter(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			probe, err := adapter.Prepare(`SELECT 1 AS ok`)
			if err != nil {
				return err
			}
			if _, err := probe.Get(ctx); err != nil {
				return fmt.Errorf("probe query: %w", err)
			}

			version, err := storage.SchemaVersion(ctx, adapter)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "backend=%s async=%t schema_version=%d\n", cfg.Type, adapter.IsAsync(), version)
			return nil
		},
	}
}

func openAdapter(ctx context.Context, configPath string) (db.Adapter, func(), error) {
	cfg, err := config.Load(config.LoadOptions{ConfigPath: configPath})
	if err != nil {
		return nil, nil, err
	}
	return openConfiguredAdapter(ctx, cfg)
}

func openConfiguredAdapter(ctx context.Context, cfg config.Config) (db.Adapter, func(), error) {
	logger, logCloser, err := log.New(log.Options{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	if err != nil {
		return nil, nil, err
	}

	var adapter db.Adapter
	switch cfg.Type {
	case config.BackendSQLite:
		adapter, err = db.OpenSQLite(cfg.SQLite.Path, logger)
	case config.BackendPostgres:
		adapter, err = db.OpenPostgres(ctx, db.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			Username: cfg.Postgres.Username,
			Password: cfg.Postgres.Password,
			SSL:      cfg.Postgres.SSL,
		}, logger)
	default:
		err = fmt.Errorf("unsupported backend type %q", cfg.Type)
	}
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := adapter.Close(); err != nil {
			logger.Error("close adapter", "error", err)
		}
		_ = logCloser.Close()
	}
	return adapter, cleanup, nil
}
