package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/devmgr/internal/infrastructure/config"
	"github.com/nerrad567/devmgr/internal/infrastructure/database"
	"github.com/nerrad567/devmgr/internal/infrastructure/logging"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
		Long:  `Apply pending migrations, roll back the latest ones or show which migrations are applied.`,
	}

	cmd.AddCommand(
		newMigrateUpCommand(configPath),
		newMigrateDownCommand(configPath),
		newMigrateStatusCommand(configPath),
	)
	return cmd
}

func newMigrateUpCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), *configPath, func(ctx context.Context, db *database.DB, log *logging.Logger) error {
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("running migrations: %w", err)
				}
				log.Info("migrations completed successfully")
				return nil
			})
		},
	}
}

func newMigrateDownCommand(configPath *string) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		Long:  `Roll back the given number of applied migrations, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("steps must be at least 1")
			}
			return withDatabase(cmd.Context(), *configPath, func(ctx context.Context, db *database.DB, log *logging.Logger) error {
				return migrateDown(ctx, db, log, steps)
			})
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to rollback")
	return cmd
}

func newMigrateStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), *configPath, func(ctx context.Context, db *database.DB, _ *logging.Logger) error {
				status, err := db.MigrationStatus(ctx)
				if err != nil {
					return fmt.Errorf("reading migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

// migrateDown rolls back up to steps migrations. Running out of applied
// migrations stops early without an error.
func migrateDown(ctx context.Context, db *database.DB, log *logging.Logger, steps int) error {
	for i := 0; i < steps; i++ {
		rolled, err := db.MigrateDown(ctx)
		if err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
		if rolled == "" {
			log.Info("no applied migrations left")
			return nil
		}
		log.Info("migration rolled back", "version", rolled)
	}
	return nil
}

func printStatus(w io.Writer, status database.MigrationStatus) {
	//nolint:errcheck // Best-effort CLI output
	fmt.Fprintf(w, "Applied: %d, Pending: %d\n", len(status.Applied), len(status.Pending))
	for _, r := range status.Applied {
		fmt.Fprintf(w, "  [x] %s  (%s)\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05")) //nolint:errcheck // CLI output
	}
	for _, m := range status.Pending {
		fmt.Fprintf(w, "  [ ] %s  %s\n", m.Version, m.Name) //nolint:errcheck // CLI output
	}
}

// withDatabase loads the configuration, opens the database and hands both
// to fn. The database is closed afterwards.
func withDatabase(ctx context.Context, configFlag string, fn func(context.Context, *database.DB, *logging.Logger) error) error {
	path := getConfigPath(configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	return fn(ctx, db, log)
}
