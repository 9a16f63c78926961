package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/database"
)

// newMigrateCmd builds "migrate up|down|status". Each subcommand acts on
// the SQLite database and, when storage.driver is postgres, the command store.
func newMigrateCmd(configPath *string) *cobra.Command {
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}

	migrate.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return forEachDatabase(cmd, *configPath, func(name string, db *database.DB) error {
				if err := db.Migrate(cmd.Context()); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s migrated\n", color.New(color.FgGreen).Sprint("OK"), name)
				return nil
			})
		},
	})

	migrate.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return forEachDatabase(cmd, *configPath, func(name string, db *database.DB) error {
				if err := db.MigrateDown(cmd.Context()); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s rolled back one migration\n", color.New(color.FgYellow).Sprint("OK"), name)
				return nil
			})
		},
	})

	migrate.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return forEachDatabase(cmd, *configPath, func(name string, db *database.DB) error {
				applied, pending, err := db.GetMigrationStatus(cmd.Context())
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				printMigrationStatus(cmd.OutOrStdout(), name, applied, pending)
				return nil
			})
		},
	})

	return migrate
}

// forEachDatabase opens every configured database in turn and runs fn on it.
func forEachDatabase(cmd *cobra.Command, configPath string, fn func(name string, db *database.DB) error) error {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sqlite, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer sqlite.Close()
	if err := fn("sqlite", sqlite); err != nil {
		return err
	}

	if cfg.Storage.Driver != storageDriverPostgres {
		return nil
	}
	pg, err := database.OpenPostgres(cfg.Storage.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("opening postgres: %w", err)
	}
	defer pg.Close()
	return fn("postgres", pg)
}

func printMigrationStatus(w io.Writer, name string, applied []database.MigrationRecord, pending []database.Migration) {
	bold := color.New(color.Bold)
	fmt.Fprintf(w, "%s\n", bold.Sprint(name))
	for _, m := range applied {
		fmt.Fprintf(w, "  %s %s (%s)\n",
			color.New(color.FgGreen).Sprint("applied"),
			m.Version,
			m.AppliedAt.Format("2006-01-02 15:04:05"),
		)
	}
	for _, m := range pending {
		fmt.Fprintf(w, "  %s %s %s\n", color.New(color.FgYellow).Sprint("pending"), m.Version, m.Name)
	}
	if len(applied) == 0 && len(pending) == 0 {
		fmt.Fprintln(w, "  no migrations")
	}
}
