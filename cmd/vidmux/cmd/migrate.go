package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidmux/internal/database"
	"github.com/jmylchreest/vidmux/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the download history schema",
	Long: `Apply, roll back or inspect download history migrations.

serve applies pending migrations on startup when history is enabled, so
this is only needed to inspect the schema or undo a release.`,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	// Not bound to viper; serve owns the database.dsn binding.
	migrateCmd.PersistentFlags().String("database", "", "Database DSN (default from config)")

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *migrations.Migrator) error {
				return m.Up(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *migrations.Migrator) error {
				return m.Down(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(cmd *cobra.Command, m *migrations.Migrator) error {
				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printMigrationStatus(cmd, statuses)
			}),
		},
	)
}

func withMigrator(run func(*cobra.Command, *migrations.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if f := cmd.Flags().Lookup("database"); f != nil && f.Changed {
			cfg.Database.DSN = f.Value.String()
		}
		db, err := database.New(cfg.Database, slog.Default())
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		defer db.Close()

		return run(cmd, db.SchemaMigrator())
	}
}

func printMigrationStatus(cmd *cobra.Command, statuses []migrations.MigrationStatus) error {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		applied := "no"
		if s.AppliedAt != nil {
			applied = s.AppliedAt.Local().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{s.Version, applied, s.Description})
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"VERSION", "APPLIED", "DESCRIPTION"}, rows))
	return err
}
