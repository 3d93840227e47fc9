package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/repository"
)

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the embedded session-store schema",
	}
	cmd.AddCommand(buildMigrateUpCmd(), buildMigrateDownCmd(), buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var configPath string
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, configPath, func(m *repository.Migrator) ([]string, error) {
				return m.Up(cmd.Context(), steps)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the gateway config file")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply (0 = all pending)")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var configPath string
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recently applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, configPath, func(m *repository.Migrator) ([]string, error) {
				return m.Down(cmd.Context(), steps)
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the gateway config file")
	cmd.Flags().IntVar(&steps, "steps", 1, "number of applied migrations to revert")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the gateway config file")
	return cmd
}

// openMigrationDB opens the raw database handle a Migrator needs,
// independent of repository.Open (which would also run migrations itself).
func openMigrationDB(configPath string) (*sql.DB, error) {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dsn := cfg.Repository.Path
	if !strings.Contains(dsn, "?") && dsn != ":memory:" {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runMigrate(cmd *cobra.Command, configPath string, apply func(*repository.Migrator) ([]string, error)) error {
	db, err := openMigrationDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := repository.NewMigrator(db)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	applied, err := apply(migrator)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(applied) == 0 {
		fmt.Fprintln(out, "nothing to do")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintln(out, id)
	}
	return nil
}

func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	db, err := openMigrationDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := repository.NewMigrator(db)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	applied, all, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	appliedIDs := make(map[string]bool, len(applied))
	for _, a := range applied {
		appliedIDs[a.ID] = true
	}

	out := cmd.OutOrStdout()
	for _, m := range all {
		state := "pending"
		if appliedIDs[m.ID] {
			state = "applied"
		}
		fmt.Fprintf(out, "%-30s %s\n", m.ID, state)
	}
	return nil
}
