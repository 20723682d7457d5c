package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/omegahq/gateway/internal/config"
	"github.com/omegahq/gateway/internal/store"
	"github.com/omegahq/gateway/internal/store/migrate"
	"github.com/omegahq/gateway/internal/upgrade"
)

// migrateCmd is a trimmed descendant of the teacher's Postgres migrate
// command tree (up/down/version/force/goto/drop against a golang-migrate
// DSN): this gateway's schema is SQLite-only and store.Open already applies
// every pending migration on open, so "up" here is just that plus a status
// line, and "version" reads the applied schema version without mutating it.
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the SQLite memory-store schema",
	}
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

func openStoreForMigration() (*store.Store, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.Open(config.ExpandHome(cfg.Store.Path))
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStoreForMigration()
			if err != nil {
				return err
			}
			defer st.Close()

			v, dirty, err := migrate.Version(st.DB())
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Printf("schema up to date at version %d (dirty=%v)\n", v, dirty)

			n, err := upgrade.RunPendingHooks(context.Background(), st.DB())
			if err != nil {
				return fmt.Errorf("run data migration hooks: %w", err)
			}
			if n > 0 {
				fmt.Printf("ran %d data migration hook(s)\n", n)
			}
			return nil
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStoreForMigration()
			if err != nil {
				return err
			}
			defer st.Close()

			v, dirty, err := migrate.Version(st.DB())
			if err != nil {
				return fmt.Errorf("read schema version: %w", err)
			}
			fmt.Printf("version: %d, dirty: %v\n", v, dirty)
			return nil
		},
	}
}
