package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alem-hub/mastery-engine/config"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/persistence/file"
	"github.com/alem-hub/mastery-engine/internal/infrastructure/persistence/postgres"
)

// NewAdminCommand creates server-side maintenance commands. They read the
// server configuration (DATABASE_URL and friends), not the client one.
func NewAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Server maintenance: migrations and catalog import",
		// Replaces the root hook: admin commands need no local cache.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(cmd.Context(), func(conn *postgres.Connection) error {
				if err := postgres.NewMigrator(conn).Migrate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "database schema is up to date")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import-catalog <catalog.yaml>",
		Short: "Validate a YAML catalog and upsert it into the problems table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			problems, err := file.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			return withDatabase(cmd.Context(), func(conn *postgres.Connection) error {
				if err := postgres.NewCatalogRepository(conn).Upsert(cmd.Context(), problems); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d problems\n", len(problems))
				return nil
			})
		},
	})

	return cmd
}

func withDatabase(ctx context.Context, fn func(*postgres.Connection) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}

	dbConfig := postgres.DefaultConfig()
	dbConfig.URL = cfg.Database.URL
	conn, err := postgres.NewConnection(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	return fn(conn)
}
