package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"agenthub.io/internal/migrate"
	"agenthub.io/internal/store/pg"
)

func newMigrateCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect schema migrations",
	}

	run := func(action func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			return withDB(*dsn, func(ctx context.Context, st *pg.Store) error {
				return action(ctx, migrate.NewManager(st.DB(), migrate.Migrations(), migrate.Seeds()))
			})
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE:  run(func(ctx context.Context, m *migrate.Manager) error { return m.Up(ctx) }),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE:  run(func(ctx context.Context, m *migrate.Manager) error { return m.Down(ctx) }),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Load the catalog seeds (models, MCP servers, auth methods)",
		Args:  cobra.NoArgs,
		RunE:  run(func(ctx context.Context, m *migrate.Manager) error { return m.Seed(ctx) }),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, m *migrate.Manager) error {
			history, err := m.Status(ctx)
			if err != nil {
				return err
			}
			for _, item := range history {
				fmt.Println(item)
			}
			return nil
		}),
	})
	return cmd
}
