// Command agenthubctl runs operator tasks against an agenthub deployment:
// schema migrations, key generation and account review.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"agenthub.io/internal/store/pg"
)

var version = "0.1.0"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "agenthubctl",
		Short:         "Operator tooling for the agenthub API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var dsn string
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("AGENTHUB_PG_DSN"), "PostgreSQL DSN (or set AGENTHUB_PG_DSN)")

	rootCmd.AddCommand(newMigrateCmd(&dsn))
	rootCmd.AddCommand(newUsersCmd(&dsn))
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newHashPasswordCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "agenthubctl: %v\n", err)
		os.Exit(1)
	}
}

func openStore(dsn string) (*pg.Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN required: use --dsn or set AGENTHUB_PG_DSN")
	}
	st, err := pg.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return st, nil
}

func withDB(dsn string, fn func(ctx context.Context, st *pg.Store) error) error {
	st, err := openStore(dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return fn(ctx, st)
}
