package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/envelope"
	"agenthub.io/internal/store/pg"
)

const cliReviewer = "agenthubctl"

func newUsersCmd(dsn *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Review pending registrations",
	}

	// Review needs no tokens; the secrets only satisfy the service constructor.
	withService := func(fn func(ctx context.Context, svc *auth.Service) error) error {
		return withDB(*dsn, func(ctx context.Context, st *pg.Store) error {
			tokens, err := auth.NewTokenService("cli-unused-access", "cli-unused-refresh")
			if err != nil {
				return err
			}
			svc, err := auth.NewService(st, tokens)
			if err != nil {
				return err
			}
			return fn(ctx, svc)
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "List registrations awaiting approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(func(ctx context.Context, svc *auth.Service) error {
				users, err := svc.ListPending(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tEMAIL\tPERSONA\tREGISTERED")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Persona, u.CreatedAt.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "approve <user-id>",
		Short: "Approve a pending registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *auth.Service) error {
				u, err := svc.Approve(ctx, cliReviewer, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("approved %s (%s)\n", u.Email, u.ID)
				return nil
			})
		},
	})

	var reason string
	reject := &cobra.Command{
		Use:   "reject <user-id>",
		Short: "Reject a pending registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(ctx context.Context, svc *auth.Service) error {
				u, err := svc.Reject(ctx, cliReviewer, args[0], reason)
				if err != nil {
					return err
				}
				fmt.Printf("rejected %s (%s)\n", u.Email, u.ID)
				return nil
			})
		},
	}
	reject.Flags().StringVar(&reason, "reason", "", "Reason shown to the user at sign-in")
	cmd.AddCommand(reject)

	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh hex-encoded ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := envelope.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash of a password, for seeding the first super admin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.ValidatePasswordStrength(args[0]); err != nil {
				return err
			}
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
