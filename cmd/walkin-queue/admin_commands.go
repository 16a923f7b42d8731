package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"qms/walkin-queue/internal/catalog"
	"qms/walkin-queue/internal/config"
	"qms/walkin-queue/internal/store"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(cfg config.Config, _ store.QueueStore) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied (%s)\n", cfg.DBDriver)
				return nil
			})
		},
	}
}

func newReconcileCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Close entries left NOW_SERVING from a previous office day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd.Context(), func(cfg config.Config, st store.QueueStore) error {
				svc, err := newService(cfg, st)
				if err != nil {
					return err
				}
				count, err := svc.ReconcileStaleServing(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reconciled %d stale entries\n", count)
				return nil
			})
		},
	}
}

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage categories, windows and staff specializations",
	}
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "import <file.toml>",
		Short: "Upsert reference data from a TOML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := catalog.Load(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(cmd.Context(), func(_ config.Config, st store.QueueStore) error {
				stats, err := catalog.Apply(cmd.Context(), st, file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d categories, %d subcategories, %d windows, %d staff\n",
					stats.Categories, stats.SubCategories, stats.Windows, stats.Staff)
				return nil
			})
		},
	})
	return catalogCmd
}

func newSessionCommand(ctx *commandContext) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Manage staff sessions",
	}

	var staffID string
	var role string
	var ttl time.Duration
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a session token for a staff member",
		RunE: func(cmd *cobra.Command, args []string) error {
			staffID = strings.TrimSpace(staffID)
			if staffID == "" {
				return fmt.Errorf("--staff is required")
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			return ctx.withStore(cmd.Context(), func(_ config.Config, st store.QueueStore) error {
				session := store.Session{
					SessionID: uuid.NewString(),
					StaffID:   staffID,
					Role:      role,
					ExpiresAt: time.Now().Add(ttl).UTC(),
				}
				if err := st.CreateSession(cmd.Context(), session); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), session.SessionID)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&staffID, "staff", "", "Staff member id")
	createCmd.Flags().StringVar(&role, "role", "staff", "Session role")
	createCmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Session lifetime")
	sessionCmd.AddCommand(createCmd)
	return sessionCmd
}
