package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"qms/walkin-queue/internal/config"
	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/queue"
	"qms/walkin-queue/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect today's queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueSummaryCommand(ctx))
	queueCmd.AddCommand(newQueueStatusCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var staffID string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show a staff member's ordered candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(staffID) == "" {
				return fmt.Errorf("--staff is required")
			}
			return ctx.withService(cmd, func(svc *queue.Service) error {
				view, err := svc.ListCandidates(cmd.Context(), staffID)
				if err != nil {
					return err
				}
				if asJSON || !wantsTable(cmd.OutOrStdout()) {
					return writeJSON(cmd, view)
				}
				if len(view.Entries) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Window %d: nobody waiting\n", view.Window.Number)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Window %d (%s)\n", view.Window.Number, view.Window.Name)
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"#", "Number", "Client", "Type", "Status", "Joined"},
					candidateRows(view.Entries),
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&staffID, "staff", "", "Staff member id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON even on a terminal")
	return cmd
}

func newQueueSummaryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show today's counts and what each window is serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(svc *queue.Service) error {
				summary, err := svc.Summary(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON || !wantsTable(cmd.OutOrStdout()) {
					return writeJSON(cmd, summary)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"},
					[][]string{
						{models.StatusWaiting, strconv.Itoa(summary.Waiting)},
						{models.StatusNowServing, strconv.Itoa(summary.Serving)},
						{models.StatusServed, strconv.Itoa(summary.Served)},
						{models.StatusSkipped, strconv.Itoa(summary.Skipped)},
					},
					[]columnAlignment{alignLeft, alignRight},
				))
				if len(summary.NowServing) > 0 {
					rows := make([][]string, 0, len(summary.NowServing))
					for _, serving := range summary.NowServing {
						rows = append(rows, []string{strconv.Itoa(serving.WindowNumber), serving.QueueNumber})
					}
					fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Window", "Now serving"}, rows, []columnAlignment{alignRight, alignLeft}))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON even on a terminal")
	return cmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <queue-number>",
		Short: "Look up a queue number the way the client screen does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd, func(svc *queue.Service) error {
				status, err := svc.StatusByNumber(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, status)
			})
		},
	}
}

func (c *commandContext) withService(cmd *cobra.Command, fn func(svc *queue.Service) error) error {
	return c.withStore(cmd.Context(), func(cfg config.Config, st store.QueueStore) error {
		svc, err := newService(cfg, st)
		if err != nil {
			return err
		}
		return fn(svc)
	})
}

func candidateRows(entries []models.QueueEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for i, entry := range entries {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			entry.QueueNumber,
			entry.ClientName,
			string(entry.ClientType),
			entry.Status,
			entry.JoinedAt.Local().Format(time.Kitchen),
		})
	}
	return rows
}
