package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newTriggerCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "trigger <stage>",
		Short: "Re-enqueue items stalled before a stage (download, parse, storage)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Trigger(strings.ToLower(strings.TrimSpace(args[0])), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %d task(s)\n", resp.Affected)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of items to schedule (0 for all)")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <item-id> [item-id...]",
		Short: "Resubmit failed items from their failed stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var failed int
			for _, id := range args {
				if err := client.RetryItem(id); err != nil {
					failed++
					fmt.Fprintf(out, "%s: %v\n", id, err)
					continue
				}
				fmt.Fprintf(out, "%s: resubmitted\n", id)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d item(s) could not be resubmitted", failed, len(args))
			}
			return nil
		},
	}
}

func newAbandonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <item-id>",
		Short: "Mark an item failed and cancel its pending tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.AbandonItem(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Abandoned %s (cancelled %d pending task(s))\n", args[0], resp.Affected)
			return nil
		},
	}
}
