package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the task queue",
	}

	queueCmd.AddCommand(newQueueTasksCommand(ctx))
	queueCmd.AddCommand(newQueueCleanCommand(ctx))

	return queueCmd
}

func newQueueTasksCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var types []string
	var limit int

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			tasks, err := client.Tasks(statuses, types, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "Queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(tasks))
			for _, task := range tasks {
				rows = append(rows, []string{
					fmt.Sprint(task.ID),
					task.Type,
					task.Status,
					fmt.Sprint(task.Priority),
					fmt.Sprintf("%d/%d", task.RetryCount, task.MaxRetries),
					task.ScheduledAt.Local().Format("2006-01-02 15:04:05"),
					truncate(task.ErrorMessage, 40),
				})
			}
			table := renderTable([]column{
				{title: "ID", numeric: true},
				{title: "Type"},
				{title: "Status"},
				{title: "Priority", numeric: true},
				{title: "Retries", numeric: true},
				{title: "Scheduled"},
				{title: "Error"},
			}, rows)
			fmt.Fprintln(out, table)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by task status (repeatable)")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Filter by task type (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of tasks to list")
	return cmd
}

func newQueueCleanCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Schedule removal of old finished tasks and orphaned artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.QueueClean(days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleanup scheduled (task %d)\n", resp.TaskID)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Remove finished tasks older than this many days (0 for default)")
	return cmd
}
