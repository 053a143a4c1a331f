package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newItemsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var account string
	var limit int

	cmd := &cobra.Command{
		Use:   "items",
		Short: "List pipeline items",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			items, err := client.Items(statuses, account, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No items")
				return nil
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				title := item.Title
				if title == "" {
					title = item.URL
				}
				rows = append(rows, []string{
					item.ID,
					truncate(title, 48),
					item.MPName,
					item.Status,
					fmt.Sprint(item.RetryCount),
					item.UpdatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			table := renderTable([]column{
				{title: "ID"},
				{title: "Title"},
				{title: "Account"},
				{title: "Status"},
				{title: "Retries", numeric: true},
				{title: "Updated"},
			}, rows)
			fmt.Fprintln(out, table)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by pipeline status (repeatable)")
	cmd.Flags().StringVar(&account, "account", "", "Filter by account mp_id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of items to list")
	return cmd
}
