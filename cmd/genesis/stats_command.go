package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var date string
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show daily pipeline statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			stats, err := client.Stats(date, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(stats) == 0 {
				fmt.Fprintln(out, "No statistics recorded")
				return nil
			}

			rows := make([][]string, 0, len(stats))
			for _, day := range stats {
				rows = append(rows, []string{
					day.Date,
					fmt.Sprint(day.Discovered),
					fmt.Sprint(day.Downloaded),
					fmt.Sprint(day.Parsed),
					fmt.Sprint(day.Stored),
					fmt.Sprint(day.Failed),
					formatBytes(day.TotalContentSize),
					fmt.Sprint(day.TotalWordCount),
				})
			}
			table := renderTable([]column{
				{title: "Date"},
				{title: "Discovered", numeric: true},
				{title: "Downloaded", numeric: true},
				{title: "Parsed", numeric: true},
				{title: "Stored", numeric: true},
				{title: "Failed", numeric: true},
				{title: "Content", numeric: true},
				{title: "Words", numeric: true},
			}, rows)
			fmt.Fprintln(out, table)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "Show a single day (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 14, "Number of recent days to show")
	return cmd
}
