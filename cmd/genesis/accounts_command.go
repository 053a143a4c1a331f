package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAccountsCommand(ctx *commandContext) *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Inspect and manage tracked accounts",
	}

	accountsCmd.AddCommand(newAccountsListCommand(ctx))
	accountsCmd.AddCommand(newAccountsActiveCommand(ctx, "activate", true))
	accountsCmd.AddCommand(newAccountsActiveCommand(ctx, "deactivate", false))

	return accountsCmd
}

func newAccountsListCommand(ctx *commandContext) *cobra.Command {
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			accounts, err := client.Accounts(activeOnly)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				fmt.Fprintln(out, "No accounts")
				return nil
			}

			rows := make([][]string, 0, len(accounts))
			for _, account := range accounts {
				active := "yes"
				if !account.IsActive {
					active = "no"
				}
				rows = append(rows, []string{
					account.MPID,
					truncate(account.MPName, 32),
					active,
					fmt.Sprint(account.Priority),
					fmt.Sprint(account.TotalArticles),
					fmt.Sprint(account.ProcessedCount),
					formatEpoch(account.LastArticleTime),
					truncate(account.LastError, 40),
				})
			}
			table := renderTable([]column{
				{title: "ID"},
				{title: "Name"},
				{title: "Active"},
				{title: "Priority", numeric: true},
				{title: "Articles", numeric: true},
				{title: "Processed", numeric: true},
				{title: "Last article"},
				{title: "Last error"},
			}, rows)
			fmt.Fprintln(out, table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&activeOnly, "active", false, "Show only active accounts")
	return cmd
}

func newAccountsActiveCommand(ctx *commandContext, use string, active bool) *cobra.Command {
	short := "Resume discovery for an account"
	verb := "activated"
	if !active {
		short = "Pause discovery for an account"
		verb = "deactivated"
	}
	return &cobra.Command{
		Use:   use + " <mp-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.SetAccountActive(args[0], active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account %s %s\n", args[0], verb)
			return nil
		},
	}
}
