package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show details for a single item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			item, err := client.Item(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := make([]string, 0, 32)

			lines = append(lines, renderSectionHeader("Item "+item.ID, colorize)...)
			lines = append(lines,
				renderStatusLine("Status", itemStatusKind(item.Status), item.Status, colorize),
				renderStatusLine("URL", statusInfo, item.URL, colorize),
			)
			if item.Title != "" {
				lines = append(lines, renderStatusLine("Title", statusInfo, item.Title, colorize))
			}
			if item.MPID != "" {
				account := item.MPID
				if item.MPName != "" {
					account = fmt.Sprintf("%s (%s)", item.MPName, item.MPID)
				}
				lines = append(lines, renderStatusLine("Account", statusInfo, account, colorize))
			}
			if item.PublishTime > 0 {
				lines = append(lines, renderStatusLine("Published", statusInfo, formatEpoch(item.PublishTime), colorize))
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Stages", colorize)...)
			for _, stage := range []string{"discovery", "download", "parse", "storage"} {
				state := item.Stages[stage]
				kind := statusInfo
				switch state {
				case "completed":
					kind = statusOK
				case "failed":
					kind = statusError
				case "running":
					kind = statusWarn
				}
				lines = append(lines, renderStatusLine(stage, kind, state, colorize))
			}

			if item.ContentFilePath != "" || item.HTMLFilePath != "" {
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Artifacts", colorize)...)
				if item.HTMLFilePath != "" {
					lines = append(lines, renderStatusLine("HTML", statusInfo, item.HTMLFilePath, colorize))
				}
				if item.ContentFilePath != "" {
					lines = append(lines, renderStatusLine("Content", statusInfo, item.ContentFilePath, colorize))
				}
				if item.ImagesDirPath != "" {
					lines = append(lines, renderStatusLine("Images", statusInfo, fmt.Sprintf("%s (%d)", item.ImagesDirPath, item.ImageCount), colorize))
				}
				if item.ContentLength > 0 {
					lines = append(lines, renderStatusLine("Size", statusInfo, formatBytes(item.ContentLength), colorize))
				}
				if item.WordCount > 0 {
					lines = append(lines, renderStatusLine("Words", statusInfo, fmt.Sprint(item.WordCount), colorize))
				}
			}

			if item.ErrorMessage != "" || len(item.History) > 0 {
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Failures", colorize)...)
				if item.ErrorMessage != "" {
					lines = append(lines, renderStatusLine("Last error", statusError, item.ErrorMessage, colorize))
				}
				lines = append(lines, renderStatusLine("Retries", statusInfo, fmt.Sprint(item.RetryCount), colorize))
				for _, failure := range item.History {
					detail := fmt.Sprintf("attempt %d %s: %s (%s)", failure.Attempt, failure.Stage, failure.Message, failure.At)
					lines = append(lines, renderStatusLine("History", statusWarn, detail, colorize))
				}
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Timestamps", colorize)...)
			created := item.CreatedAt
			lines = append(lines,
				renderStatusLine("Created", statusInfo, created.Local().Format("2006-01-02 15:04:05"), colorize),
				renderStatusLine("Downloaded", statusInfo, formatTimestamp(item.DownloadedAt), colorize),
				renderStatusLine("Parsed", statusInfo, formatTimestamp(item.ParsedAt), colorize),
				renderStatusLine("Stored", statusInfo, formatTimestamp(item.StoredAt), colorize),
			)

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}
