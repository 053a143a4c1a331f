package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := make([]string, 0, 32)

			lines = append(lines, renderSectionHeader("Daemon", colorize)...)
			runningKind := statusError
			runningMsg := "not running"
			if status.Running {
				runningKind = statusOK
				runningMsg = fmt.Sprintf("pid %d", status.PID)
			}
			lines = append(lines,
				renderStatusLine("Daemon", runningKind, runningMsg, colorize),
				renderStatusLine("Database", statusInfo, status.DatabasePath, colorize),
			)

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Items", colorize)...)
			items := status.Items
			failedKind := statusOK
			if items.Failed > 0 {
				failedKind = statusError
			}
			lines = append(lines,
				renderStatusLine("Total", statusInfo, fmt.Sprint(items.Total), colorize),
				renderStatusLine("Pending", statusInfo, fmt.Sprint(items.Pending), colorize),
				renderStatusLine("Processing", statusInfo, fmt.Sprint(items.Processing), colorize),
				renderStatusLine("Stored", statusOK, fmt.Sprint(items.Stored), colorize),
				renderStatusLine("Failed", failedKind, fmt.Sprint(items.Failed), colorize),
			)

			if len(status.Tasks) > 0 {
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Task queue", colorize)...)
				keys := make([]string, 0, len(status.Tasks))
				for key := range status.Tasks {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					kind := statusInfo
					if key == "failed" && status.Tasks[key] > 0 {
						kind = statusError
					}
					lines = append(lines, renderStatusLine(key, kind, fmt.Sprint(status.Tasks[key]), colorize))
				}
			}

			lines = append(lines, "")
			lines = append(lines, renderSectionHeader("Settings", colorize)...)
			settings := status.Settings
			maintenanceKind := statusOK
			maintenanceMsg := "off"
			if settings.MaintenanceMode {
				maintenanceKind = statusWarn
				maintenanceMsg = "on"
			}
			lines = append(lines,
				renderStatusLine("Discovery interval", statusInfo, fmt.Sprintf("%ds", settings.DiscoveryInterval), colorize),
				renderStatusLine("Download timeout", statusInfo, fmt.Sprintf("%ds", settings.DownloadTimeout), colorize),
				renderStatusLine("Concurrency", statusInfo, fmt.Sprint(settings.ConcurrentDownloads), colorize),
				renderStatusLine("Maintenance mode", maintenanceKind, maintenanceMsg, colorize),
			)

			if len(status.Workers) > 0 {
				lines = append(lines, "")
				lines = append(lines, renderSectionHeader("Workers", colorize)...)
				for _, worker := range status.Workers {
					kind := statusOK
					message := "ready"
					if !worker.Ready {
						kind = statusError
						message = worker.Detail
					}
					lines = append(lines, renderStatusLine(worker.Name, kind, message, colorize))
				}
			}

			fmt.Fprintln(out, strings.Join(lines, "\n"))
			return nil
		},
	}
}
