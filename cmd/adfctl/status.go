package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridian-robotics/areatrack/internal/httputil"
)

func newStatusCmd(httpc httputil.HTTPClient) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's session status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := newAPIClient(httpc).Status()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session:     %s\n", status.SessionID)
			fmt.Fprintf(out, "started:     %s\n", status.StartedAt)
			fmt.Fprintf(out, "uptime:      %ds\n", status.UptimeSeconds)
			fmt.Fprintf(out, "module:      %s\n", orDash(status.ModuleVersion))
			fmt.Fprintf(out, "map state:   %s\n", status.MapState)
			fmt.Fprintf(out, "active map:  %s\n", orDash(status.ActiveMap))
			fmt.Fprintf(out, "last saved:  %s\n", orDash(status.LastSavedMap))
			fmt.Fprintf(out, "relocalized: %s\n", yesNo(status.Relocalized))
			if status.MapCount != nil {
				fmt.Fprintf(out, "maps stored: %d\n", *status.MapCount)
			}
			if status.SaveProgress != nil {
				fmt.Fprintf(out, "save:        %d%%\n", *status.SaveProgress)
			}
			fmt.Fprintf(out, "drops:       ignored=%d malformed=%d tap=%d progress=%d",
				status.IgnoredPoses, status.MalformedEvents, status.TapDrops, status.ProgressDrops)
			if status.JournalDrops != nil {
				fmt.Fprintf(out, " journal=%d", *status.JournalDrops)
			}
			fmt.Fprintln(out)

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
