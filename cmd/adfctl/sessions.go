package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridian-robotics/areatrack/internal/httputil"
	"github.com/meridian-robotics/areatrack/internal/version"
)

func newSessionsCmd(httpc httputil.HTTPClient) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List journaled sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := newAPIClient(httpc).Sessions(limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(reply)
			}

			out := cmd.OutOrStdout()
			for _, row := range reply.Sessions {
				marker := " "
				if row.SessionID == reply.Current {
					marker = "*"
				}
				mode := "tracking"
				if row.Learning {
					mode = "learning"
				}
				fmt.Fprintf(out, "%s %s\t%s\t%s\t%s\n",
					marker, row.SessionID, row.StartedAt.Format(time.RFC3339), mode, orDash(row.LoadedUUID))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum sessions to list (0 uses the daemon default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "adfctl %s (%s)\n", version.Version, version.GitSHA)
			return err
		},
	}
}
