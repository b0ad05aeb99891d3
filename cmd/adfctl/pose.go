package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/meridian-robotics/areatrack/internal/httputil"
)

func newPoseCmd(httpc httputil.HTTPClient) *cobra.Command {
	var pair string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "pose",
		Short: "Show the latest pose per frame pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := newAPIClient(httpc).Poses(pair)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(reply)
			}

			names := make([]string, 0, len(reply.Poses))
			for name := range reply.Poses {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			for _, name := range names {
				sample := reply.Poses[name]
				line := fmt.Sprintf("%s\t%s", name, sample.Display)
				if sample.Seen && sample.Stale {
					line += " (stale)"
				}
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "relocalized: %s\n", yesNo(reply.Relocalized))
			return nil
		},
	}

	cmd.Flags().StringVar(&pair, "pair", "", "Show only this frame pair")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newResetCmd(httpc httputil.HTTPClient) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset motion tracking for the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := newAPIClient(httpc).ResetSession(); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "tracking reset")
			return err
		},
	}
}
