package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridian-robotics/areatrack/internal/httputil"
)

func newMapsCmd(httpc httputil.HTTPClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maps",
		Short: "Manage stored area descriptions",
	}

	cmd.AddCommand(
		newMapsListCmd(httpc),
		newMapsSaveCmd(httpc),
		newMapsDeleteCmd(httpc),
	)

	return cmd
}

func newMapsListCmd(httpc httputil.HTTPClient) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the module's stored area descriptions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reply, err := newAPIClient(httpc).ListMaps()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(reply)
			}

			out := cmd.OutOrStdout()
			for _, entry := range reply.Maps {
				fmt.Fprintf(out, "%s\t%s\n", entry.UUID, entry.Name)
			}
			fmt.Fprintf(out, "maps: %d\n", reply.Count)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newMapsSaveCmd(httpc httputil.HTTPClient) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Save the current area description",
		Long:  "Save asks the daemon to persist the current area description. The call blocks until the module finishes; run 'adfctl watch' in another terminal to follow progress.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			api := newAPIClient(httpc)

			var uuid string
			err := runSaveSpinner(cmd.Context(), cmd.OutOrStdout(), func() error {
				var saveErr error
				uuid, saveErr = api.SaveMap(cmd.Context())
				return saveErr
			})
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", uuid)
			return err
		},
	}
}

func newMapsDeleteCmd(httpc httputil.HTTPClient) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uuid>",
		Short: "Delete a stored area description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(httpc).DeleteMap(args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}
}
