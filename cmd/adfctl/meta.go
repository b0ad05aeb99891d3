package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/meridian-robotics/areatrack/internal/httputil"
)

func newMetaCmd(httpc httputil.HTTPClient) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Read and edit area description metadata",
	}

	cmd.AddCommand(
		newMetaGetCmd(httpc),
		newMetaSetCmd(httpc),
	)

	return cmd
}

func newMetaGetCmd(httpc httputil.HTTPClient) *cobra.Command {
	return &cobra.Command{
		Use:   "get <uuid> [key]",
		Short: "Show a map's metadata, or one key's value",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := newAPIClient(httpc)
			out := cmd.OutOrStdout()

			if len(args) == 2 {
				value, err := api.MetadataValue(args[0], args[1])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, value)
				return err
			}

			meta, err := api.Metadata(args[0])
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(meta))
			for k := range meta {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s\t%s\n", k, meta[k])
			}
			return nil
		},
	}
}

func newMetaSetCmd(httpc httputil.HTTPClient) *cobra.Command {
	return &cobra.Command{
		Use:   "set <uuid> <key> <value>",
		Short: "Set one metadata key on a stored map",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(httpc).SetMetadata(args[0], args[1], args[2]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s=%s\n", args[0], args[1], args[2])
			return err
		},
	}
}
