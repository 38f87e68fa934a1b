package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/qcpipe/pkg/model"
)

func newPoolCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Show worker pool capacity of a running pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/pool")
			if err != nil {
				return fmt.Errorf("get pool: %w", err)
			}
			var info model.PoolInfo
			if err := json.Unmarshal(resp.Data, &info); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "State:    %s\n", info.State)
			fmt.Fprintf(out, "Workers:  %d of %d\n", info.Workers, info.Initial)
			fmt.Fprintf(out, "Queued:   %d\n", info.Queued)
			if info.Reduced > 0 {
				fmt.Fprintf(out, "Reduced:  %d time(s) after resource failures\n", info.Reduced)
			}
			return nil
		},
	}
}
