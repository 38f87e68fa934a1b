package cli

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/qcpipe/internal/history"
	"github.com/me/qcpipe/pkg/model"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var summary bool

	cmd := &cobra.Command{
		Use:   "history [molecule]",
		Short: "Show recorded attempts",
		Long:  "Lists the most recent attempts, or every attempt for one molecule.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Paths.HistoryDB == "" {
				return history.ErrNoHistory
			}
			h, err := history.NewSQLiteHistory(cfg.Paths.HistoryDB, logger)
			if err != nil {
				return err
			}
			defer h.Close()
			ctx := cmd.Context()
			if err := h.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate history: %w", err)
			}

			out := cmd.OutOrStdout()
			if summary {
				counts, err := h.CountByOutcome(ctx)
				if err != nil {
					return err
				}
				outcomes := make([]string, 0, len(counts))
				for o := range counts {
					outcomes = append(outcomes, string(o))
				}
				sort.Strings(outcomes)
				for _, o := range outcomes {
					fmt.Fprintf(out, "%-16s  %s\n", o, humanize.Comma(int64(counts[model.Status(o)])))
				}
				return nil
			}

			var attempts []*history.Attempt
			if len(args) == 1 {
				attempts, err = h.ListByMolecule(ctx, args[0])
			} else {
				attempts, err = h.ListRecent(ctx, limit)
			}
			if err != nil {
				return err
			}
			if len(attempts) == 0 {
				fmt.Fprintln(out, "No attempts recorded.")
				return nil
			}

			fmt.Fprintf(out, "%-20s  %-5s  %-3s  %-16s  %-16s  %-10s  %s\n", "MOLECULE", "CALC", "#", "OUTCOME", "ERROR", "DURATION", "WHEN")
			for _, a := range attempts {
				errType := string(a.ErrorType)
				if errType == "" {
					errType = "-"
				}
				fmt.Fprintf(out, "%-20s  %-5s  %-3d  %-16s  %-16s  %-10s  %s\n",
					a.Molecule, a.CalcType, a.Attempt, a.Outcome, errType, a.Duration, humanize.Time(a.RecordedAt))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of recent attempts to show")
	cmd.Flags().BoolVar(&summary, "summary", false, "Show attempt counts by outcome")
	return cmd
}
