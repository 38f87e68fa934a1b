package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/qcpipe/internal/store"
	"github.com/me/qcpipe/pkg/model"
)

func newStatusCmd() *cobra.Command {
	var status, molecule string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job records from the state file",
		Long: `Reads the state file written by a running or stopped pipeline. The
file is only read, so this is safe while the pipeline runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.ListOptions{Molecule: molecule}
			if status != "" {
				s, ok := model.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				opts.Status = s
			}

			jobs, err := store.ReadSnapshot(cfg.Paths.StateFile)
			if err != nil {
				return err
			}

			keys := make([]string, 0, len(jobs))
			counts := make(map[model.Status]int)
			for key, rec := range jobs {
				counts[rec.Status]++
				if opts.Matches(rec) {
					keys = append(keys, key)
				}
			}
			sort.Strings(keys)

			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}

			fmt.Fprintf(out, "%-20s  %-5s  %-16s  %-7s  %-16s  %s\n", "MOLECULE", "CALC", "STATUS", "RETRIES", "STARTED", "INPUT")
			for _, key := range keys {
				rec := jobs[key]
				fmt.Fprintf(out, "%-20s  %-5s  %-16s  %-7d  %-16s  %s\n",
					rec.Molecule, rec.CalcType, rec.Status, rec.RetryCount, humanize.Time(rec.StartedAt), key)
			}

			var summary []string
			for _, s := range []model.Status{model.StatusPending, model.StatusRunning, model.StatusCompleted, model.StatusFailed, model.StatusPermanentFailed} {
				if counts[s] > 0 {
					summary = append(summary, fmt.Sprintf("%d %s", counts[s], strings.ToLower(string(s))))
				}
			}
			fmt.Fprintf(out, "\n%s jobs: %s\n", humanize.Comma(int64(len(jobs))), strings.Join(summary, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only show jobs with this status")
	cmd.Flags().StringVar(&molecule, "molecule", "", "Only show jobs for this molecule")
	return cmd
}
