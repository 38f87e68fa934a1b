package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/qcpipe/internal/orca"
)

func newSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <file.xyz>...",
		Short: "Copy geometries into the input directory",
		Long: `Validates each xyz file and places it in the watched input directory.
A running pipeline picks it up; otherwise it is ingested on the next start.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(cfg.Paths.InputDir, 0o755); err != nil {
				return err
			}
			for _, src := range args {
				if !isXYZ(src) {
					return fmt.Errorf("%s: not an .xyz file", src)
				}
				data, err := os.ReadFile(src)
				if err != nil {
					return err
				}
				geom, err := orca.ParseXYZ(string(data))
				if err != nil {
					return fmt.Errorf("%s: %w", src, err)
				}

				dst := filepath.Join(cfg.Paths.InputDir, filepath.Base(src))
				if err := placeInput(dst, data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "submitted %s (%d atoms)\n", filepath.Base(src), len(geom))
			}
			return nil
		},
	}
}

func isXYZ(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xyz")
}

// placeInput writes data under a name the watcher ignores and renames it
// into place, so the watcher never reads a partial geometry.
func placeInput(dst string, data []byte) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%s already waiting in the input directory", filepath.Base(dst))
	}
	tmp := dst + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
