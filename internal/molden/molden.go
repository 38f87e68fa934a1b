// Package molden generates orbital files for finished optimizations. It
// runs beside the pipeline and only reads the persisted state snapshot.
package molden

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/me/qcpipe/internal/config"
	"github.com/me/qcpipe/internal/fsutil"
	"github.com/me/qcpipe/internal/orca"
	"github.com/me/qcpipe/internal/store"
	"github.com/me/qcpipe/pkg/model"
)

// Run-local resources. The single point calculation is small and must not
// compete with pipeline workers.
const (
	runNProcs    = 1
	runMaxCoreMB = 1000
	runDirName   = "molden_run"
)

// Config holds service configuration.
type Config struct {
	Orca       config.OrcaConfig
	StateFile  string
	ProductDir string
	Interval   time.Duration
	Timeout    time.Duration
}

// FromConfig derives service settings from the process configuration.
func FromConfig(cfg config.Config) Config {
	return Config{
		Orca:       cfg.Orca,
		StateFile:  cfg.Paths.StateFile,
		ProductDir: cfg.Paths.ProductDir,
		Interval:   cfg.Molden.Interval,
		Timeout:    cfg.Molden.Timeout,
	}
}

// Service polls the state snapshot for completed optimizations.
type Service struct {
	config Config
	logger *slog.Logger
}

// New creates a Service.
func New(cfg Config, logger *slog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Service{config: cfg, logger: logger.With("component", "molden")}
}

// OutputName returns the orbital file name for molecule.
func OutputName(molecule string) string { return molecule + ".molden.input" }

// MarkerName returns the name of the file that records a failed generation.
func MarkerName(molecule string) string { return molecule + ".molden_failed" }

// Run checks once immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("molden service started", "interval", s.config.Interval, "state_file", s.config.StateFile)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		s.Check(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("molden service stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Check processes every pending molecule in the current snapshot and
// returns how many were attempted.
func (s *Service) Check(ctx context.Context) int {
	jobs, err := store.ReadSnapshot(s.config.StateFile)
	if err != nil {
		if errors.Is(err, store.ErrSnapshotUnavailable) {
			s.logger.Debug("state snapshot unavailable, skipping cycle", "error", err)
		} else {
			s.logger.Warn("cannot read state snapshot", "error", err)
		}
		return 0
	}

	n := 0
	for _, mol := range s.pending(jobs) {
		if ctx.Err() != nil {
			break
		}
		n++
		if err := s.Generate(ctx, mol); err != nil {
			s.logger.Error("molden generation failed", "molecule", mol, "error", err)
		}
	}
	return n
}

// pending returns the molecules with a completed optimization whose
// orbital file has neither been produced nor given up on.
func (s *Service) pending(jobs map[string]model.Record) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range jobs {
		if rec.Status != model.StatusCompleted || rec.CalcType != model.CalcOpt || rec.Molecule == "" || seen[rec.Molecule] {
			continue
		}
		seen[rec.Molecule] = true

		dir := filepath.Join(s.config.ProductDir, rec.Molecule)
		if fsutil.Exists(filepath.Join(dir, OutputName(rec.Molecule))) || fsutil.Exists(filepath.Join(dir, MarkerName(rec.Molecule))) {
			continue
		}
		if !fsutil.Exists(filepath.Join(dir, optOutput(rec.Molecule))) {
			s.logger.Debug("optimization output not published yet", "molecule", rec.Molecule)
			continue
		}
		out = append(out, rec.Molecule)
	}
	sort.Strings(out)
	return out
}

func optOutput(molecule string) string {
	return model.StemOf(model.InputName(molecule, model.CalcOpt)) + ".out"
}

// Generate runs the single point calculation for molecule in a scratch
// directory under its product directory. Any failure leaves the marker
// file behind so the molecule is not retried.
func (s *Service) Generate(ctx context.Context, molecule string) (err error) {
	molDir := filepath.Join(s.config.ProductDir, molecule)
	runDir := filepath.Join(molDir, runDirName)
	log := s.logger.With("molecule", molecule)

	defer func() {
		if rmErr := os.RemoveAll(runDir); rmErr != nil {
			log.Warn("cannot remove run dir", "dir", runDir, "error", rmErr)
		}
		// Shutdown interrupts the run without deciding its outcome.
		if err != nil && ctx.Err() == nil {
			s.markFailed(log, molDir, molecule)
		}
	}()

	geom, err := orca.ExtractFinalGeometry(filepath.Join(molDir, optOutput(molecule)))
	if err != nil {
		return fmt.Errorf("extract geometry: %w", err)
	}
	content, err := BuildInput(s.config.Orca, molecule, geom)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	inp := filepath.Join(runDir, molecule+"_molden.inp")
	if err := os.WriteFile(inp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write input: %w", err)
	}

	log.Info("running single point for molden file")
	runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, s.config.Orca.Executable, filepath.Base(inp))
	cmd.Dir = runDir
	if runErr := cmd.Run(); runErr != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out after %s", s.config.Timeout)
		}
		// The exit status does not decide the outcome; the file does.
		log.Debug("orca exited with error", "error", runErr)
	}

	generated := filepath.Join(runDir, OutputName(molecule))
	if !fsutil.Exists(generated) {
		return errors.New("orca finished but produced no molden file")
	}
	if err := fsutil.MoveFile(generated, filepath.Join(molDir, OutputName(molecule))); err != nil {
		return fmt.Errorf("move molden file: %w", err)
	}
	log.Info("molden file generated", "path", filepath.Join(molDir, OutputName(molecule)))
	return nil
}

func (s *Service) markFailed(log *slog.Logger, molDir, molecule string) {
	marker := filepath.Join(molDir, MarkerName(molecule))
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		log.Error("cannot write failure marker", "path", marker, "error", err)
	}
}

// BuildInput renders the single point input that writes the orbital file.
func BuildInput(cfg config.OrcaConfig, molecule string, geom model.Geometry) (string, error) {
	if geom.Empty() {
		return "", fmt.Errorf("molden input for %s: empty geometry", molecule)
	}
	kw, err := orca.Keywords(cfg, model.CalcSP)
	if err != nil {
		return "", fmt.Errorf("molden input for %s: %w", molecule, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Molden generation for %s\n", molecule)
	fmt.Fprintf(&b, "! %s\n", kw)
	fmt.Fprintf(&b, "%%pal nprocs %d end\n", runNProcs)
	fmt.Fprintf(&b, "%%maxcore %d\n\n", runMaxCoreMB)
	fmt.Fprintf(&b, "%%moinp %q\n\n", OutputName(molecule))
	fmt.Fprintf(&b, "* xyz %d %d\n", cfg.Charge, cfg.Multiplicity)
	b.WriteString(orca.FormatCoordinates(geom))
	b.WriteString("\n*\n")
	return b.String(), nil
}
