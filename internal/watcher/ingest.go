// Package watcher turns geometry files dropped into the input directory
// into optimization jobs.
package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/me/qcpipe/internal/config"
	"github.com/me/qcpipe/internal/fsutil"
	"github.com/me/qcpipe/internal/orca"
	"github.com/me/qcpipe/pkg/model"
)

// Submitter enqueues jobs.
type Submitter interface {
	AddJob(inputPath, molecule string, calc model.CalcType, isRecovery bool) bool
}

// Generator renders an input deck for a geometry.
type Generator interface {
	GenerateInput(molecule string, geom model.Geometry, calc model.CalcType) (string, error)
}

// Ingester converts one xyz file into a waiting opt input and submits it.
type Ingester struct {
	inputDir   string
	waitingDir string
	gen        Generator
	submitter  Submitter
	logger     *slog.Logger
}

// NewIngester creates an Ingester.
func NewIngester(paths config.PathsConfig, gen Generator, sub Submitter, logger *slog.Logger) *Ingester {
	return &Ingester{
		inputDir:   paths.InputDir,
		waitingDir: paths.WaitingDir,
		gen:        gen,
		submitter:  sub,
		logger:     logger.With("component", "ingest"),
	}
}

// Ingest parses xyzPath, writes <mol>_opt.inp into the waiting directory,
// moves the xyz next to it and submits the job. A file that cannot be
// parsed stays where it is.
func (in *Ingester) Ingest(xyzPath string) error {
	data, err := os.ReadFile(xyzPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", xyzPath, err)
	}
	geom, err := orca.ParseXYZ(string(data))
	if err != nil {
		return fmt.Errorf("parse %s: %w", xyzPath, err)
	}

	molecule := model.StemOf(xyzPath)
	content, err := in.gen.GenerateInput(molecule, geom, model.CalcOpt)
	if err != nil {
		return err
	}

	inp := filepath.Join(in.waitingDir, model.InputName(molecule, model.CalcOpt))
	if err := writeAtomic(inp, []byte(content)); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	if err := fsutil.MoveFile(xyzPath, filepath.Join(in.waitingDir, filepath.Base(xyzPath))); err != nil {
		return fmt.Errorf("move geometry: %w", err)
	}

	if in.submitter.AddJob(inp, molecule, model.CalcOpt, false) {
		in.logger.Info("geometry ingested", "molecule", molecule, "atoms", len(geom), "input", inp)
	}
	return nil
}

// ScanExisting ingests every xyz file already in the input directory and
// returns how many were converted.
func (in *Ingester) ScanExisting() int {
	entries, err := os.ReadDir(in.inputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			in.logger.Error("cannot list input dir", "dir", in.inputDir, "error", err)
		}
		return 0
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isGeometry(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		path := filepath.Join(in.inputDir, name)
		if err := in.Ingest(path); err != nil {
			in.logger.Error("cannot ingest geometry", "path", path, "error", err)
			continue
		}
		n++
	}
	return n
}

func isGeometry(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".xyz")
}

// writeAtomic writes data to a temp file next to path and renames it into
// place so a concurrent directory scan never sees a partial input.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
