// Package recovery resubmits work left behind by a previous process before
// the scheduler starts.
package recovery

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/me/qcpipe/internal/config"
	"github.com/me/qcpipe/internal/fsutil"
	"github.com/me/qcpipe/internal/store"
	"github.com/me/qcpipe/pkg/model"
)

// Submitter enqueues jobs.
type Submitter interface {
	AddJob(inputPath, molecule string, calc model.CalcType, isRecovery bool) bool
}

// InputScanner converts geometry files already waiting in the input
// directory.
type InputScanner interface {
	ScanExisting() int
}

// Report counts what each startup step submitted.
type Report struct {
	Interrupted int
	Requeued    int
	Waiting     int
	Inputs      int
}

// Recovery runs the startup scans.
type Recovery struct {
	store      store.Store
	submitter  Submitter
	waitingDir string
	retryDir   string
	logger     *slog.Logger
}

// New creates a Recovery.
func New(st store.Store, sub Submitter, paths config.PathsConfig, logger *slog.Logger) *Recovery {
	return &Recovery{
		store:      st,
		submitter:  sub,
		waitingDir: paths.WaitingDir,
		retryDir:   paths.RetryDir,
		logger:     logger.With("component", "recovery"),
	}
}

// Run performs every startup step in order. inputs may be nil.
func (r *Recovery) Run(inputs InputScanner) Report {
	var rep Report
	rep.Interrupted = r.RecoverInterrupted()
	rep.Requeued = r.RequeueParked()
	rep.Waiting = r.ScanWaiting()
	if inputs != nil {
		rep.Inputs = inputs.ScanExisting()
	}
	r.logger.Info("recovery complete",
		"interrupted", rep.Interrupted,
		"requeued", rep.Requeued,
		"waiting", rep.Waiting,
		"inputs", rep.Inputs,
	)
	return rep
}

// RecoverInterrupted resubmits every RUNNING record, whose owning process
// died mid-execution, and every PENDING record, whose queue entry died with
// it. Deduplication is bypassed: the stale record must not block its own
// resubmission.
func (r *Recovery) RecoverInterrupted() int {
	// Both lists are taken up front: resubmission turns RUNNING into PENDING.
	stale := append(r.store.ListByStatus(model.StatusRunning), r.store.ListByStatus(model.StatusPending)...)

	n := 0
	for _, e := range stale {
		log := r.logger.With("job_key", e.Key, "molecule", e.Record.Molecule, "calc_type", e.Record.CalcType, "status", e.Record.Status)
		if !fsutil.Exists(e.Key) {
			log.Warn("input of interrupted job is missing")
		}
		log.Info("resubmitting interrupted job", "retry_count", e.Record.RetryCount)
		if r.submitter.AddJob(e.Key, e.Record.Molecule, e.Record.CalcType, true) {
			n++
		}
	}
	return n
}

// RequeueParked moves inputs parked by temporary failures back to their
// original location and resubmits them. A parked input is matched to its
// FAILED record through model.ParkedPath; one without a record, including
// a file dropped directly into the retry directory, goes to the waiting
// directory.
func (r *Recovery) RequeueParked() int {
	if r.retryDir == "" {
		return 0
	}
	parked, err := listParked(r.retryDir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Error("cannot list retry dir", "dir", r.retryDir, "error", err)
		}
		return 0
	}

	failed := make(map[string]model.Entry)
	for _, e := range r.store.ListByStatus(model.StatusFailed) {
		failed[model.ParkedPath(r.retryDir, e.Key)] = e
	}

	n := 0
	for _, path := range parked {
		dest := filepath.Join(r.waitingDir, filepath.Base(path))
		spec := model.SpecFromInputPath(dest)
		if e, ok := failed[path]; ok {
			dest = e.Key
			spec = model.JobSpec{InputPath: e.Key, Molecule: e.Record.Molecule, CalcType: e.Record.CalcType}
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			r.logger.Error("cannot requeue parked input", "path", path, "dest", dest, "error", err)
			continue
		}
		if err := fsutil.MoveFile(path, dest); err != nil {
			r.logger.Error("cannot requeue parked input", "path", path, "dest", dest, "error", err)
			continue
		}
		if dir := filepath.Dir(path); dir != r.retryDir {
			os.Remove(dir) // only succeeds once empty
		}
		r.logger.Info("requeueing failed job", "job_key", dest, "molecule", spec.Molecule, "calc_type", spec.CalcType)
		if r.submitter.AddJob(dest, spec.Molecule, spec.CalcType, false) {
			n++
		}
	}
	return n
}

// ScanWaiting submits every input file in the waiting directory. Inputs
// already resubmitted are suppressed by deduplication.
func (r *Recovery) ScanWaiting() int {
	inputs, err := listInputs(r.waitingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Error("cannot list waiting dir", "dir", r.waitingDir, "error", err)
		}
		return 0
	}
	n := 0
	for _, path := range inputs {
		spec := model.SpecFromInputPath(path)
		if r.submitter.AddJob(path, spec.Molecule, spec.CalcType, false) {
			n++
		}
	}
	return n
}

// listParked returns the inputs in retryDir and in its per-key
// subdirectories, sorted by path.
func listParked(retryDir string) ([]string, error) {
	out, err := listInputs(retryDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(retryDir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub, err := listInputs(filepath.Join(retryDir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	sort.Strings(out)
	return out, nil
}

// listInputs returns the *.inp files in dir, sorted by name.
func listInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".inp") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
