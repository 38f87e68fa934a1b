package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/me/qcpipe/pkg/model"
)

// ErrSnapshotUnavailable is returned by ReadSnapshot when the state file is
// missing or cannot be parsed. Readers treat it as "no data this cycle".
var ErrSnapshotUnavailable = errors.New("state snapshot unavailable")

// StateStore implements Store with an in-memory map persisted as a
// whole-registry JSON snapshot after every mutation.
type StateStore struct {
	mu     sync.Mutex
	path   string
	jobs   map[string]model.Record
	logger *slog.Logger
	now    func() time.Time
}

// Open loads the registry at path. A missing file yields an empty registry;
// an unreadable or malformed file is logged and also yields an empty one.
func Open(path string, logger *slog.Logger) *StateStore {
	s := &StateStore{
		path:   path,
		jobs:   make(map[string]model.Record),
		logger: logger.With("component", "state-store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.load()
	return s
}

// Path returns the snapshot file location.
func (s *StateStore) Path() string {
	return s.path
}

func (s *StateStore) load() {
	jobs, err := readSnapshot(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("no state file, starting empty", "path", s.path)
		return
	case err != nil:
		s.logger.Error("failed to load state file", "path", s.path, "error", err)
		return
	}
	s.jobs = jobs
	s.logger.Info("loaded state", "path", s.path, "entries", len(jobs))
}

// AddOrUpdate creates or overwrites a record. A record that is still in
// its retry cycle (PENDING, RUNNING or FAILED) keeps its retry count; a
// terminal record is replaced with a fresh count.
func (s *StateStore) AddOrUpdate(molecule string, calc model.CalcType, key string, status model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(molecule, calc, key, status)
	s.persistLocked()
}

// AddIfNotActive writes a PENDING record for key unless a record with the
// same molecule and calc type is PENDING or RUNNING. The check and the
// write happen under one lock hold.
func (s *StateStore) AddIfNotActive(molecule string, calc model.CalcType, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked(molecule, calc) {
		return false
	}
	s.upsertLocked(molecule, calc, key, model.StatusPending)
	s.persistLocked()
	return true
}

func (s *StateStore) upsertLocked(molecule string, calc model.CalcType, key string, status model.Status) {
	rec := model.Record{
		Molecule:  molecule,
		CalcType:  calc,
		Status:    status,
		StartedAt: s.now(),
	}
	if prev, ok := s.jobs[key]; ok && !prev.Status.IsTerminal() {
		rec.RetryCount = prev.RetryCount
	}
	s.jobs[key] = rec
}

// Get returns the record for key.
func (s *StateStore) Get(key string) (model.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[key]
	return rec, ok
}

// SetStatus updates the status of an existing record.
func (s *StateStore) SetStatus(key string, status model.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[key]
	if !ok {
		s.logger.Warn("status update for unknown job", "job_key", key, "status", status)
		return false
	}
	if !rec.Status.CanTransitionTo(status) && rec.Status != status {
		s.logger.Debug("unusual status transition", "job_key", key, "from", rec.Status, "to", status)
	}
	rec.Status = status
	if status.IsActive() {
		rec.StartedAt = s.now()
	}
	s.jobs[key] = rec
	s.persistLocked()
	return true
}

// IncrementRetryCount atomically increments and returns the retry count.
// An unknown key starts a fresh record-less count of 1 and is not persisted.
func (s *StateStore) IncrementRetryCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[key]
	if !ok {
		s.logger.Warn("retry increment for unknown job", "job_key", key)
		return 1
	}
	rec.RetryCount++
	s.jobs[key] = rec
	s.persistLocked()
	return rec.RetryCount
}

// HasPendingOrRunning reports whether a record with the same molecule and
// calc type is PENDING or RUNNING.
func (s *StateStore) HasPendingOrRunning(molecule string, calc model.CalcType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(molecule, calc)
}

func (s *StateStore) activeLocked(molecule string, calc model.CalcType) bool {
	for _, rec := range s.jobs {
		if rec.Status.IsActive() && rec.Molecule == molecule && rec.CalcType == calc {
			return true
		}
	}
	return false
}

// ListByStatus returns every record with the given status, ordered by key.
func (s *StateStore) ListByStatus(status model.Status) []model.Entry {
	entries, _ := s.List(model.ListOptions{Status: status, Limit: -1})
	return entries
}

// List returns records matching opts ordered by key. A negative Limit
// returns every match.
func (s *StateStore) List(opts model.ListOptions) ([]model.Entry, int) {
	s.mu.Lock()
	matched := make([]model.Entry, 0, len(s.jobs))
	for key, rec := range s.jobs {
		if opts.Matches(rec) {
			matched = append(matched, model.Entry{Key: key, Record: rec})
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })
	total := len(matched)
	if opts.Limit < 0 {
		return matched, total
	}

	opts.Clamp()
	if opts.Offset >= total {
		return []model.Entry{}, total
	}
	end := min(opts.Offset+opts.Limit, total)
	return matched[opts.Offset:end], total
}

// persistLocked writes the snapshot to a temp file and renames it over the
// state file. Failures are logged; in-memory state stays authoritative.
// Caller must hold s.mu.
func (s *StateStore) persistLocked() {
	if err := writeSnapshot(s.path, s.jobs); err != nil {
		s.logger.Error("failed to save state file", "path", s.path, "error", err)
	}
}

func writeSnapshot(path string, jobs map[string]model.Record) error {
	data, err := json.MarshalIndent(jobs, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func readSnapshot(path string) (map[string]model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jobs := make(map[string]model.Record)
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return jobs, nil
}

// ReadSnapshot loads the persisted registry without taking ownership of it.
// It is safe to call from a separate process or goroutine while a
// StateStore is writing the same file.
func ReadSnapshot(path string) (map[string]model.Record, error) {
	jobs, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotUnavailable, err)
	}
	return jobs, nil
}
