package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/qcpipe/internal/history"
	"github.com/me/qcpipe/pkg/model"
)

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, r, apiErr)
		return
	}
	entries, total := s.store.List(opts)
	respondPage(w, r, entries, total, opts)
}

// parseListOptions reads the status, molecule, limit and offset query
// parameters.
func parseListOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	q := r.URL.Query()
	opts := model.DefaultListOptions()
	if v := q.Get("status"); v != "" {
		status, ok := model.ParseStatus(v)
		if !ok {
			return opts, model.NewValidationError("unknown status %q", v)
		}
		opts.Status = status
	}
	opts.Molecule = q.Get("molecule")
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, model.NewValidationError("%s must be an integer", p.name)
		}
		*p.dst = n
	}
	opts.Clamp()
	return opts, nil
}

// jobKey returns the key query parameter. Job keys are file paths, so they
// cannot travel as a path segment.
func jobKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.URL.Query().Get("key")
	if key == "" {
		respondError(w, r, model.NewValidationError("key is required"))
		return "", false
	}
	return key, true
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	key, ok := jobKey(w, r)
	if !ok {
		return
	}
	rec, found := s.store.Get(key)
	if !found {
		respondError(w, r, model.NewNotFoundError("job", key))
		return
	}
	respondOK(w, r, model.Entry{Key: key, Record: rec})
}

func (s *Server) handleJobAttempts(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w, r) {
		return
	}
	key, ok := jobKey(w, r)
	if !ok {
		return
	}
	attempts, err := s.history.ListByJob(r.Context(), key)
	respondQuery(w, r, attempts, err)
}

func (s *Server) handleMoleculeAttempts(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w, r) {
		return
	}
	attempts, err := s.history.ListByMolecule(r.Context(), chi.URLParam(r, "molecule"))
	respondQuery(w, r, attempts, err)
}

func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w, r) {
		return
	}
	counts, err := s.history.CountByOutcome(r.Context())
	respondQuery(w, r, counts, err)
}

func (s *Server) requireHistory(w http.ResponseWriter, r *http.Request) bool {
	if s.history != nil {
		return true
	}
	respondError(w, r, &model.APIError{Code: model.ErrNotFound, Message: history.ErrNoHistory.Error()})
	return false
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		respondError(w, r, &model.APIError{Code: model.ErrNotFound, Message: "no scheduler attached"})
		return
	}
	respondOK(w, r, s.pool.Info())
}
