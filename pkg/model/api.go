package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures job listing with pagination and filtering.
type ListOptions struct {
	Limit    int
	Offset   int
	Status   Status // empty matches every status
	Molecule string // empty matches every molecule
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 50, Offset: 0}
}

// Clamp enforces limits (max 500, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Matches reports whether a record passes the status and molecule filters.
func (o ListOptions) Matches(r Record) bool {
	if o.Status != "" && r.Status != o.Status {
		return false
	}
	if o.Molecule != "" && r.Molecule != o.Molecule {
		return false
	}
	return true
}

// PoolInfo describes the scheduler's current capacity.
type PoolInfo struct {
	State   string `json:"state"`
	Workers int    `json:"workers"`
	Initial int    `json:"initial_workers"`
	Queued  int    `json:"queued"`
	Reduced int    `json:"reductions"`
}
