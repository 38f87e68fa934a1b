package store

import "github.com/me/qcpipe/pkg/model"

// Store defines the job registry used by the scheduler, executor, handler
// and recovery scan.
type Store interface {
	// AddOrUpdate creates or overwrites the record for key and persists it.
	AddOrUpdate(molecule string, calc model.CalcType, key string, status model.Status)
	// AddIfNotActive atomically writes a PENDING record unless an
	// equivalent job is in flight. It reports whether the record was written.
	AddIfNotActive(molecule string, calc model.CalcType, key string) bool
	// Get returns the record for key.
	Get(key string) (model.Record, bool)
	// SetStatus updates the status of an existing record. It returns false
	// if key is unknown.
	SetStatus(key string, status model.Status) bool
	// IncrementRetryCount atomically increments and returns the retry count.
	IncrementRetryCount(key string) int
	// HasPendingOrRunning reports whether an equivalent job is in flight.
	HasPendingOrRunning(molecule string, calc model.CalcType) bool
	// ListByStatus returns every record with the given status, ordered by key.
	ListByStatus(status model.Status) []model.Entry
	// List returns records matching opts, ordered by key, and the total match count.
	List(opts model.ListOptions) ([]model.Entry, int)
}
