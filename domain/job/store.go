package job

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when no job has the requested id
var ErrNotFound = errors.New("job not found")

// Store defines the interface for job persistence
// This is a port that can be implemented by different infrastructure adapters
type Store interface {
	// Get returns a copy of the job with the given id
	Get(ctx context.Context, id string) (*Job, error)

	// Save inserts or replaces the job
	Save(ctx context.Context, j *Job) error

	// Delete removes the job; deleting an unknown id is not an error
	Delete(ctx context.Context, id string) error

	// List returns all jobs ordered by creation time
	List(ctx context.Context) ([]*Job, error)

	// UpdatedBefore returns jobs last modified before cutoff
	UpdatedBefore(ctx context.Context, cutoff time.Time) ([]*Job, error)
}

// FileChecker checks artifact files on local storage
type FileChecker interface {
	// Exists returns true if a non-empty regular file is at path
	Exists(path string) bool
}
