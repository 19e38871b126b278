package store

import (
	"strings"

	"media-pipeline/domain/job"
)

// JobStore is a job.Store that holds resources until closed
type JobStore interface {
	job.Store
	Close() error
}

// Open returns a SQLite store at path, or an in-memory store when path is empty
func Open(path string) (JobStore, error) {
	if strings.TrimSpace(path) == "" {
		return NewMemoryStore(), nil
	}
	return OpenSQLite(path)
}
