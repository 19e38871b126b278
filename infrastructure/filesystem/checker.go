package filesystem

import (
	"os"

	"media-pipeline/domain/job"
)

// Checker implements job.FileChecker using the os package
type Checker struct{}

// NewChecker creates a new filesystem checker
func NewChecker() *Checker {
	return &Checker{}
}

// Exists returns true if a non-empty regular file is at path
func (c *Checker) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Ensure Checker implements job.FileChecker
var _ job.FileChecker = (*Checker)(nil)
