package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"media-pipeline/domain/job"
)

const lockFileName = ".sweep.lock"

// SweepResult contains the outcome of an expiry sweep
type SweepResult struct {
	Removed []string
	Errors  []SweepError
	Skipped bool
}

// SweepError pairs a file path with its removal error
type SweepError struct {
	Path  string
	Error error
}

// Manager owns the temporary directory where every artifact lives.
// It names, registers, releases and eventually reaps artifact files.
type Manager struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	sweepMu  sync.Mutex
	fileLock *flock.Flock
}

// Option is a functional option for configuring Manager
type Option func(*Manager)

// WithLogger sets the logger used for lifecycle events
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source (for testing)
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates the temp directory if needed and returns a manager for it
func NewManager(dir string, opts ...Option) (*Manager, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("lifecycle: temp directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	m := &Manager{
		dir:      dir,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		fileLock: flock.New(filepath.Join(dir, lockFileName)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the managed directory
func (m *Manager) Dir() string {
	return m.dir
}

// NewPath returns a fresh, collision-free path for an artifact of kind.
// An empty ext selects the kind's default extension.
func (m *Manager) NewPath(kind job.Kind, ext string) string {
	if ext == "" {
		ext = kind.Extension()
	} else if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(m.dir, fmt.Sprintf("%s-%s%s", kind, uuid.NewString(), strings.ToLower(ext)))
}

// Register confirms a produced file exists and is non-empty and returns its artifact
func (m *Manager) Register(_ context.Context, path string, kind job.Kind) (job.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return job.Artifact{}, fmt.Errorf("register %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return job.Artifact{}, fmt.Errorf("register %s: not a regular file", path)
	}
	if info.Size() == 0 {
		_ = os.Remove(path)
		return job.Artifact{}, fmt.Errorf("register %s: file is empty", path)
	}
	return job.Artifact{
		Path:      path,
		Kind:      kind,
		SizeBytes: info.Size(),
		CreatedAt: m.now(),
	}, nil
}

// Release deletes the artifact's file. A file that is already gone is not an error.
func (m *Manager) Release(art job.Artifact) error {
	if art.Path == "" {
		return nil
	}
	if err := os.Remove(art.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("failed to release artifact",
			slog.String("path", art.Path),
			slog.Any("error", err))
		return fmt.Errorf("release %s: %w", art.Path, err)
	}
	m.logger.Debug("artifact released", slog.String("path", art.Path), slog.String("kind", string(art.Kind)))
	return nil
}

// ReleaseAll releases every artifact and joins any errors
func (m *Manager) ReleaseAll(arts ...job.Artifact) error {
	var errs []error
	for _, a := range arts {
		if err := m.Release(a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SweepExpired deletes every file in the temp directory whose modification
// time is older than retention, regardless of which job produced it.
// Only one sweep runs at a time across processes sharing the directory;
// a contended sweep returns with Skipped set.
func (m *Manager) SweepExpired(ctx context.Context, retention time.Duration) (SweepResult, error) {
	var result SweepResult

	if !m.sweepMu.TryLock() {
		result.Skipped = true
		return result, nil
	}
	defer m.sweepMu.Unlock()

	locked, err := m.fileLock.TryLock()
	if err != nil {
		return result, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !locked {
		result.Skipped = true
		return result, nil
	}
	defer func() {
		if err := m.fileLock.Unlock(); err != nil {
			m.logger.Warn("failed to release sweep lock", slog.Any("error", err))
		}
	}()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return result, fmt.Errorf("read temp directory: %w", err)
	}

	cutoff := m.now().Add(-retention)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !entry.Type().IsRegular() || entry.Name() == lockFileName {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				result.Errors = append(result.Errors, SweepError{Path: path, Error: err})
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			result.Errors = append(result.Errors, SweepError{Path: path, Error: err})
			m.logger.Warn("failed to remove expired artifact",
				slog.String("path", path),
				slog.Any("error", err))
			continue
		}
		result.Removed = append(result.Removed, path)
		m.logger.Info("removed expired artifact",
			slog.String("path", path),
			slog.Duration("age", m.now().Sub(info.ModTime())))
	}

	return result, nil
}

// Run sweeps every interval until ctx is cancelled. onSweep, when set,
// runs after each sweep (job record reaping hooks in here).
func (m *Manager) Run(ctx context.Context, interval, retention time.Duration, onSweep func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := m.SweepExpired(ctx, retention)
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("sweep failed", slog.Any("error", err))
			} else if len(result.Removed) > 0 {
				m.logger.Info("sweep complete", slog.Int("removed", len(result.Removed)))
			}
			if onSweep != nil {
				onSweep(ctx)
			}
		}
	}
}

// Shutdown removes the whole temp directory and everything in it
func (m *Manager) Shutdown() error {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("remove temp directory: %w", err)
	}
	m.logger.Info("temp directory removed", slog.String("dir", m.dir))
	return nil
}
