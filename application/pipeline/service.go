package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-pipeline/domain/job"
	"media-pipeline/domain/media"
	"media-pipeline/domain/retrieval"
)

// Artifacts allocates, registers and releases files in the managed temp directory
type Artifacts interface {
	NewPath(kind job.Kind, ext string) string
	Register(ctx context.Context, path string, kind job.Kind) (job.Artifact, error)
	Release(art job.Artifact) error
}

// Result reports the outcome of one stage call
type Result struct {
	JobID        string
	Stage        job.Stage
	Artifact     job.Artifact
	Elapsed      time.Duration
	HasMusic     bool
	HasSubtitles bool
	HasThumbnail bool
}

// Service sequences the pipeline stages of every job.
// Stages of one job run one at a time; different jobs run concurrently.
type Service struct {
	store      job.Store
	retriever  retrieval.Retriever
	transcoder media.Transcoder
	prober     media.Prober
	stills     media.StillInspector
	files      job.FileChecker
	artifacts  Artifacts

	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	geometry   media.Geometry
	normalize  bool
	allowLocal bool

	locksMu sync.Mutex
	locks   map[string]*jobLock

	activeMu sync.Mutex
	active   int
	idle     chan struct{} // closed when the last running stage ends
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

// Option is a functional option for configuring Service
type Option func(*Service)

// WithLogger sets the logger used for stage events
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source (for testing)
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides job id generation (for testing)
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// WithFallbackGeometry sets the thumbnail geometry used when probing fails
func WithFallbackGeometry(g media.Geometry) Option {
	return func(s *Service) {
		s.geometry = g
	}
}

// WithNormalize controls whether retrieved sources are normalized
func WithNormalize(enabled bool) Option {
	return func(s *Service) {
		s.normalize = enabled
	}
}

// WithLocalSources allows references to local files (CLI use only)
func WithLocalSources(allow bool) Option {
	return func(s *Service) {
		s.allowLocal = allow
	}
}

// NewService creates a new pipeline service
func NewService(
	store job.Store,
	retriever retrieval.Retriever,
	transcoder media.Transcoder,
	prober media.Prober,
	stills media.StillInspector,
	files job.FileChecker,
	artifacts Artifacts,
	opts ...Option,
) *Service {
	s := &Service{
		store:      store,
		retriever:  retriever,
		transcoder: transcoder,
		prober:     prober,
		stills:     stills,
		files:      files,
		artifacts:  artifacts,
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
		newID:      uuid.NewString,
		geometry:   media.DefaultGeometry,
		normalize:  true,
		locks:      make(map[string]*jobLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Job returns a snapshot of the job
func (s *Service) Job(ctx context.Context, id string) (*job.Job, error) {
	return s.load(ctx, id)
}

// Jobs returns every known job ordered by creation time
func (s *Service) Jobs(ctx context.Context) ([]*job.Job, error) {
	return s.store.List(ctx)
}

// Cleanup releases every artifact of the job and deletes its record
func (s *Service) Cleanup(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	j, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return s.destroy(ctx, j)
}

// PurgeExpired destroys jobs whose last update is older than retention.
// It returns the number of jobs removed.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	stale, err := s.store.UpdatedBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("list expired jobs: %w", err)
	}

	purged := 0
	var errs []error
	for _, candidate := range stale {
		if err := s.purge(ctx, candidate.ID, retention); err != nil {
			errs = append(errs, err)
			continue
		}
		purged++
	}
	return purged, errors.Join(errs...)
}

func (s *Service) purge(ctx context.Context, id string, retention time.Duration) error {
	unlock := s.lock(id)
	defer unlock()

	// Re-read under the lock; a stage may have touched the job meanwhile.
	j, err := s.store.Get(ctx, id)
	if errors.Is(err, job.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !j.UpdatedAt.Before(s.now().Add(-retention)) {
		return nil
	}
	s.logger.Info("purging expired job", slog.String("job_id", id), slog.Time("updated_at", j.UpdatedAt))
	return s.destroy(ctx, j)
}

func (s *Service) destroy(ctx context.Context, j *job.Job) error {
	s.releaseAll(j.Artifacts()...)
	if err := s.store.Delete(context.WithoutCancel(ctx), j.ID); err != nil {
		return fmt.Errorf("delete job %s: %w", j.ID, err)
	}
	s.logger.Info("job cleaned up", slog.String("job_id", j.ID))
	return nil
}

// stageFunc performs a stage on a locked job and fills in the result
type stageFunc func(j *job.Job, res *Result) error

// execute runs fn under the job's lock and persists the outcome. Failures of
// the work itself mark the job failed; caller errors leave it untouched.
// A job created by this call is only stored once fn succeeds.
func (s *Service) execute(ctx context.Context, stage, id string, create bool, fn stageFunc) (*Result, error) {
	defer s.track()()
	unlock := s.lock(id)
	defer unlock()

	var (
		j   *job.Job
		err error
	)
	if create {
		j = job.New(id, s.now())
	} else if j, err = s.load(ctx, id); err != nil {
		return nil, err
	}

	started := time.Now()
	res := &Result{}
	persistCtx := context.WithoutCancel(ctx)

	if err := fn(j, res); err != nil {
		if create || job.IsCallerError(err) {
			return nil, err
		}
		j.Fail(err, s.now())
		if saveErr := s.store.Save(persistCtx, j); saveErr != nil {
			s.logger.Error("failed to persist job failure", slog.String("job_id", j.ID), slog.Any("error", saveErr))
		}
		s.logger.Warn("stage failed",
			slog.String("job_id", j.ID),
			slog.String("stage", stage),
			slog.String("kind", job.Classify(err)),
			slog.Any("error", err))
		return nil, err
	}

	if err := s.store.Save(persistCtx, j); err != nil {
		return nil, fmt.Errorf("save job %s: %w", j.ID, err)
	}

	res.JobID = j.ID
	res.Stage = j.Stage
	res.Elapsed = time.Since(started)
	s.logger.Info("stage complete",
		slog.String("job_id", j.ID),
		slog.String("stage", stage),
		slog.String("path", res.Artifact.Path),
		slog.Int64("size", res.Artifact.SizeBytes),
		slog.Duration("elapsed", res.Elapsed))
	return res, nil
}

// track counts a running stage until the returned func is called
func (s *Service) track() func() {
	s.activeMu.Lock()
	if s.active == 0 {
		s.idle = make(chan struct{})
	}
	s.active++
	s.activeMu.Unlock()

	return func() {
		s.activeMu.Lock()
		defer s.activeMu.Unlock()
		s.active--
		if s.active == 0 {
			close(s.idle)
			s.idle = nil
		}
	}
}

// Drain waits until no stage is running. It returns ctx's error if stages
// are still writing artifacts when ctx ends.
func (s *Service) Drain(ctx context.Context) error {
	s.activeMu.Lock()
	idle := s.idle
	s.activeMu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stages still running: %w", ctx.Err())
	}
}

func (s *Service) load(ctx context.Context, id string) (*job.Job, error) {
	if id == "" {
		return nil, job.Invalidf("job id is required")
	}
	j, err := s.store.Get(ctx, id)
	if errors.Is(err, job.ErrNotFound) {
		return nil, job.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return j, nil
}

// lock serializes stage calls for one job id
func (s *Service) lock(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &jobLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

// advance completes stage target. Re-running an earlier stage on a job that
// has progressed further keeps its progress.
func (s *Service) advance(j *job.Job, target job.Stage) {
	if j.Reached(target) {
		j.Advance(j.Progress(), s.now())
		return
	}
	j.Advance(target, s.now())
}

func (s *Service) releaseAll(arts ...job.Artifact) {
	for _, a := range arts {
		if err := s.artifacts.Release(a); err != nil {
			s.logger.Warn("failed to release artifact", slog.String("path", a.Path), slog.Any("error", err))
		}
	}
}

// discard removes an attempted output that never became an artifact
func (s *Service) discard(path string) {
	s.releaseAll(job.Artifact{Path: path})
}

func (s *Service) requireSource(j *job.Job) error {
	if j.Source == nil {
		return job.Preconditionf("job %s has no source artifact; retrieve a source first", j.ID)
	}
	if !s.files.Exists(j.Source.Path) {
		return job.Preconditionf("source artifact of job %s is no longer on disk", j.ID)
	}
	return nil
}

func (s *Service) requireWorking(j *job.Job) error {
	if !j.Reached(job.StageSegmentsRemoved) || j.Working == nil {
		return job.Preconditionf("job %s has no working artifact; remove segments first", j.ID)
	}
	if !s.files.Exists(j.Working.Path) {
		return job.Preconditionf("working artifact of job %s is no longer on disk", j.ID)
	}
	return nil
}

// probe returns stream metadata, or ok=false when the file cannot be probed
func (s *Service) probe(ctx context.Context, path string) (media.StreamInfo, bool) {
	info, err := s.prober.Probe(ctx, path)
	if err != nil {
		s.logger.Warn("probe failed", slog.String("path", path), slog.Any("error", err))
		return media.StreamInfo{}, false
	}
	return info, true
}
