package cmd

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"media-pipeline/application/lifecycle"
	"media-pipeline/application/pipeline"
	"media-pipeline/domain/job"
	"media-pipeline/infrastructure/config"
)

type mockProcessPipeline struct {
	dir        string
	calls      []string
	failStage  string
	segments   pipeline.SegmentsInput
	composite  pipeline.CompositeInput
	finalStage job.Stage
	cleanedUp  string
}

func (m *mockProcessPipeline) artifact(t job.Kind, name, content string) job.Artifact {
	path := filepath.Join(m.dir, name)
	os.WriteFile(path, []byte(content), 0644)
	return job.Artifact{Path: path, Kind: t, SizeBytes: int64(len(content))}
}

func (m *mockProcessPipeline) result(stage string, s job.Stage, art job.Artifact) (*pipeline.Result, error) {
	m.calls = append(m.calls, stage)
	if m.failStage == stage {
		return nil, &job.TranscodeError{ExitCode: 1, Diagnostic: "invalid data found when processing input"}
	}
	return &pipeline.Result{JobID: "job-1", Stage: s, Artifact: art, Elapsed: 1500 * time.Millisecond}, nil
}

func (m *mockProcessPipeline) Retrieve(ctx context.Context, in pipeline.RetrieveInput) (*pipeline.Result, error) {
	return m.result("retrieve", job.StageRetrieved, m.artifact(job.KindVideo, "source.mp4", "source"))
}

func (m *mockProcessPipeline) ExtractAudio(ctx context.Context, jobID string) (*pipeline.Result, error) {
	return m.result("audio", job.StageAudioExtracted, m.artifact(job.KindAudio, "audio.wav", "audio"))
}

func (m *mockProcessPipeline) RemoveSegments(ctx context.Context, in pipeline.SegmentsInput) (*pipeline.Result, error) {
	m.segments = in
	return m.result("segments", job.StageSegmentsRemoved, m.artifact(job.KindVideo, "working.mp4", "working"))
}

func (m *mockProcessPipeline) Composite(ctx context.Context, in pipeline.CompositeInput) (*pipeline.Result, error) {
	m.composite = in
	res, err := m.result("composite", job.StageComposited, m.artifact(job.KindVideo, "final.mp4", "final video"))
	if res != nil {
		res.HasSubtitles = in.Subtitles != nil
	}
	return res, err
}

func (m *mockProcessPipeline) Job(ctx context.Context, id string) (*job.Job, error) {
	stage := m.finalStage
	if stage == "" {
		stage = job.StageComposited
	}
	final := m.artifact(job.KindVideo, "final.mp4", "final video")
	return &job.Job{ID: id, Stage: stage, Final: &final}, nil
}

func (m *mockProcessPipeline) Cleanup(ctx context.Context, id string) error {
	m.cleanedUp = id
	return nil
}

func TestRunProcessWithDependencies(t *testing.T) {
	dir := t.TempDir()
	subtitles := filepath.Join(dir, "captions.srt")
	if err := os.WriteFile(subtitles, []byte("1\n00:00:00,000 --> 00:00:01,000\nHello\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m := &mockProcessPipeline{dir: dir}
	var out bytes.Buffer
	in := ProcessInput{
		Source:        "https://drive.google.com/file/d/abc/view",
		Cuts:          []string{"00:00:00-00:00:04.5", "00:10:00-00:10:30"},
		SubtitlesFile: subtitles,
		Output:        filepath.Join(dir, "out.mp4"),
		AudioOutput:   filepath.Join(dir, "out.wav"),
	}

	if err := RunProcessWithDependencies(context.Background(), m, in, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := strings.Join(m.calls, ","); got != "retrieve,audio,segments,composite" {
		t.Errorf("expected stages in order, got %s", got)
	}
	if len(m.segments.Segments) != 2 || m.segments.JobID != "job-1" {
		t.Errorf("unexpected segments input: %+v", m.segments)
	}
	if m.composite.JobID != "job-1" || m.composite.Subtitles == nil {
		t.Errorf("unexpected composite input: %+v", m.composite)
	}
	if m.cleanedUp != "job-1" {
		t.Errorf("expected job to be cleaned up, got %q", m.cleanedUp)
	}

	data, err := os.ReadFile(in.Output)
	if err != nil || string(data) != "final video" {
		t.Errorf("expected final video copied to output, got %q (%v)", data, err)
	}
	if data, _ := os.ReadFile(in.AudioOutput); string(data) != "audio" {
		t.Errorf("expected audio copied, got %q", data)
	}
	if !strings.Contains(out.String(), "subtitles: true") {
		t.Errorf("expected composite summary in output:\n%s", out.String())
	}
}

func TestRunProcessWithDependencies_SkipAudioAndThumbnail(t *testing.T) {
	dir := t.TempDir()
	m := &mockProcessPipeline{dir: dir}
	in := ProcessInput{
		Source:            "clip",
		SkipAudio:         true,
		Thumbnail:         "cover.png",
		ThumbnailDuration: 300 * time.Millisecond,
		Output:            filepath.Join(dir, "out.mp4"),
	}

	if err := RunProcessWithDependencies(context.Background(), m, in, &bytes.Buffer{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(m.calls, ","); got != "retrieve,segments,composite" {
		t.Errorf("expected audio stage skipped, got %s", got)
	}
	if m.composite.Thumbnail == nil || m.composite.Thumbnail.JobID != "job-1" {
		t.Errorf("expected thumbnail bound to job, got %+v", m.composite.Thumbnail)
	}
}

func TestRunProcessWithDependencies_ValidatesBeforeRetrieving(t *testing.T) {
	tests := []struct {
		name string
		in   ProcessInput
	}{
		{name: "cut without separator", in: ProcessInput{Source: "x", Cuts: []string{"00:00:10"}}},
		{name: "cut end before start", in: ProcessInput{Source: "x", Cuts: []string{"00:00:10-00:00:05"}}},
		{name: "thumbnail too long", in: ProcessInput{Source: "x", Thumbnail: "a.png", ThumbnailDuration: time.Minute}},
		{name: "missing subtitles file", in: ProcessInput{Source: "x", SubtitlesFile: "/nonexistent/captions.srt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockProcessPipeline{dir: t.TempDir()}
			if err := RunProcessWithDependencies(context.Background(), m, tt.in, &bytes.Buffer{}); err == nil {
				t.Fatal("expected error")
			}
			if len(m.calls) != 0 {
				t.Errorf("expected no stage calls, got %v", m.calls)
			}
		})
	}
}

func TestRunProcessWithDependencies_StageFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	m := &mockProcessPipeline{dir: dir, failStage: "segments"}
	in := ProcessInput{Source: "clip", Output: filepath.Join(dir, "out.mp4")}

	err := RunProcessWithDependencies(context.Background(), m, in, &bytes.Buffer{})
	var transcodeErr *job.TranscodeError
	if !errors.As(err, &transcodeErr) {
		t.Fatalf("expected transcode error, got %v", err)
	}
	if m.cleanedUp != "job-1" {
		t.Error("expected cleanup after failure")
	}
	if _, err := os.Stat(in.Output); !os.IsNotExist(err) {
		t.Error("expected no output file")
	}
}

type mockJobLister struct {
	jobs []*job.Job
}

func (m *mockJobLister) List(ctx context.Context) ([]*job.Job, error) {
	return m.jobs, nil
}

func TestRunJobsWithDependencies(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		var out bytes.Buffer
		if err := RunJobsWithDependencies(context.Background(), &mockJobLister{}, now, &out); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), "No jobs.") {
			t.Errorf("unexpected output: %q", out.String())
		}
	})

	t.Run("table", func(t *testing.T) {
		lister := &mockJobLister{jobs: []*job.Job{
			{
				ID:        "job-a",
				Stage:     job.StageComposited,
				Source:    &job.Artifact{SizeBytes: 2_000_000},
				Working:   &job.Artifact{SizeBytes: 1_500_000},
				Final:     &job.Artifact{SizeBytes: 1_600_000},
				UpdatedAt: now.Add(-5 * time.Minute),
			},
			{
				ID:        "job-b",
				Stage:     job.StageFailed,
				Source:    &job.Artifact{SizeBytes: 2_000},
				Failure:   "transcode failed",
				UpdatedAt: now.Add(-2 * time.Hour),
			},
		}}

		var out bytes.Buffer
		if err := RunJobsWithDependencies(context.Background(), lister, now, &out); err != nil {
			t.Fatal(err)
		}
		got := out.String()
		for _, want := range []string{"job-a", "composited", "2.0 MB", "1.6 MB", "5 minutes ago", "job-b", "failed", "transcode failed"} {
			if !strings.Contains(got, want) {
				t.Errorf("expected %q in output:\n%s", want, got)
			}
		}
	})
}

type mockSweeper struct {
	result    lifecycle.SweepResult
	retention time.Duration
}

func (m *mockSweeper) SweepExpired(ctx context.Context, retention time.Duration) (lifecycle.SweepResult, error) {
	m.retention = retention
	return m.result, nil
}

type mockPurger struct {
	purged int
	err    error
}

func (m *mockPurger) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	return m.purged, m.err
}

func TestRunSweepWithDependencies(t *testing.T) {
	t.Run("reports removals", func(t *testing.T) {
		sweeper := &mockSweeper{result: lifecycle.SweepResult{
			Removed: []string{"/tmp/a.mp4", "/tmp/b.wav"},
			Errors:  []lifecycle.SweepError{{Path: "/tmp/c.mp4", Error: errors.New("permission denied")}},
		}}
		var out bytes.Buffer
		err := RunSweepWithDependencies(context.Background(), sweeper, &mockPurger{purged: 1}, time.Hour, &out)
		if err != nil {
			t.Fatal(err)
		}
		if sweeper.retention != time.Hour {
			t.Errorf("expected retention passed through, got %s", sweeper.retention)
		}
		got := out.String()
		if !strings.Contains(got, "Removed 2 expired file(s) and 1 job(s)") {
			t.Errorf("unexpected output:\n%s", got)
		}
		if !strings.Contains(got, "failed to remove /tmp/c.mp4") {
			t.Errorf("expected removal error in output:\n%s", got)
		}
	})

	t.Run("skipped", func(t *testing.T) {
		var out bytes.Buffer
		sweeper := &mockSweeper{result: lifecycle.SweepResult{Skipped: true}}
		if err := RunSweepWithDependencies(context.Background(), sweeper, &mockPurger{}, time.Hour, &out); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(out.String(), "Another sweep is in progress") {
			t.Errorf("unexpected output: %q", out.String())
		}
	})

	t.Run("purge failure still sweeps files", func(t *testing.T) {
		var out bytes.Buffer
		sweeper := &mockSweeper{}
		err := RunSweepWithDependencies(context.Background(), sweeper, &mockPurger{err: errors.New("database is locked")}, time.Hour, &out)
		if err != nil {
			t.Fatal(err)
		}
		if sweeper.retention != time.Hour {
			t.Error("expected file sweep to run")
		}
		if !strings.Contains(out.String(), "Warning: database is locked") {
			t.Errorf("expected warning, got %q", out.String())
		}
	})
}

type mockDrainer struct {
	err error
}

func (m *mockDrainer) Drain(ctx context.Context) error {
	return m.err
}

type mockTempDir struct {
	removed bool
}

func (m *mockTempDir) Shutdown() error {
	m.removed = true
	return nil
}

func TestRemoveTempDir(t *testing.T) {
	t.Run("removes after stages finish", func(t *testing.T) {
		dir := &mockTempDir{}
		removeTempDir(&mockDrainer{}, dir, slog.New(slog.DiscardHandler), time.Second)
		if !dir.removed {
			t.Error("expected temp directory to be removed")
		}
	})

	t.Run("keeps directory while stages run", func(t *testing.T) {
		dir := &mockTempDir{}
		var logs bytes.Buffer
		stages := &mockDrainer{err: context.DeadlineExceeded}
		removeTempDir(stages, dir, slog.New(slog.NewTextHandler(&logs, nil)), time.Millisecond)
		if dir.removed {
			t.Error("temp directory removed while stages were still writing")
		}
		if !strings.Contains(logs.String(), "temp directory kept") {
			t.Errorf("expected warning in logs, got %q", logs.String())
		}
	})
}

func TestRunConfigCommands(t *testing.T) {
	cfg := config.Defaults()
	cfg.Google.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")

	var out bytes.Buffer
	if err := RunConfigShowWithDependencies(cfg, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "listen:") {
		t.Errorf("expected server listen in YAML:\n%s", out.String())
	}

	out.Reset()
	if err := RunConfigValidateWithDependencies(cfg, "config.yaml", &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Warning:") || !strings.Contains(out.String(), "config.yaml is valid") {
		t.Errorf("unexpected validate output:\n%s", out.String())
	}

	cfg.Paths.TempDirectory = ""
	if err := RunConfigValidateWithDependencies(cfg, "config.yaml", &bytes.Buffer{}); err == nil {
		t.Error("expected validation error")
	}
}

type scriptedPrompter struct {
	inputs   []string
	confirms []bool
}

func (p *scriptedPrompter) Input(message string, defaultValue string) (string, error) {
	if len(p.inputs) == 0 {
		return defaultValue, nil
	}
	v := p.inputs[0]
	p.inputs = p.inputs[1:]
	return v, nil
}

func (p *scriptedPrompter) Confirm(message string, defaultValue bool) (bool, error) {
	if len(p.confirms) == 0 {
		return defaultValue, nil
	}
	v := p.confirms[0]
	p.confirms = p.confirms[1:]
	return v, nil
}

func TestRunSetupWithPrompter(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config", "config.yaml")
	prompter := &scriptedPrompter{
		inputs:   []string{":9090", "1048576", "/srv/tmp", "/srv/jobs.db"},
		confirms: []bool{true},
	}

	if err := RunSetupWithPrompter(prompter, configPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen != ":9090" || cfg.Server.MaxUploadBytes != 1048576 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Paths.TempDirectory != "/srv/tmp" || cfg.Paths.Database != "/srv/jobs.db" {
		t.Errorf("unexpected paths: %+v", cfg.Paths)
	}
	if cfg.FFmpeg.FFmpegPath != "ffmpeg" || cfg.Google.CredentialsFile != "" {
		t.Errorf("expected defaults for unanswered prompts, got %+v %+v", cfg.FFmpeg, cfg.Google)
	}
}
