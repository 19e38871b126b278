package ffmpeg

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"media-pipeline/domain/job"
	"media-pipeline/domain/media"
)

// mockRunner records calls and simulates ffmpeg behavior
type mockRunner struct {
	calls  [][]string
	run    func(ctx context.Context, args []string, stderr io.Writer) error
	output []byte
}

func (m *mockRunner) Run(ctx context.Context, name string, args []string, stderr io.Writer) error {
	m.calls = append(m.calls, append([]string{name}, args...))
	if m.run != nil {
		return m.run(ctx, args, stderr)
	}
	return nil
}

func (m *mockRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	return m.output, nil
}

// writeOutput simulates ffmpeg producing its last argument
func writeOutput(content string) func(context.Context, []string, io.Writer) error {
	return func(_ context.Context, args []string, _ io.Writer) error {
		return os.WriteFile(args[len(args)-1], []byte(content), 0o644)
	}
}

func TestBuildArgs_SimpleFilter(t *testing.T) {
	op := media.Operation{
		Inputs:      []media.Input{{Path: "in.mp4"}},
		VideoFilter: "scale=640:-2",
		Maps:        []string{"0:v:0"},
		OutputArgs:  []string{"-c:v", "libx264"},
		Output:      "out.mp4",
	}

	got := strings.Join(BuildArgs(op), " ")
	want := "-hide_banner -nostdin -nostats -loglevel error -y -i in.mp4 -vf scale=640:-2 -map 0:v:0 -c:v libx264 out.mp4"
	if got != want {
		t.Errorf("BuildArgs() =\n  %s\nwant\n  %s", got, want)
	}
}

func TestBuildArgs_GraphMapsEveryPad(t *testing.T) {
	op := media.Operation{
		Inputs: []media.Input{
			{Path: "still.png", Options: []string{"-loop", "1"}},
			{Path: "main.mp4"},
		},
		Graph: &media.FilterGraph{
			Expr: "[0:v][1:v]concat=n=2:v=1:a=0[outv]",
			Outputs: []media.Pad{
				{Label: "outv", Stream: media.StreamVideo},
			},
		},
		Maps:   []string{"1:a?"},
		Output: "out.mp4",
	}

	args := BuildArgs(op)
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-loop 1 -i still.png -i main.mp4",
		"-filter_complex [0:v][1:v]concat=n=2:v=1:a=0[outv]",
		"-map [outv] -map 1:a?",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected args to contain %q, got %q", want, joined)
		}
	}
	if args[len(args)-1] != "out.mp4" {
		t.Errorf("expected output path last, got %q", args[len(args)-1])
	}
}

func TestInvoke_Success(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.mp4")
	runner := &mockRunner{run: writeOutput("video-bytes")}
	inv := NewInvoker(WithCommandRunner(runner), WithFFmpegPath("/usr/bin/ffmpeg"))

	art, err := inv.Invoke(context.Background(), media.CopyOperation("in.mp4", output))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if art.Path != output || art.SizeBytes != int64(len("video-bytes")) {
		t.Errorf("unexpected artifact: %+v", art)
	}
	if art.Kind != job.KindVideo {
		t.Errorf("expected video kind, got %s", art.Kind)
	}
	if len(runner.calls) != 1 || runner.calls[0][0] != "/usr/bin/ffmpeg" {
		t.Errorf("expected one ffmpeg call, got %v", runner.calls)
	}
}

func TestInvoke_ZeroExitWithoutOutput(t *testing.T) {
	output := filepath.Join(t.TempDir(), "missing.mp4")
	inv := NewInvoker(WithCommandRunner(&mockRunner{}))

	_, err := inv.Invoke(context.Background(), media.CopyOperation("in.mp4", output))

	var transcodeErr *job.TranscodeError
	if !errors.As(err, &transcodeErr) {
		t.Fatalf("expected TranscodeError, got %v", err)
	}
	if transcodeErr.Diagnostic != "output not produced" {
		t.Errorf("unexpected diagnostic: %q", transcodeErr.Diagnostic)
	}
}

func TestInvoke_EmptyOutputIsRemoved(t *testing.T) {
	output := filepath.Join(t.TempDir(), "empty.mp4")
	inv := NewInvoker(WithCommandRunner(&mockRunner{run: writeOutput("")}))

	_, err := inv.Invoke(context.Background(), media.CopyOperation("in.mp4", output))
	if err == nil {
		t.Fatal("expected error for empty output")
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Errorf("expected empty output to be deleted, stat err = %v", statErr)
	}
}

func TestInvoke_FailureCarriesDiagnostic(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.mp4")
	runner := &mockRunner{run: func(_ context.Context, args []string, stderr io.Writer) error {
		_ = os.WriteFile(args[len(args)-1], []byte("partial"), 0o644)
		io.WriteString(stderr, "in.mp4: Invalid data found when processing input\n")
		return errors.New("process failed")
	}}
	inv := NewInvoker(WithCommandRunner(runner))

	_, err := inv.Invoke(context.Background(), media.CopyOperation("in.mp4", output))

	var transcodeErr *job.TranscodeError
	if !errors.As(err, &transcodeErr) {
		t.Fatalf("expected TranscodeError, got %v", err)
	}
	if !strings.Contains(transcodeErr.Diagnostic, "Invalid data found") {
		t.Errorf("expected diagnostic text, got %q", transcodeErr.Diagnostic)
	}
	if transcodeErr.ExitCode != -1 {
		t.Errorf("expected exit code -1 for non-exit error, got %d", transcodeErr.ExitCode)
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Error("expected partial output to be deleted")
	}
}

func TestInvoke_NonZeroExitCode(t *testing.T) {
	if _, err := os.Stat("/bin/false"); err != nil {
		t.Skip("/bin/false not available")
	}
	output := filepath.Join(t.TempDir(), "out.mp4")
	inv := NewInvoker(WithFFmpegPath("/bin/false"))

	_, err := inv.Invoke(context.Background(), media.CopyOperation("in.mp4", output))

	var transcodeErr *job.TranscodeError
	if !errors.As(err, &transcodeErr) {
		t.Fatalf("expected TranscodeError, got %v", err)
	}
	if transcodeErr.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", transcodeErr.ExitCode)
	}
}

func TestInvoke_TimeoutKillsHungProcess(t *testing.T) {
	runner := &mockRunner{run: func(ctx context.Context, _ []string, _ io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	inv := NewInvoker(WithCommandRunner(runner))
	op := media.CopyOperation("in.mp4", filepath.Join(t.TempDir(), "out.mp4"))
	op.Timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := inv.Invoke(context.Background(), op)
	elapsed := time.Since(start)

	var timeoutErr *job.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Timeout != op.Timeout {
		t.Errorf("expected timeout %s, got %s", op.Timeout, timeoutErr.Timeout)
	}
	if elapsed < op.Timeout || elapsed > 2*time.Second {
		t.Errorf("expected termination at the timeout, took %s", elapsed)
	}
}

func TestInvoke_CallerCancellationDoesNotKill(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.mp4")
	runner := &mockRunner{run: func(ctx context.Context, args []string, _ io.Writer) error {
		time.Sleep(20 * time.Millisecond)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return os.WriteFile(args[len(args)-1], []byte("done"), 0o644)
	}}
	inv := NewInvoker(WithCommandRunner(runner))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := inv.Invoke(ctx, media.CopyOperation("in.mp4", output)); err != nil {
		t.Fatalf("expected transcode to finish despite cancelled caller, got %v", err)
	}
}

func TestInvoke_InvalidGraphIsCallerError(t *testing.T) {
	runner := &mockRunner{}
	inv := NewInvoker(WithCommandRunner(runner))
	op := media.Operation{
		Inputs: []media.Input{{Path: "in.mp4"}},
		Graph: &media.FilterGraph{
			Expr:    "[0:v]hflip[flipped]",
			Outputs: []media.Pad{{Label: "outv", Stream: media.StreamVideo}},
		},
		Output: "out.mp4",
	}

	_, err := inv.Invoke(context.Background(), op)

	var validationErr *job.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Error("expected ffmpeg not to run for an invalid graph")
	}
}

func TestExecCommandRunner_KillsOnDeadline(t *testing.T) {
	if _, err := os.Stat("/bin/sleep"); err != nil {
		t.Skip("/bin/sleep not available")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := (&ExecCommandRunner{}).Run(ctx, "/bin/sleep", []string{"10"}, io.Discard)
	if err == nil {
		t.Fatal("expected error from killed process")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("process was not killed promptly: %s", elapsed)
	}
}

func TestVerifyInstalled(t *testing.T) {
	runner := &mockRunner{output: []byte("ffmpeg version 6.1")}
	inv := NewInvoker(WithCommandRunner(runner))

	if err := inv.VerifyInstalled(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := strings.Join(runner.calls[0], " "); got != "ffmpeg -version" {
		t.Errorf("unexpected command: %s", got)
	}
}

func TestTailBuffer_KeepsLastBytes(t *testing.T) {
	b := newTailBuffer(8)
	b.Write([]byte("0123456789"))
	b.Write([]byte("ab"))
	if got := b.String(); got != "456789ab" {
		t.Errorf("expected tail %q, got %q", "456789ab", got)
	}
}
