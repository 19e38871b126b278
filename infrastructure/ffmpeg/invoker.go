package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"media-pipeline/domain/job"
	"media-pipeline/domain/media"
)

const (
	// DefaultTimeout applies to operations that do not set their own
	DefaultTimeout = 10 * time.Minute

	maxDiagnosticBytes = 64 << 10
)

// Invoker implements media.Transcoder using ffmpeg
type Invoker struct {
	ffmpegPath string
	runner     CommandRunner
	timeout    time.Duration
	logger     *slog.Logger
	stat       func(name string) (os.FileInfo, error)
	remove     func(name string) error
}

// InvokerOption is a functional option for configuring Invoker
type InvokerOption func(*Invoker)

// WithFFmpegPath sets a custom ffmpeg executable path
func WithFFmpegPath(path string) InvokerOption {
	return func(i *Invoker) {
		i.ffmpegPath = path
	}
}

// WithCommandRunner sets a custom command runner (for testing)
func WithCommandRunner(runner CommandRunner) InvokerOption {
	return func(i *Invoker) {
		i.runner = runner
	}
}

// WithDefaultTimeout sets the timeout for operations that do not carry one
func WithDefaultTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithLogger sets the logger used for invocation records
func WithLogger(logger *slog.Logger) InvokerOption {
	return func(i *Invoker) {
		i.logger = logger
	}
}

// NewInvoker creates a new FFmpeg-based transcoder
func NewInvoker(opts ...InvokerOption) *Invoker {
	i := &Invoker{
		ffmpegPath: "ffmpeg",
		runner:     &ExecCommandRunner{},
		timeout:    DefaultTimeout,
		logger:     slog.New(slog.DiscardHandler),
		stat:       os.Stat,
		remove:     os.Remove,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Invoke implements media.Transcoder.
// A caller cancelling ctx does not stop a running transcode; only the
// operation timeout kills the process.
func (i *Invoker) Invoke(ctx context.Context, op media.Operation) (job.Artifact, error) {
	if err := op.Validate(); err != nil {
		return job.Artifact{}, err
	}

	timeout := op.Timeout
	if timeout <= 0 {
		timeout = i.timeout
	}
	args := BuildArgs(op)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	diag := newTailBuffer(maxDiagnosticBytes)
	started := time.Now()
	runErr := i.runner.Run(runCtx, i.ffmpegPath, args, diag)
	elapsed := time.Since(started)

	if runErr != nil {
		i.discard(op.Output)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			i.logger.Warn("transcode timed out",
				slog.String("output", op.Output),
				slog.Duration("timeout", timeout))
			return job.Artifact{}, &job.TimeoutError{Timeout: timeout}
		}

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		diagnostic := strings.TrimSpace(diag.String())
		if diagnostic == "" {
			diagnostic = runErr.Error()
		}
		i.logger.Warn("transcode failed",
			slog.String("output", op.Output),
			slog.Int("exit_code", exitCode),
			slog.Duration("elapsed", elapsed))
		return job.Artifact{}, &job.TranscodeError{ExitCode: exitCode, Diagnostic: diagnostic}
	}

	info, err := i.stat(op.Output)
	if err != nil || info.Size() == 0 {
		i.discard(op.Output)
		return job.Artifact{}, &job.TranscodeError{ExitCode: 0, Diagnostic: "output not produced"}
	}

	i.logger.Debug("transcode complete",
		slog.String("output", op.Output),
		slog.Int64("size", info.Size()),
		slog.Duration("elapsed", elapsed))

	kind := op.Kind
	if kind == "" {
		kind = job.KindVideo
	}
	return job.Artifact{
		Path:      op.Output,
		Kind:      kind,
		SizeBytes: info.Size(),
		CreatedAt: info.ModTime(),
	}, nil
}

// VerifyInstalled checks that ffmpeg is available
func (i *Invoker) VerifyInstalled(ctx context.Context) error {
	_, err := i.runner.Output(ctx, i.ffmpegPath, "-version")
	if err != nil {
		return fmt.Errorf("ffmpeg not found or not executable: %w", err)
	}
	return nil
}

func (i *Invoker) discard(path string) {
	if err := i.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		i.logger.Warn("failed to remove partial output", slog.String("path", path), slog.Any("error", err))
	}
}

// BuildArgs constructs the ffmpeg argument vector for an operation
func BuildArgs(op media.Operation) []string {
	args := make([]string, 0, 32)
	args = append(args, "-hide_banner", "-nostdin", "-nostats", "-loglevel", "error", "-y")

	for _, in := range op.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}

	if op.Graph != nil {
		args = append(args, "-filter_complex", op.Graph.Expr)
		for _, pad := range op.Graph.Outputs {
			args = append(args, "-map", pad.MapArg())
		}
	} else {
		if op.VideoFilter != "" {
			args = append(args, "-vf", op.VideoFilter)
		}
		if op.AudioFilter != "" {
			args = append(args, "-af", op.AudioFilter)
		}
	}

	for _, m := range op.Maps {
		args = append(args, "-map", m)
	}

	args = append(args, op.OutputArgs...)
	args = append(args, op.Output)
	return args
}

// Ensure Invoker implements media.Transcoder
var _ media.Transcoder = (*Invoker)(nil)
