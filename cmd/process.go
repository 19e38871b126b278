package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"media-pipeline/application/pipeline"
	"media-pipeline/domain/job"
	"media-pipeline/domain/media"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	processSource            string
	processCuts              []string
	processSubtitlesFile     string
	processMusic             string
	processThumbnail         string
	processThumbnailDuration time.Duration
	processSkipAudio         bool
	processOutput            string
	processAudioOutput       string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one source through the complete pipeline",
	Long: `Run one source through every pipeline stage:
1. Retrieve the source (Drive link or id, URL, or local file)
2. Extract the audio track (skip with --skip-audio)
3. Remove the segments given with --cut (or copy the source unchanged)
4. Composite music, subtitles and a thumbnail intro
5. Copy the final video to --output

Example:
  media-pipeline process \
    --source https://drive.google.com/file/d/<id>/view \
    --cut 00:00:00-00:00:04.5 --cut 00:10:00-00:10:30 \
    --subtitles captions.srt \
    --music https://example.com/bed.mp3 \
    --thumbnail cover.png --thumbnail-duration 300ms \
    --output final.mp4`,
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().StringVar(&processSource, "source", "", "Source video reference (required)")
	processCmd.Flags().StringArrayVar(&processCuts, "cut", nil, "Segment to remove as START-END (can be repeated)")
	processCmd.Flags().StringVar(&processSubtitlesFile, "subtitles", "", "SRT file to burn in")
	processCmd.Flags().StringVar(&processMusic, "music", "", "Background music reference")
	processCmd.Flags().StringVar(&processThumbnail, "thumbnail", "", "Thumbnail image reference")
	processCmd.Flags().DurationVar(&processThumbnailDuration, "thumbnail-duration", 300*time.Millisecond, "How long the thumbnail is held")
	processCmd.Flags().BoolVar(&processSkipAudio, "skip-audio", false, "Skip audio extraction")
	processCmd.Flags().StringVar(&processOutput, "output", "final.mp4", "Where to write the final video")
	processCmd.Flags().StringVar(&processAudioOutput, "audio-output", "", "Where to write the extracted audio")

	processCmd.MarkFlagRequired("source")
}

func runProcess(cmd *cobra.Command, args []string) error {
	c, err := GetConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(c, os.Stderr)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, c, logger, appOptions{allowLocal: true, memoryOnly: true})
	if err != nil {
		return err
	}
	defer a.Close()

	input := ProcessInput{
		Source:            processSource,
		Cuts:              processCuts,
		SubtitlesFile:     processSubtitlesFile,
		Music:             processMusic,
		Thumbnail:         processThumbnail,
		ThumbnailDuration: processThumbnailDuration,
		SkipAudio:         processSkipAudio,
		Output:            processOutput,
		AudioOutput:       processAudioOutput,
	}
	return RunProcessWithDependencies(ctx, a.pipeline, input, os.Stdout)
}

// OutputWriter allows capturing output in tests
type OutputWriter interface {
	Write(p []byte) (n int, err error)
}

// ProcessPipeline is the part of the sequencer the process command drives
type ProcessPipeline interface {
	Retrieve(ctx context.Context, in pipeline.RetrieveInput) (*pipeline.Result, error)
	ExtractAudio(ctx context.Context, jobID string) (*pipeline.Result, error)
	RemoveSegments(ctx context.Context, in pipeline.SegmentsInput) (*pipeline.Result, error)
	Composite(ctx context.Context, in pipeline.CompositeInput) (*pipeline.Result, error)
	Job(ctx context.Context, id string) (*job.Job, error)
	Cleanup(ctx context.Context, id string) error
}

// ProcessInput contains the input parameters for process command
type ProcessInput struct {
	Source            string
	Cuts              []string
	SubtitlesFile     string
	Music             string
	Thumbnail         string
	ThumbnailDuration time.Duration
	SkipAudio         bool
	Output            string
	AudioOutput       string
}

// RunProcessWithDependencies runs the whole pipeline for one source and
// releases the job's artifacts afterwards
func RunProcessWithDependencies(ctx context.Context, p ProcessPipeline, in ProcessInput, out OutputWriter) error {
	// Validate everything before downloading anything.
	segments, err := parseCuts(in.Cuts)
	if err != nil {
		return err
	}
	composite := pipeline.CompositeInput{Music: in.Music}
	if in.SubtitlesFile != "" {
		data, err := os.ReadFile(in.SubtitlesFile)
		if err != nil {
			return fmt.Errorf("failed to read subtitles: %w", err)
		}
		text := string(data)
		composite.Subtitles = &text
	}
	if in.Thumbnail != "" {
		composite.Thumbnail = &pipeline.ThumbnailInput{Image: in.Thumbnail, Duration: in.ThumbnailDuration}
	}
	if err := composite.Validate(); err != nil {
		return err
	}

	fmt.Fprintf(out, "Retrieving %s...\n", in.Source)
	res, err := p.Retrieve(ctx, pipeline.RetrieveInput{Source: in.Source})
	if err != nil {
		return err
	}
	jobID := res.JobID
	defer func() {
		if err := p.Cleanup(context.WithoutCancel(ctx), jobID); err != nil {
			fmt.Fprintf(out, "Warning: failed to clean up job %s: %v\n", jobID, err)
		}
	}()
	printStage(out, "Retrieved", res)

	if !in.SkipAudio {
		fmt.Fprintln(out, "Extracting audio...")
		res, err := p.ExtractAudio(ctx, jobID)
		if err != nil {
			return err
		}
		printStage(out, "Extracted audio", res)
		if in.AudioOutput != "" {
			if err := copyFile(res.Artifact.Path, in.AudioOutput); err != nil {
				return err
			}
			fmt.Fprintf(out, "Audio written to %s\n", in.AudioOutput)
		}
	}

	if len(segments) > 0 {
		fmt.Fprintf(out, "Removing %d segment(s)...\n", len(segments))
	} else {
		fmt.Fprintln(out, "No segments to remove; copying source...")
	}
	res, err = p.RemoveSegments(ctx, pipeline.SegmentsInput{JobID: jobID, Segments: segments})
	if err != nil {
		return err
	}
	printStage(out, "Working video ready", res)

	fmt.Fprintln(out, "Compositing...")
	composite.JobID = jobID
	if composite.Thumbnail != nil {
		composite.Thumbnail.JobID = jobID
	}
	res, err = p.Composite(ctx, composite)
	if err != nil {
		return err
	}
	printStage(out, "Composited", res)
	fmt.Fprintf(out, "  music: %t, subtitles: %t, thumbnail: %t\n", res.HasMusic, res.HasSubtitles, res.HasThumbnail)

	j, err := p.Job(ctx, jobID)
	if err != nil {
		return err
	}
	final := j.FinalArtifact()
	if final == nil {
		return fmt.Errorf("job %s finished in stage %s without a final video", jobID, j.Stage)
	}
	if err := copyFile(final.Path, in.Output); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Final video written to %s (%s)\n", in.Output, humanize.Bytes(uint64(final.SizeBytes)))
	return nil
}

// parseCuts turns START-END flags into segments
func parseCuts(cuts []string) ([]media.Segment, error) {
	segments := make([]media.Segment, 0, len(cuts))
	for _, c := range cuts {
		start, end, ok := strings.Cut(c, "-")
		if !ok {
			return nil, &job.ValidationError{Message: fmt.Sprintf("invalid cut %q", c), Suggestion: "use START-END, e.g. 00:01:00-00:01:30"}
		}
		seg, err := media.NewSegment(start, end)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func printStage(out OutputWriter, label string, res *pipeline.Result) {
	fmt.Fprintf(out, "  %s: %s in %s\n", label, humanize.Bytes(uint64(res.Artifact.SizeBytes)), res.Elapsed.Round(time.Millisecond))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return out.Close()
}
