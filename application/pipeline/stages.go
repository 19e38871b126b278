package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"media-pipeline/domain/job"
	"media-pipeline/domain/media"
	"media-pipeline/domain/retrieval"
)

// RetrieveInput names the source of a new or existing job
type RetrieveInput struct {
	JobID  string // empty creates a new job
	Source string // Drive link or id, http(s) URL, or local path when allowed
}

// IngestInput carries an uploaded source
type IngestInput struct {
	JobID    string // empty creates a new job
	Filename string
	Body     io.Reader
}

// SegmentsInput selects what the segment removal stage does with the source.
// With neither a graph nor segments the source is copied unchanged.
type SegmentsInput struct {
	JobID    string
	Graph    *media.FilterGraph
	Segments []media.Segment
}

// Retrieve materializes a source for the job (Created -> Retrieved).
// Re-entry replaces the source and releases everything derived from the old one.
func (s *Service) Retrieve(ctx context.Context, in RetrieveInput) (*Result, error) {
	ref, err := retrieval.ParseSourceRef(in.Source, s.allowLocal)
	if err != nil {
		return nil, err
	}

	id, create := s.target(in.JobID)
	return s.execute(ctx, "retrieve", id, create, func(j *job.Job, res *Result) error {
		art, err := s.retriever.Retrieve(ctx, ref, retrieval.Options{Kind: job.KindVideo, Normalize: s.normalize})
		if err != nil {
			return err
		}
		s.establishSource(j, art)
		res.Artifact = art
		return nil
	})
}

// Ingest stores uploaded bytes as the job's source (Created -> Retrieved)
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*Result, error) {
	if in.Body == nil {
		return nil, job.Invalidf("upload body is required")
	}
	ext := strings.ToLower(filepath.Ext(in.Filename))
	if ext == "" {
		ext = job.KindVideo.Extension()
	}

	id, create := s.target(in.JobID)
	return s.execute(ctx, "ingest", id, create, func(j *job.Job, res *Result) error {
		path := s.artifacts.NewPath(job.KindVideo, ext)
		if err := writeBody(path, in.Body); err != nil {
			s.discard(path)
			return err
		}
		art, err := s.artifacts.Register(ctx, path, job.KindVideo)
		if err != nil {
			s.discard(path)
			return &job.ValidationError{Message: "uploaded file is empty", Suggestion: "attach the video as the 'video' form field"}
		}
		s.establishSource(j, art)
		res.Artifact = art
		return nil
	})
}

// ExtractAudio writes a mono 16kHz PCM track of the source into the job's
// audio slot (Retrieved -> AudioExtracted). The working and final slots are
// not touched.
func (s *Service) ExtractAudio(ctx context.Context, jobID string) (*Result, error) {
	return s.execute(ctx, "extract_audio", jobID, false, func(j *job.Job, res *Result) error {
		if err := s.requireSource(j); err != nil {
			return err
		}

		out := s.artifacts.NewPath(job.KindAudio, ".wav")
		art, err := s.transcoder.Invoke(ctx, media.ExtractAudioOperation(j.Source.Path, out))
		if err != nil {
			s.discard(out)
			return fmt.Errorf("extract audio: %w", err)
		}

		s.releaseAll(j.Replace(job.SlotAudio, &art)...)
		s.advance(j, job.StageAudioExtracted)
		res.Artifact = art
		return nil
	})
}

// RemoveSegments produces a new working artifact from the source
// (Retrieved|AudioExtracted -> SegmentsRemoved)
func (s *Service) RemoveSegments(ctx context.Context, in SegmentsInput) (*Result, error) {
	if in.Graph != nil && len(in.Segments) > 0 {
		return nil, job.Invalidf("supply either a filter graph or segments, not both")
	}
	if in.Graph != nil {
		if err := in.Graph.Validate(); err != nil {
			return nil, err
		}
	}

	return s.execute(ctx, "remove_segments", in.JobID, false, func(j *job.Job, res *Result) error {
		if err := s.requireSource(j); err != nil {
			return err
		}

		out := s.artifacts.NewPath(job.KindVideo, ".mp4")
		var op media.Operation
		switch {
		case in.Graph != nil:
			op = media.GraphOperation(j.Source.Path, out, in.Graph)
		case len(in.Segments) > 0:
			hasAudio := true
			if info, ok := s.probe(ctx, j.Source.Path); ok {
				hasAudio = info.HasAudio()
			}
			graph, err := media.SegmentsGraph(in.Segments, hasAudio)
			if err != nil {
				return err
			}
			op = media.GraphOperation(j.Source.Path, out, graph)
		default:
			op = media.CopyOperation(j.Source.Path, out)
		}

		art, err := s.transcoder.Invoke(ctx, op)
		if err != nil {
			s.discard(out)
			return fmt.Errorf("remove segments: %w", err)
		}

		// A final composited from the previous working video is stale.
		released := j.Replace(job.SlotWorking, &art)
		released = append(released, j.Replace(job.SlotFinal, nil)...)
		s.releaseAll(released...)
		j.Advance(job.StageSegmentsRemoved, s.now())
		res.Artifact = art
		return nil
	})
}

// target returns the job id a source-establishing call works on
func (s *Service) target(jobID string) (string, bool) {
	if jobID == "" {
		return s.newID(), true
	}
	return jobID, false
}

// establishSource installs a new source. Artifacts derived from a previous
// source no longer describe it and are released.
func (s *Service) establishSource(j *job.Job, art job.Artifact) {
	released := j.Replace(job.SlotSource, &art)
	for _, slot := range []job.Slot{job.SlotAudio, job.SlotWorking, job.SlotFinal} {
		released = append(released, j.Replace(slot, nil)...)
	}
	s.releaseAll(released...)
	j.Advance(job.StageRetrieved, s.now())
}

func writeBody(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
