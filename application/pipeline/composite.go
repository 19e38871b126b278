package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"media-pipeline/domain/job"
	"media-pipeline/domain/media"
	"media-pipeline/domain/retrieval"
)

// MaxThumbnailDuration is the longest a thumbnail intro may be held
const MaxThumbnailDuration = 30 * time.Second

// ThumbnailInput prepends a still image held for Duration to the working video
type ThumbnailInput struct {
	JobID    string
	Image    string // Drive link or id, http(s) URL, or local path when allowed
	Duration time.Duration
}

// CompositeInput selects the layers of the terminal composite stage
type CompositeInput struct {
	JobID     string
	Subtitles *string // SRT text; nil for none, blank is rejected
	Music     string  // background music reference; empty for none
	Thumbnail *ThumbnailInput
}

// Validate checks the request fields before any work starts
func (in ThumbnailInput) Validate() error {
	if strings.TrimSpace(in.Image) == "" {
		return &job.ValidationError{Message: "thumbnail image is required", Suggestion: "pass an image link or id"}
	}
	if in.Duration <= 0 || in.Duration > MaxThumbnailDuration {
		return job.Invalidf("thumbnail duration must be greater than 0 and at most %s, got %s", MaxThumbnailDuration, in.Duration)
	}
	return nil
}

// Validate checks the request fields before any work starts
func (in CompositeInput) Validate() error {
	if in.Subtitles != nil && strings.TrimSpace(*in.Subtitles) == "" {
		return &job.ValidationError{Message: "subtitle text is empty", Suggestion: "omit subtitles or pass SRT text"}
	}
	if in.Thumbnail != nil {
		return in.Thumbnail.Validate()
	}
	return nil
}

// CompositeThumbnail prepends a still intro to the working video; the
// result becomes both the working and the final artifact
// (SegmentsRemoved -> Composited).
func (s *Service) CompositeThumbnail(ctx context.Context, in ThumbnailInput) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	image, err := retrieval.ParseSourceRef(in.Image, s.allowLocal)
	if err != nil {
		return nil, err
	}

	return s.execute(ctx, "composite_thumbnail", in.JobID, false, func(j *job.Job, res *Result) error {
		if err := s.requireWorking(j); err != nil {
			return err
		}
		intro, err := s.renderThumbnail(ctx, j.Working.Path, image, in.Duration)
		if err != nil {
			return err
		}
		s.installIntro(j, intro)
		j.Advance(job.StageComposited, s.now())
		res.Artifact = intro
		res.HasThumbnail = true
		return nil
	})
}

// Composite produces the final artifact from the working video, layering
// background music and burned-in subtitles. A requested thumbnail intro is
// rendered first and the layers go over it. With no layers at all the
// working video is copied (SegmentsRemoved -> Composited).
//
// The job's slots change only once every step has succeeded, so a failed
// composite leaves the previous working and final artifacts in place.
func (s *Service) Composite(ctx context.Context, in CompositeInput) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var music, image retrieval.SourceRef
	if in.Music != "" {
		ref, err := retrieval.ParseSourceRef(in.Music, s.allowLocal)
		if err != nil {
			return nil, err
		}
		music = ref
	}
	if in.Thumbnail != nil {
		ref, err := retrieval.ParseSourceRef(in.Thumbnail.Image, s.allowLocal)
		if err != nil {
			return nil, err
		}
		image = ref
	}

	return s.execute(ctx, "composite", in.JobID, false, func(j *job.Job, res *Result) error {
		if err := s.requireWorking(j); err != nil {
			return err
		}

		base := j.Working.Path
		var intro *job.Artifact
		installed := false
		defer func() {
			if intro != nil && !installed {
				s.releaseAll(*intro)
			}
		}()
		if in.Thumbnail != nil {
			art, err := s.renderThumbnail(ctx, base, image, in.Thumbnail.Duration)
			if err != nil {
				return err
			}
			intro = &art
			base = art.Path
			res.HasThumbnail = true
		}

		var auxiliaries []job.Artifact
		defer func() { s.releaseAll(auxiliaries...) }()

		opts := media.CompositeOptions{}
		if in.Subtitles != nil {
			sub, err := s.writeSubtitles(ctx, *in.Subtitles)
			if err != nil {
				return err
			}
			auxiliaries = append(auxiliaries, sub)
			opts.SubtitlePath = sub.Path
			res.HasSubtitles = true
		}
		if in.Music != "" {
			track, err := s.fetchAuxiliary(ctx, music, job.KindMusic)
			if err != nil {
				return err
			}
			auxiliaries = append(auxiliaries, track)
			opts.MusicPath = track.Path
			opts.SourceHasAudio = true
			if info, ok := s.probe(ctx, base); ok {
				opts.SourceHasAudio = info.HasAudio()
			}
			res.HasMusic = true
		}

		if intro != nil && !res.HasMusic && !res.HasSubtitles {
			// The intro output already is the final artifact.
			s.installIntro(j, *intro)
			installed = true
			j.Advance(job.StageComposited, s.now())
			res.Artifact = *intro
			return nil
		}

		out := s.artifacts.NewPath(job.KindVideo, ".mp4")
		art, err := s.transcoder.Invoke(ctx, media.CompositeOperation(base, out, opts))
		if err != nil {
			s.discard(out)
			return fmt.Errorf("composite: %w", err)
		}

		if intro != nil {
			s.releaseAll(j.Replace(job.SlotWorking, intro)...)
			installed = true
		}
		s.releaseAll(j.Replace(job.SlotFinal, &art)...)
		j.Advance(job.StageComposited, s.now())
		res.Artifact = art
		return nil
	})
}

// renderThumbnail renders a still intro ahead of mainVideo into a new
// artifact. The job's slots are left untouched.
func (s *Service) renderThumbnail(ctx context.Context, mainVideo string, image retrieval.SourceRef, hold time.Duration) (job.Artifact, error) {
	still, err := s.fetchAuxiliary(ctx, image, job.KindThumbnail)
	if err != nil {
		return job.Artifact{}, err
	}
	defer s.releaseAll(still)

	if _, _, err := s.stills.Inspect(still.Path); err != nil {
		return job.Artifact{}, err
	}

	geom := s.geometry
	hasAudio := true
	if info, ok := s.probe(ctx, mainVideo); ok {
		geom = info.GeometryOr(s.geometry)
		hasAudio = info.HasAudio()
	}

	out := s.artifacts.NewPath(job.KindVideo, ".mp4")
	op := media.ThumbnailOperation(still.Path, mainVideo, out, geom, hold.Seconds(), hasAudio)
	art, err := s.transcoder.Invoke(ctx, op)
	if err != nil {
		s.discard(out)
		return job.Artifact{}, fmt.Errorf("thumbnail intro: %w", err)
	}
	return art, nil
}

// installIntro makes a rendered intro both the working and the final artifact
func (s *Service) installIntro(j *job.Job, intro job.Artifact) {
	released := j.Replace(job.SlotWorking, &intro)
	released = append(released, j.Replace(job.SlotFinal, &intro)...)
	s.releaseAll(released...)
}

// fetchAuxiliary retrieves a music track or still image without normalization
func (s *Service) fetchAuxiliary(ctx context.Context, ref retrieval.SourceRef, kind job.Kind) (job.Artifact, error) {
	art, err := s.retriever.Retrieve(ctx, ref, retrieval.Options{Kind: kind})
	if err != nil {
		return job.Artifact{}, fmt.Errorf("retrieve %s: %w", kind, err)
	}
	return art, nil
}

// writeSubtitles stores caller supplied SRT text as a transient artifact
func (s *Service) writeSubtitles(ctx context.Context, text string) (job.Artifact, error) {
	path := s.artifacts.NewPath(job.KindSubtitle, ".srt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return job.Artifact{}, fmt.Errorf("write subtitles: %w", err)
	}
	art, err := s.artifacts.Register(ctx, path, job.KindSubtitle)
	if err != nil {
		s.discard(path)
		return job.Artifact{}, fmt.Errorf("register subtitles: %w", err)
	}
	return art, nil
}
