package detection

import (
	"media-pipeline/domain/job"
	"media-pipeline/domain/media"
)

// StillInspector validates images used as thumbnail intros
type StillInspector struct{}

// NewStillInspector creates a new still image inspector
func NewStillInspector() *StillInspector {
	return &StillInspector{}
}

// Inspect implements media.StillInspector
func (s *StillInspector) Inspect(path string) (int, int, error) {
	w, h, err := decodeDimensions(path)
	if err != nil {
		return 0, 0, &job.ValidationError{
			Message:    "thumbnail image could not be decoded",
			Suggestion: "use a PNG or JPEG image",
		}
	}
	if w <= 0 || h <= 0 {
		return 0, 0, job.Invalidf("thumbnail image has no pixels (%dx%d)", w, h)
	}
	return w, h, nil
}

// Ensure StillInspector implements media.StillInspector
var _ media.StillInspector = (*StillInspector)(nil)
