package media

import (
	"context"

	"media-pipeline/domain/job"
)

// Transcoder defines the interface for running transcode operations
// This is a port that can be implemented by different infrastructure adapters
type Transcoder interface {
	// Invoke runs the operation and returns the verified output artifact
	Invoke(ctx context.Context, op Operation) (job.Artifact, error)
}

// Prober reads stream metadata from a media file
type Prober interface {
	Probe(ctx context.Context, path string) (StreamInfo, error)
}

// StillInspector validates still images used for thumbnail intros
type StillInspector interface {
	// Inspect returns the pixel dimensions of the image at path
	Inspect(path string) (width, height int, err error)
}
