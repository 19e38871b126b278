package job

import "time"

// Kind identifies what an artifact contains
type Kind string

const (
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindSubtitle  Kind = "subtitle"
	KindMusic     Kind = "music"
	KindThumbnail Kind = "thumbnail"
)

// Artifact is a file on local storage produced or consumed by a pipeline stage
type Artifact struct {
	Path      string    `json:"path"`
	Kind      Kind      `json:"kind"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Extension returns the default file extension for artifacts of this kind
func (k Kind) Extension() string {
	switch k {
	case KindAudio:
		return ".wav"
	case KindSubtitle:
		return ".srt"
	case KindMusic:
		return ".mp3"
	case KindThumbnail:
		return ".png"
	default:
		return ".mp4"
	}
}
