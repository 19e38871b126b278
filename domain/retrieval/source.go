package retrieval

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"media-pipeline/domain/job"
)

// RefType tells the retrieval client which strategy ladder applies
type RefType string

const (
	RefDrive RefType = "drive"
	RefURL   RefType = "url"
	RefLocal RefType = "local"
)

// SourceRef is a parsed reference to a remote or local asset
type SourceRef struct {
	Raw    string
	Type   RefType
	FileID string // set for Drive references
	URL    string // set for generic URLs
	Path   string // set for local files
}

var (
	driveFilePathRegex = regexp.MustCompile(`/file/d/([A-Za-z0-9_-]+)`)
	driveIDRegex       = regexp.MustCompile(`^[A-Za-z0-9_-]{20,}$`)
)

// ParseSourceRef accepts a Drive file id, a Drive share URL, any other
// http(s) URL, or (when allowLocal is set) a local file path.
func ParseSourceRef(raw string, allowLocal bool) (SourceRef, error) {
	ref := SourceRef{Raw: strings.TrimSpace(raw)}
	if ref.Raw == "" {
		return SourceRef{}, &job.ValidationError{
			Message:    "source reference is required",
			Suggestion: "pass a Google Drive link, a file id or an http(s) URL",
		}
	}

	if strings.HasPrefix(ref.Raw, "http://") || strings.HasPrefix(ref.Raw, "https://") {
		u, err := url.Parse(ref.Raw)
		if err != nil {
			return SourceRef{}, job.Invalidf("invalid source URL %q: %v", ref.Raw, err)
		}
		if isDriveHost(u.Host) {
			if m := driveFilePathRegex.FindStringSubmatch(u.Path); m != nil {
				ref.Type, ref.FileID = RefDrive, m[1]
				return ref, nil
			}
			if id := u.Query().Get("id"); id != "" {
				ref.Type, ref.FileID = RefDrive, id
				return ref, nil
			}
		}
		ref.Type, ref.URL = RefURL, ref.Raw
		return ref, nil
	}

	if allowLocal && (strings.HasPrefix(ref.Raw, "/") || strings.HasPrefix(ref.Raw, ".")) {
		ref.Type, ref.Path = RefLocal, ref.Raw
		return ref, nil
	}

	if driveIDRegex.MatchString(ref.Raw) {
		ref.Type, ref.FileID = RefDrive, ref.Raw
		return ref, nil
	}

	return SourceRef{}, job.Invalidf("unrecognized source reference %q", ref.Raw)
}

func isDriveHost(host string) bool {
	host = strings.ToLower(host)
	return host == "drive.google.com" || host == "docs.google.com" || host == "drive.usercontent.google.com"
}

// String implements fmt.Stringer
func (r SourceRef) String() string {
	switch r.Type {
	case RefDrive:
		return fmt.Sprintf("drive:%s", r.FileID)
	case RefLocal:
		return r.Path
	default:
		return r.URL
	}
}

// Options controls how a retrieved asset is materialized
type Options struct {
	Kind      job.Kind
	Normalize bool
}

// Retriever defines the interface for materializing a source locally
// This is a port that can be implemented by different infrastructure adapters
type Retriever interface {
	// Retrieve fetches ref to local storage and returns the registered artifact
	Retrieve(ctx context.Context, ref SourceRef, opts Options) (job.Artifact, error)
}

// Payload is a response body produced by a strategy
type Payload struct {
	Body        io.ReadCloser
	ContentType string
}

// Strategy is one rung of the retrieval fallback ladder
type Strategy interface {
	// Name identifies the strategy in logs and errors
	Name() string

	// Fetch opens the asset body; the caller closes it
	Fetch(ctx context.Context, ref SourceRef) (*Payload, error)
}
