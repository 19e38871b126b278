package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"media-pipeline/domain/job"
	"media-pipeline/domain/media"
	"media-pipeline/domain/retrieval"
)

// DefaultTimeout bounds one Retrieve call including every strategy attempt
const DefaultTimeout = 5 * time.Minute

// Artifacts allocates, registers and releases files in the managed temp directory
type Artifacts interface {
	NewPath(kind job.Kind, ext string) string
	Register(ctx context.Context, path string, kind job.Kind) (job.Artifact, error)
	Release(art job.Artifact) error
}

// Client implements retrieval.Retriever with an ordered fallback ladder.
// A single strategy failing is recovered here; only exhausting every
// strategy surfaces a *job.RetrievalError.
type Client struct {
	artifacts  Artifacts
	fetch      *fetcher
	endpoint   string
	api        retrieval.Strategy
	transcoder media.Transcoder
	normalize  media.NormalizeSettings
	timeout    time.Duration
	logger     *slog.Logger
}

// ClientOption is a functional option for configuring Client
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used by every web strategy
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.fetch.client = hc
	}
}

// WithUserAgent sets the User-Agent header on outgoing requests
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.fetch.userAgent = ua
	}
}

// WithDriveEndpoint overrides the direct-download endpoint (for testing)
func WithDriveEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithAPIStrategy puts an authenticated strategy at the top of the Drive ladder
func WithAPIStrategy(s retrieval.Strategy) ClientOption {
	return func(c *Client) {
		c.api = s
	}
}

// WithNormalizer enables normalization of retrieved sources
func WithNormalizer(t media.Transcoder, settings media.NormalizeSettings) ClientOption {
	return func(c *Client) {
		c.transcoder = t
		c.normalize = settings
	}
}

// WithTimeout bounds each Retrieve call
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used for strategy attempts
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a retrieval client storing downloads through artifacts
func NewClient(artifacts Artifacts, opts ...ClientOption) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		artifacts: artifacts,
		fetch:     &fetcher{client: &http.Client{Jar: jar}},
		endpoint:  DefaultDriveEndpoint,
		timeout:   DefaultTimeout,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Strategies returns the ordered ladder applied to ref
func (c *Client) Strategies(ref retrieval.SourceRef) []retrieval.Strategy {
	switch ref.Type {
	case retrieval.RefDrive:
		var ladder []retrieval.Strategy
		if c.api != nil {
			ladder = append(ladder, c.api)
		}
		return append(ladder,
			&directStrategy{name: "direct", f: c.fetch, url: func(r retrieval.SourceRef) (string, error) {
				return driveURL(c.endpoint, r, false)
			}},
			&directStrategy{name: "confirm-bypass", f: c.fetch, url: func(r retrieval.SourceRef) (string, error) {
				return driveURL(c.endpoint, r, true)
			}},
			&scrapeStrategy{f: c.fetch, endpoint: c.endpoint},
		)
	case retrieval.RefURL:
		return []retrieval.Strategy{&directStrategy{name: "direct", f: c.fetch, url: plainURL}}
	default:
		return nil
	}
}

// Retrieve implements retrieval.Retriever
func (c *Client) Retrieve(ctx context.Context, ref retrieval.SourceRef, opts retrieval.Options) (job.Artifact, error) {
	kind := opts.Kind
	if kind == "" {
		kind = job.KindVideo
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		raw job.Artifact
		err error
	)
	if ref.Type == retrieval.RefLocal {
		raw, err = c.copyLocal(ctx, ref.Path, kind)
	} else {
		raw, err = c.runLadder(ctx, ref, kind)
	}
	if err != nil {
		return job.Artifact{}, err
	}

	if !opts.Normalize || c.transcoder == nil {
		return raw, nil
	}
	return c.normalizeSource(ctx, raw)
}

func (c *Client) runLadder(ctx context.Context, ref retrieval.SourceRef, kind job.Kind) (job.Artifact, error) {
	rerr := &job.RetrievalError{Ref: ref.String()}

	for _, s := range c.Strategies(ref) {
		started := time.Now()
		art, err := c.attempt(ctx, s, ref, kind)
		if err == nil {
			c.logger.Info("retrieved",
				slog.String("ref", ref.String()),
				slog.String("strategy", s.Name()),
				slog.Int64("size", art.SizeBytes),
				slog.Duration("elapsed", time.Since(started)))
			return art, nil
		}

		rerr.Attempts = append(rerr.Attempts, job.StrategyFailure{Strategy: s.Name(), Err: err})
		c.logger.Warn("retrieval strategy failed",
			slog.String("ref", ref.String()),
			slog.String("strategy", s.Name()),
			slog.Any("error", err))

		if ctx.Err() != nil {
			break
		}
	}
	return job.Artifact{}, rerr
}

// attempt runs one strategy and stores its body; anything short of a
// non-empty media file is that strategy's failure
func (c *Client) attempt(ctx context.Context, s retrieval.Strategy, ref retrieval.SourceRef, kind job.Kind) (job.Artifact, error) {
	payload, err := s.Fetch(ctx, ref)
	if err != nil {
		return job.Artifact{}, err
	}
	defer payload.Body.Close()

	if rejectContentType(payload.ContentType) {
		return job.Artifact{}, fmt.Errorf("unexpected content type %q", payload.ContentType)
	}

	ext := extensionForType(payload.ContentType)
	if ext == "" {
		ext = urlExtension(ref.URL)
	}
	dest := c.artifacts.NewPath(kind, ext)
	if err := writeFile(dest, payload.Body); err != nil {
		return job.Artifact{}, err
	}

	art, err := c.artifacts.Register(ctx, dest, kind)
	if err != nil {
		_ = os.Remove(dest)
		return job.Artifact{}, fmt.Errorf("empty or unreadable download: %w", err)
	}
	return art, nil
}

func (c *Client) copyLocal(ctx context.Context, src string, kind job.Kind) (job.Artifact, error) {
	f, err := os.Open(src)
	if err != nil {
		return job.Artifact{}, &job.ValidationError{
			Message:    fmt.Sprintf("cannot open local file %s", src),
			Suggestion: "check that the path exists and is readable",
		}
	}
	defer f.Close()

	dest := c.artifacts.NewPath(kind, filepath.Ext(src))
	if err := writeFile(dest, f); err != nil {
		return job.Artifact{}, fmt.Errorf("copy %s: %w", src, err)
	}
	art, err := c.artifacts.Register(ctx, dest, kind)
	if err != nil {
		return job.Artifact{}, job.Invalidf("local file %s is empty", src)
	}
	return art, nil
}

// normalizeSource re-encodes a raw source download and releases the raw file
func (c *Client) normalizeSource(ctx context.Context, raw job.Artifact) (job.Artifact, error) {
	out := c.artifacts.NewPath(job.KindVideo, ".mp4")
	art, err := c.transcoder.Invoke(ctx, media.NormalizeOperation(raw.Path, out, c.normalize))
	if releaseErr := c.artifacts.Release(raw); releaseErr != nil {
		c.logger.Warn("failed to release raw download", slog.Any("error", releaseErr))
	}
	if err != nil {
		return job.Artifact{}, fmt.Errorf("normalize source: %w", err)
	}
	c.logger.Info("source normalized",
		slog.Int64("raw_size", raw.SizeBytes),
		slog.Int64("size", art.SizeBytes))
	return art, nil
}

// writeFile streams r into path, deleting the file on any failure
func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func urlExtension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if len(ext) < 2 || len(ext) > 5 {
		return ""
	}
	return ext
}

// Ensure Client implements retrieval.Retriever
var _ retrieval.Retriever = (*Client)(nil)
