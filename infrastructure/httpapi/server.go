package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"media-pipeline/application/pipeline"
	"media-pipeline/domain/job"
)

const shutdownTimeout = 30 * time.Second

// Pipeline is the stage sequencer the handlers drive
type Pipeline interface {
	Retrieve(ctx context.Context, in pipeline.RetrieveInput) (*pipeline.Result, error)
	Ingest(ctx context.Context, in pipeline.IngestInput) (*pipeline.Result, error)
	ExtractAudio(ctx context.Context, jobID string) (*pipeline.Result, error)
	RemoveSegments(ctx context.Context, in pipeline.SegmentsInput) (*pipeline.Result, error)
	CompositeThumbnail(ctx context.Context, in pipeline.ThumbnailInput) (*pipeline.Result, error)
	Composite(ctx context.Context, in pipeline.CompositeInput) (*pipeline.Result, error)
	Job(ctx context.Context, id string) (*job.Job, error)
	Cleanup(ctx context.Context, id string) error
}

// Server exposes the pipeline stages over HTTP
type Server struct {
	pipeline          Pipeline
	logger            *slog.Logger
	maxUploadBytes    int64
	readHeaderTimeout time.Duration
	development       bool
}

// Option is a functional option for configuring Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxUploadBytes bounds multipart source uploads
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		s.maxUploadBytes = n
	}
}

// WithReadHeaderTimeout bounds how long a client may take to send request headers
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.readHeaderTimeout = d
	}
}

// WithDevelopment includes transcoder diagnostics in error responses
func WithDevelopment(enabled bool) Option {
	return func(s *Server) {
		s.development = enabled
	}
}

// NewServer creates a new HTTP server over p
func NewServer(p Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline:          p,
		logger:            slog.New(slog.DiscardHandler),
		maxUploadBytes:    2 << 30,
		readHeaderTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed request handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /jobs", s.handleCreate)
	mux.HandleFunc("GET /jobs/{id}", s.handleGet)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleDelete)
	mux.HandleFunc("POST /jobs/{id}/source", s.handleSource)
	mux.HandleFunc("POST /jobs/{id}/audio", s.handleAudio)
	mux.HandleFunc("GET /jobs/{id}/audio", s.handleDownloadAudio)
	mux.HandleFunc("POST /jobs/{id}/segments", s.handleSegments)
	mux.HandleFunc("POST /jobs/{id}/thumbnail", s.handleThumbnail)
	mux.HandleFunc("POST /jobs/{id}/composite", s.handleComposite)
	mux.HandleFunc("GET /jobs/{id}/final", s.handleDownloadFinal)
	return mux
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	// No write timeout: stage calls block for the whole transcode.
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.readHeaderTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	s.logger.Info("api server listening", slog.String("address", listener.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("api server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", slog.Any("error", err))
	}
}

// errorResponse is the body of every failed request
type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := job.Classify(err)
	status := statusFor(err, kind)
	resp := errorResponse{Error: err.Error(), Kind: kind}
	if s.development {
		resp.Detail = job.Diagnostic(err)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", slog.String("kind", kind), slog.Any("error", err), slog.String("diagnostic", job.Diagnostic(err)))
	}
	s.writeJSON(w, status, resp)
}

func statusFor(err error, kind string) int {
	switch kind {
	case "validation":
		return http.StatusBadRequest
	case "precondition":
		if errors.Is(err, job.ErrNotFound) {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case "retrieval", "parse":
		return http.StatusBadGateway
	case "timeout":
		return http.StatusGatewayTimeout
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}
