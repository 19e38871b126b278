package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"media-pipeline/application/pipeline"
	"media-pipeline/domain/job"
	"media-pipeline/domain/media"
)

// maxJSONBytes bounds JSON request bodies; subtitle text is the largest field
const maxJSONBytes = 4 << 20

type sourceRequest struct {
	Source string `json:"source"`
}

type segmentRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type segmentsRequest struct {
	FilterGraph *media.FilterGraph `json:"filter_graph,omitempty"`
	Segments    []segmentRequest   `json:"segments,omitempty"`
}

type thumbnailRequest struct {
	Image    string  `json:"image"`
	Duration float64 `json:"duration"` // seconds
}

type compositeRequest struct {
	Subtitles *string           `json:"subtitles,omitempty"`
	Music     string            `json:"music,omitempty"`
	Thumbnail *thumbnailRequest `json:"thumbnail,omitempty"`
}

type artifactResponse struct {
	Name      string    `json:"name"`
	Kind      job.Kind  `json:"kind"`
	SizeBytes int64     `json:"size_bytes"`
	Size      string    `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type stageResponse struct {
	Success   bool              `json:"success"`
	JobID     string            `json:"job_id"`
	Stage     job.Stage         `json:"stage"`
	Artifact  *artifactResponse `json:"artifact,omitempty"`
	ElapsedMS int64             `json:"elapsed_ms"`
}

type compositeResponse struct {
	stageResponse
	HasMusic     bool `json:"has_music"`
	HasSubtitles bool `json:"has_subtitles"`
	HasThumbnail bool `json:"has_thumbnail"`
}

type jobResponse struct {
	ID         string                       `json:"id"`
	Stage      job.Stage                    `json:"stage"`
	Failure    string                       `json:"failure,omitempty"`
	FinalReady bool                         `json:"final_ready"`
	Artifacts  map[job.Slot]artifactResponse `json:"artifacts"`
	CreatedAt  time.Time                    `json:"created_at"`
	UpdatedAt  time.Time                    `json:"updated_at"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	s.establishSource(w, r, "")
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	s.establishSource(w, r, r.PathValue("id"))
}

// establishSource accepts either a JSON source reference or a multipart
// upload in the "video" field
func (s *Server) establishSource(w http.ResponseWriter, r *http.Request, jobID string) {
	status := http.StatusOK
	if jobID == "" {
		status = http.StatusCreated
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
		part, err := videoPart(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		defer part.Close()

		res, err := s.pipeline.Ingest(r.Context(), pipeline.IngestInput{JobID: jobID, Filename: part.FileName(), Body: part})
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, status, newStageResponse(res))
		return
	}

	var req sourceRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.pipeline.Retrieve(r.Context(), pipeline.RetrieveInput{JobID: jobID, Source: req.Source})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status, newStageResponse(res))
}

type filePart interface {
	io.ReadCloser
	FileName() string
}

func videoPart(r *http.Request) (filePart, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, job.Invalidf("invalid multipart body: %v", err)
	}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, &job.ValidationError{Message: "multipart body has no video file", Suggestion: "attach the video as the 'video' form field"}
		}
		if err != nil {
			return nil, job.Invalidf("invalid multipart body: %v", err)
		}
		if part.FormName() == "video" {
			return part, nil
		}
		part.Close()
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	j, err := s.pipeline.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newJobResponse(j))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Cleanup(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.ExtractAudio(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newStageResponse(res))
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	var req segmentsRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	in := pipeline.SegmentsInput{JobID: r.PathValue("id"), Graph: req.FilterGraph}
	for i, sr := range req.Segments {
		seg, err := media.NewSegment(sr.Start, sr.End)
		if err != nil {
			s.writeError(w, fmt.Errorf("segment %d: %w", i, err))
			return
		}
		in.Segments = append(in.Segments, seg)
	}

	res, err := s.pipeline.RemoveSegments(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newStageResponse(res))
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	var req thumbnailRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.pipeline.CompositeThumbnail(r.Context(), req.input(r.PathValue("id")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newCompositeResponse(res))
}

func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	var req compositeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	in := pipeline.CompositeInput{JobID: r.PathValue("id"), Subtitles: req.Subtitles, Music: req.Music}
	if req.Thumbnail != nil {
		thumb := req.Thumbnail.input(in.JobID)
		in.Thumbnail = &thumb
	}

	res, err := s.pipeline.Composite(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newCompositeResponse(res))
}

func (s *Server) handleDownloadFinal(w http.ResponseWriter, r *http.Request) {
	j, err := s.pipeline.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	final := j.FinalArtifact()
	if final == nil {
		s.writeError(w, job.Preconditionf("job %s is %s; composite it before downloading", j.ID, j.Stage))
		return
	}
	s.serveArtifact(w, r, j.ID, final)
}

func (s *Server) handleDownloadAudio(w http.ResponseWriter, r *http.Request) {
	j, err := s.pipeline.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if j.Audio == nil {
		s.writeError(w, job.Preconditionf("job %s has no extracted audio", j.ID))
		return
	}
	s.serveArtifact(w, r, j.ID, j.Audio)
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, jobID string, art *job.Artifact) {
	f, err := os.Open(art.Path)
	if err != nil {
		s.writeError(w, job.Preconditionf("artifact of job %s is no longer on disk", jobID))
		return
	}
	defer f.Close()

	name := jobID + filepath.Ext(art.Path)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, art.CreatedAt, f)
}

// decode reads a JSON body; an empty body decodes to the zero value
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &job.ValidationError{Message: fmt.Sprintf("invalid request body: %v", err), Suggestion: "send a JSON object"}
	}
	return nil
}

func (t thumbnailRequest) input(jobID string) pipeline.ThumbnailInput {
	return pipeline.ThumbnailInput{
		JobID:    jobID,
		Image:    t.Image,
		Duration: time.Duration(t.Duration * float64(time.Second)),
	}
}

func newArtifactResponse(a job.Artifact) *artifactResponse {
	return &artifactResponse{
		Name:      filepath.Base(a.Path),
		Kind:      a.Kind,
		SizeBytes: a.SizeBytes,
		Size:      humanize.Bytes(uint64(max(a.SizeBytes, 0))),
		CreatedAt: a.CreatedAt,
	}
}

func newStageResponse(res *pipeline.Result) stageResponse {
	resp := stageResponse{
		Success:   true,
		JobID:     res.JobID,
		Stage:     res.Stage,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	if strings.TrimSpace(res.Artifact.Path) != "" {
		resp.Artifact = newArtifactResponse(res.Artifact)
	}
	return resp
}

func newCompositeResponse(res *pipeline.Result) compositeResponse {
	return compositeResponse{
		stageResponse: newStageResponse(res),
		HasMusic:      res.HasMusic,
		HasSubtitles:  res.HasSubtitles,
		HasThumbnail:  res.HasThumbnail,
	}
}

func newJobResponse(j *job.Job) jobResponse {
	resp := jobResponse{
		ID:         j.ID,
		Stage:      j.Stage,
		Failure:    j.Failure,
		FinalReady: j.FinalArtifact() != nil,
		Artifacts:  make(map[job.Slot]artifactResponse),
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
	for _, slot := range []job.Slot{job.SlotSource, job.SlotAudio, job.SlotWorking} {
		if a := j.Artifact(slot); a != nil {
			resp.Artifacts[slot] = *newArtifactResponse(*a)
		}
	}
	if a := j.FinalArtifact(); a != nil {
		resp.Artifacts[job.SlotFinal] = *newArtifactResponse(*a)
	}
	return resp
}
