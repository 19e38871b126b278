//go:build integration

package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"media-pipeline/application/lifecycle"
	"media-pipeline/application/pipeline"
	"media-pipeline/domain/media"
	"media-pipeline/infrastructure/detection"
	"media-pipeline/infrastructure/ffmpeg"
	"media-pipeline/infrastructure/filesystem"
	"media-pipeline/infrastructure/httpapi"
	download "media-pipeline/infrastructure/retrieval"
	"media-pipeline/infrastructure/store"

	"github.com/cucumber/godog"
)

const (
	sharedFileID  = "1TestVideoAbCdEfGhIjKlMnOpQr"
	missingFileID = "1MissingFileAbCdEfGhIjKlMnOp"
)

const confirmationPage = `<!DOCTYPE html><html><body>
<p>Google Drive can't scan this file for viruses.</p>
<form id="download-form" action="%s" method="get">
  <input type="submit" value="Download anyway"/>
  <input type="hidden" name="id" value="%s">
  <input type="hidden" name="export" value="download">
  <input type="hidden" name="confirm" value="t">
  <input type="hidden" name="uuid" value="feature-uuid">
</form></body></html>`

var featureNormalize = media.NormalizeSettings{
	MaxDimension: 1280,
	CRF:          26,
	MaxRate:      "2500k",
	BufSize:      "5000k",
	AudioBitrate: "128k",
}

type pipelineContext struct {
	tempDir   string
	workDir   string
	videoPath string
	thumbPath string

	share     *httptest.Server
	api       *httptest.Server
	artifacts *lifecycle.Manager
	service   *pipeline.Service
	prober    *ffmpeg.Prober

	jobID      string
	status     int
	body       []byte
	sourceSize int64
}

var SharedPipelineContext = &pipelineContext{}

func InitializePipelineScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedPipelineContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "pipeline-test-*")
		if err != nil {
			return c, err
		}
		*testCtx = pipelineContext{
			tempDir: tempDir,
			workDir: filepath.Join(tempDir, "work"),
		}
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if testCtx.api != nil {
			testCtx.api.Close()
		}
		if testCtx.share != nil {
			testCtx.share.Close()
		}
		if testCtx.artifacts != nil {
			testCtx.artifacts.Shutdown()
		}
		if testCtx.tempDir != "" {
			os.RemoveAll(testCtx.tempDir)
		}
		return c, nil
	})

	ctx.Step(`^a sharing service hosting a (\d+) second (\d+)x(\d+) test video behind a confirmation page$`, testCtx.aSharingServiceHostingATestVideo)
	ctx.Step(`^the sharing service hosts a (\d+)x(\d+) thumbnail image$`, testCtx.theSharingServiceHostsAThumbnailImage)
	ctx.Step(`^the pipeline API is running$`, testCtx.thePipelineAPIIsRunning)
	ctx.Step(`^I create a job from the shared file$`, testCtx.iCreateAJobFromTheSharedFile)
	ctx.Step(`^I create a job from a missing shared file$`, testCtx.iCreateAJobFromAMissingSharedFile)
	ctx.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	ctx.Step(`^the error kind should be "([^"]*)"$`, testCtx.theErrorKindShouldBe)
	ctx.Step(`^the job should be in stage "([^"]*)"$`, testCtx.theJobShouldBeInStage)
	ctx.Step(`^I extract the audio$`, testCtx.iExtractTheAudio)
	ctx.Step(`^the audio track should be downloadable$`, testCtx.theAudioTrackShouldBeDownloadable)
	ctx.Step(`^I remove segments with no cuts$`, testCtx.iRemoveSegmentsWithNoCuts)
	ctx.Step(`^I remove the segment from "([^"]*)" to "([^"]*)"$`, testCtx.iRemoveTheSegmentFromTo)
	ctx.Step(`^the working video should be within (\d+) percent of the source size$`, testCtx.theWorkingVideoShouldBeWithinPercentOfTheSourceSize)
	ctx.Step(`^downloading the final video should fail with status (\d+)$`, testCtx.downloadingTheFinalVideoShouldFailWithStatus)
	ctx.Step(`^I composite with subtitles:$`, testCtx.iCompositeWithSubtitles)
	ctx.Step(`^the composite response should report music "(true|false)" and subtitles "(true|false)"$`, testCtx.theCompositeResponseShouldReport)
	ctx.Step(`^I can download the final video$`, testCtx.iCanDownloadTheFinalVideo)
	ctx.Step(`^I add a ([\d.]+) second thumbnail intro$`, testCtx.iAddASecondThumbnailIntro)
	ctx.Step(`^the (working|final) video should be (\d+)x(\d+) at (\d+) fps$`, testCtx.theVideoShouldHaveGeometry)
	ctx.Step(`^the (working|final) video should last about ([\d.]+) seconds$`, testCtx.theVideoShouldLastAbout)
	ctx.Step(`^I delete the job$`, testCtx.iDeleteTheJob)
	ctx.Step(`^the job should not be found$`, testCtx.theJobShouldNotBeFound)
	ctx.Step(`^no media files should remain in the work directory$`, testCtx.noMediaFilesShouldRemainInTheWorkDirectory)
}

func (p *pipelineContext) aSharingServiceHostingATestVideo(seconds, width, height int) error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg is required for pipeline scenarios: %w", err)
	}

	p.videoPath = filepath.Join(p.tempDir, "source.mp4")
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", fmt.Sprintf("testsrc=size=%dx%d:rate=30:duration=%d", width, height, seconds),
		"-f", "lavfi", "-i", fmt.Sprintf("sine=frequency=440:duration=%d", seconds),
		"-c:v", "libx264", "-pix_fmt", "yuv420p", "-c:a", "aac", "-shortest",
		p.videoPath,
	}
	if out, err := exec.Command("ffmpeg", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to generate test video: %v: %s", err, out)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/uc", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id != sharedFileID {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, confirmationPage, "http://"+r.Host+"/download", id)
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("id") != sharedFileID || q.Get("uuid") != "feature-uuid" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeFile(w, r, p.videoPath)
	})
	mux.HandleFunc("/thumb.png", func(w http.ResponseWriter, r *http.Request) {
		if p.thumbPath == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		http.ServeFile(w, r, p.thumbPath)
	})
	p.share = httptest.NewServer(mux)
	return nil
}

func (p *pipelineContext) theSharingServiceHostsAThumbnailImage(width, height int) error {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	p.thumbPath = filepath.Join(p.tempDir, "thumb.png")
	f, err := os.Create(p.thumbPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func (p *pipelineContext) thePipelineAPIIsRunning() error {
	if p.share == nil {
		return fmt.Errorf("the sharing service must be started first")
	}

	artifacts, err := lifecycle.NewManager(p.workDir)
	if err != nil {
		return err
	}
	p.artifacts = artifacts

	invoker := ffmpeg.NewInvoker()
	p.prober = ffmpeg.NewProber()
	retriever := download.NewClient(artifacts,
		download.WithDriveEndpoint(p.share.URL+"/uc"),
		download.WithNormalizer(invoker, featureNormalize),
	)

	p.service = pipeline.NewService(
		store.NewMemoryStore(),
		retriever,
		invoker,
		p.prober,
		detection.NewStillInspector(),
		filesystem.NewChecker(),
		artifacts,
	)
	p.api = httptest.NewServer(httpapi.NewServer(p.service, httpapi.WithDevelopment(true)).Handler())
	return nil
}

func (p *pipelineContext) do(method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, p.api.URL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	p.status = resp.StatusCode
	p.body, err = io.ReadAll(resp.Body)
	return err
}

func (p *pipelineContext) expectOK() error {
	if p.status >= 300 {
		return fmt.Errorf("expected success, got %d: %s", p.status, p.body)
	}
	return nil
}

func (p *pipelineContext) createJob(fileID string) error {
	source := "https://drive.google.com/file/d/" + fileID + "/view?usp=sharing"
	if err := p.do(http.MethodPost, "/jobs", map[string]string{"source": source}); err != nil {
		return err
	}

	var resp struct {
		JobID string `json:"job_id"`
	}
	if p.status < 300 {
		if err := json.Unmarshal(p.body, &resp); err != nil {
			return err
		}
		p.jobID = resp.JobID
	}
	return nil
}

func (p *pipelineContext) iCreateAJobFromTheSharedFile() error {
	if err := p.createJob(sharedFileID); err != nil {
		return err
	}
	if err := p.expectOK(); err != nil {
		return err
	}

	j, err := p.service.Job(context.Background(), p.jobID)
	if err != nil {
		return err
	}
	p.sourceSize = j.Source.SizeBytes
	return nil
}

func (p *pipelineContext) iCreateAJobFromAMissingSharedFile() error {
	return p.createJob(missingFileID)
}

func (p *pipelineContext) theResponseStatusShouldBe(expected int) error {
	if p.status != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, p.status, p.body)
	}
	return nil
}

func (p *pipelineContext) theErrorKindShouldBe(expected string) error {
	var resp struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(p.body, &resp); err != nil {
		return fmt.Errorf("failed to decode error response: %w", err)
	}
	if resp.Kind != expected {
		return fmt.Errorf("expected error kind %q, got %q", expected, resp.Kind)
	}
	return nil
}

func (p *pipelineContext) theJobShouldBeInStage(expected string) error {
	if err := p.do(http.MethodGet, "/jobs/"+p.jobID, nil); err != nil {
		return err
	}
	if err := p.expectOK(); err != nil {
		return err
	}

	var resp struct {
		Stage string `json:"stage"`
	}
	if err := json.Unmarshal(p.body, &resp); err != nil {
		return err
	}
	if resp.Stage != expected {
		return fmt.Errorf("expected stage %q, got %q", expected, resp.Stage)
	}
	return nil
}

func (p *pipelineContext) iExtractTheAudio() error {
	if err := p.do(http.MethodPost, "/jobs/"+p.jobID+"/audio", nil); err != nil {
		return err
	}
	return p.expectOK()
}

func (p *pipelineContext) theAudioTrackShouldBeDownloadable() error {
	if err := p.do(http.MethodGet, "/jobs/"+p.jobID+"/audio", nil); err != nil {
		return err
	}
	if err := p.expectOK(); err != nil {
		return err
	}
	if len(p.body) == 0 {
		return fmt.Errorf("audio download was empty")
	}

	j, err := p.service.Job(context.Background(), p.jobID)
	if err != nil {
		return err
	}
	if j.Audio == nil || j.Audio.Path == j.Source.Path {
		return fmt.Errorf("audio should be a separate artifact from the source")
	}
	return nil
}

func (p *pipelineContext) iRemoveSegmentsWithNoCuts() error {
	if err := p.do(http.MethodPost, "/jobs/"+p.jobID+"/segments", map[string]any{}); err != nil {
		return err
	}
	return p.expectOK()
}

func (p *pipelineContext) iRemoveTheSegmentFromTo(start, end string) error {
	payload := map[string]any{
		"segments": []map[string]string{{"start": start, "end": end}},
	}
	if err := p.do(http.MethodPost, "/jobs/"+p.jobID+"/segments", payload); err != nil {
		return err
	}
	return p.expectOK()
}

func (p *pipelineContext) theWorkingVideoShouldBeWithinPercentOfTheSourceSize(percent int) error {
	j, err := p.service.Job(context.Background(), p.jobID)
	if err != nil {
		return err
	}
	if j.Working == nil {
		return fmt.Errorf("job has no working video")
	}

	diff := math.Abs(float64(j.Working.SizeBytes - p.sourceSize))
	if diff > float64(p.sourceSize)*float64(percent)/100 {
		return fmt.Errorf("working video is %d bytes, source is %d bytes", j.Working.SizeBytes, p.sourceSize)
	}
	return nil
}

func (p *pipelineContext) downloadingTheFinalVideoShouldFailWithStatus(expected int) error {
	if err := p.do(http.MethodGet, "/jobs/"+p.jobID+"/final", nil); err != nil {
		return err
	}
	return p.theResponseStatusShouldBe(expected)
}

func (p *pipelineContext) iCompositeWithSubtitles(doc *godog.DocString) error {
	payload := map[string]any{"subtitles": doc.Content + "\n"}
	if err := p.do(http.MethodPost, "/jobs/"+p.jobID+"/composite", payload); err != nil {
		return err
	}
	return p.expectOK()
}

func (p *pipelineContext) theCompositeResponseShouldReport(music, subtitles string) error {
	var resp struct {
		HasMusic     bool `json:"has_music"`
		HasSubtitles bool `json:"has_subtitles"`
	}
	if err := json.Unmarshal(p.body, &resp); err != nil {
		return err
	}
	if strconv.FormatBool(resp.HasMusic) != music {
		return fmt.Errorf("expected has_music %s, got %t", music, resp.HasMusic)
	}
	if strconv.FormatBool(resp.HasSubtitles) != subtitles {
		return fmt.Errorf("expected has_subtitles %s, got %t", subtitles, resp.HasSubtitles)
	}
	return nil
}

func (p *pipelineContext) iCanDownloadTheFinalVideo() error {
	resp, err := http.Get(p.api.URL + "/jobs/" + p.jobID + "/final")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Disposition"), "attachment") {
		return fmt.Errorf("expected an attachment, got %q", resp.Header.Get("Content-Disposition"))
	}
	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("final video download was empty")
	}
	return nil
}

func (p *pipelineContext) iAddASecondThumbnailIntro(seconds float64) error {
	payload := map[string]any{
		"image":    p.share.URL + "/thumb.png",
		"duration": seconds,
	}
	if err := p.do(http.MethodPost, "/jobs/"+p.jobID+"/thumbnail", payload); err != nil {
		return err
	}
	return p.expectOK()
}

func (p *pipelineContext) probe(which string) (media.StreamInfo, error) {
	j, err := p.service.Job(context.Background(), p.jobID)
	if err != nil {
		return media.StreamInfo{}, err
	}

	art := j.Working
	if which == "final" {
		art = j.FinalArtifact()
	}
	if art == nil {
		return media.StreamInfo{}, fmt.Errorf("job has no %s video", which)
	}
	return p.prober.Probe(context.Background(), art.Path)
}

func (p *pipelineContext) theVideoShouldHaveGeometry(which string, width, height, fps int) error {
	info, err := p.probe(which)
	if err != nil {
		return err
	}
	if info.Width != width || info.Height != height {
		return fmt.Errorf("expected %dx%d, got %dx%d", width, height, info.Width, info.Height)
	}
	if math.Abs(info.FrameRate.Float()-float64(fps)) > 0.01 {
		return fmt.Errorf("expected %d fps, got %s", fps, info.FrameRate)
	}
	return nil
}

func (p *pipelineContext) theVideoShouldLastAbout(which string, seconds float64) error {
	info, err := p.probe(which)
	if err != nil {
		return err
	}
	if math.Abs(info.Duration-seconds) > 0.25 {
		return fmt.Errorf("expected about %.2fs, got %.2fs", seconds, info.Duration)
	}
	return nil
}

func (p *pipelineContext) iDeleteTheJob() error {
	if err := p.do(http.MethodDelete, "/jobs/"+p.jobID, nil); err != nil {
		return err
	}
	return p.expectOK()
}

func (p *pipelineContext) theJobShouldNotBeFound() error {
	if err := p.do(http.MethodGet, "/jobs/"+p.jobID, nil); err != nil {
		return err
	}
	return p.theResponseStatusShouldBe(http.StatusNotFound)
}

func (p *pipelineContext) noMediaFilesShouldRemainInTheWorkDirectory() error {
	entries, err := os.ReadDir(p.workDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		return fmt.Errorf("unexpected file left in work directory: %s", e.Name())
	}
	return nil
}
