package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"media-pipeline/domain/media"
)

// probeResult mirrors the subset of ffprobe JSON output the pipeline reads
type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// Prober implements media.Prober using ffprobe
type Prober struct {
	ffprobePath string
	runner      CommandRunner
	timeout     time.Duration
}

// ProberOption is a functional option for configuring Prober
type ProberOption func(*Prober)

// WithFFprobePath sets a custom ffprobe executable path
func WithFFprobePath(path string) ProberOption {
	return func(p *Prober) {
		p.ffprobePath = path
	}
}

// WithProbeRunner sets a custom command runner (for testing)
func WithProbeRunner(runner CommandRunner) ProberOption {
	return func(p *Prober) {
		p.runner = runner
	}
}

// WithProbeTimeout bounds each ffprobe invocation
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewProber creates a new ffprobe-based prober
func NewProber(opts ...ProberOption) *Prober {
	p := &Prober{
		ffprobePath: "ffprobe",
		runner:      &ExecCommandRunner{},
		timeout:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe implements media.Prober
func (p *Prober) Probe(ctx context.Context, path string) (media.StreamInfo, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return media.StreamInfo{}, errors.New("ffprobe: empty path")
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	output, err := p.runner.Output(probeCtx, p.ffprobePath,
		"-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return media.StreamInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return ParseProbeOutput(output)
}

// ParseProbeOutput decodes ffprobe JSON into stream metadata
func ParseProbeOutput(output []byte) (media.StreamInfo, error) {
	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return media.StreamInfo{}, fmt.Errorf("ffprobe parse: %w", err)
	}

	var info media.StreamInfo
	for _, s := range result.Streams {
		switch strings.ToLower(s.CodecType) {
		case "video":
			info.VideoCount++
			if info.VideoCount > 1 {
				continue
			}
			info.Width, info.Height = s.Width, s.Height
			if rate, err := media.ParseRational(s.AvgFrameRate); err == nil {
				info.FrameRate = rate
			} else if rate, err := media.ParseRational(s.RFrameRate); err == nil {
				info.FrameRate = rate
			}
		case "audio":
			info.AudioCount++
		}
	}
	if d, err := strconv.ParseFloat(strings.TrimSpace(result.Format.Duration), 64); err == nil {
		info.Duration = d
	}
	return info, nil
}

// Ensure Prober implements media.Prober
var _ media.Prober = (*Prober)(nil)
