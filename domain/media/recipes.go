package media

import (
	"fmt"
	"strconv"
	"strings"

	"media-pipeline/domain/job"
)

// Mix levels for background music; the original track stays dominant
const (
	OriginalVolume = 0.8
	MusicVolume    = 0.2
)

// SubtitleStyle is the fixed presentation used for burned-in subtitles
const SubtitleStyle = "FontName=Arial,FontSize=18,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000," +
	"BackColour=&H80000000,BorderStyle=1,Outline=2,Shadow=0,Alignment=2,MarginV=40"

// Intro audio is generated at this format so it concatenates with the main track
const (
	introSampleRate    = 44100
	introChannelLayout = "stereo"
)

var h264Args = []string{"-c:v", "libx264", "-preset", "veryfast", "-crf", "20", "-pix_fmt", "yuv420p"}

var aacArgs = []string{"-c:a", "aac", "-b:a", "192k"}

// NormalizeSettings bounds the resolution and bitrate of retrieved sources
type NormalizeSettings struct {
	MaxDimension int
	CRF          int
	MaxRate      string
	BufSize      string
	AudioBitrate string
}

// CopyOperation remuxes every stream unchanged into a new file
func CopyOperation(input, output string) Operation {
	return Operation{
		Inputs:     []Input{{Path: input}},
		Maps:       []string{"0"},
		OutputArgs: []string{"-c", "copy"},
		Output:     output,
		Kind:       job.KindVideo,
	}
}

// ExtractAudioOperation produces mono 16kHz 16-bit PCM audio
func ExtractAudioOperation(input, output string) Operation {
	return Operation{
		Inputs:     []Input{{Path: input}},
		Maps:       []string{"0:a:0"},
		OutputArgs: []string{"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le"},
		Output:     output,
		Kind:       job.KindAudio,
	}
}

// GraphOperation applies a caller supplied filter graph to a single input
func GraphOperation(input, output string, graph *FilterGraph) Operation {
	args := append([]string(nil), h264Args...)
	if graph.HasStream(StreamAudio) {
		args = append(args, aacArgs...)
	}
	args = append(args, "-movflags", "+faststart")
	return Operation{
		Inputs:     []Input{{Path: input}},
		Graph:      graph,
		OutputArgs: args,
		Output:     output,
		Kind:       job.KindVideo,
	}
}

// NormalizeOperation re-encodes a raw download into a bounded envelope
func NormalizeOperation(input, output string, s NormalizeSettings) Operation {
	dim := strconv.Itoa(s.MaxDimension)
	scale := fmt.Sprintf("scale='min(%s,iw)':'min(%s,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2", dim, dim)
	args := []string{
		"-c:v", "libx264", "-preset", "veryfast",
		"-crf", strconv.Itoa(s.CRF),
		"-maxrate", s.MaxRate,
		"-bufsize", s.BufSize,
		"-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", s.AudioBitrate,
		"-movflags", "+faststart",
	}
	return Operation{
		Inputs:      []Input{{Path: input}},
		VideoFilter: scale,
		Maps:        []string{"0:v:0", "0:a:0?"},
		OutputArgs:  args,
		Output:      output,
		Kind:        job.KindVideo,
	}
}

// CompositeOptions selects the layers applied by the composite stage
type CompositeOptions struct {
	SubtitlePath   string
	MusicPath      string
	SourceHasAudio bool
}

// CompositeOperation layers background music and burned-in subtitles over
// the working video. With neither layer requested it is a stream copy.
func CompositeOperation(input, output string, o CompositeOptions) Operation {
	if o.SubtitlePath == "" && o.MusicPath == "" {
		return CopyOperation(input, output)
	}

	op := Operation{
		Inputs: []Input{{Path: input}},
		Output: output,
		Kind:   job.KindVideo,
	}
	graph := &FilterGraph{}
	var chains []string

	if o.SubtitlePath != "" {
		chains = append(chains, fmt.Sprintf("[0:v]subtitles=filename=%s:force_style='%s'[vout]",
			QuoteFilterPath(o.SubtitlePath), SubtitleStyle))
		graph.Outputs = append(graph.Outputs, Pad{Label: "vout", Stream: StreamVideo})
		op.OutputArgs = append(op.OutputArgs, h264Args...)
	} else {
		op.Maps = append(op.Maps, "0:v:0")
		op.OutputArgs = append(op.OutputArgs, "-c:v", "copy")
	}

	switch {
	case o.MusicPath != "" && o.SourceHasAudio:
		op.Inputs = append(op.Inputs, Input{Path: o.MusicPath, Options: []string{"-stream_loop", "-1"}})
		chains = append(chains,
			fmt.Sprintf("[0:a]volume=%.2f[a0]", OriginalVolume),
			fmt.Sprintf("[1:a]volume=%.2f[a1]", MusicVolume),
			"[a0][a1]amix=inputs=2:duration=first:dropout_transition=0[aout]")
		graph.Outputs = append(graph.Outputs, Pad{Label: "aout", Stream: StreamAudio})
		op.OutputArgs = append(op.OutputArgs, aacArgs...)
	case o.MusicPath != "":
		op.Inputs = append(op.Inputs, Input{Path: o.MusicPath, Options: []string{"-stream_loop", "-1"}})
		chains = append(chains, fmt.Sprintf("[1:a]volume=%.2f[aout]", MusicVolume))
		graph.Outputs = append(graph.Outputs, Pad{Label: "aout", Stream: StreamAudio})
		op.OutputArgs = append(op.OutputArgs, aacArgs...)
		op.OutputArgs = append(op.OutputArgs, "-shortest")
	default:
		op.Maps = append(op.Maps, "0:a?")
		op.OutputArgs = append(op.OutputArgs, "-c:a", "copy")
	}

	graph.Expr = strings.Join(chains, ";")
	op.Graph = graph
	op.OutputArgs = append(op.OutputArgs, "-movflags", "+faststart")
	return op
}

// ThumbnailOperation prepends a still image held for hold seconds to the main
// video. The still is scaled and padded to the main video's geometry and the
// audio is led by silence of the same length so both streams stay aligned.
func ThumbnailOperation(still, mainVideo, output string, geom Geometry, hold float64, mainHasAudio bool) Operation {
	fps := geom.FrameRate.String()
	holdArg := strconv.FormatFloat(hold, 'f', 3, 64)
	w, h := geom.Width, geom.Height

	inputs := []Input{
		{Path: still, Options: []string{"-loop", "1", "-framerate", fps, "-t", holdArg}},
		{Path: mainVideo},
	}
	chains := []string{
		fmt.Sprintf("[0:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:color=black,setsar=1,fps=%s,format=yuv420p[intro]",
			w, h, w, h, fps),
		fmt.Sprintf("[1:v]scale=%d:%d,setsar=1,fps=%s,format=yuv420p[main]", w, h, fps),
	}
	graph := &FilterGraph{Outputs: []Pad{{Label: "outv", Stream: StreamVideo}}}
	args := append([]string(nil), h264Args...)
	args = append(args, "-r", fps)

	if mainHasAudio {
		silence := fmt.Sprintf("anullsrc=channel_layout=%s:sample_rate=%d", introChannelLayout, introSampleRate)
		inputs = append(inputs, Input{Path: silence, Options: []string{"-f", "lavfi", "-t", holdArg}})
		format := fmt.Sprintf("aformat=sample_rates=%d:channel_layouts=%s", introSampleRate, introChannelLayout)
		chains = append(chains,
			fmt.Sprintf("[2:a]%s[introa]", format),
			fmt.Sprintf("[1:a]aresample=%d,%s[maina]", introSampleRate, format),
			"[intro][introa][main][maina]concat=n=2:v=1:a=1[outv][outa]")
		graph.Outputs = append(graph.Outputs, Pad{Label: "outa", Stream: StreamAudio})
		args = append(args, aacArgs...)
	} else {
		chains = append(chains, "[intro][main]concat=n=2:v=1:a=0[outv]")
	}
	graph.Expr = strings.Join(chains, ";")
	args = append(args, "-movflags", "+faststart")

	return Operation{
		Inputs:     inputs,
		Graph:      graph,
		OutputArgs: args,
		Output:     output,
		Kind:       job.KindVideo,
	}
}

// QuoteFilterPath quotes a file path for use as a filter option value
func QuoteFilterPath(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}
