package media

import (
	"fmt"
	"sort"
	"strings"

	"media-pipeline/domain/job"
)

// Segment is a time range to cut out of a video
type Segment struct {
	Start Timestamp
	End   Timestamp
}

// NewSegment parses start and end timestamps into a Segment
func NewSegment(start, end string) (Segment, error) {
	s, err := ParseTimestamp(start)
	if err != nil {
		return Segment{}, job.Invalidf("invalid segment start: %v", err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return Segment{}, job.Invalidf("invalid segment end: %v", err)
	}
	seg := Segment{Start: s, End: e}
	if err := seg.Validate(); err != nil {
		return Segment{}, err
	}
	return seg, nil
}

// Validate checks that the segment ends after it starts
func (s Segment) Validate() error {
	if !s.Start.Before(s.End) {
		return job.Invalidf("segment end %s must be after start %s", s.End, s.Start)
	}
	return nil
}

// SegmentsGraph compiles segments to remove into a select/aselect filter graph
// with [outv] and, when the input has audio, [outa] output pads.
func SegmentsGraph(segments []Segment, withAudio bool) (*FilterGraph, error) {
	if len(segments) == 0 {
		return nil, job.Invalidf("no segments to remove")
	}
	sorted := append([]Segment(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	terms := make([]string, 0, len(sorted))
	for i, seg := range sorted {
		if err := seg.Validate(); err != nil {
			return nil, err
		}
		if i > 0 && seg.Start.Before(sorted[i-1].End) {
			return nil, job.Invalidf("segments %s-%s and %s-%s overlap", sorted[i-1].Start, sorted[i-1].End, seg.Start, seg.End)
		}
		terms = append(terms, fmt.Sprintf("between(t,%.3f,%.3f)", seg.Start.TotalSeconds(), seg.End.TotalSeconds()))
	}
	keep := "not(" + strings.Join(terms, "+") + ")"

	graph := &FilterGraph{
		Expr:    fmt.Sprintf("[0:v]select='%s',setpts=N/FRAME_RATE/TB[outv]", keep),
		Outputs: []Pad{{Label: "outv", Stream: StreamVideo}},
	}
	if withAudio {
		graph.Expr += fmt.Sprintf(";[0:a]aselect='%s',asetpts=N/SR/TB[outa]", keep)
		graph.Outputs = append(graph.Outputs, Pad{Label: "outa", Stream: StreamAudio})
	}
	return graph, nil
}
