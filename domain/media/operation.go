package media

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"media-pipeline/domain/job"
)

// StreamKind is the container stream a filter graph output pad feeds
type StreamKind string

const (
	StreamVideo StreamKind = "video"
	StreamAudio StreamKind = "audio"
)

// Pad is a named filter graph output that must be mapped into the container
type Pad struct {
	Label  string     `json:"label"`
	Stream StreamKind `json:"stream"`
}

// FilterGraph is a labeled multi-stream graph with explicit output pads
type FilterGraph struct {
	Expr    string `json:"expr"`
	Outputs []Pad  `json:"outputs"`
}

// Input is one ordered input of a transcode operation
type Input struct {
	Path    string
	Options []string // placed before -i, e.g. -loop 1
}

// Operation describes one external transcoder invocation
type Operation struct {
	Inputs      []Input
	VideoFilter string
	AudioFilter string
	Graph       *FilterGraph
	Maps        []string
	OutputArgs  []string
	Output      string
	Kind        job.Kind
	Timeout     time.Duration
}

// Validate checks that the operation is well formed.
// Problems here are caller errors and are never retried.
func (o *Operation) Validate() error {
	if len(o.Inputs) == 0 {
		return job.Invalidf("transcode operation has no inputs")
	}
	for i, in := range o.Inputs {
		if strings.TrimSpace(in.Path) == "" {
			return job.Invalidf("transcode input %d has no path", i)
		}
	}
	if strings.TrimSpace(o.Output) == "" {
		return job.Invalidf("transcode operation has no output path")
	}
	if o.Graph != nil {
		if o.VideoFilter != "" || o.AudioFilter != "" {
			return job.Invalidf("transcode operation mixes a filter graph with simple filters")
		}
		return o.Graph.Validate()
	}
	return nil
}

// Validate checks that the declared output pads are exactly the labels the
// expression leaves unconnected and that each carries a stream kind.
func (g *FilterGraph) Validate() error {
	if strings.TrimSpace(g.Expr) == "" {
		return &job.ValidationError{
			Message:    "filter graph expression is empty",
			Suggestion: "omit the filter graph to copy the input unchanged",
		}
	}
	if len(g.Outputs) == 0 {
		return job.Invalidf("filter graph declares no output pads")
	}
	consumed, produced := g.links()
	declared := make(map[string]bool, len(g.Outputs))
	for _, pad := range g.Outputs {
		label := pad.Name()
		if label == "" {
			return job.Invalidf("filter graph output pad has no label")
		}
		if declared[label] {
			return job.Invalidf("filter graph output pad [%s] declared twice", label)
		}
		declared[label] = true
		if pad.Stream != StreamVideo && pad.Stream != StreamAudio {
			return job.Invalidf("filter graph output pad [%s] has no stream kind (video or audio)", label)
		}
		if consumed[label] {
			return job.Invalidf("filter graph output pad [%s] is consumed inside the graph", label)
		}
		if !produced[label] {
			return job.Invalidf("filter graph does not produce declared pad [%s]", label)
		}
	}
	for _, label := range sortedKeys(produced) {
		if !consumed[label] && !declared[label] {
			return &job.ValidationError{
				Message:    fmt.Sprintf("filter graph output [%s] is not declared as an output pad", label),
				Suggestion: "declare every unconnected output label with its stream kind",
			}
		}
	}
	return nil
}

// links returns the labels read by some filter and the labels written by
// some filter.
func (g *FilterGraph) links() (consumed, produced map[string]bool) {
	consumed = make(map[string]bool)
	produced = make(map[string]bool)
	for _, filter := range splitFilters(g.Expr) {
		rest := strings.TrimSpace(filter)
		for strings.HasPrefix(rest, "[") {
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				break
			}
			consumed[strings.TrimSpace(rest[1:end])] = true
			rest = strings.TrimSpace(rest[end+1:])
		}
		for strings.HasSuffix(rest, "]") {
			start := strings.LastIndexByte(rest, '[')
			if start < 0 {
				break
			}
			produced[strings.TrimSpace(rest[start+1:len(rest)-1])] = true
			rest = strings.TrimSpace(rest[:start])
		}
	}
	return consumed, produced
}

// splitFilters splits a graph expression into filters on the chain (,) and
// graph (;) separators. Separators inside single quotes or after a backslash
// belong to the filter arguments.
func splitFilters(expr string) []string {
	var (
		filters []string
		start   int
		quoted  bool
	)
	for i := 0; i < len(expr); i++ {
		switch c := expr[i]; {
		case c == '\\' && !quoted:
			i++
		case c == '\'':
			quoted = !quoted
		case (c == ',' || c == ';') && !quoted:
			filters = append(filters, expr[start:i])
			start = i + 1
		}
	}
	return append(filters, expr[start:])
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasStream reports whether any declared pad feeds the given stream kind
func (g *FilterGraph) HasStream(kind StreamKind) bool {
	for _, pad := range g.Outputs {
		if pad.Stream == kind {
			return true
		}
	}
	return false
}

// Name returns the pad label without surrounding brackets
func (p Pad) Name() string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(p.Label), "[]"))
}

// MapArg returns the -map argument for the pad
func (p Pad) MapArg() string {
	return fmt.Sprintf("[%s]", p.Name())
}
