package job

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func art(path string) *Artifact {
	return &Artifact{Path: path, Kind: KindVideo, SizeBytes: 1}
}

func TestJob_FinalArtifact(t *testing.T) {
	j := New("a", t0)
	j.Replace(SlotSource, art("/src"))
	j.Replace(SlotWorking, art("/work"))
	j.Replace(SlotFinal, art("/final"))
	j.Advance(StageSegmentsRemoved, t0)

	if j.FinalArtifact() != nil {
		t.Error("FinalArtifact() should be nil before Composited")
	}
	j.Advance(StageComposited, t0)
	if got := j.FinalArtifact(); got == nil || got.Path != "/final" {
		t.Errorf("FinalArtifact() = %+v, want /final", got)
	}
	j.Fail(errors.New("boom"), t0)
	if j.FinalArtifact() != nil {
		t.Error("FinalArtifact() should be nil for a failed job")
	}
}

func TestJob_Replace(t *testing.T) {
	j := New("a", t0)
	if released := j.Replace(SlotWorking, art("/w1")); len(released) != 0 {
		t.Errorf("first Replace released %v", released)
	}

	// Shared artifact stays until no slot references it.
	j.Replace(SlotFinal, art("/w1"))
	if released := j.Replace(SlotWorking, art("/w2")); len(released) != 0 {
		t.Errorf("Replace released %v while final still references it", released)
	}
	released := j.Replace(SlotFinal, art("/w2"))
	if len(released) != 1 || released[0].Path != "/w1" {
		t.Errorf("Replace released %v, want /w1", released)
	}

	// Replacing with the same path releases nothing.
	if released := j.Replace(SlotWorking, art("/w2")); len(released) != 0 {
		t.Errorf("same path Replace released %v", released)
	}

	if got := len(j.Artifacts()); got != 1 {
		t.Errorf("Artifacts() = %d distinct, want 1", got)
	}
}

func TestJob_Progress(t *testing.T) {
	tests := []struct {
		name  string
		slots map[Slot]string
		want  Stage
	}{
		{name: "nothing", want: StageCreated},
		{name: "source", slots: map[Slot]string{SlotSource: "/s"}, want: StageRetrieved},
		{name: "audio", slots: map[Slot]string{SlotSource: "/s", SlotAudio: "/a"}, want: StageAudioExtracted},
		{name: "working", slots: map[Slot]string{SlotSource: "/s", SlotWorking: "/w"}, want: StageSegmentsRemoved},
		{name: "final never counts", slots: map[Slot]string{SlotSource: "/s", SlotWorking: "/w", SlotFinal: "/f"}, want: StageSegmentsRemoved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New("a", t0)
			for slot, path := range tt.slots {
				j.Replace(slot, art(path))
			}
			j.Fail(errors.New("x"), t0)
			if got := j.Progress(); got != tt.want {
				t.Errorf("Progress() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestJob_Reached(t *testing.T) {
	j := New("a", t0)
	j.Advance(StageAudioExtracted, t0)
	if !j.Reached(StageRetrieved) || !j.Reached(StageAudioExtracted) {
		t.Error("Reached() should include earlier stages")
	}
	if j.Reached(StageSegmentsRemoved) {
		t.Error("Reached(SegmentsRemoved) should be false")
	}
}

func TestJob_FailAndAdvance(t *testing.T) {
	j := New("a", t0)
	later := t0.Add(time.Minute)
	j.Fail(fmt.Errorf("extract audio: %w", &TranscodeError{ExitCode: 1}), later)
	if j.Stage != StageFailed || j.Failure == "" || !j.UpdatedAt.Equal(later) {
		t.Errorf("Fail() = %+v", j)
	}
	j.Advance(StageRetrieved, later)
	if j.Failure != "" {
		t.Error("Advance() should clear the failure")
	}
}

func TestJob_Clone(t *testing.T) {
	j := New("a", t0)
	j.Replace(SlotSource, art("/s"))
	c := j.Clone()
	c.Source.Path = "/other"
	if j.Source.Path != "/s" {
		t.Error("Clone() should deep copy artifacts")
	}
}

func TestKind_Extension(t *testing.T) {
	cases := map[Kind]string{KindVideo: ".mp4", KindAudio: ".wav", KindSubtitle: ".srt", KindMusic: ".mp3", KindThumbnail: ".png"}
	for kind, want := range cases {
		if got := kind.Extension(); got != want {
			t.Errorf("%s.Extension() = %q, want %q", kind, got, want)
		}
	}
}
