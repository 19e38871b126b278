package job

import (
	"fmt"
	"time"
)

// Stage is a position in the job state machine
type Stage string

const (
	StageCreated         Stage = "created"
	StageRetrieved       Stage = "retrieved"
	StageAudioExtracted  Stage = "audio_extracted"
	StageSegmentsRemoved Stage = "segments_removed"
	StageComposited      Stage = "composited"
	StageFailed          Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageCreated:         0,
	StageRetrieved:       1,
	StageAudioExtracted:  2,
	StageSegmentsRemoved: 3,
	StageComposited:      4,
}

// Slot names one of the artifact positions owned by a job
type Slot string

const (
	SlotSource  Slot = "source"
	SlotAudio   Slot = "audio"
	SlotWorking Slot = "working"
	SlotFinal   Slot = "final"
)

// Job is the unit of work flowing through the pipeline.
// Each job owns its artifacts; nothing is shared between jobs.
type Job struct {
	ID        string    `json:"id"`
	Stage     Stage     `json:"stage"`
	Source    *Artifact `json:"source,omitempty"`
	Audio     *Artifact `json:"audio,omitempty"`
	Working   *Artifact `json:"working,omitempty"`
	Final     *Artifact `json:"final,omitempty"`
	Failure   string    `json:"failure,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a job in the Created stage
func New(id string, now time.Time) *Job {
	return &Job{
		ID:        id,
		Stage:     StageCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FinalArtifact returns the final artifact, or nil unless the job is Composited
func (j *Job) FinalArtifact() *Artifact {
	if j.Stage != StageComposited {
		return nil
	}
	return j.Final
}

// Artifact returns the artifact held in a slot
func (j *Job) Artifact(slot Slot) *Artifact {
	switch slot {
	case SlotSource:
		return j.Source
	case SlotAudio:
		return j.Audio
	case SlotWorking:
		return j.Working
	case SlotFinal:
		return j.Final
	}
	return nil
}

// Replace stores art in slot and returns the artifacts that are no longer
// referenced by any slot and should be released.
func (j *Job) Replace(slot Slot, art *Artifact) []Artifact {
	old := j.Artifact(slot)
	switch slot {
	case SlotSource:
		j.Source = art
	case SlotAudio:
		j.Audio = art
	case SlotWorking:
		j.Working = art
	case SlotFinal:
		j.Final = art
	}
	if old == nil || (art != nil && old.Path == art.Path) || j.References(old.Path) {
		return nil
	}
	return []Artifact{*old}
}

// References reports whether any slot holds an artifact at path
func (j *Job) References(path string) bool {
	for _, a := range []*Artifact{j.Source, j.Audio, j.Working, j.Final} {
		if a != nil && a.Path == path {
			return true
		}
	}
	return false
}

// Artifacts returns every distinct artifact the job holds
func (j *Job) Artifacts() []Artifact {
	seen := make(map[string]bool)
	var out []Artifact
	for _, a := range []*Artifact{j.Source, j.Audio, j.Working, j.Final} {
		if a == nil || seen[a.Path] {
			continue
		}
		seen[a.Path] = true
		out = append(out, *a)
	}
	return out
}

// Advance moves the job to a completed stage and clears any previous failure
func (j *Job) Advance(to Stage, now time.Time) {
	j.Stage = to
	j.Failure = ""
	j.UpdatedAt = now
}

// Progress returns the furthest stage the job has completed. For a failed
// job it is derived from the slots that survived the failure; a final
// artifact never counts, so a failed job must composite again.
func (j *Job) Progress() Stage {
	if j.Stage != StageFailed {
		return j.Stage
	}
	switch {
	case j.Working != nil:
		return StageSegmentsRemoved
	case j.Audio != nil:
		return StageAudioExtracted
	case j.Source != nil:
		return StageRetrieved
	}
	return StageCreated
}

// Reached reports whether the job has completed stage s
func (j *Job) Reached(s Stage) bool {
	return stageOrder[j.Progress()] >= stageOrder[s]
}

// Fail marks the job as failed; artifacts of earlier stages are kept
func (j *Job) Fail(err error, now time.Time) {
	j.Stage = StageFailed
	j.Failure = err.Error()
	j.UpdatedAt = now
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	c := *j
	for _, p := range []**Artifact{&c.Source, &c.Audio, &c.Working, &c.Final} {
		if *p != nil {
			a := **p
			*p = &a
		}
	}
	return &c
}

// String implements fmt.Stringer
func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s)", j.ID, j.Stage)
}
