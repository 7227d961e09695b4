package model

// Job status
type JobStatus string

const (
	JobStatusCreated   JobStatus = "CREATED"
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

var ValidJobStatuses = []JobStatus{
	JobStatusCreated, JobStatusQueued, JobStatusRunning,
	JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
}

// IsTerminal reports whether no further transition is possible from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Output quality levels
type Quality string

const (
	QualityDraft    Quality = "draft"
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

var ValidQualities = []Quality{QualityDraft, QualityStandard, QualityHigh}

// Pipeline steps, in execution order. CurrentStep on a running job is
// always one of these.
const (
	StepParsing         = "parsing"
	StepSceneGeneration = "scene generation"
	StepVoiceSynthesis  = "voice synthesis"
	StepComposition     = "composition"
	StepAssembly        = "assembly"
)

// Scene stage names used in attempt diagnostics.
const (
	StageVisual    = "visual"
	StageVoice     = "voice"
	StageComposite = "composite"
	StageAssemble  = "assemble"
)
