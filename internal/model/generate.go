package model

import "time"

// GenerateStartRequest represents the request to start a generation job
type GenerateStartRequest struct {
	ScriptContent string  `json:"scriptContent" validate:"required,min=10,max=200000"`
	Quality       Quality `json:"quality" validate:"required,oneof=draft standard high"`
	Priority      int     `json:"priority" validate:"min=0,max=10"`
}

// GenerateStartResponse represents the response when starting a generation
type GenerateStartResponse struct {
	JobID      string    `json:"jobId"`
	Status     JobStatus `json:"status"`
	SceneCount int       `json:"sceneCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// GenerateStatusResponse is the poll contract for a generation job.
// Progress and Status are always consistent: Progress is 100 exactly
// when Status is COMPLETED.
type GenerateStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error"`
	VideoURL    string     `json:"videoUrl,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	RetryCount  int        `json:"retryCount"`
}

// GenerateResultResponse represents the result of a completed generation
type GenerateResultResponse struct {
	JobID        string         `json:"jobId"`
	Title        string         `json:"title,omitempty"`
	VideoURL     string         `json:"videoUrl,omitempty"`
	OutputPath   string         `json:"outputPath,omitempty"`
	PreviewURLs  []string       `json:"previewUrls,omitempty"`
	PreviewPaths []string       `json:"previewPaths,omitempty"`
	DurationSec  float64        `json:"durationSec,omitempty"`
	SceneCount   int            `json:"sceneCount"`
	CreatedAt    time.Time      `json:"createdAt"`
	Attempts     []StageAttempt `json:"attempts,omitempty"`
}

// GenerateCancelResponse represents the response when cancelling a generation
type GenerateCancelResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}

// ScriptValidateRequest represents a synchronous parse request
type ScriptValidateRequest struct {
	ScriptContent string `json:"scriptContent" validate:"required,min=1,max=200000"`
}

// ScriptValidateResponse summarizes a parsed script without creating a job
type ScriptValidateResponse struct {
	Valid      bool           `json:"valid"`
	Title      string         `json:"title,omitempty"`
	SceneCount int            `json:"sceneCount"`
	Scenes     []ScenePreview `json:"scenes,omitempty"`
}

// ScenePreview is one row of the validation summary
type ScenePreview struct {
	Index          int    `json:"index"`
	StartOffsetSec int    `json:"startOffsetSec"`
	Title          string `json:"title"`
	HasNarration   bool   `json:"hasNarration"`
	Speaker        string `json:"speaker,omitempty"`
	OverlayCount   int    `json:"overlayCount"`
}

// PipelineStatsResponse is the stats aggregator snapshot
type PipelineStatsResponse struct {
	JobsStarted      int64   `json:"jobsStarted"`
	JobsCompleted    int64   `json:"jobsCompleted"`
	JobsFailed       int64   `json:"jobsFailed"`
	JobsCancelled    int64   `json:"jobsCancelled"`
	ScenesRendered   int64   `json:"scenesRendered"`
	RetriesAttempted int64   `json:"retriesAttempted"`
	MockFallbacks    int64   `json:"mockFallbacks"`
	RenderSeconds    float64 `json:"renderSeconds"`
}
