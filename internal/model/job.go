package model

import "time"

// Job represents one generation run in the system
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      JobStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	Result      []byte     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount"`
}

// Job types
const (
	JobTypeGenerate = "generate"
)

// GenerateJobPayload contains the data for a video generation job
type GenerateJobPayload struct {
	ScriptContent string  `json:"scriptContent"`
	Quality       Quality `json:"quality"`
	Priority      int     `json:"priority"`
}

// SceneAssets holds the artifact paths produced for one scene. Each field
// is set exactly once; a composite cannot be built until the first two
// are present.
type SceneAssets struct {
	VisualAssetPath string `json:"visualAssetPath,omitempty"`
	AudioAssetPath  string `json:"audioAssetPath,omitempty"`
	CompositePath   string `json:"compositePath,omitempty"`
}

// StageAttempt records how one scene stage went, kept for diagnostics
// even when the job fails later.
type StageAttempt struct {
	SceneIndex int    `json:"sceneIndex"`
	Stage      string `json:"stage"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"durationMs"`
	Mock       bool   `json:"mock,omitempty"`
	Error      string `json:"error,omitempty"`
}

// GenerateJobResult is stored on the job record once the run reaches a
// terminal state.
type GenerateJobResult struct {
	VideoURL     string         `json:"videoUrl,omitempty"`
	OutputPath   string         `json:"outputPath,omitempty"`
	PreviewURLs  []string       `json:"previewUrls,omitempty"`
	PreviewPaths []string       `json:"previewPaths,omitempty"`
	DurationSec  float64        `json:"durationSec,omitempty"`
	SceneCount   int            `json:"sceneCount"`
	Title        string         `json:"title,omitempty"`
	Attempts     []StageAttempt `json:"attempts,omitempty"`
}
