package compose

import (
	"fmt"
	"path/filepath"
)

// Fixed, job-scoped artifact layout. Collaborators (storage upload, UI)
// can locate every output from the job id alone, without reading the job
// record. All artifacts for a job live under <workDir>/jobs/<jobID>/.

// JobDir returns the working directory for one job's assets.
func JobDir(workDir, jobID string) string {
	return filepath.Join(workDir, "jobs", jobID)
}

// VisualAssetPath is the generated still or clip for a scene. ext is
// "png" for stills and "mp4" for provider clips.
func VisualAssetPath(workDir, jobID string, sceneIndex int, ext string) string {
	return filepath.Join(JobDir(workDir, jobID), fmt.Sprintf("scene_%d_visual.%s", sceneIndex, ext))
}

// AudioAssetPath is the synthesized narration for a scene.
func AudioAssetPath(workDir, jobID string, sceneIndex int) string {
	return filepath.Join(JobDir(workDir, jobID), fmt.Sprintf("scene_%d_voice.mp3", sceneIndex))
}

// CompositePath is the rendered per-scene composite clip.
func CompositePath(workDir, jobID string, sceneIndex int) string {
	return filepath.Join(JobDir(workDir, jobID), fmt.Sprintf("scene_%d_composite.mp4", sceneIndex))
}

// ConcatListPath is the concat descriptor consumed by assembly.
func ConcatListPath(workDir, jobID string) string {
	return filepath.Join(JobDir(workDir, jobID), "concat.txt")
}

// FinalVideoPath is the assembled output file.
func FinalVideoPath(workDir, jobID string) string {
	return filepath.Join(JobDir(workDir, jobID), "final.mp4")
}

// PreviewFramePath is the nth extracted preview frame, 1-based.
func PreviewFramePath(workDir, jobID string, n int) string {
	return filepath.Join(JobDir(workDir, jobID), fmt.Sprintf("preview_%d.jpg", n))
}

// StorageKey is the object key used when uploading a job artifact.
func StorageKey(jobID, filename string) string {
	return fmt.Sprintf("jobs/%s/%s", jobID, filename)
}
