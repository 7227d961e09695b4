package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/scriptreel/api/internal/client"
	"github.com/scriptreel/api/internal/compose"
	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/script"
	"github.com/scriptreel/api/internal/service"
	"github.com/scriptreel/api/internal/websocket"
)

// GenerateWorker drives a generation job through the pipeline: parse,
// per-scene visual and voice assets, per-scene composites, final
// assembly. Scene work fans out under a shared concurrency cap.
type GenerateWorker struct {
	jobService  *service.JobService
	imageClient client.ImageGenerator
	videoClient client.VideoGenerator
	voiceClient client.VoiceSynthesizer
	storage     client.StorageClient
	composer    *compose.Composer
	hub         *websocket.Hub
	stats       *service.PipelineStats
	cfg         config.PipelineConfig

	// sem caps concurrent provider and encode calls across all jobs.
	sem chan struct{}
}

func NewGenerateWorker(
	jobService *service.JobService,
	imageClient client.ImageGenerator,
	videoClient client.VideoGenerator,
	voiceClient client.VoiceSynthesizer,
	storage client.StorageClient,
	composer *compose.Composer,
	hub *websocket.Hub,
	stats *service.PipelineStats,
	cfg config.PipelineConfig,
) *GenerateWorker {
	workers := cfg.WorkerCount
	if workers < 1 {
		workers = 1
	}
	return &GenerateWorker{
		jobService:  jobService,
		imageClient: imageClient,
		videoClient: videoClient,
		voiceClient: voiceClient,
		storage:     storage,
		composer:    composer,
		hub:         hub,
		stats:       stats,
		cfg:         cfg,
		sem:         make(chan struct{}, workers),
	}
}

// ProcessTask handles generate task processing. Duplicate deliveries
// for jobs already running or finished are dropped without side
// effects.
func (w *GenerateWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var taskPayload struct {
		JobID   string          `json:"jobId"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(t.Payload(), &taskPayload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := taskPayload.JobID
	job, err := w.jobService.Job(ctx, jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			log.Printf("[worker] job %s record gone, dropping task", jobID)
			return nil
		}
		return err
	}
	if job.Status.IsTerminal() {
		log.Printf("[worker] job %s already %s, skipping", jobID, job.Status)
		return nil
	}
	if job.Status == model.JobStatusRunning {
		log.Printf("[worker] job %s already running, skipping duplicate delivery", jobID)
		return nil
	}

	var payload model.GenerateJobPayload
	if err := json.Unmarshal(taskPayload.Payload, &payload); err != nil {
		w.failJob(ctx, jobID, "Invalid payload")
		return fmt.Errorf("failed to unmarshal generate payload: %w", err)
	}

	log.Printf("[worker] starting generate job %s (quality=%s)", jobID, payload.Quality)
	start := time.Now()

	err = w.runPipeline(ctx, jobID, &payload)
	w.stats.AddRenderTime(time.Since(start))

	switch {
	case err == nil:
		log.Printf("[worker] generate job %s completed in %s", jobID, time.Since(start).Round(time.Millisecond))
		return nil
	case errors.Is(err, errCancelled):
		log.Printf("[worker] generate job %s cancelled", jobID)
		return nil
	default:
		w.failJob(ctx, jobID, err.Error())
		return err
	}
}

func (w *GenerateWorker) runPipeline(ctx context.Context, jobID string, payload *model.GenerateJobPayload) error {
	parsed, err := script.Parse(payload.ScriptContent)
	if err != nil {
		return fmt.Errorf("script parsing failed: %v", err)
	}
	if err := script.CheckLimits(parsed, w.cfg.MaxScenes); err != nil {
		return fmt.Errorf("script parsing failed: %v", err)
	}

	tr := newProgressTracker(len(parsed.Scenes))
	w.updateProgress(ctx, jobID, tr.completeUnit(), model.StepParsing)

	// jobCtx dies when the job is cancelled through the API, aborting
	// in-flight provider calls and encodes.
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	stopWatch := w.watchCancellation(jobCtx, jobID, cancelJob)
	defer stopWatch()

	width, height := compose.Resolution(payload.Quality)
	assets := make([]model.SceneAssets, len(parsed.Scenes))

	if err := w.generateVisuals(jobCtx, jobID, parsed, width, height, assets, tr); err != nil {
		return w.phaseError(jobCtx, "scene generation", err)
	}
	if w.isCancelled(ctx, jobID) {
		return errCancelled
	}

	if err := w.synthesizeVoices(jobCtx, jobID, parsed, assets, tr); err != nil {
		return w.phaseError(jobCtx, "voice synthesis", err)
	}
	if w.isCancelled(ctx, jobID) {
		return errCancelled
	}

	if err := w.buildComposites(jobCtx, jobID, parsed, width, height, assets, tr); err != nil {
		return w.phaseError(jobCtx, "composition", err)
	}
	if w.isCancelled(ctx, jobID) {
		return errCancelled
	}

	result, err := w.assemble(jobCtx, jobID, parsed, assets, tr)
	if err != nil {
		return w.phaseError(jobCtx, "assembly", err)
	}

	if err := w.jobService.CompleteJob(ctx, jobID, result); err != nil {
		if errors.Is(err, service.ErrJobTerminal) {
			return errCancelled
		}
		return fmt.Errorf("failed to save result: %v", err)
	}
	w.hub.BroadcastComplete(jobID, result)
	return nil
}

// phaseError folds cancellation into errCancelled and labels anything
// else with the failed phase.
func (w *GenerateWorker) phaseError(ctx context.Context, phase string, err error) error {
	if errors.Is(err, errCancelled) || ctx.Err() != nil {
		return errCancelled
	}
	return fmt.Errorf("%s failed: %v", phase, err)
}

// generateVisuals produces one visual asset per scene, fanned out under
// the worker's concurrency cap.
func (w *GenerateWorker) generateVisuals(ctx context.Context, jobID string, parsed *model.Script, width, height int, assets []model.SceneAssets, tr *progressTracker) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range parsed.Scenes {
		scene := parsed.Scenes[i]
		plannedSec := parsed.PlannedDurationSec(i, w.cfg.DefaultSceneSec)
		g.Go(func() error {
			w.sem <- struct{}{}
			defer func() { <-w.sem }()
			if gctx.Err() != nil {
				return errCancelled
			}

			path, err := w.generateVisual(gctx, jobID, scene, plannedSec, width, height, tr)
			if err != nil {
				return err
			}
			assets[scene.Index].VisualAssetPath = path
			w.updateProgress(ctx, jobID, tr.completeUnit(), model.StepSceneGeneration)
			return nil
		})
	}
	return g.Wait()
}

// generateVisual renders the still for one scene, then optionally
// upgrades it to a moving clip when a video provider is configured.
// Animation failures degrade back to the still instead of failing the
// job.
func (w *GenerateWorker) generateVisual(ctx context.Context, jobID string, scene model.Scene, plannedSec, width, height int, tr *progressTracker) (string, error) {
	prompt := scene.VisualDescription
	if prompt == "" {
		prompt = scene.Title
	}

	stillPath := compose.VisualAssetPath(w.cfg.WorkDir, jobID, scene.Index, "png")
	cancelled := func() bool { return w.isCancelled(ctx, jobID) }
	onRetry := func() { w.recordRetry(ctx, jobID) }

	if w.imageClient != nil && w.imageClient.IsConfigured() {
		start := time.Now()
		attempts, err := callWithRetry(ctx, w.retryPolicy(), cancelled, onRetry, func(callCtx context.Context) error {
			_, callErr := w.imageClient.GenerateImage(callCtx, &client.ImageRequest{
				Prompt:     prompt,
				Width:      width,
				Height:     height,
				OutputPath: stillPath,
			})
			return callErr
		})
		tr.record(model.StageAttempt{
			SceneIndex: scene.Index,
			Stage:      model.StageVisual,
			Attempts:   attempts,
			DurationMs: time.Since(start).Milliseconds(),
			Error:      errText(err),
		})
		if err != nil {
			return "", err
		}
	} else {
		if err := w.composer.RenderPlaceholderStill(ctx, stillPath, scene.Title, width, height); err != nil {
			return "", err
		}
		w.stats.AddMockFallback()
		tr.record(model.StageAttempt{SceneIndex: scene.Index, Stage: model.StageVisual, Attempts: 1, Mock: true})
	}

	if w.videoClient == nil || !w.videoClient.IsConfigured() {
		return stillPath, nil
	}

	clipPath := compose.VisualAssetPath(w.cfg.WorkDir, jobID, scene.Index, "mp4")
	start := time.Now()
	attempts, err := callWithRetry(ctx, w.retryPolicy(), cancelled, onRetry, func(callCtx context.Context) error {
		_, callErr := w.videoClient.GenerateVideo(callCtx, &client.VideoRequest{
			Prompt:      prompt,
			ImagePath:   stillPath,
			DurationSec: plannedSec,
			Width:       width,
			Height:      height,
			OutputPath:  clipPath,
		})
		return callErr
	})
	tr.record(model.StageAttempt{
		SceneIndex: scene.Index,
		Stage:      model.StageVisual,
		Attempts:   attempts,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      errText(err),
	})
	if err != nil {
		if errors.Is(err, errCancelled) {
			return "", err
		}
		log.Printf("[worker] job=%s scene=%d animation failed, keeping still: %v", jobID, scene.Index, err)
		return stillPath, nil
	}
	return clipPath, nil
}

// synthesizeVoices produces the narration track per scene. Scenes
// without narration complete their voice unit immediately.
func (w *GenerateWorker) synthesizeVoices(ctx context.Context, jobID string, parsed *model.Script, assets []model.SceneAssets, tr *progressTracker) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range parsed.Scenes {
		scene := parsed.Scenes[i]
		if scene.Narration == nil {
			w.updateProgress(ctx, jobID, tr.completeUnit(), model.StepVoiceSynthesis)
			continue
		}
		g.Go(func() error {
			w.sem <- struct{}{}
			defer func() { <-w.sem }()
			if gctx.Err() != nil {
				return errCancelled
			}

			path, err := w.synthesizeVoice(gctx, jobID, scene, tr)
			if err != nil {
				return err
			}
			assets[scene.Index].AudioAssetPath = path
			w.updateProgress(ctx, jobID, tr.completeUnit(), model.StepVoiceSynthesis)
			return nil
		})
	}
	return g.Wait()
}

func (w *GenerateWorker) synthesizeVoice(ctx context.Context, jobID string, scene model.Scene, tr *progressTracker) (string, error) {
	voicePath := compose.AudioAssetPath(w.cfg.WorkDir, jobID, scene.Index)

	if w.voiceClient == nil || !w.voiceClient.IsConfigured() {
		seconds := estimateSpeechSeconds(scene.Narration.Text)
		if err := w.composer.RenderPlaceholderVoice(ctx, voicePath, seconds); err != nil {
			return "", err
		}
		w.stats.AddMockFallback()
		tr.record(model.StageAttempt{SceneIndex: scene.Index, Stage: model.StageVoice, Attempts: 1, Mock: true})
		return voicePath, nil
	}

	start := time.Now()
	attempts, err := callWithRetry(ctx, w.retryPolicy(),
		func() bool { return w.isCancelled(ctx, jobID) },
		func() { w.recordRetry(ctx, jobID) },
		func(callCtx context.Context) error {
			_, callErr := w.voiceClient.Synthesize(callCtx, &client.VoiceRequest{
				Text:       scene.Narration.Text,
				Speaker:    scene.Narration.Speaker,
				OutputPath: voicePath,
			})
			return callErr
		})
	tr.record(model.StageAttempt{
		SceneIndex: scene.Index,
		Stage:      model.StageVoice,
		Attempts:   attempts,
		DurationMs: time.Since(start).Milliseconds(),
		Error:      errText(err),
	})
	if err != nil {
		return "", err
	}
	return voicePath, nil
}

// buildComposites renders each scene's clip from its assets. Encoding
// is local and deterministic, so there is no retry here.
func (w *GenerateWorker) buildComposites(ctx context.Context, jobID string, parsed *model.Script, width, height int, assets []model.SceneAssets, tr *progressTracker) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range parsed.Scenes {
		scene := parsed.Scenes[i]
		plannedSec := parsed.PlannedDurationSec(i, w.cfg.DefaultSceneSec)
		g.Go(func() error {
			w.sem <- struct{}{}
			defer func() { <-w.sem }()
			if gctx.Err() != nil {
				return errCancelled
			}

			start := time.Now()
			path, err := w.composer.BuildComposite(gctx, &compose.CompositeRequest{
				JobID:      jobID,
				Scene:      scene,
				Assets:     assets[scene.Index],
				PlannedSec: plannedSec,
				Width:      width,
				Height:     height,
			})
			tr.record(model.StageAttempt{
				SceneIndex: scene.Index,
				Stage:      model.StageComposite,
				Attempts:   1,
				DurationMs: time.Since(start).Milliseconds(),
				Error:      errText(err),
			})
			if err != nil {
				return err
			}
			assets[scene.Index].CompositePath = path
			w.stats.AddScene()
			w.updateProgress(ctx, jobID, tr.completeUnit(), model.StepComposition)
			return nil
		})
	}
	return g.Wait()
}

// assemble concatenates the composites, extracts previews and uploads
// the artifacts when storage is configured.
func (w *GenerateWorker) assemble(ctx context.Context, jobID string, parsed *model.Script, assets []model.SceneAssets, tr *progressTracker) (*model.GenerateJobResult, error) {
	w.updateProgress(ctx, jobID, tr.progress(), model.StepAssembly)

	composites := make(map[int]string, len(assets))
	for i := range assets {
		composites[i] = assets[i].CompositePath
	}

	finalPath, err := w.composer.Assemble(ctx, jobID, composites, len(assets))
	if err != nil {
		return nil, err
	}

	previews := w.composer.ExtractPreviews(ctx, jobID, finalPath)

	duration, err := w.composer.Prober().Duration(ctx, finalPath)
	if err != nil {
		log.Printf("[worker] job=%s final duration probe failed: %v", jobID, err)
	}

	result := &model.GenerateJobResult{
		OutputPath:   finalPath,
		PreviewPaths: previews,
		DurationSec:  duration,
		SceneCount:   len(assets),
		Title:        parsed.Title,
		Attempts:     tr.attemptLog(),
	}

	if w.storage != nil {
		if err := w.uploadArtifacts(ctx, jobID, finalPath, previews, result); err != nil {
			return nil, err
		}
	}

	tr.completeUnit()
	return result, nil
}

func (w *GenerateWorker) uploadArtifacts(ctx context.Context, jobID, finalPath string, previews []string, result *model.GenerateJobResult) error {
	cancelled := func() bool { return w.isCancelled(ctx, jobID) }
	onRetry := func() { w.recordRetry(ctx, jobID) }

	key := compose.StorageKey(jobID, "final.mp4")
	_, err := callWithRetry(ctx, w.retryPolicy(), cancelled, onRetry, func(callCtx context.Context) error {
		url, upErr := w.storage.UploadFile(callCtx, key, finalPath)
		if upErr != nil {
			return upErr
		}
		result.VideoURL = url
		return nil
	})
	if err != nil {
		return fmt.Errorf("video upload failed: %v", err)
	}

	for i, preview := range previews {
		previewKey := compose.StorageKey(jobID, fmt.Sprintf("preview_%d.jpg", i+1))
		url, upErr := w.storage.UploadFile(ctx, previewKey, preview)
		if upErr != nil {
			log.Printf("[worker] job=%s preview upload failed: %v", jobID, upErr)
			continue
		}
		result.PreviewURLs = append(result.PreviewURLs, url)
	}
	return nil
}

// watchCancellation polls the job record and kills jobCtx when a cancel
// request lands, so a cancel interrupts work in flight instead of
// waiting for the next checkpoint.
func (w *GenerateWorker) watchCancellation(ctx context.Context, jobID string, cancelJob context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.isCancelled(ctx, jobID) {
					log.Printf("[worker] job %s cancel requested, stopping pipeline", jobID)
					cancelJob()
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (w *GenerateWorker) retryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts: w.cfg.MaxAttempts,
		base:        w.cfg.RetryBase,
		callTimeout: w.cfg.CallTimeout,
	}
}

func (w *GenerateWorker) isCancelled(ctx context.Context, jobID string) bool {
	cancelled, err := w.jobService.IsCancelled(ctx, jobID)
	if err != nil {
		return false
	}
	return cancelled
}

func (w *GenerateWorker) recordRetry(ctx context.Context, jobID string) {
	if err := w.jobService.RecordRetry(ctx, jobID); err != nil {
		log.Printf("Failed to record retry: %v", err)
	}
}

func (w *GenerateWorker) updateProgress(ctx context.Context, jobID string, progress float64, step string) {
	// 100 is reserved for completed jobs; the final unit lands through
	// CompleteJob.
	if progress >= 100 {
		return
	}
	if err := w.jobService.UpdateJobProgress(ctx, jobID, progress, step); err != nil {
		log.Printf("Failed to update progress: %v", err)
	}
	w.hub.BroadcastProgress(jobID, progress, model.JobStatusRunning, step)
}

func (w *GenerateWorker) failJob(ctx context.Context, jobID, errMsg string) {
	if err := w.jobService.FailJob(ctx, jobID, errMsg); err != nil {
		log.Printf("Failed to mark job as failed: %v", err)
	}
	w.hub.BroadcastError(jobID, "GENERATION_FAILED", errMsg)
}

// estimateSpeechSeconds sizes placeholder narration from text length at
// a rough reading pace.
func estimateSpeechSeconds(text string) float64 {
	seconds := float64(len(text)) / 15.0
	if seconds < 2 {
		return 2
	}
	if seconds > 30 {
		return 30
	}
	return seconds
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
