package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/scriptreel/api/internal/client"
	"github.com/scriptreel/api/internal/compose"
	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/service"
	"github.com/scriptreel/api/internal/websocket"
)

const workerScript = `SCRIPT: Worker Test

[0:00 - Intro]
Visual: deep blue gradient
Narration (amy): "Hello there."

[0:02 - Outro]
Visual: fading stars
ON-SCREEN TEXT: The End

END Worker Test`

// tiny but valid 1x1 PNG, enough for ffmpeg to decode
var pngBytes = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x02, 0x00, 0x00, 0x00, 0x90, 0x77, 0x53, 0xde, 0x00, 0x00, 0x00,
	0x0c, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0xf8, 0xcf, 0xc0, 0x00,
	0x00, 0x00, 0x03, 0x00, 0x01, 0x5e, 0xf3, 0x2a, 0x3a, 0x00, 0x00, 0x00,
	0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

type captureEnqueuer struct {
	tasks []*asynq.Task
}

func (c *captureEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "captured"}, nil
}

type fakeImageClient struct {
	mu         sync.Mutex
	configured bool
	err        error
	onCall     func()
	calls      int
}

func (f *fakeImageClient) GenerateImage(_ context.Context, req *client.ImageRequest) (*client.ImageResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(req.OutputPath, pngBytes, 0o644); err != nil {
		return nil, err
	}
	return &client.ImageResult{Path: req.OutputPath}, nil
}

func (f *fakeImageClient) IsConfigured() bool { return f.configured }

func (f *fakeImageClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type workerFixture struct {
	svc    *service.JobService
	store  *service.MemoryJobStore
	stats  *service.PipelineStats
	enq    *captureEnqueuer
	worker *GenerateWorker
	cfg    config.PipelineConfig
}

func newWorkerFixture(t *testing.T, image client.ImageGenerator) *workerFixture {
	t.Helper()

	store := service.NewMemoryJobStore()
	stats := service.NewPipelineStats()
	enq := &captureEnqueuer{}
	svc := service.NewJobService(store, enq, stats, 50)

	hub := websocket.NewHub()
	go hub.Run()

	cfg := config.PipelineConfig{
		WorkDir:         t.TempDir(),
		MaxScenes:       50,
		WorkerCount:     2,
		MaxAttempts:     2,
		RetryBase:       time.Millisecond,
		CallTimeout:     5 * time.Second,
		DefaultSceneSec: 2,
	}
	encode := config.EncodeConfig{
		VideoCodec:   "libx264",
		Preset:       "ultrafast",
		CRF:          30,
		PixelFormat:  "yuv420p",
		AudioCodec:   "aac",
		AudioBitrate: "96k",
	}
	composer := compose.NewComposer(encode, cfg)

	w := NewGenerateWorker(svc, image, nil, nil, nil, composer, hub, stats, cfg)
	return &workerFixture{svc: svc, store: store, stats: stats, enq: enq, worker: w, cfg: cfg}
}

func (f *workerFixture) startJob(t *testing.T, scriptContent string) (string, *asynq.Task) {
	t.Helper()
	resp, err := f.svc.StartGeneration(context.Background(), &model.GenerateStartRequest{
		ScriptContent: scriptContent,
		Quality:       model.QualityDraft,
		Priority:      5,
	})
	if err != nil {
		t.Fatalf("start generation: %v", err)
	}
	if len(f.enq.tasks) == 0 {
		t.Fatal("expected a captured task")
	}
	return resp.JobID, f.enq.tasks[len(f.enq.tasks)-1]
}

func (f *workerFixture) jobStatus(t *testing.T, jobID string) *model.GenerateStatusResponse {
	t.Helper()
	status, err := f.svc.GetStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	return status
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed, skipping pipeline test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed, skipping pipeline test")
	}
}

func TestProcessTaskSkipsTerminalJob(t *testing.T) {
	f := newWorkerFixture(t, nil)
	jobID, task := f.startJob(t, workerScript)

	if _, err := f.svc.CancelGeneration(context.Background(), jobID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := f.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("terminal job should be skipped cleanly, got %v", err)
	}

	status := f.jobStatus(t, jobID)
	if status.Status != model.JobStatusCancelled {
		t.Fatalf("status must stay CANCELLED, got %s", status.Status)
	}
	if status.Progress != 0 {
		t.Fatalf("skipped job should not gain progress, got %v", status.Progress)
	}
}

func TestProcessTaskSkipsRunningJob(t *testing.T) {
	f := newWorkerFixture(t, nil)
	jobID, task := f.startJob(t, workerScript)

	job, err := f.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	job.Status = model.JobStatusRunning
	if err := f.store.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("save job: %v", err)
	}

	if err := f.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("duplicate delivery should be dropped, got %v", err)
	}

	status := f.jobStatus(t, jobID)
	if status.Status != model.JobStatusRunning {
		t.Fatalf("expected RUNNING untouched, got %s", status.Status)
	}
}

func TestProcessTaskDropsUnknownJob(t *testing.T) {
	f := newWorkerFixture(t, nil)

	envelope, _ := json.Marshal(map[string]interface{}{
		"jobId":   "vanished",
		"payload": json.RawMessage(`{}`),
	})
	task := asynq.NewTask(service.TaskTypeGenerate, envelope)

	if err := f.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("missing job record should drop the task, got %v", err)
	}
}

func TestProcessTaskFailsJobOnBadScript(t *testing.T) {
	f := newWorkerFixture(t, nil)
	ctx := context.Background()

	payloadBytes, _ := json.Marshal(&model.GenerateJobPayload{
		ScriptContent: "no header at all",
		Quality:       model.QualityDraft,
	})
	job := &model.Job{
		ID:        "bad-script-job",
		Type:      model.JobTypeGenerate,
		Status:    model.JobStatusQueued,
		Payload:   payloadBytes,
		CreatedAt: time.Now(),
	}
	if err := f.store.SaveJob(ctx, job); err != nil {
		t.Fatalf("save job: %v", err)
	}

	envelope, _ := json.Marshal(map[string]interface{}{"jobId": job.ID, "payload": json.RawMessage(payloadBytes)})
	task := asynq.NewTask(service.TaskTypeGenerate, envelope)

	if err := f.worker.ProcessTask(ctx, task); err == nil {
		t.Fatal("expected pipeline error for unparseable script")
	}

	status := f.jobStatus(t, job.ID)
	if status.Status != model.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", status.Status)
	}
	if status.Error == nil || !strings.Contains(*status.Error, "script parsing failed") {
		t.Fatalf("expected parsing failure message, got %v", status.Error)
	}
	if status.Progress == 100 {
		t.Fatal("failed job must not report full progress")
	}
}

func TestProcessTaskFatalProviderFailsJob(t *testing.T) {
	image := &fakeImageClient{
		configured: true,
		err:        client.WrapStage(client.ErrFatal, "image", "generate", errors.New("content rejected")),
	}
	f := newWorkerFixture(t, image)
	jobID, task := f.startJob(t, workerScript)

	if err := f.worker.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("expected pipeline error")
	}

	status := f.jobStatus(t, jobID)
	if status.Status != model.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", status.Status)
	}
	if status.Error == nil || !strings.Contains(*status.Error, "scene generation failed") {
		t.Fatalf("expected scene generation failure, got %v", status.Error)
	}
	if status.RetryCount != 0 {
		t.Fatalf("fatal errors must not be retried, retry count %d", status.RetryCount)
	}

	finalPath := compose.FinalVideoPath(f.cfg.WorkDir, jobID)
	if _, err := os.Stat(finalPath); !os.IsNotExist(err) {
		t.Fatal("failed job must not leave a final video")
	}
}

func TestProcessTaskTransientProviderRecordsRetries(t *testing.T) {
	image := &fakeImageClient{
		configured: true,
		err:        client.WrapStage(client.ErrTransient, "image", "generate", errors.New("503")),
	}
	f := newWorkerFixture(t, image)
	jobID, task := f.startJob(t, workerScript)

	if err := f.worker.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("expected pipeline error after exhausting retries")
	}

	status := f.jobStatus(t, jobID)
	if status.Status != model.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", status.Status)
	}
	if status.RetryCount == 0 {
		t.Fatal("transient failures should record retries")
	}
	// two scenes, each allowed maxAttempts=2, so one retry per scene at most
	if image.callCount() > 4 {
		t.Fatalf("retry budget exceeded: %d calls", image.callCount())
	}
}

func TestProcessTaskCancelDuringVisuals(t *testing.T) {
	f := newWorkerFixture(t, nil)
	image := &fakeImageClient{configured: true}
	f.worker.imageClient = image

	jobID, task := f.startJob(t, workerScript)
	image.onCall = func() {
		// cancel lands while the visual phase is still running
		f.svc.CancelGeneration(context.Background(), jobID)
	}

	if err := f.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("cancelled job is an outcome, not an error: %v", err)
	}

	status := f.jobStatus(t, jobID)
	if status.Status != model.JobStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", status.Status)
	}

	finalPath := compose.FinalVideoPath(f.cfg.WorkDir, jobID)
	if _, err := os.Stat(finalPath); !os.IsNotExist(err) {
		t.Fatal("cancelled job must not produce a final video")
	}
}

func TestGeneratePipelineEndToEnd(t *testing.T) {
	requireFFmpeg(t)
	if testing.Short() {
		t.Skip("skipping pipeline test in short mode")
	}

	f := newWorkerFixture(t, nil) // no providers: placeholder assets throughout
	jobID, task := f.startJob(t, workerScript)

	if err := f.worker.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	status := f.jobStatus(t, jobID)
	if status.Status != model.JobStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s (error=%v)", status.Status, status.Error)
	}
	if status.Progress != 100 {
		t.Fatalf("completed job must report 100, got %v", status.Progress)
	}

	result, err := f.svc.GetResult(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if result.SceneCount != 2 {
		t.Fatalf("expected 2 scenes, got %d", result.SceneCount)
	}
	if result.Title != "Worker Test" {
		t.Fatalf("expected script title, got %q", result.Title)
	}
	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Fatalf("final video missing: %v", err)
	}
	if result.DurationSec <= 0 {
		t.Fatalf("expected positive duration, got %v", result.DurationSec)
	}
	if len(result.PreviewPaths) == 0 {
		t.Fatal("expected at least one preview frame")
	}
	for _, p := range result.PreviewPaths {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("preview missing: %v", err)
		}
	}
	if len(result.Attempts) == 0 {
		t.Fatal("expected stage attempts in result")
	}

	snap := f.stats.Snapshot()
	if snap.MockFallbacks < 3 {
		t.Fatalf("expected placeholder fallbacks for visuals and voice, got %d", snap.MockFallbacks)
	}
	if snap.ScenesRendered != 2 {
		t.Fatalf("expected 2 scenes rendered, got %d", snap.ScenesRendered)
	}
}
