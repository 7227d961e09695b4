package e2e

import (
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/scriptreel/api/internal/compose"
	"github.com/scriptreel/api/internal/config"
	"github.com/scriptreel/api/internal/handler"
	"github.com/scriptreel/api/internal/middleware"
	"github.com/scriptreel/api/internal/model"
	"github.com/scriptreel/api/internal/service"
	"github.com/scriptreel/api/internal/websocket"
	"github.com/scriptreel/api/internal/worker"
)

func requireFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("skipping: %s not on PATH", bin)
		}
	}
}

// setupPipelineApp creates a full app with a running Asynq worker. All
// provider clients are nil, so every stage renders placeholder assets
// and the pipeline needs nothing beyond Redis and ffmpeg.
func setupPipelineApp(t *testing.T) *fiber.App {
	t.Helper()

	addr := redisAddr(t)
	requireFFmpeg(t)

	redisClient := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   15,
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: addr,
		DB:   15,
	})

	validate := validator.New()

	hub := websocket.NewHub()
	go hub.Run()

	pipelineCfg := config.PipelineConfig{
		WorkDir:         t.TempDir(),
		MaxScenes:       50,
		WorkerCount:     2,
		MaxAttempts:     2,
		RetryBase:       100 * time.Millisecond,
		CallTimeout:     30 * time.Second,
		DefaultSceneSec: 2,
	}
	encodeCfg := config.EncodeConfig{
		FFmpegPath:   "ffmpeg",
		FFprobePath:  "ffprobe",
		VideoCodec:   "libx264",
		Preset:       "ultrafast",
		CRF:          30,
		PixelFormat:  "yuv420p",
		AudioCodec:   "aac",
		AudioBitrate: "96k",
		FastStart:    true,
	}
	composer := compose.NewComposer(encodeCfg, pipelineCfg)

	// Services
	stats := service.NewPipelineStats()
	jobStore := service.NewRedisJobStore(redisClient)
	jobService := service.NewJobService(jobStore, asynqClient, stats, 50)
	scriptService := service.NewScriptService(50)

	// Handlers
	generateHandler := handler.NewGenerateHandler(jobService, validate)
	scriptHandler := handler.NewScriptHandler(scriptService, validate)
	statsHandler := handler.NewStatsHandler(stats)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	api := app.Group("/api")

	generate := api.Group("/generate")
	generate.Post("/start", rateLimiter.GenerateLimit(10000), generateHandler.Start)
	generate.Get("/status/:jobId", generateHandler.Status)
	generate.Get("/result/:jobId", generateHandler.Result)
	generate.Post("/cancel/:jobId", generateHandler.Cancel)

	script := api.Group("/script", rateLimiter.ValidateLimit(10000))
	script.Post("/validate", scriptHandler.Validate)

	api.Get("/pipeline/stats", statsHandler.Pipeline)

	// Start Asynq worker server (non-blocking)
	asynqSrv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr: addr,
			DB:   15,
		},
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				service.QueueHigh:    6,
				service.QueueDefault: 3,
				service.QueueLow:     1,
			},
			LogLevel: asynq.WarnLevel,
		},
	)

	generateWorker := worker.NewGenerateWorker(
		jobService, nil, nil, nil, nil, composer, hub, stats, pipelineCfg,
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGenerate, generateWorker.ProcessTask)

	if err := asynqSrv.Start(mux); err != nil {
		t.Fatalf("failed to start asynq worker: %v", err)
	}

	t.Cleanup(func() {
		asynqSrv.Shutdown()
		asynqClient.Close()
		redisClient.Close()
	})

	return app
}

// TestGenerateFullPipeline_Local drives one job end to end through the
// queue. Placeholder rendering keeps everything on this machine, so the
// run takes seconds rather than minutes.
func TestGenerateFullPipeline_Local(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full pipeline test in short mode")
	}

	app := setupPipelineApp(t)

	// Step 1: Start a generation job
	body := generateStartBody(t, sampleScript, "draft", 8)

	t.Log("Starting generation job...")
	resp, err := doRequest(app, http.MethodPost, "/api/generate/start", body, nil)
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	startResult := parseJSON(t, resp)
	jobID, ok := startResult["jobId"].(string)
	if !ok || jobID == "" {
		t.Fatal("expected jobId in start response")
	}
	t.Logf("Job started: %s (status: %s)", jobID, startResult["status"])

	// Step 2: Poll for completion (max 3 minutes)
	deadline := time.Now().Add(3 * time.Minute)
	pollInterval := 2 * time.Second
	var lastStatus string
	var lastProgress float64

	for time.Now().Before(deadline) {
		time.Sleep(pollInterval)

		resp, err = doRequest(app, http.MethodGet, "/api/generate/status/"+jobID, "", nil)
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusOK)

		statusResult := parseJSON(t, resp)
		status := statusResult["status"].(string)
		progress := statusResult["progress"].(float64)
		step := ""
		if s, ok := statusResult["currentStep"].(string); ok {
			step = s
		}

		if progress < lastProgress {
			t.Errorf("progress went backwards: %.0f -> %.0f", lastProgress, progress)
		}
		lastProgress = progress

		if status != lastStatus {
			t.Logf("Job %s: status=%s progress=%.0f%% step=%s", jobID, status, progress, step)
			lastStatus = status
		}

		switch model.JobStatus(status) {
		case model.JobStatusCompleted:
			if progress != 100 {
				t.Errorf("expected progress 100 on completion, got %.0f", progress)
			}
			t.Log("Job completed successfully!")
			goto checkResult

		case model.JobStatusFailed:
			errMsg := "unknown"
			if e, ok := statusResult["error"].(string); ok {
				errMsg = e
			}
			t.Fatalf("Job failed: %s", errMsg)

		case model.JobStatusCancelled:
			t.Fatal("Job was cancelled unexpectedly")
		}
	}
	t.Fatal("Job timed out after 3 minutes")

checkResult:
	// Step 3: Get the result
	resp, err = doRequest(app, http.MethodGet, "/api/generate/result/"+jobID, "", nil)
	if err != nil {
		t.Fatalf("result request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)

	if result["sceneCount"] != float64(2) {
		t.Errorf("expected sceneCount 2, got %v", result["sceneCount"])
	}
	if result["title"] != "E2E Demo" {
		t.Errorf("expected title 'E2E Demo', got %v", result["title"])
	}

	outputPath, _ := result["outputPath"].(string)
	if outputPath == "" {
		t.Fatal("expected 'outputPath' in result")
	}
	if _, err := os.Stat(outputPath); err != nil {
		t.Errorf("expected final video on disk: %v", err)
	}

	duration, _ := result["durationSec"].(float64)
	if duration <= 0 {
		t.Errorf("expected positive durationSec, got %v", result["durationSec"])
	}
	t.Logf("Result: output=%s duration=%.2fs", outputPath, duration)

	previews, ok := result["previewPaths"].([]interface{})
	if !ok || len(previews) == 0 {
		t.Fatal("expected at least one preview frame")
	}
	for i, p := range previews {
		path := p.(string)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("preview[%d]: expected file on disk: %v", i, err)
		}
	}

	attempts, ok := result["attempts"].([]interface{})
	if !ok || len(attempts) == 0 {
		t.Error("expected stage attempts in result")
	}

	t.Logf("Full generation pipeline completed with %d previews", len(previews))
}
