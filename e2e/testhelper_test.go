package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/scriptreel/api/internal/handler"
	"github.com/scriptreel/api/internal/middleware"
	"github.com/scriptreel/api/internal/service"
)

// sampleScript is a minimal two-scene script in the wire format.
const sampleScript = `SCRIPT: E2E Demo

[0:00 - Opening]
Visual: A sunrise over rolling hills
Narration (amy): "Welcome to the demo."

[0:04 - Detail]
Visual: A closeup of morning dew
ON-SCREEN TEXT: Stay tuned

END`

// testApp holds all components needed for testing
type testApp struct {
	app *fiber.App
}

// redisAddr returns the Redis address for the suite. Everything behind
// /api touches Redis through the rate limiter and job store, so tests
// skip when no instance is reachable.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("skipping: REDIS_ADDR not set")
	}
	return addr
}

// setupApp creates a Fiber app identical to main.go but without a worker
// server. Jobs queued here stay QUEUED, which is exactly what the handler
// tests need.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	addr := redisAddr(t)

	redisClient := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   15, // use DB 15 for tests to avoid collision
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: addr,
		DB:   15,
	})
	t.Cleanup(func() {
		asynqClient.Close()
		redisClient.Close()
	})

	validate := validator.New()

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

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	// Base routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"image":   false,
				"video":   false,
				"voice":   false,
				"storage": false,
			},
		})
	})

	api := app.Group("/api")

	// Use very high rate limits so tests don't get blocked
	generate := api.Group("/generate")
	generate.Post("/start", rateLimiter.GenerateLimit(10000), generateHandler.Start)
	generate.Get("/status/:jobId", generateHandler.Status)
	generate.Get("/result/:jobId", generateHandler.Result)
	generate.Post("/cancel/:jobId", generateHandler.Cancel)

	script := api.Group("/script", rateLimiter.ValidateLimit(10000))
	script.Post("/validate", scriptHandler.Validate)

	api.Get("/pipeline/stats", statsHandler.Pipeline)

	return &testApp{app: app}
}

// generateStartBody builds a start request body. json.Marshal handles the
// newlines inside the script text.
func generateStartBody(t *testing.T, script, quality string, priority int) string {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"scriptContent": script,
		"quality":       quality,
		"priority":      priority,
	})
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	return string(b)
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode digs the stable error code out of an error envelope.
func errorCode(t *testing.T, result map[string]interface{}) string {
	t.Helper()
	errObj, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object in response, got %v", result)
	}
	code, _ := errObj["code"].(string)
	return code
}
