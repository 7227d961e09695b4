package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/scriptreel/api/internal/config"
)

// VideoGenerator animates a scene into a short motion clip, usually from
// a generated still. The orchestrator depends on this interface only.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req *VideoRequest) (*VideoResult, error)
	IsConfigured() bool
}

// VideoRequest describes one clip generation call. ImagePath optionally
// points at a source still the provider should animate.
type VideoRequest struct {
	Prompt      string
	ImagePath   string
	DurationSec int
	Width       int
	Height      int
	OutputPath  string
}

// VideoResult is the generated clip, returned by value.
type VideoResult struct {
	Path        string
	DurationSec float64
}

// VideoClient implements VideoGenerator for a task-based video API:
// create a task, poll it, download the finished clip.
type VideoClient struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	model        string
	pollInterval time.Duration
	pollMaxWait  time.Duration
}

// NewVideoClient creates a new video generation client
func NewVideoClient(cfg *config.VideoProviderConfig) *VideoClient {
	return &VideoClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		pollInterval: cfg.PollInterval,
		pollMaxWait:  cfg.PollMaxWait,
	}
}

type videoGenerationRequest struct {
	Model       string `json:"model,omitempty"`
	Prompt      string `json:"prompt"`
	ImageB64    string `json:"image,omitempty"`
	DurationSec int    `json:"duration,omitempty"`
	Size        string `json:"size,omitempty"`
}

type videoGenerationResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// VideoTaskResult represents a video generation task's state
type VideoTaskResult struct {
	TaskID   string  `json:"task_id"`
	Status   string  `json:"status"`
	VideoURL string  `json:"video_url,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// GenerateVideo runs the full create, poll, download sequence and writes
// the clip to req.OutputPath.
func (c *VideoClient) GenerateVideo(ctx context.Context, req *VideoRequest) (*VideoResult, error) {
	task, err := c.createTask(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := c.PollVideoStatus(ctx, task.TaskID, c.pollInterval, c.pollMaxWait)
	if err != nil {
		return nil, err
	}
	if result.VideoURL == "" {
		return nil, WrapStage(ErrFatal, "video provider", "poll", fmt.Errorf("task %s finished without a clip", task.TaskID))
	}

	if err := c.download(ctx, result.VideoURL, req.OutputPath); err != nil {
		return nil, err
	}
	return &VideoResult{Path: req.OutputPath, DurationSec: result.Duration}, nil
}

// createTask submits the generation request
func (c *VideoClient) createTask(ctx context.Context, req *VideoRequest) (*videoGenerationResponse, error) {
	body := videoGenerationRequest{
		Model:       c.model,
		Prompt:      req.Prompt,
		DurationSec: req.DurationSec,
	}
	if req.Width > 0 && req.Height > 0 {
		body.Size = fmt.Sprintf("%dx%d", req.Width, req.Height)
	}
	if req.ImagePath != "" {
		data, err := os.ReadFile(req.ImagePath)
		if err != nil {
			return nil, WrapStage(ErrFatal, "video provider", "create", fmt.Errorf("read source still: %w", err))
		}
		body.ImageB64 = base64.StdEncoding.EncodeToString(data)
	}

	var result videoGenerationResponse
	if err := c.post(ctx, "/v1/videos/generate", body, &result); err != nil {
		return nil, err
	}
	if result.TaskID == "" {
		return nil, WrapStage(ErrFatal, "video provider", "create", fmt.Errorf("response carried no task id"))
	}
	return &result, nil
}

// GetVideoStatus retrieves the state of a generation task
func (c *VideoClient) GetVideoStatus(ctx context.Context, taskID string) (*VideoTaskResult, error) {
	endpoint := fmt.Sprintf("/v1/videos/status/%s", taskID)
	var result VideoTaskResult
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PollVideoStatus polls for task completion
func (c *VideoClient) PollVideoStatus(ctx context.Context, taskID string, interval, maxWait time.Duration) (*VideoTaskResult, error) {
	deadline := time.Now().Add(maxWait)
	attempt := 0

	for time.Now().Before(deadline) {
		attempt++
		result, err := c.GetVideoStatus(ctx, taskID)
		if err != nil {
			log.Printf("[video API] poll #%d (task=%s) error: %v", attempt, taskID, err)
			return nil, err
		}

		log.Printf("[video API] poll #%d (task=%s) status: %s", attempt, taskID, result.Status)

		switch result.Status {
		case "completed", "success":
			return result, nil
		case "failed", "error":
			return nil, WrapStage(ErrFatal, "video provider", "poll",
				fmt.Errorf("task %s failed: %s", taskID, result.Message))
		case "rejected":
			return nil, WrapStage(ErrFatal, "video provider", "poll",
				fmt.Errorf("task %s rejected by content policy: %s", taskID, result.Message))
		}

		select {
		case <-ctx.Done():
			log.Printf("[video API] poll (task=%s) context cancelled", taskID)
			return nil, ctx.Err()
		case <-time.After(interval):
			continue
		}
	}

	return nil, WrapStage(ErrTransient, "video provider", "poll",
		fmt.Errorf("task %s timed out after %v", taskID, maxWait))
}

// post sends a POST request with JSON body
func (c *VideoClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return WrapStage(ErrFatal, "video provider", endpoint, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return WrapStage(ErrFatal, "video provider", endpoint, err)
	}
	return c.doRequest(req, endpoint, result)
}

// get sends a GET request and parses JSON response
func (c *VideoClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return WrapStage(ErrFatal, "video provider", endpoint, err)
	}
	return c.doRequest(req, endpoint, result)
}

// doRequest executes an HTTP request and parses the response
func (c *VideoClient) doRequest(req *http.Request, endpoint string, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[video API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[video API] ✗ %s %s failed: %v", req.Method, req.URL.String(), err)
		return WrapStage(ErrTransient, "video provider", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return WrapStage(ErrTransient, "video provider", endpoint, fmt.Errorf("read response: %w", err))
	}

	log.Printf("[video API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("video provider", endpoint, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return WrapStage(ErrFatal, "video provider", endpoint, fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

// download fetches the finished clip to dest
func (c *VideoClient) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return WrapStage(ErrFatal, "video provider", "download", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return WrapStage(ErrTransient, "video provider", "download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("video provider", "download", resp.StatusCode, nil)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return WrapStage(ErrFatal, "video provider", "download", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return WrapStage(ErrFatal, "video provider", "download", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return WrapStage(ErrTransient, "video provider", "download", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *VideoClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}
