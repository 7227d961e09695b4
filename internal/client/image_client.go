package client

import (
	"bytes"
	"context"
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

// ImageGenerator produces a still image for a scene's visual description.
// The orchestrator depends on this interface, never on a concrete client.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error)
	IsConfigured() bool
}

// ImageRequest describes one still-image generation call. OutputPath is
// where the caller wants the asset written; the client never picks paths.
type ImageRequest struct {
	Prompt     string
	Width      int
	Height     int
	OutputPath string
}

// ImageResult is the generated asset, returned by value.
type ImageResult struct {
	Path string
}

// ImageClient implements ImageGenerator against an OpenAI-compatible
// image generation API
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewImageClient creates a new image generation client
func NewImageClient(cfg *config.ImageProviderConfig) *ImageClient {
	return &ImageClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

type imageGenerationRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Size   string `json:"size,omitempty"`
	N      int    `json:"n"`
}

type imageGenerationResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateImage renders one still and downloads it to req.OutputPath
func (c *ImageClient) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	body := imageGenerationRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		Size:   fmt.Sprintf("%dx%d", req.Width, req.Height),
		N:      1,
	}

	var result imageGenerationResponse
	if err := c.post(ctx, "/v1/images/generations", body, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, WrapStage(ErrFatal, "image provider", "generate", fmt.Errorf("%s", result.Error.Message))
	}
	if len(result.Data) == 0 || result.Data[0].URL == "" {
		return nil, WrapStage(ErrFatal, "image provider", "generate", fmt.Errorf("response carried no image"))
	}

	if err := c.download(ctx, result.Data[0].URL, req.OutputPath); err != nil {
		return nil, err
	}
	return &ImageResult{Path: req.OutputPath}, nil
}

// post sends a POST request with JSON body
func (c *ImageClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return WrapStage(ErrFatal, "image provider", endpoint, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return WrapStage(ErrFatal, "image provider", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[image API] → POST %s", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[image API] ✗ POST %s failed: %v", req.URL.String(), err)
		return WrapStage(ErrTransient, "image provider", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return WrapStage(ErrTransient, "image provider", endpoint, fmt.Errorf("read response: %w", err))
	}

	log.Printf("[image API] ← %d POST %s", resp.StatusCode, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("image provider", endpoint, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return WrapStage(ErrFatal, "image provider", endpoint, fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

// download fetches a generated asset URL to dest
func (c *ImageClient) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return WrapStage(ErrFatal, "image provider", "download", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return WrapStage(ErrTransient, "image provider", "download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("image provider", "download", resp.StatusCode, nil)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return WrapStage(ErrFatal, "image provider", "download", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return WrapStage(ErrFatal, "image provider", "download", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return WrapStage(ErrTransient, "image provider", "download", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *ImageClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}
