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

// VoiceSynthesizer renders narration text to speech audio. The
// orchestrator depends on this interface only.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, req *VoiceRequest) (*VoiceResult, error)
	IsConfigured() bool
}

// VoiceRequest describes one narration synthesis call. An empty Speaker
// selects the configured default narrator voice.
type VoiceRequest struct {
	Text       string
	Speaker    string
	OutputPath string
}

// VoiceResult is the synthesized audio asset, returned by value.
type VoiceResult struct {
	Path string
}

// VoiceClient implements VoiceSynthesizer for a text-to-speech API that
// streams audio bytes back in the response body
type VoiceClient struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	modelID        string
	defaultVoiceID string
}

// NewVoiceClient creates a new speech synthesis client
func NewVoiceClient(cfg *config.VoiceProviderConfig) *VoiceClient {
	return &VoiceClient{
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL:        cfg.BaseURL,
		apiKey:         cfg.APIKey,
		modelID:        cfg.ModelID,
		defaultVoiceID: cfg.DefaultVoiceID,
	}
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
	Format  string `json:"output_format,omitempty"`
}

// Synthesize renders req.Text and writes the audio to req.OutputPath.
// Speaker names map straight to provider voice ids; empty picks the
// configured default.
func (c *VoiceClient) Synthesize(ctx context.Context, req *VoiceRequest) (*VoiceResult, error) {
	voiceID := req.Speaker
	if voiceID == "" {
		voiceID = c.defaultVoiceID
	}
	endpoint := fmt.Sprintf("/v1/text-to-speech/%s", voiceID)

	body := synthesizeRequest{
		Text:    req.Text,
		ModelID: c.modelID,
		Format:  "mp3_44100_128",
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, WrapStage(ErrFatal, "voice provider", endpoint, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, WrapStage(ErrFatal, "voice provider", endpoint, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Printf("[voice API] → POST %s (%d chars)", httpReq.URL.String(), len(req.Text))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Printf("[voice API] ✗ POST %s failed: %v", httpReq.URL.String(), err)
		return nil, WrapStage(ErrTransient, "voice provider", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, statusError("voice provider", endpoint, resp.StatusCode, respBody)
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, WrapStage(ErrFatal, "voice provider", endpoint, err)
	}
	out, err := os.Create(req.OutputPath)
	if err != nil {
		return nil, WrapStage(ErrFatal, "voice provider", endpoint, err)
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return nil, WrapStage(ErrTransient, "voice provider", endpoint, fmt.Errorf("stream audio: %w", err))
	}

	log.Printf("[voice API] ← %d POST %s (%d bytes)", resp.StatusCode, httpReq.URL.String(), n)

	return &VoiceResult{Path: req.OutputPath}, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *VoiceClient) IsConfigured() bool {
	return c.apiKey != "" && c.baseURL != ""
}
