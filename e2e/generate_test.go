package e2e

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateStart_Success(t *testing.T) {
	ta := setupApp(t)

	body := generateStartBody(t, sampleScript, "draft", 5)
	resp, err := doRequest(ta.app, http.MethodPost, "/api/generate/start", body, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["jobId"] == nil || result["jobId"] == "" {
		t.Error("expected 'jobId' in response")
	}
	if result["status"] != "QUEUED" {
		t.Errorf("expected status 'QUEUED', got %v", result["status"])
	}
	if result["sceneCount"] != float64(2) {
		t.Errorf("expected sceneCount 2, got %v", result["sceneCount"])
	}
}

func TestGenerateStart_MissingScript(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/generate/start", `{"quality": "draft"}`, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	if code := errorCode(t, result); code != "VALIDATION_ERROR" {
		t.Errorf("expected error code VALIDATION_ERROR, got %v", code)
	}
}

func TestGenerateStart_BadQuality(t *testing.T) {
	ta := setupApp(t)

	body := generateStartBody(t, sampleScript, "ultra", 5)
	resp, err := doRequest(ta.app, http.MethodPost, "/api/generate/start", body, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

func TestGenerateStart_MalformedScript(t *testing.T) {
	ta := setupApp(t)

	body := generateStartBody(t, "This text has no script header at all", "draft", 5)
	resp, err := doRequest(ta.app, http.MethodPost, "/api/generate/start", body, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	details, ok := errObj["details"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected parse details in response, got %v", errObj)
	}
	if details["kind"] != "missing_header" {
		t.Errorf("expected kind 'missing_header', got %v", details["kind"])
	}
}

func TestGenerateStart_NonMonotonicScript(t *testing.T) {
	ta := setupApp(t)

	script := `SCRIPT: Bad Order

[0:10 - Later]
Visual: Something

[0:05 - Earlier]
Visual: Something else

END`

	body := generateStartBody(t, script, "draft", 5)
	resp, err := doRequest(ta.app, http.MethodPost, "/api/generate/start", body, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	details, ok := errObj["details"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected parse details in response, got %v", errObj)
	}
	if details["kind"] != "non_monotonic_offset" {
		t.Errorf("expected kind 'non_monotonic_offset', got %v", details["kind"])
	}
	if line, _ := details["line"].(float64); line <= 0 {
		t.Errorf("expected positive line number, got %v", details["line"])
	}
}

func TestGenerateStatus_Success(t *testing.T) {
	ta := setupApp(t)

	// First, start a generation to get a jobId
	body := generateStartBody(t, sampleScript, "standard", 3)
	resp, err := doRequest(ta.app, http.MethodPost, "/api/generate/start", body, nil)
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	startResult := parseJSON(t, resp)
	jobID := startResult["jobId"].(string)

	// Now check status. No worker runs in this suite, so the job stays
	// queued at zero progress.
	resp, err = doRequest(ta.app, http.MethodGet, "/api/generate/status/"+jobID, "", nil)
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	statusResult := parseJSON(t, resp)
	if statusResult["jobId"] != jobID {
		t.Errorf("expected jobId %s, got %v", jobID, statusResult["jobId"])
	}
	if statusResult["status"] != "QUEUED" {
		t.Errorf("expected status 'QUEUED', got %v", statusResult["status"])
	}
	if statusResult["progress"] != float64(0) {
		t.Errorf("expected progress 0, got %v", statusResult["progress"])
	}
}

func TestGenerateStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	fakeJobID := uuid.New().String()
	resp, err := doRequest(ta.app, http.MethodGet, "/api/generate/status/"+fakeJobID, "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)

	result := parseJSON(t, resp)
	if code := errorCode(t, result); code != "NOT_FOUND" {
		t.Errorf("expected error code NOT_FOUND, got %v", code)
	}
}

func TestGenerateResult_NotCompleted(t *testing.T) {
	ta := setupApp(t)

	body := generateStartBody(t, sampleScript, "draft", 5)
	resp, err := doRequest(ta.app, http.MethodPost, "/api/generate/start", body, nil)
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	startResult := parseJSON(t, resp)
	jobID := startResult["jobId"].(string)

	resp, err = doRequest(ta.app, http.MethodGet, "/api/generate/result/"+jobID, "", nil)
	if err != nil {
		t.Fatalf("result request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	if code := errorCode(t, result); code != "VALIDATION_ERROR" {
		t.Errorf("expected error code VALIDATION_ERROR, got %v", code)
	}
}

func TestGenerateCancel_Flow(t *testing.T) {
	ta := setupApp(t)

	// Start a generation
	body := generateStartBody(t, sampleScript, "draft", 5)
	resp, err := doRequest(ta.app, http.MethodPost, "/api/generate/start", body, nil)
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	startResult := parseJSON(t, resp)
	jobID := startResult["jobId"].(string)

	// Cancel it
	resp, err = doRequest(ta.app, http.MethodPost, "/api/generate/cancel/"+jobID, "", nil)
	if err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	cancelResult := parseJSON(t, resp)
	if cancelResult["success"] != true {
		t.Errorf("expected success true, got %v", cancelResult["success"])
	}
	if cancelResult["status"] != "CANCELLED" {
		t.Errorf("expected status 'CANCELLED', got %v", cancelResult["status"])
	}

	// Status reflects the terminal state
	resp, err = doRequest(ta.app, http.MethodGet, "/api/generate/status/"+jobID, "", nil)
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	statusResult := parseJSON(t, resp)
	if statusResult["status"] != "CANCELLED" {
		t.Errorf("expected status 'CANCELLED', got %v", statusResult["status"])
	}

	// A second cancel is rejected
	resp, err = doRequest(ta.app, http.MethodPost, "/api/generate/cancel/"+jobID, "", nil)
	if err != nil {
		t.Fatalf("second cancel request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestPipelineStats(t *testing.T) {
	ta := setupApp(t)

	body := generateStartBody(t, sampleScript, "draft", 5)
	resp, err := doRequest(ta.app, http.MethodPost, "/api/generate/start", body, nil)
	if err != nil {
		t.Fatalf("start request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	resp, err = doRequest(ta.app, http.MethodGet, "/api/pipeline/stats", "", nil)
	if err != nil {
		t.Fatalf("stats request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	stats := parseJSON(t, resp)
	started, ok := stats["jobsStarted"].(float64)
	if !ok {
		t.Fatalf("expected numeric 'jobsStarted', got %v", stats["jobsStarted"])
	}
	if started < 1 {
		t.Errorf("expected at least one started job, got %v", started)
	}
}
