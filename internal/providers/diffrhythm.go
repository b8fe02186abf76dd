package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chordwave/backend/internal/models"
)

const diffrhythmTimeout = 30 * time.Second

// DiffrhythmClient generates music through the PiAPI task envelope.
type DiffrhythmClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewDiffrhythmClient(baseURL, apiKey string) *DiffrhythmClient {
	if baseURL == "" {
		baseURL = "https://api.piapi.ai"
	}
	return &DiffrhythmClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: diffrhythmTimeout},
	}
}

func (c *DiffrhythmClient) Name() string { return models.ProviderDiffrhythm }

type piapiTaskRequest struct {
	Model    string          `json:"model"`
	TaskType string          `json:"task_type"`
	Input    json.RawMessage `json:"input"`
}

type piapiTaskData struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Output struct {
		AudioURL string `json:"audio_url"`
	} `json:"output"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *DiffrhythmClient) Start(ctx context.Context, req StartRequest) (string, error) {
	body, err := json.Marshal(piapiTaskRequest{
		Model:    "Qubico/diffrhythm",
		TaskType: "txt2audio-base",
		Input:    req.Params,
	})
	if err != nil {
		return "", err
	}
	data, err := c.do(ctx, http.MethodPost, "/api/v1/task", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", fmt.Errorf("%w: piapi response missing task_id", ErrProvider)
	}
	return data.TaskID, nil
}

func (c *DiffrhythmClient) Status(ctx context.Context, externalID string) (StatusResult, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v1/task/"+externalID, nil)
	if err != nil {
		return StatusResult{}, err
	}
	result := StatusResult{State: mapPiAPIStatus(data.Status), Message: data.Error.Message}
	if result.State == StateCompleted {
		if data.Output.AudioURL == "" {
			return StatusResult{}, fmt.Errorf("%w: piapi completed without audio url", ErrProvider)
		}
		result.FileURL = data.Output.AudioURL
	}
	return result, nil
}

func mapPiAPIStatus(s string) State {
	switch s {
	case "completed", "success":
		return StateCompleted
	case "failed", "cancelled":
		return StateFailed
	default:
		// pending, staged, processing.
		return StateProcessing
	}
}

func (c *DiffrhythmClient) do(ctx context.Context, method, path string, body io.Reader) (*piapiTaskData, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("piapi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: piapi returned status %d", ErrProvider, resp.StatusCode)
	}
	var env struct {
		Code    int           `json:"code"`
		Message string        `json:"message"`
		Data    piapiTaskData `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: piapi response: %v", ErrProvider, err)
	}
	if env.Code != 200 {
		return nil, fmt.Errorf("%w: piapi code %d: %s", ErrProvider, env.Code, env.Message)
	}
	return &env.Data, nil
}
