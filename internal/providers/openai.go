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

const openAITimeout = 60 * time.Second

// OpenAIClient generates images through the asynchronous image-jobs API.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: openAITimeout},
	}
}

func (c *OpenAIClient) Name() string { return models.ProviderOpenAI }

type openAIImageJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Result struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"result"`
}

func (c *OpenAIClient) Start(ctx context.Context, req StartRequest) (string, error) {
	var params struct {
		Prompt string `json:"prompt"`
		N      int    `json:"n"`
		Size   string `json:"size"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return "", fmt.Errorf("openai params: %w", err)
	}
	if params.N <= 0 {
		params.N = 1
	}
	if params.Size == "" {
		params.Size = "1024x1024"
	}
	body, err := json.Marshal(map[string]any{
		"model":  "gpt-image-1",
		"prompt": params.Prompt,
		"n":      params.N,
		"size":   params.Size,
	})
	if err != nil {
		return "", err
	}
	job, err := c.do(ctx, http.MethodPost, "/v1/images/generations/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", fmt.Errorf("%w: openai response missing job id", ErrProvider)
	}
	return job.ID, nil
}

func (c *OpenAIClient) Status(ctx context.Context, externalID string) (StatusResult, error) {
	job, err := c.do(ctx, http.MethodGet, "/v1/images/generations/jobs/"+externalID, nil)
	if err != nil {
		return StatusResult{}, err
	}
	result := StatusResult{State: mapOpenAIStatus(job.Status)}
	if job.Error != nil {
		result.Message = job.Error.Message
	}
	if result.State == StateCompleted {
		if len(job.Result.Data) == 0 || job.Result.Data[0].URL == "" {
			return StatusResult{}, fmt.Errorf("%w: openai job succeeded without image url", ErrProvider)
		}
		result.FileURL = job.Result.Data[0].URL
	}
	return result, nil
}

func mapOpenAIStatus(s string) State {
	switch s {
	case "succeeded", "completed":
		return StateCompleted
	case "failed", "cancelled", "expired":
		return StateFailed
	default:
		// notRunning, queued, running.
		return StateProcessing
	}
}

func (c *OpenAIClient) do(ctx context.Context, method, path string, body io.Reader) (*openAIImageJob, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: openai returned status %d", ErrProvider, resp.StatusCode)
	}
	var job openAIImageJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("%w: openai response: %v", ErrProvider, err)
	}
	return &job, nil
}
