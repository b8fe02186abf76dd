package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/chordwave/backend/internal/models"
)

const soraTimeout = 60 * time.Second

// SoraClient generates video through the OpenAI videos API.
type SoraClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewSoraClient(baseURL, apiKey string) *SoraClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &SoraClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: soraTimeout},
	}
}

func (c *SoraClient) Name() string { return models.ProviderSora }

type soraVideo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	URL string `json:"url"`
}

func (c *SoraClient) Start(ctx context.Context, req StartRequest) (string, error) {
	var params struct {
		Prompt          string `json:"prompt"`
		DurationSeconds int    `json:"duration_seconds"`
		Size            string `json:"size"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return "", fmt.Errorf("sora params: %w", err)
	}
	if params.DurationSeconds <= 0 {
		params.DurationSeconds = 10
	}
	if params.Size == "" {
		params.Size = "720x1280"
	}
	body, err := json.Marshal(map[string]any{
		"model":   "sora-2",
		"prompt":  params.Prompt,
		"seconds": strconv.Itoa(params.DurationSeconds),
		"size":    params.Size,
	})
	if err != nil {
		return "", err
	}
	video, err := c.do(ctx, http.MethodPost, "/v1/videos", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if video.ID == "" {
		return "", fmt.Errorf("%w: sora response missing video id", ErrProvider)
	}
	return video.ID, nil
}

func (c *SoraClient) Status(ctx context.Context, externalID string) (StatusResult, error) {
	video, err := c.do(ctx, http.MethodGet, "/v1/videos/"+externalID, nil)
	if err != nil {
		return StatusResult{}, err
	}
	result := StatusResult{State: mapSoraStatus(video.Status)}
	if video.Error != nil {
		result.Message = video.Error.Message
	}
	if result.State == StateCompleted {
		url := video.URL
		if url == "" {
			// The videos API serves content from a sub-resource when no
			// direct URL is present.
			url = c.baseURL + "/v1/videos/" + externalID + "/content"
		}
		result.FileURL = url
	}
	return result, nil
}

func mapSoraStatus(s string) State {
	switch s {
	case "completed", "succeeded":
		return StateCompleted
	case "failed", "cancelled":
		return StateFailed
	default:
		// queued, in_progress.
		return StateProcessing
	}
}

func (c *SoraClient) do(ctx context.Context, method, path string, body io.Reader) (*soraVideo, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sora request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: sora returned status %d", ErrProvider, resp.StatusCode)
	}
	var video soraVideo
	if err := json.NewDecoder(resp.Body).Decode(&video); err != nil {
		return nil, fmt.Errorf("%w: sora response: %v", ErrProvider, err)
	}
	return &video, nil
}
