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

const sunoTimeout = 30 * time.Second

// SunoClient generates music via the Suno task API.
type SunoClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewSunoClient(baseURL, apiKey string) *SunoClient {
	if baseURL == "" {
		baseURL = "https://api.sunoapi.org"
	}
	return &SunoClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: sunoTimeout},
	}
}

func (c *SunoClient) Name() string { return models.ProviderSuno }

type sunoGenerateRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
}

type sunoEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *SunoClient) Start(ctx context.Context, req StartRequest) (string, error) {
	var params struct {
		Prompt       string `json:"prompt"`
		Style        string `json:"style"`
		Instrumental bool   `json:"instrumental"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return "", fmt.Errorf("suno params: %w", err)
	}
	body, err := json.Marshal(sunoGenerateRequest{
		Prompt:       params.Prompt,
		Style:        params.Style,
		Title:        req.Title,
		Instrumental: params.Instrumental,
		Model:        "V4",
	})
	if err != nil {
		return "", err
	}

	env, err := c.do(ctx, http.MethodPost, "/api/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	var data struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.TaskID == "" {
		return "", fmt.Errorf("%w: suno response missing taskId", ErrProvider)
	}
	return data.TaskID, nil
}

func (c *SunoClient) Status(ctx context.Context, externalID string) (StatusResult, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/v1/generate/record-info?taskId="+externalID, nil)
	if err != nil {
		return StatusResult{}, err
	}
	var data struct {
		Status   string `json:"status"`
		ErrorMsg string `json:"errorMessage"`
		Response struct {
			SunoData []struct {
				AudioURL string `json:"audioUrl"`
			} `json:"sunoData"`
		} `json:"response"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return StatusResult{}, fmt.Errorf("%w: suno status payload: %v", ErrProvider, err)
	}

	result := StatusResult{State: mapSunoStatus(data.Status), Message: data.ErrorMsg}
	if result.State == StateCompleted {
		if len(data.Response.SunoData) == 0 || data.Response.SunoData[0].AudioURL == "" {
			return StatusResult{}, fmt.Errorf("%w: suno success without audio url", ErrProvider)
		}
		result.FileURL = data.Response.SunoData[0].AudioURL
	}
	return result, nil
}

// mapSunoStatus translates Suno's task vocabulary. TEXT_SUCCESS and
// FIRST_SUCCESS are intermediate milestones, not completion.
func mapSunoStatus(s string) State {
	switch s {
	case "SUCCESS":
		return StateCompleted
	case "CREATE_TASK_FAILED", "GENERATE_AUDIO_FAILED", "CALLBACK_EXCEPTION", "SENSITIVE_WORD_ERROR":
		return StateFailed
	default:
		// PENDING, TEXT_SUCCESS, FIRST_SUCCESS and anything unrecognized.
		return StateProcessing
	}
}

func (c *SunoClient) do(ctx context.Context, method, path string, body io.Reader) (*sunoEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suno request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: suno returned status %d", ErrProvider, resp.StatusCode)
	}
	var env sunoEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: suno response: %v", ErrProvider, err)
	}
	if env.Code != 200 {
		return nil, fmt.Errorf("%w: suno code %d: %s", ErrProvider, env.Code, env.Msg)
	}
	return &env, nil
}
