package suno

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aviz85/purim/internal/common"
	"github.com/aviz85/purim/internal/song"
)

const defaultTimeout = 60 * time.Second

type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to the Suno-compatible generation API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://apibox.erweima.ai"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
	}
}

// GenerateRequest is a submission to the generation endpoint.
type GenerateRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style"`
	Title        string `json:"title"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
	CallBackURL  string `json:"callBackUrl"`
}

// GenerateResult carries the assigned task id plus the normalized
// envelope to hand back to the caller.
type GenerateResult struct {
	TaskID   string
	Envelope Envelope
}

// RecordInfo is one normalized status observation.
type RecordInfo struct {
	TaskID   string
	Status   song.Status
	Track    *song.Track
	Envelope Envelope
}

// Generate submits a generation job. The response envelope's task id is
// extracted; a missing id is treated as an upstream failure.
func (c *Client) Generate(ctx context.Context, genReq GenerateRequest) (*GenerateResult, error) {
	body, err := json.Marshal(genReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	endpoint := c.baseURL + "/api/v1/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	env, raw, err := c.do(req, "Failed to generate audio")
	if err != nil {
		return nil, err
	}

	var data wireGenerateData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, common.NewUpstreamError(env.Code, "", "malformed generate response")
		}
	}
	taskID := firstNonEmpty(data.TaskID, data.TaskIDSnake)
	if taskID == "" {
		return nil, common.NewUpstreamError(env.Code, env.Msg, "upstream returned no task id")
	}

	return &GenerateResult{
		TaskID: taskID,
		Envelope: Envelope{
			Code: env.Code,
			Msg:  env.Msg,
			Data: GenerateData{TaskID: taskID},
		},
	}, nil
}

// RecordInfo fetches and normalizes the current status of a task. Only
// the first sunoData element is surfaced; that is the track the rest of
// the system tracks.
func (c *Client) RecordInfo(ctx context.Context, taskID string) (*RecordInfo, error) {
	endpoint := fmt.Sprintf("%s/api/v1/generate/record-info?taskId=%s", c.baseURL, url.QueryEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build record-info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	env, raw, err := c.do(req, "Failed to check status")
	if err != nil {
		return nil, err
	}

	var data wireRecordData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, common.NewUpstreamError(env.Code, "", "malformed record-info response")
		}
	}

	info := &RecordInfo{
		TaskID: firstNonEmpty(data.TaskID, data.TaskIDSnake, taskID),
		Status: song.Status(data.Status),
	}

	recordData := RecordData{TaskID: info.TaskID, Status: info.Status}
	if data.Response != nil && len(data.Response.SunoData) > 0 {
		tracks := make([]song.Track, 0, len(data.Response.SunoData))
		for _, w := range data.Response.SunoData {
			tracks = append(tracks, w.normalize())
		}
		recordData.Response = &RecordResponse{SunoData: tracks}
		first := tracks[0]
		if !first.Empty() {
			info.Track = &first
		}
	}

	info.Envelope = Envelope{Code: env.Code, Msg: env.Msg, Data: recordData}
	return info, nil
}

// do runs the request and decodes the envelope. A transport error or a
// non-2xx status yields an UpstreamError carrying upstream's msg when
// one was present.
func (c *Client) do(req *http.Request, fallbackMsg string) (*wireEnvelope, json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, common.NewUpstreamError(0, err.Error(), fallbackMsg)
	}
	defer resp.Body.Close()

	var env wireEnvelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, common.NewUpstreamError(resp.StatusCode, env.Msg, fallbackMsg)
	}
	if decodeErr != nil {
		return nil, nil, common.NewUpstreamError(resp.StatusCode, "", fallbackMsg)
	}

	return &env, env.Data, nil
}
