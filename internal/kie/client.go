package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/digkill/genstudio/internal/config"
	"github.com/digkill/genstudio/internal/models"
)

const (
	createTaskPath = "/api/v1/jobs/createTask"
	recordInfoPath = "/api/v1/jobs/recordInfo"
)

// Client talks to the KIE jobs API. Every generation is an async task that is created and
// then polled until it settles.
type Client struct {
	apiKey     string
	baseURL    string
	models     map[models.GenerationType]string
	httpClient *http.Client
	log        *slog.Logger

	pollInterval time.Duration
	maxAttempts  int
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	return &Client{
		apiKey:  cfg.KIEAPIKey,
		baseURL: strings.TrimRight(cfg.KIEBaseURL, "/"),
		models: map[models.GenerationType]string{
			models.GenerationApparel: cfg.KIEApparelModel,
			models.GenerationProduct: cfg.KIEProductModel,
			models.GenerationVideo:   cfg.KIEVideoModel,
		},
		httpClient:   &http.Client{Timeout: timeout},
		log:          log.With("component", "kie"),
		pollInterval: 2 * time.Second,
		maxAttempts:  90,
	}
}

// Generate runs one task per requested item and returns every result URL produced.
func (c *Client) Generate(ctx context.Context, genType models.GenerationType, req models.GenerationRequest) ([]string, error) {
	count := req.Count
	if count < 1 {
		count = 1
	}
	payload, err := c.payload(genType, req)
	if err != nil {
		return nil, err
	}

	var urls []string
	for i := 0; i < count; i++ {
		taskID, err := c.createTask(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		result, err := c.pollTaskStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		urls = append(urls, result...)
	}
	return urls, nil
}

func (c *Client) payload(genType models.GenerationType, req models.GenerationRequest) (map[string]any, error) {
	model := c.models[genType]
	if model == "" {
		return nil, fmt.Errorf("no model configured for %q: %w", genType, models.ErrInvalidInput)
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = "1:1"
	}

	input := map[string]any{
		"prompt":       req.Prompt,
		"aspect_ratio": aspect,
	}
	switch genType {
	case models.GenerationApparel:
		if req.Resolution != "" {
			input["resolution"] = req.Resolution
		}
		if len(req.InputURLs) > 0 {
			model = strings.Replace(model, "text-to-image", "image-to-image", 1)
			input["input_urls"] = req.InputURLs
		}
	case models.GenerationProduct:
		if req.Resolution != "" {
			input["resolution"] = req.Resolution
		}
		input["output_format"] = "png"
		if len(req.InputURLs) > 0 {
			input["image_input"] = req.InputURLs
		}
	case models.GenerationVideo:
		input["duration"] = "5"
		if len(req.InputURLs) > 0 {
			input["image_url"] = req.InputURLs[0]
		}
	default:
		return nil, fmt.Errorf("unknown generation type %q: %w", genType, models.ErrInvalidInput)
	}

	return map[string]any{"model": model, "input": input}, nil
}

func (c *Client) endpoint(p string, query url.Values) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	ref := &url.URL{Path: p}
	if query != nil {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *Client) createTask(ctx context.Context, payload map[string]any) (string, error) {
	fullURL, err := c.endpoint(createTaskPath, nil)
	if err != nil {
		return "", err
	}
	c.log.Info("creating KIE task", "url", fullURL, "model", payload["model"])

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	rawBody, err := c.do(req)
	if err != nil {
		return "", err
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if createResp.Code != http.StatusOK {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	c.log.Info("KIE task created", "task_id", createResp.Data.TaskID)
	return createResp.Data.TaskID, nil
}

func (c *Client) pollTaskStatus(ctx context.Context, taskID string) ([]string, error) {
	fullURL, err := c.endpoint(recordInfoPath, url.Values{"taskId": {taskID}})
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		rawBody, err := c.do(req)
		if err != nil {
			return nil, fmt.Errorf("get task status: %w", err)
		}

		var statusResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				State      string `json:"state"`
				ResultJSON string `json:"resultJson"`
				FailCode   string `json:"failCode"`
				FailMsg    string `json:"failMsg"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rawBody, &statusResp); err != nil {
			return nil, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
		}
		if statusResp.Code != http.StatusOK {
			return nil, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
		}

		switch state := statusResp.Data.State; state {
		case "success":
			return parseResult(statusResp.Data.ResultJSON)

		case "fail":
			failMsg := statusResp.Data.FailMsg
			if failMsg == "" {
				failMsg = "unknown error"
			}
			c.log.Error("KIE task failed", "task_id", taskID, "fail_code", statusResp.Data.FailCode, "fail_msg", failMsg)
			return nil, fmt.Errorf("task failed: %s (code: %s)", failMsg, statusResp.Data.FailCode)

		case "waiting", "generating", "processing", "queued", "queueing":
			if attempt%10 == 0 {
				c.log.Info("KIE task waiting", "task_id", taskID, "attempt", attempt+1, "max_attempts", c.maxAttempts)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollInterval):
			}

		default:
			return nil, fmt.Errorf("unknown task state: %s", state)
		}
	}

	return nil, fmt.Errorf("task %s timeout after %d attempts", taskID, c.maxAttempts)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call kie: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("KIE request failed", "status", resp.StatusCode, "url", req.URL.String(), "body", truncateBody(rawBody))
		return nil, fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}
	return rawBody, nil
}

func parseResult(resultJSON string) ([]string, error) {
	if resultJSON == "" {
		return nil, fmt.Errorf("empty resultJson in success response")
	}
	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("parse resultJson: %w", err)
	}
	var urls []string
	for _, u := range result.ResultURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no resultUrls in result")
	}
	return urls, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
