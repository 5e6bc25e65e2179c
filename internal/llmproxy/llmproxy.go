// Package llmproxy forwards a trend window to an external
// chat-completions-style HTTP service and returns its reply verbatim
// as markdown.
//
// Grounded on original_source/backend/mqtt_backend.py's
// llm_trend_analysis endpoint for the request/response shape and
// fixed prompt template, and on spec.md §9's design note to embed
// arrays as JSON inside the template rather than let user input reach
// the prompt verbatim.
package llmproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"vitalguard/internal/apperr"
	"vitalguard/internal/config"
	"vitalguard/internal/metrics"
)

const (
	requestTimeout   = 30 * time.Second
	maxResponseBytes = 32 * 1024
)

const promptTemplate = `You are a professional health data analyst.

Analyze the following vital-sign trend and provide a brief, plain-language assessment in markdown.

Parameter: %s
Time scale: %s
Unit: %s
Timestamps: %s
Values: %s
`

// AnalysisRequest is the body of POST /api/trends/llm_analysis.
type AnalysisRequest struct {
	Parameter  string    `json:"parameter"`
	TimeScale  string    `json:"time_scale"`
	Unit       string    `json:"unit"`
	Timestamps []string  `json:"timestamps"`
	Values     []float64 `json:"values"`
}

func (r AnalysisRequest) validate() error {
	if r.Parameter == "" || r.TimeScale == "" || r.Unit == "" {
		return apperr.Wrap(apperr.ErrConfig, fmt.Errorf("parameter, time_scale and unit are required"))
	}
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client talks to the configured LLM chat-completions endpoint,
// throttled so one misbehaving dashboard can't exhaust the upstream
// quota.
type Client struct {
	cfg     config.LLMConfig
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Registry
}

// New constructs a Client allowing at most 1 request/second with a
// burst of 2, matching the interactive, on-demand nature of the LLM
// proxy endpoint (spec.md §4.7).
func New(cfg config.LLMConfig, reg *metrics.Registry) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(1), 2),
		metrics: reg,
	}
}

// Analyze renders the fixed prompt template with every request field
// JSON-encoded (never interpolated as raw user content),
// sends it upstream, and returns the reply's markdown content
// verbatim.
func (c *Client) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	result, err := c.analyze(ctx, req)
	if c.metrics != nil {
		if err != nil {
			c.metrics.LLMRequests.WithLabelValues("failure").Inc()
		} else {
			c.metrics.LLMRequests.WithLabelValues("success").Inc()
		}
	}
	return result, err
}

func (c *Client) analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", apperr.Wrap(apperr.ErrLLM, err)
	}

	timestampsJSON, err := json.Marshal(req.Timestamps)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrInternal, err)
	}
	valuesJSON, err := json.Marshal(req.Values)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrInternal, err)
	}

	fieldsJSON := make([]string, 0, 3)
	for _, field := range []string{req.Parameter, req.TimeScale, req.Unit} {
		b, err := json.Marshal(field)
		if err != nil {
			return "", apperr.Wrap(apperr.ErrInternal, err)
		}
		fieldsJSON = append(fieldsJSON, string(b))
	}

	prompt := fmt.Sprintf(promptTemplate, fieldsJSON[0], fieldsJSON[1], fieldsJSON[2], string(timestampsJSON), string(valuesJSON))

	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a professional health data analyst."},
			{Role: "user", Content: prompt},
		},
		Temperature: c.cfg.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrInternal, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", apperr.Wrap(apperr.ErrLLM, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrLLM, err)
	}
	defer resp.Body.Close()

	capped := io.LimitReader(resp.Body, maxResponseBytes)
	raw, err := io.ReadAll(capped)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrLLM, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.Wrap(apperr.ErrLLM, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(raw)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", apperr.Wrap(apperr.ErrLLM, err)
	}
	if len(decoded.Choices) == 0 {
		return "", apperr.Wrap(apperr.ErrLLM, fmt.Errorf("empty response from upstream"))
	}

	return decoded.Choices[0].Message.Content, nil
}
