package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/config"
	"go.uber.org/zap"
)

// maxResponseBody caps how much of a backend response is read.
const maxResponseBody = 4 << 20

// OpenAIClient implements Client for any OpenAI-compatible
// /chat/completions endpoint.
type OpenAIClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	http        *http.Client
	logger      *zap.Logger
}

// OpenAIOpts holds parameters for creating an OpenAIClient.
type OpenAIOpts struct {
	Config     config.CompletionConfig
	HTTPClient *http.Client // defaults to a client without its own timeout
	Logger     *zap.Logger  // defaults to a no-op logger
}

// NewOpenAIClient creates an OpenAIClient. The per-call timeout comes from
// Config.Timeout and is applied to each Generate through its context.
func NewOpenAIClient(opts OpenAIOpts) (*OpenAIClient, error) {
	cfg := opts.Config
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("completion: openai: base url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("completion: openai: model is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultCompletionTimeout
	}
	return &OpenAIClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		http:        hc,
		logger:      logger,
	}, nil
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	op := "completion: " + opName(req)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	body, err := json.Marshal(toOpenAIRequest(c.model, temperature, c.maxTokens, req.Messages()))
	if err != nil {
		return "", apperr.E(apperr.Internal, op, fmt.Errorf("marshal request: %w", err))
	}

	start := time.Now()
	respBody, err := c.post(ctx, body)
	if err != nil {
		c.logger.Warn("completion request failed",
			zap.String("op", opName(req)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", apperr.E(apperr.UpstreamUnavailable, op, err)
	}

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", apperr.E(apperr.UpstreamUnavailable, op, fmt.Errorf("unmarshal response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", apperr.E(apperr.UpstreamUnavailable, op, errors.New("response has no choices"))
	}

	c.logger.Debug("completion request done",
		zap.String("op", opName(req)),
		zap.String("model", resp.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// post sends body to /chat/completions and returns the raw 200 response.
func (c *OpenAIClient) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timed out after %s: %w", c.timeout, err)
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", httpResp.StatusCode, Truncate(string(respBody), 200))
	}
	return respBody, nil
}

func opName(req Request) string {
	if req.Op == "" {
		return "generate"
	}
	return req.Op
}

// --- OpenAI API wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toOpenAIRequest(model string, temperature float64, maxTokens int, msgs []Message) openaiRequest {
	out := make([]openaiMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openaiMessage{Role: m.Role, Content: m.Content})
	}
	return openaiRequest{
		Model:       model,
		Messages:    out,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

var _ Client = (*OpenAIClient)(nil)
