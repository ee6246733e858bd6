package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/arfor-backend/internal/observability"
	"github.com/yungbote/arfor-backend/internal/platform/httpx"
	"github.com/yungbote/arfor-backend/internal/platform/logger"
)

const responsesPath = "/v1/responses"

// ToolWebSearch is the hosted web search tool of the Responses API.
const ToolWebSearch = "web_search_preview"

var ErrEmptyOutput = errors.New("no output_text found in response")

// Request is one Responses API call. Tool is optional.
type Request struct {
	Model           string
	Instructions    string
	Input           string
	MaxOutputTokens int
	Tool            string
}

type Client interface {
	Respond(ctx context.Context, req Request) (string, error)
	Configured() bool
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// NewClient reads OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_TIMEOUT_SECONDS and
// OPENAI_MAX_RETRIES. Per-call deadlines come from the caller's context.
func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	timeoutSec := 300
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	// Zero by default: pipeline.Call owns the retry budget.
	maxRetries := 0
	if v := os.Getenv("OPENAI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return newClient(log, baseURL, apiKey, &http.Client{Timeout: time.Duration(timeoutSec) * time.Second}, maxRetries), nil
}

func newClient(log *logger.Logger, baseURL, apiKey string, hc *http.Client, maxRetries int) *client {
	return &client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: hc,
		maxRetries: maxRetries,
		backoff:    time.Second,
	}
}

func (c *client) Configured() bool { return c != nil && c.apiKey != "" }

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolSpec struct {
	Type string `json:"type"`
}

type responsesRequest struct {
	Model           string         `json:"model"`
	Instructions    string         `json:"instructions,omitempty"`
	Input           []inputMessage `json:"input"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
	Tools           []toolSpec     `json:"tools,omitempty"`
}

type responsesResponse struct {
	Status string `json:"status,omitempty"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`
}

func buildRequest(r Request) responsesRequest {
	req := responsesRequest{
		Model:           strings.TrimSpace(r.Model),
		Instructions:    r.Instructions,
		Input:           []inputMessage{{Role: "user", Content: r.Input}},
		MaxOutputTokens: r.MaxOutputTokens,
	}
	if t := strings.TrimSpace(r.Tool); t != "" {
		req.Tools = []toolSpec{{Type: t}}
	}
	return req
}

// Respond runs one Responses API call and returns the concatenated
// assistant text. Empty text is an error.
func (c *client) Respond(ctx context.Context, r Request) (string, error) {
	req := buildRequest(r)
	if req.Model == "" {
		return "", errors.New("model required")
	}
	var resp responsesResponse
	if err := c.do(ctx, responsesPath, req, &resp); err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}
	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

func (c *client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, path string, req responsesRequest, out *responsesResponse) error {
	backoff := c.backoff
	start := time.Now()
	metrics := observability.Current()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, raw, err := c.doOnce(ctx, path, req)
		if err == nil {
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				metrics.ObserveLLMRequest(req.Model, path, "decode_error", time.Since(start), 0, 0)
				return fmt.Errorf("openai decode error: %w", uErr)
			}
			metrics.ObserveLLMRequest(req.Model, path, statusFromResp(resp), time.Since(start), out.Usage.InputTokens, out.Usage.OutputTokens)
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.maxRetries {
			metrics.ObserveLLMRequest(req.Model, path, statusFromRespErr(resp, err), time.Since(start), 0, 0)
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"model", req.Model,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		if err := httpx.Sleep(ctx, sleepFor); err != nil {
			return err
		}
		backoff *= 2
	}
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, c := range item.Content {
			if c.Type == "output_text" && c.Text != "" {
				out.WriteString(c.Text)
			}
		}
	}
	return out.String()
}

func statusFromResp(resp *http.Response) string {
	if resp == nil {
		return "unknown"
	}
	return strconv.Itoa(resp.StatusCode)
}

func statusFromRespErr(resp *http.Response, err error) string {
	if resp != nil {
		return strconv.Itoa(resp.StatusCode)
	}
	var httpErr *openAIHTTPError
	if errors.As(err, &httpErr) {
		return strconv.Itoa(httpErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
