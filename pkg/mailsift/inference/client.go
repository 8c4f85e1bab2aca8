// Package inference provides the HTTP client for the local model
// endpoint. The server is treated as an opaque remote call: a prompt
// plus sampling parameters in, text plus token counts out.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Params are the sampling parameters sent with each completion request.
type Params struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"n_predict"`
}

// Result is one completed inference call.
type Result struct {
	Text             string `json:"content"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"tokens_evaluated"`
	CompletionTokens int    `json:"tokens_predicted"`
}

// Caller is the minimal surface the dispatcher needs from an inference
// client. Satisfied by *Client; tests substitute fakes.
type Caller interface {
	Analyze(ctx context.Context, prompt string, params Params) (*Result, error)
}

// Retry policy for transient failures. Retries apply only to connection
// errors and 5xx responses, never to context expiry: the per-unit
// timeout stays the hard bound.
const (
	maxRetries   = 2
	retryBackoff = 500 * time.Millisecond
)

// Client talks to a llama.cpp-style completion endpoint.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

var _ Caller = (*Client)(nil)

// New creates a client for the given base URL. Per-call deadlines come
// from the caller's context, so the underlying http.Client carries no
// timeout of its own.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{},
	}
}

type completionRequest struct {
	Prompt string `json:"prompt"`
	Params
}

// Analyze sends one completion request, retrying transient failures
// with bounded exponential backoff.
func (c *Client) Analyze(ctx context.Context, prompt string, params Params) (*Result, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := c.complete(ctx, prompt, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("inference failed after %d attempts: %w", maxRetries+1, lastErr)
}

// complete performs a single request/response round trip.
func (c *Client) complete(ctx context.Context, prompt string, params Params) (*Result, error) {
	body, err := json.Marshal(completionRequest{Prompt: prompt, Params: params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		return nil, &statusError{code: res.StatusCode}
	}

	var out Result
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Healthy reports whether the endpoint answers its health probe.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return res.StatusCode/100 == 2
}

// statusError is a non-2xx response from the inference server.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("inference status=%d", e.code)
}

// isRetryable reports whether an error is worth another attempt.
// Context expiry is final; 4xx responses indicate a caller problem.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}

	// Connection-level failures are transient by assumption.
	return true
}
