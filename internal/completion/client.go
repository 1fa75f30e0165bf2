package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults for the hosted OpenRouter chat-completions endpoint.
const (
	DefaultAPIURL   = "https://openrouter.ai/api/v1/chat/completions"
	DefaultProvider = "openrouter"
	DefaultTimeout  = 120 * time.Second
)

// Compile-time interface check.
var _ Completer = (*Client)(nil)

// RateLimiter is the part of the adaptive limiter the gateway feeds and
// consults. Pacing before a batch is the dispatcher's job, not the client's.
type RateLimiter interface {
	UpdateFromHeaders(provider string, headers http.Header)
	RetryPolicy(provider string) backoff.BackOff
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	http     *http.Client
	apiURL   string
	apiKey   string
	provider string
	timeout  time.Duration
	limiter  RateLimiter
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each Complete call, retries included.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the underlying *http.Client entirely.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithAPIURL overrides the chat-completions endpoint.
func WithAPIURL(u string) ClientOption {
	return func(c *Client) {
		c.apiURL = u
	}
}

// WithProvider sets the provider key used for rate-limit bookkeeping.
func WithProvider(p string) ClientOption {
	return func(c *Client) {
		c.provider = p
	}
}

// WithLimiter enables rate-limit header tracking and 429 retries.
func WithLimiter(l RateLimiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a chat-completions client authenticated with apiKey.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		http:     &http.Client{},
		apiURL:   DefaultAPIURL,
		apiKey:   apiKey,
		provider: DefaultProvider,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Provider returns the provider key the client reports to its limiter.
func (c *Client) Provider() string { return c.provider }

type chatRequest struct {
	Model    ModelID   `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends messages to model and returns the first choice's text.
// A 429 response is retried on the limiter's backoff schedule; any other
// failure returns immediately.
func (c *Client) Complete(ctx context.Context, model ModelID, messages []Message) (string, error) {
	if c.apiKey == "" {
		return "", ErrNoAPIKey
	}

	body, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("completion: marshal request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var content string
	op := func() error {
		text, err := c.post(ctx, model, body)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				return err
			}
			return backoff.Permanent(err)
		}
		content = text
		return nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.limiter != nil {
		policy = c.limiter.RetryPolicy(c.provider)
	}
	notify := func(err error, d time.Duration) {
		c.logger.Debug("retrying completion", "model", string(model), "delay", d, "error", err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return "", err
	}
	return content, nil
}

// post performs a single HTTP round trip.
func (c *Client) post(ctx context.Context, model ModelID, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion: %s: %w", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &StatusError{Model: model, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if c.limiter != nil {
		c.limiter.UpdateFromHeaders(c.provider, resp.Header)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("completion: %s: decode response: %w", model, err)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("completion: %s: %w", model, ErrEmptyContent)
	}
	return cr.Choices[0].Message.Content, nil
}
