// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/deepchat/internal/logging"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// CompletionsPath is appended to the configured endpoint.
	CompletionsPath = "/v1/chat/completions"

	// DefaultTimeout bounds connection setup and response headers.
	DefaultTimeout = 30 * time.Second

	// DefaultIdleTimeout is the longest gap allowed between two reads of a
	// stream body. Reasoning models can pause for a while before content.
	DefaultIdleTimeout = 2 * time.Minute

	// MaxLineSize caps a single SSE line. A server that never sends a
	// newline fails the stream instead of growing the residual forever.
	MaxLineSize = 1 << 20

	// maxErrorBodySize limits how much of a non-2xx body is read.
	maxErrorBodySize = 64 * 1024

	defaultUserAgent = "deepchat/0.1.0"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the endpoint, key or model is missing.
	ErrNotConfigured = errors.New("chat API not configured")

	// ErrEmptyConversation indicates a request with no messages.
	ErrEmptyConversation = errors.New("no messages to send")

	// ErrStreamCanceled is the terminal outcome of a canceled stream.
	ErrStreamCanceled = errors.New("stream canceled")

	// ErrIdleTimeout indicates the server sent nothing for the idle timeout.
	ErrIdleTimeout = errors.New("stream idle timeout")

	// ErrLineTooLong indicates a line exceeded MaxLineSize.
	ErrLineTooLong = errors.New("SSE line exceeds maximum size")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrInsufficientCredits indicates the account balance is exhausted.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx response from the chat API.
type APIError struct {
	Status  int
	Code    string
	Type    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// Is maps well-known status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return target == ErrAuthFailed
	case http.StatusPaymentRequired:
		return target == ErrInsufficientCredits
	case http.StatusNotFound:
		return target == ErrModelNotFound
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	}
	return false
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// parseAPIError builds an APIError from a response body, falling back to the
// raw text when the body is not the usual {"error":{...}} envelope.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var parsed apiErrorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		apiErr.Type = parsed.Error.Type
		if parsed.Error.Code != nil {
			apiErr.Code = fmt.Sprint(parsed.Error.Code)
		}
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ChatMessage is one entry of the request history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Sampling holds the generation parameters sent with every request.
type Sampling struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
}

// DefaultSampling returns the parameters the API is called with by default.
func DefaultSampling() Sampling {
	return Sampling{
		Temperature: 0.7,
		MaxTokens:   2000,
		TopP:        1.0,
	}
}

// Request describes one streaming completion. Settings are passed per
// request so a configuration change never affects an in-flight stream.
type Request struct {
	Endpoint string
	APIKey   string
	Model    string
	Messages []ChatMessage
}

// Validate checks the request before any network activity.
func (r Request) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(r.APIKey) == "" {
		missing = append(missing, "api key")
	}
	if strings.TrimSpace(r.Model) == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotConfigured, strings.Join(missing, ", "))
	}
	if len(r.Messages) == 0 {
		return ErrEmptyConversation
	}
	return nil
}

// chatRequest is the wire body. Field order is the order on the wire.
type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Stream           bool          `json:"stream"`
	Temperature      float64       `json:"temperature"`
	MaxTokens        int           `json:"max_tokens"`
	TopP             float64       `json:"top_p"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	PresencePenalty  float64       `json:"presence_penalty"`
}

// CompletionsURL joins an endpoint and the completions path.
func CompletionsURL(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/") + CompletionsPath
}

// KeyFingerprint returns the first 8 hex characters of the key's SHA-256,
// safe to log.
func KeyFingerprint(key string) string {
	if key == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// CLIENT
// =============================================================================

// Client opens streaming chat completions. It is safe for concurrent use;
// each Open produces an independent Stream.
type Client struct {
	httpClient  *http.Client
	idleTimeout time.Duration
	sampling    Sampling
	userAgent   string
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The client must not set an
// overall Timeout, which would cut long streams short.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the connect and response-header timeout of the default
// transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient = newStreamingHTTPClient(d) }
}

// WithIdleTimeout sets how long a stream may go without receiving any
// bytes before it fails with ErrIdleTimeout. Zero disables the check.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

// WithSampling overrides the generation parameters.
func WithSampling(s Sampling) Option {
	return func(c *Client) { c.sampling = s }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client with the default transport and sampling.
func NewClient(opts ...Option) *Client {
	c := &Client{
		idleTimeout: DefaultIdleTimeout,
		sampling:    DefaultSampling(),
		userAgent:   defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newStreamingHTTPClient(DefaultTimeout)
	}
	c.logger = logging.WithComponent(c.logger, "cloud")
	return c
}

// newStreamingHTTPClient has no overall timeout; the stream is bounded by
// its context. TLS 1.2 is the floor.
func newStreamingHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// newHTTPRequest builds the POST with the JSON body and headers.
func (c *Client) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	body := chatRequest{
		Model:            req.Model,
		Messages:         req.Messages,
		Stream:           true,
		Temperature:      c.sampling.Temperature,
		MaxTokens:        c.sampling.MaxTokens,
		TopP:             c.sampling.TopP,
		FrequencyPenalty: c.sampling.FrequencyPenalty,
		PresencePenalty:  c.sampling.PresencePenalty,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, CompletionsURL(req.Endpoint), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("User-Agent", c.userAgent)
	return httpReq, nil
}

// Open validates req and starts a streaming completion. Configuration
// problems are returned here; everything that happens on the network,
// including a failed connect, is reported through the Stream.
func (c *Client) Open(ctx context.Context, req Request) (*Stream, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s := newStream(ctx, c.idleTimeout, c.logger)
	httpReq, err := c.newHTTPRequest(s.ctx, req)
	if err != nil {
		s.stopAfter()
		s.cancel(err)
		return nil, err
	}

	c.logger.Debug("opening stream",
		"url", httpReq.URL.Redacted(),
		"model", req.Model,
		"messages", len(req.Messages),
		"key_fingerprint", KeyFingerprint(req.APIKey),
	)

	go s.run(c.httpClient, httpReq)
	return s, nil
}
