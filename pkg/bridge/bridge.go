// Package bridge forwards a text request to the remote graph endpoint and maps
// every outcome onto a uniform Result.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"

	"github.com/google/uuid"
)

const (
	failurePrefix    = "API request failed: "
	unexpectedPrefix = "An unexpected error occurred: "

	remoteFailureMessage = "remote reported failure"

	maxErrorBodyBytes = 512
)

// Request is the structured input accepted by the remote graph endpoint.
type Request struct {
	OriginalText string   `json:"originalText" jsonschema:"description=The text to process" validate:"required"`
	Tags         []string `json:"tags" jsonschema:"description=Optional tags that steer processing"`
}

// NewRequest copies tags so the request does not alias caller memory.
func NewRequest(text string, tags []string) Request {
	copied := make([]string, len(tags))
	copy(copied, tags)
	return Request{OriginalText: text, Tags: copied}
}

// Result is the uniform outcome of one bridge call.
//
// Success implies Result may be set and Error is empty; failure implies
// Result is nil and Error is non-empty.
type Result struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Failure builds a failed Result carrying message.
func Failure(message string) Result {
	if strings.TrimSpace(message) == "" {
		message = remoteFailureMessage
	}

	return Result{Success: false, Error: message}
}

type graphPayload struct {
	OriginalText string   `json:"originalText"`
	Tags         []string `json:"tags"`
	SessionID    string   `json:"sessionId"`
}

type graphResponse struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result"`
	Error   string         `json:"error"`
}

// Client posts requests to <base-url><graph-path>.
type Client struct {
	baseURL        string
	graphPath      string
	httpClient     *http.Client
	requestTimeout time.Duration
	healthTimeout  time.Duration
	newID          func() string
	log            *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport used for remote calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithIDGenerator replaces the correlation id source.
func WithIDGenerator(newID func() string) Option {
	return func(c *Client) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// WithLogger sets the logger used for call diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = logger.Component(log, "bridge")
		}
	}
}

// New builds a bridge client from bridge config.
func New(cfg config.BridgeConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("bridge.base_url is required")
	}

	graphPath := strings.TrimSpace(cfg.GraphPath)
	if graphPath == "" {
		graphPath = config.DefaultGraphPath
	}
	if !strings.HasPrefix(graphPath, "/") {
		graphPath = "/" + graphPath
	}

	requestTimeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout <= 0 {
		requestTimeout = config.DefaultRequestTimeoutSeconds * time.Second
	}
	healthTimeout := time.Duration(cfg.HealthTimeoutSeconds) * time.Second
	if healthTimeout <= 0 {
		healthTimeout = config.DefaultHealthTimeoutSeconds * time.Second
	}

	c := &Client{
		baseURL:        baseURL,
		graphPath:      graphPath,
		httpClient:     &http.Client{},
		requestTimeout: requestTimeout,
		healthTimeout:  healthTimeout,
		newID:          uuid.NewString,
		log:            logger.Component(nil, "bridge"),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// BaseURL returns the remote base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Bridge posts text and tags with a fresh correlation id and never returns an error:
// every failure is folded into the Result.
func (c *Client) Bridge(ctx context.Context, req Request) Result {
	if ctx == nil {
		ctx = context.Background()
	}

	correlationID := c.newID()
	log := c.log.With(logger.KeyCorrelationID, correlationID)
	startedAt := time.Now()
	log.Info("Processing bridge request", "text_length", len(req.OriginalText), "tags", len(req.Tags))

	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	body, err := json.Marshal(graphPayload{
		OriginalText: req.OriginalText,
		Tags:         tags,
		SessionID:    correlationID,
	})
	if err != nil {
		return c.fail(log, unexpectedPrefix, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+c.graphPath, bytes.NewReader(body))
	if err != nil {
		return c.fail(log, unexpectedPrefix, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.fail(log, failurePrefix, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return c.fail(log, failurePrefix, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(snippet)),
		})
	}

	var data graphResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		if callCtx.Err() != nil {
			return c.fail(log, failurePrefix, fmt.Errorf("read response: %w", callCtx.Err()))
		}
		return c.fail(log, unexpectedPrefix, fmt.Errorf("decode response: %w", err))
	}

	log.Info("Bridge request completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"remote_success", data.Success,
	)

	if !data.Success {
		return Failure(data.Error)
	}

	return Result{Success: true, Result: data.Result}
}

func (c *Client) fail(log *slog.Logger, prefix string, err error) Result {
	message := prefix + err.Error()
	log.Error("Bridge request failed", "error", message)
	return Failure(message)
}

// StatusError reports an HTTP error status returned by the remote endpoint.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %s", e.Status)
	}

	return fmt.Sprintf("status %s: %s", e.Status, e.Body)
}
