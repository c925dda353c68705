package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HealthStatus is the liveness verdict for the remote endpoint.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
)

// Health performs a GET against the base URL; any status below 400 is healthy.
func (c *Client) Health(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	log := c.log.With("operation", "health")
	startedAt := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("Health check failed", "url", c.baseURL, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: could not reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	if resp.StatusCode >= http.StatusBadRequest {
		log.Warn("Health check failed", "url", c.baseURL, "status", resp.StatusCode)
		return fmt.Errorf("health check failed: %w", &StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	log.Debug("Health check succeeded", "url", c.baseURL, "status", resp.StatusCode, "duration_ms", time.Since(startedAt).Milliseconds())
	return nil
}

// Status maps Health onto a HealthStatus.
func (c *Client) Status(ctx context.Context) HealthStatus {
	if err := c.Health(ctx); err != nil {
		return Unhealthy
	}

	return Healthy
}
