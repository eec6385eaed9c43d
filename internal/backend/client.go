// Package backend talks to the school-operations API on behalf of the
// notification subsystem.
package backend

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
)

// ErrRegistration wraps every failed device-token registration.
var ErrRegistration = errors.New("backend registration failed")

// Config holds backend connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Registration is the body of POST device-token/register.
type Registration struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	Token       string `json:"token"`
	Platform    string `json:"platform"`
	AccessToken string `json:"-"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d", e.Code)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Client performs backend calls. Each call is bounded by the configured timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Register associates a device token with the user. The response body is ignored.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	body, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/device-token/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if reg.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+reg.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %w", ErrRegistration, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))})
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// IsRetryable reports whether a registration error may succeed on another
// attempt: transport failures, 5xx and 429 are, other 4xx are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
