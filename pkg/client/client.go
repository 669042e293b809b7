// Package client is an HTTP client for the detection registry API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/y0ug/detreg/internal/database/models"
	"github.com/y0ug/detreg/internal/registry"
	"github.com/y0ug/detreg/pkg/auth"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// APIError is a non-2xx answer from the registry.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("registry returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("registry returned status %d: %s", e.StatusCode, e.Message)
}

// Is maps HTTP statuses onto the registry error sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case registry.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case registry.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case registry.ErrInvalidIdentity:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

// Client talks to a detreg server.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	caller  string
	token   string
	limiter *rate.Limiter
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithToken authenticates every request with a bearer access token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithCaller sets the caller header used when the server runs without
// token authentication.
func WithCaller(caller string) Option {
	return func(c *Client) { c.caller = caller }
}

// WithRateLimiter throttles outgoing requests.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

// WithTimeout sets the per-request timeout. The default is 10 seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token, TokenType: "Bearer"})
		c.http = oauth2.NewClient(context.Background(), src)
		c.http.Timeout = c.timeout
	} else {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if c.limiter != nil {
		// Wait for permission to proceed based on rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.caller != "" {
		req.Header.Set(auth.CallerHeader, c.caller)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	envelope := auth.HttpResp{Data: out}
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr != nil {
			// Not a registry answer, e.g. no route matched the path.
			return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	return nil
}

// AddTrustedReporter trusts reporter. The caller must be the owner.
func (c *Client) AddTrustedReporter(ctx context.Context, reporter string) error {
	return c.do(ctx, http.MethodPut, "/api/reporters", models.ReporterRequest{Reporter: reporter}, nil)
}

// IsTrustedReporter reports whether reporter is trusted.
func (c *Client) IsTrustedReporter(ctx context.Context, reporter string) (bool, error) {
	var resp models.ReporterStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/reporters/"+url.PathEscape(reporter), nil, &resp); err != nil {
		return false, err
	}
	return resp.Trusted, nil
}

// ListTrustedReporters returns every trusted reporter.
func (c *Client) ListTrustedReporters(ctx context.Context) ([]models.Reporter, error) {
	var resp models.ReportersResponse
	if err := c.do(ctx, http.MethodGet, "/api/reporters", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Reporters, nil
}

// ReportDetection records fileHash with timestamp and returns the stored detection.
func (c *Client) ReportDetection(ctx context.Context, fileHash, timestamp string) (models.Detection, error) {
	var resp models.DetectionDetailResponse
	req := models.DetectionRequest{FileHash: fileHash, Timestamp: timestamp}
	if err := c.do(ctx, http.MethodPut, "/api/detections", req, &resp); err != nil {
		return models.Detection{}, err
	}
	return resp.Detection, nil
}

// ConfirmDetection confirms the detection for fileHash. The caller must be the owner.
func (c *Client) ConfirmDetection(ctx context.Context, fileHash string) (models.Detection, error) {
	var resp models.DetectionDetailResponse
	if err := c.do(ctx, http.MethodPost, "/api/detections/"+url.PathEscape(fileHash)+"/confirm", nil, &resp); err != nil {
		return models.Detection{}, err
	}
	return resp.Detection, nil
}

// GetDetection returns the detection for fileHash, or the zero Detection
// when none was reported.
func (c *Client) GetDetection(ctx context.Context, fileHash string) (models.Detection, error) {
	var resp models.DetectionDetailResponse
	err := c.do(ctx, http.MethodGet, "/api/detections/"+url.PathEscape(fileHash), nil, &resp)
	if errors.Is(err, registry.ErrNotFound) {
		return models.Detection{}, nil
	}
	if err != nil {
		return models.Detection{}, err
	}
	return resp.Detection, nil
}

// Stats returns registry counters.
func (c *Client) Stats(ctx context.Context) (models.StatsResponse, error) {
	var resp models.StatsResponse
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &resp)
	return resp, err
}

// WhoAmI returns the caller identity as resolved by the server.
func (c *Client) WhoAmI(ctx context.Context) (models.WhoAmIResponse, error) {
	var resp models.WhoAmIResponse
	err := c.do(ctx, http.MethodGet, "/api/whoami", nil, &resp)
	return resp, err
}
