// Package httpx provides the bulk HTTP client used for status-store REST
// calls and media downloads. It owns a cookie jar that AuthSessionBridge
// fills from the interactive browser context; the client itself never
// performs interactive authentication.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	errs "fanvault/pkg/errors"
	"fanvault/pkg/logger"
)

// Client wraps http.Client with default headers, a cookie jar, and response
// classification into the pipeline error taxonomy.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	logger     logger.Logger
}

// NewClient creates a client with its own cookie jar and request timeout.
func NewClient(timeout time.Duration, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		headers: map[string]string{
			"Accept":          "*/*",
			"Accept-Language": "en-US,en;q=0.9",
		},
		logger: log,
	}, nil
}

// SetHeader sets a default header applied to every request.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Jar exposes the cookie jar so the session bridge can sync browser cookies
// into it.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// Do performs the request with default headers applied. Transport-level
// failures come back as connection errors; HTTP status classification is the
// caller's concern (use CheckStatus) because download fallback logic needs
// the raw response.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		if req.Header.Get(key) == "" {
			req.Header.Set(key, value)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Newf(errs.ErrorTypeConnection, "request %s %s: %v", req.Method, req.URL, err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})
	return resp, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeUnknown, "create request: %v", err)
	}
	return c.Do(req)
}

// GetJSON performs a GET request and decodes the JSON response body.
func (c *Client) GetJSON(ctx context.Context, url string, target interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := CheckStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Newf(errs.ErrorTypeConnection, "read response body: %v", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return errs.NewHTTP(errs.ErrorTypeParsing, resp.StatusCode, fmt.Sprintf("parse JSON: %v", err))
	}
	return nil
}

// CheckStatus converts a non-2xx response into a typed error and closes
// nothing; the caller still owns the body.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	t := errs.ClassifyStatusCode(resp.StatusCode)
	return errs.NewHTTP(t, resp.StatusCode, fmt.Sprintf("%s %s returned %s",
		resp.Request.Method, resp.Request.URL, resp.Status))
}
