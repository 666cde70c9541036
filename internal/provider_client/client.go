package provider_client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// StandardTimeout bounds one attempt of an ordinary call.
	StandardTimeout = 30 * time.Second
	// UploadTimeout bounds one attempt of a file or media upload.
	UploadTimeout = 60 * time.Second

	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	maxRetryAfter     = 30 * time.Second
)

var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// AuthFunc decorates an outgoing request with credentials.
type AuthFunc func(req *http.Request)

// BearerAuth sets "Authorization: Bearer <token>".
func BearerAuth(token string) AuthFunc {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// BasicAuth sets HTTP basic credentials.
func BasicAuth(username, password string) AuthFunc {
	return func(req *http.Request) {
		req.SetBasicAuth(username, password)
	}
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	Auth       AuthFunc
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
	Limiter    *rate.Limiter
	Logger     *zap.Logger
}

// Client performs provider API calls with retries, timeouts and rate limiting.
type Client struct {
	baseURL    string
	auth       AuthFunc
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a new provider API client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		auth:       opts.Auth,
		httpClient: httpClient,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		limiter:    opts.Limiter,
		logger:     logger,
	}
}

// FileUpload is a multipart file part plus extra form fields.
type FileUpload struct {
	FieldName string
	Filename  string
	Data      []byte
	Fields    map[string]string
}

// Request describes one logical API call. At most one of JSON, Form and
// File is used as the body.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	JSON   any
	Form   url.Values
	File   *FileUpload
	// Upload selects the long timeout tier for non-multipart media calls.
	Upload bool
}

// Response is a successful (2xx) reply.
type Response struct {
	StatusCode int
	Body       []byte
	// Data holds a decoded JSON object body, or the success sentinel.
	Data map[string]any
	// List holds a decoded JSON array body.
	List []any
	// Sentinel is set for empty (204) or non-JSON bodies.
	Sentinel bool
	Attempts int
	Latency  time.Duration
}

// APIError is returned once the retry budget is spent or a non-retryable
// status arrives. StatusCode is zero for transport failures.
type APIError struct {
	StatusCode int
	Body       []byte
	Data       any
	RetryAfter time.Duration
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode <= 0 {
		return fmt.Sprintf("provider request failed after %d attempts: %v", e.Attempts, e.Err)
	}
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("provider returned status %d", e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Message extracts a human readable message from the error body.
func (e *APIError) Message() string {
	if m, ok := e.Data.(map[string]any); ok {
		for _, key := range []string{"message", "error", "detail"} {
			switch v := m[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if s, ok := v["message"].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return strings.TrimSpace(string(e.Body))
}

// IsTransport reports whether the request never produced an HTTP response.
func (e *APIError) IsTransport() bool {
	return e.StatusCode == 0
}

// Do sends req, retrying transport failures and retryable statuses.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	started := time.Now()
	timeout := StandardTimeout
	if req.Upload || req.File != nil {
		timeout = UploadTimeout
	}

	var lastErr *APIError
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, &APIError{Attempts: attempt, Err: err}
			}
		}

		resp, apiErr := c.attempt(ctx, req, timeout)
		if apiErr == nil {
			resp.Attempts = attempt
			resp.Latency = time.Since(started)
			return resp, nil
		}
		apiErr.Attempts = attempt
		lastErr = apiErr

		retryable := apiErr.IsTransport() || retryableStatus[apiErr.StatusCode]
		if !retryable || attempt == c.maxRetries || ctx.Err() != nil {
			break
		}

		delay := c.retryDelay * time.Duration(attempt)
		if apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
		}
		c.logger.Warn("Retrying provider request",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("attempt", attempt),
			zap.Int("status", apiErr.StatusCode),
			zap.Duration("delay", delay),
		)
		if err := sleepContext(ctx, delay); err != nil {
			lastErr.Err = errors.Join(lastErr.Err, err)
			break
		}
	}

	c.logger.Error("Provider request failed",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", lastErr.StatusCode),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

func (c *Client) attempt(parent context.Context, req Request, timeout time.Duration) (*Response, *APIError) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		// Building the request fails identically on every attempt.
		return nil, &APIError{StatusCode: -1, Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &APIError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       body,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		var parsed any
		if json.Unmarshal(body, &parsed) == nil {
			apiErr.Data = parsed
		}
		return nil, apiErr
	}

	return decodeBody(resp.StatusCode, body), nil
}

func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.File != nil:
		buf := &bytes.Buffer{}
		writer := multipart.NewWriter(buf)
		for k, v := range req.File.Fields {
			if err := writer.WriteField(k, v); err != nil {
				return nil, fmt.Errorf("failed to write form field: %w", err)
			}
		}
		field := req.File.FieldName
		if field == "" {
			field = "file"
		}
		part, err := writer.CreateFormFile(field, req.File.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(req.File.Data); err != nil {
			return nil, fmt.Errorf("failed to write form file: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close multipart body: %w", err)
		}
		body = buf
		contentType = writer.FormDataContentType()
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.JSON != nil:
		raw, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(httpReq)
	}
	return httpReq, nil
}

func decodeBody(status int, body []byte) *Response {
	resp := &Response{StatusCode: status, Body: body}
	trimmed := bytes.TrimSpace(body)
	if status == http.StatusNoContent || len(trimmed) == 0 {
		resp.Sentinel = true
		resp.Data = map[string]any{"success": true}
		return resp
	}

	switch trimmed[0] {
	case '{':
		var obj map[string]any
		if json.Unmarshal(trimmed, &obj) == nil {
			resp.Data = obj
			return resp
		}
	case '[':
		var list []any
		if json.Unmarshal(trimmed, &list) == nil {
			resp.List = list
			resp.Data = map[string]any{}
			return resp
		}
	}

	resp.Sentinel = true
	resp.Data = map[string]any{"success": true, "data": string(body)}
	return resp
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	delay := time.Duration(seconds) * time.Second
	if delay > maxRetryAfter {
		return maxRetryAfter
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
