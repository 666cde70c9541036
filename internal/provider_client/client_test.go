package provider_client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Options{
		BaseURL:    baseURL,
		Auth:       BearerAuth("tok"),
		RetryDelay: time.Millisecond,
	})
}

func TestDo_RetriesRetryableStatusThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"sent":true,"message":{"id":"m1"}}`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, true, resp.Data["sent"])
}

func TestDo_GivesUpAfterThreeAttempts(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"error":{"message":"upstream down"}}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Message())
	assert.Equal(t, 3, apiErr.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "bad input")
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Do(context.Background(), Request{Method: http.MethodPost, Path: "/x", JSON: map[string]string{"a": "b"}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "bad input", apiErr.Message())
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDo_NoContentAndPlainTextAreSuccessSentinels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, "OK")
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.Do(context.Background(), Request{Method: http.MethodDelete, Path: "/empty"})
	require.NoError(t, err)
	assert.True(t, resp.Sentinel)
	assert.Equal(t, map[string]any{"success": true}, resp.Data)

	resp, err = client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/text"})
	require.NoError(t, err)
	assert.True(t, resp.Sentinel)
	assert.Equal(t, "OK", resp.Data["data"])
}

func TestDo_DecodesArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"a"},{"id":"b"}]`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/list"})
	require.NoError(t, err)
	assert.Len(t, resp.List, 2)
}

func TestDo_FormAndBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "hello", r.PostForm.Get("Body"))
		_, _ = io.WriteString(w, `{"sid":"SM1","status":"queued"}`)
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Auth: BasicAuth("AC1", "secret")})
	resp, err := client.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/Messages.json",
		Form:   url.Values{"Body": {"hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "SM1", resp.Data["sid"])
}

func TestDo_MultipartUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "a.png", header.Filename)
		assert.Equal(t, "payload", string(data))
		assert.Equal(t, "x", r.FormValue("reference"))
		_, _ = io.WriteString(w, `[{"id":"f1"}]`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/files",
		File:   &FileUpload{Filename: "a.png", Data: []byte("payload"), Fields: map[string]string{"reference": "x"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.List, 1)
}

func TestDo_TransportErrorIsRetriedAndReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	_, err := newTestClient(base).Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsTransport())
	assert.Equal(t, 3, apiErr.Attempts)
}

func TestDo_RespectsRateLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})
	_, err := client.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Do(ctx, Request{Method: http.MethodGet, Path: "/x"})
	assert.Error(t, err)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 2*time.Second, parseRetryAfter("2"))
	assert.Equal(t, maxRetryAfter, parseRetryAfter("3600"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}

func TestLimiterPool_SharesPerKey(t *testing.T) {
	pool := NewLimiterPool(0, 0)
	a := pool.Get("whapi:1")
	assert.Same(t, a, pool.Get("whapi:1"))
	assert.NotSame(t, a, pool.Get("whapi:2"))

	var nilPool *LimiterPool
	assert.Nil(t, nilPool.Get("x"))
}
