package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDoDecodesAndSendsHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sensorpull-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(body))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(WithUserAgent("sensorpull-test"), WithHeader("X-API-Key", "k"))
	var out struct {
		OK bool `json:"ok"`
	}
	err := c.Do(context.Background(), &RequestOptions{
		Method:      MethodPost,
		URL:         srv.URL,
		QueryParams: map[string][]string{"page": {"2"}},
		Body:        map[string]int{"a": 1},
	}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad sensor", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	err := NewClient().DoWithRetry(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil,
		RetryPolicy{Attempts: 5, Backoff: time.Millisecond})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Equal(t, "bad sensor", se.Body)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientRetriesThrottling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewClient().DoWithRetry(context.Background(), &RequestOptions{Method: MethodPost, URL: srv.URL, Body: []byte("x")}, nil,
		RetryPolicy{Attempts: 3, Backoff: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}
