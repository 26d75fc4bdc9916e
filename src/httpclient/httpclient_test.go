package httpclient

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New()
	body, err := c.GetJSON(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestGetJSONTerminalOn4xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New()
	_, err := c.GetJSON(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "4xx must not be retried")
}

func TestGetJSONRetriesOn5xxThenSucceeds(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New()
	body, err := c.GetJSON(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&hits)), 2)
}

func TestStreamWritesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("payload-bytes"))
	}))
	defer srv.Close()

	c := New()
	var buf bytes.Buffer
	err := c.Stream(context.Background(), srv.URL, &buf)
	require.NoError(t, err)
	assert.Equal(t, "payload-bytes", buf.String())
}

func TestRetriableClassification(t *testing.T) {
	assert.True(t, retriable(500, nil))
	assert.True(t, retriable(503, nil))
	assert.False(t, retriable(404, nil))
	assert.False(t, retriable(400, nil))
	assert.True(t, retriable(0, context.DeadlineExceeded))
}
