package httpx_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taforever/ircd-toxicity/pkg/infra/httpx"
)

func TestFastHTTPClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "ircd-toxicity/test", r.Header.Get("User-Agent"))
		body, _ := io.ReadAll(r.Body) //nolint:errcheck
		assert.JSONEq(t, `{"a":1}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`)) //nolint:errcheck
	}))
	defer server.Close()

	client := httpx.NewFastHTTPClient(httpx.WithUserAgent("ircd-toxicity/test"))
	defer client.Close()

	req, err := http.NewRequest(http.MethodPost, server.URL+"/analyze?key=k", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"ok":true}`, string(body))
}

func TestFastHTTPClient_DecodesGzip(t *testing.T) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	_, _ = gz.Write([]byte(`{"ok":true}`))
	_ = gz.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(compressed.Bytes()) //nolint:errcheck
	}))
	defer server.Close()

	client := httpx.NewFastHTTPClient()
	defer client.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
}

func TestFastHTTPClient_BodyTooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 4096)) //nolint:errcheck
	}))
	defer server.Close()

	client := httpx.NewFastHTTPClient(httpx.WithMaxResponseBodySize(1024))
	defer client.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL+"/", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	assert.ErrorIs(t, err, httpx.ErrBodyTooLarge)
}

func TestFastHTTPClient_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()
	defer close(release)

	client := httpx.NewFastHTTPClient(httpx.WithTimeout(5 * time.Second))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Do(req)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFastHTTPClient_Closed(t *testing.T) {
	client := httpx.NewFastHTTPClient()
	client.Close()
	client.Close()

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	assert.ErrorIs(t, err, httpx.ErrClosed)
}
