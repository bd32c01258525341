package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/certstate-cli/pkg/jina"
)

func newJinaServer(t *testing.T, handler http.HandlerFunc) jina.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return jina.NewClient("jina-key", jina.WithBaseURL(srv.URL))
}

func TestJinaSource_FetchPreservesOrder(t *testing.T) {
	client := newJinaServer(t, func(w http.ResponseWriter, r *http.Request) {
		target := strings.TrimPrefix(r.URL.Path, "/")
		_ = json.NewEncoder(w).Encode(jina.ReadResponse{
			Code: 200,
			Data: jina.ReadData{URL: target, Content: "# " + target, Description: "about " + target},
		})
	})

	src := NewJinaSource(client, 2, fastRetry())
	urls := []string{"https://a.example", "https://b.example", "https://c.example"}
	pages, err := src.Fetch(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, u := range urls {
		assert.Equal(t, u, pages[i].URL)
		assert.Equal(t, "# "+u, pages[i].Markdown)
		assert.Equal(t, "about "+u, pages[i].Summary)
	}
}

func TestJinaSource_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	client := newJinaServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"code":200,"data":{"content":"ok"}}`))
	})

	pages, err := NewJinaSource(client, 1, fastRetry()).Fetch(context.Background(), []string{"https://a.example"})
	require.NoError(t, err)
	assert.Equal(t, "ok", pages[0].Markdown)
	assert.Equal(t, int32(2), calls.Load())
}

func TestJinaSource_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newJinaServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := NewJinaSource(client, 1, fastRetry()).Fetch(context.Background(), []string{"https://a.example"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://a.example")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewJinaSource_DefaultConcurrency(t *testing.T) {
	src := NewJinaSource(jina.NewClient(""), 0, fastRetry())
	assert.Equal(t, DefaultConcurrency, src.concurrency)
}
