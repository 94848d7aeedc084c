package fallback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toolhub/shotpipe/internal/capture"
)

func newRenderer(t *testing.T, baseURL string) *Renderer {
	t.Helper()
	r, err := New(Config{
		BaseURL:        baseURL,
		Width:          1440,
		AttemptTimeout: 2 * time.Second,
		RequestsPerSec: 1000,
	}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestRendererCandidateOrder(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, "http://render.invalid")
	cands := r.candidates()
	require.Equal(t, []candidate{
		{mode: "fullpage", width: 1440},
		{mode: "standard", width: 1440},
		{mode: "standard", width: 1240},
	}, cands)
}

func TestRendererWidthFloor(t *testing.T) {
	t.Parallel()

	r, err := New(Config{BaseURL: "http://render.invalid", Width: 900}, zap.NewNop())
	require.NoError(t, err)
	cands := r.candidates()
	require.Equal(t, 800, cands[2].width)
}

func TestRendererFirstCandidateWins(t *testing.T) {
	t.Parallel()

	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		paths = append(paths, req.URL.Path)
		_, _ = w.Write([]byte("imagebytes"))
	}))
	defer srv.Close()

	r := newRenderer(t, srv.URL)
	data, err := r.Render(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, []byte("imagebytes"), data)
	require.Len(t, paths, 1)
	require.Contains(t, paths[0], "/get/fullpage/width/1440/")
}

func TestRendererDegradesThroughCandidates(t *testing.T) {
	t.Parallel()

	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		paths = append(paths, req.URL.Path)
		if len(paths) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("reduced"))
	}))
	defer srv.Close()

	r := newRenderer(t, srv.URL)
	data, err := r.Render(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, []byte("reduced"), data)
	require.Len(t, paths, 3)
	require.Contains(t, paths[0], "/get/fullpage/width/1440/")
	require.Contains(t, paths[1], "/get/standard/width/1440/")
	require.Contains(t, paths[2], "/get/standard/width/1240/")
}

func TestRendererExhaustion(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := newRenderer(t, srv.URL)
	_, err := r.Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, capture.ErrFallbackExhausted)
	require.Equal(t, 3, calls)
}

func TestRendererEmptyBodyIsFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newRenderer(t, srv.URL)
	_, err := r.Render(context.Background(), "https://example.com")
	require.ErrorIs(t, err, capture.ErrFallbackExhausted)
}

func TestRendererContextCancellationStopsAttempts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newRenderer(t, srv.URL)
	_, err := r.Render(ctx, "https://example.com")
	require.Error(t, err)
	require.NotErrorIs(t, err, capture.ErrFallbackExhausted)
}

func TestRendererRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, zap.NewNop())
	require.Error(t, err)
}
