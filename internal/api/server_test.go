package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/toolhub/shotpipe/internal/capture"
	idgen "github.com/toolhub/shotpipe/internal/id/uuid"
	memqueue "github.com/toolhub/shotpipe/internal/queue/memory"
	memstore "github.com/toolhub/shotpipe/internal/store/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// stubProcessor records processed targets and returns a canned result.
type stubProcessor struct {
	mu      sync.Mutex
	targets []capture.Target
	result  capture.TargetResult
	done    chan struct{}
}

func (p *stubProcessor) ProcessTarget(_ context.Context, target capture.Target) capture.TargetResult {
	p.mu.Lock()
	p.targets = append(p.targets, target)
	p.mu.Unlock()
	if p.done != nil {
		defer func() { p.done <- struct{}{} }()
	}
	result := p.result
	result.ToolID = target.ToolID
	result.URL = target.URL
	return result
}

func newTestServer(t *testing.T, proc *stubProcessor, targets ...capture.Target) (*Server, *memqueue.Queue) {
	t.Helper()
	queue := memqueue.NewQueue(8)
	tools := memstore.NewToolStore(targets...)
	srv := NewServer(
		queue,
		tools,
		proc,
		idgen.NewUUIDGenerator(),
		fixedClock{t: time.Unix(1700000000, 0).UTC()},
		zap.NewNop(),
	)
	return srv, queue
}

func TestServer_SubmitCapture_Succeeds(t *testing.T) {
	proc := &stubProcessor{}
	srv, queue := newTestServer(t, proc)

	body := bytes.NewBufferString(`{"tool_id":"tool-1","website_url":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/captures/", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["request_id"])
	require.Equal(t, 1, queue.Len())
}

func TestServer_SubmitCapture_ResolvesURLFromStore(t *testing.T) {
	proc := &stubProcessor{}
	srv, _ := newTestServer(t, proc, capture.Target{ToolID: "tool-1", URL: "https://stored.example.com"})

	body := bytes.NewBufferString(`{"tool_id":"tool-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/captures/", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServer_SubmitCapture_UnknownTool(t *testing.T) {
	proc := &stubProcessor{}
	srv, _ := newTestServer(t, proc)

	body := bytes.NewBufferString(`{"tool_id":"missing"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/captures/", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SubmitCapture_InvalidJSON(t *testing.T) {
	proc := &stubProcessor{}
	srv, _ := newTestServer(t, proc)

	req := httptest.NewRequest(http.MethodPost, "/v1/captures/", bytes.NewBufferString("{invalid"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitCapture_QueueFull(t *testing.T) {
	proc := &stubProcessor{}
	queue := memqueue.NewQueue(1)
	srv := NewServer(queue, memstore.NewToolStore(), proc,
		idgen.NewUUIDGenerator(), fixedClock{t: time.Now()}, zap.NewNop())

	submit := func() *httptest.ResponseRecorder {
		body := bytes.NewBufferString(`{"tool_id":"tool-1","website_url":"https://example.com"}`)
		req := httptest.NewRequest(http.MethodPost, "/v1/captures/", body)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusAccepted, submit().Code)
	require.Equal(t, http.StatusTooManyRequests, submit().Code)

	// A rejected submission leaves no orphaned pending record behind.
	srv.statuses.mu.RLock()
	records := len(srv.statuses.records)
	srv.statuses.mu.RUnlock()
	require.Equal(t, 1, records)
}

func TestServer_StatusRecordExistsBeforeDequeue(t *testing.T) {
	proc := &stubProcessor{}
	srv, queue := newTestServer(t, proc)

	body := bytes.NewBufferString(`{"tool_id":"tool-1","website_url":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/captures/", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id := resp["request_id"]

	// The record is already visible once the request sits on the queue, so
	// a worker that dequeues immediately never writes into a missing entry.
	status, ok := srv.statuses.get(id)
	require.True(t, ok)
	require.Equal(t, capture.StatePending, status.State)

	dequeued, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, id, dequeued.ID)
	srv.statuses.setState(dequeued.ID, capture.StateCapturing)
	srv.statuses.setResult(dequeued.ID, capture.TargetResult{
		State:   capture.StateCompleted,
		Success: true,
		URLs:    []string{"https://cdn.example.com/tools/tool-1/hero.jpg?v=1"},
	})

	status, ok = srv.statuses.get(id)
	require.True(t, ok)
	require.Equal(t, capture.StateCompleted, status.State)
	require.Len(t, status.URLs, 1)
}

func TestServer_SubmitBatch_MixedResults(t *testing.T) {
	proc := &stubProcessor{}
	srv, _ := newTestServer(t, proc, capture.Target{ToolID: "tool-1", URL: "https://a.example.com"})

	body := bytes.NewBufferString(`{"tool_ids":["tool-1","missing"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/captures/batch", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		Requests []struct {
			ToolID    string `json:"tool_id"`
			RequestID string `json:"request_id"`
			Error     string `json:"error"`
		} `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Requests, 2)
	require.NotEmpty(t, resp.Requests[0].RequestID)
	require.Empty(t, resp.Requests[0].Error)
	require.Equal(t, "tool not found", resp.Requests[1].Error)
}

func TestServer_GetCapture_WorkerUpdatesStatus(t *testing.T) {
	proc := &stubProcessor{
		result: capture.TargetResult{
			State:   capture.StateCompleted,
			Success: true,
			URLs:    []string{"https://cdn.example.com/tools/tool-1/hero.jpg?v=1"},
		},
		done: make(chan struct{}, 1),
	}
	srv, _ := newTestServer(t, proc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv.StartWorker(ctx)

	body := bytes.NewBufferString(`{"tool_id":"tool-1","website_url":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/captures/", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitResp))
	id := submitResp["request_id"]

	select {
	case <-proc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process the request")
	}

	require.Eventually(t, func() bool {
		statusReq := httptest.NewRequest(http.MethodGet, "/v1/captures/"+id, nil)
		statusRec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(statusRec, statusReq)
		if statusRec.Code != http.StatusOK {
			return false
		}
		var status statusRecord
		if err := json.Unmarshal(statusRec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.State == capture.StateCompleted && len(status.URLs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
}

func TestServer_GetCapture_NotFound(t *testing.T) {
	proc := &stubProcessor{}
	srv, _ := newTestServer(t, proc)

	req := httptest.NewRequest(http.MethodGet, "/v1/captures/2e9f6a1c-1111-4222-8333-444455556666", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetCapture_InvalidID(t *testing.T) {
	proc := &stubProcessor{}
	srv, _ := newTestServer(t, proc)

	req := httptest.NewRequest(http.MethodGet, "/v1/captures/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Healthz(t *testing.T) {
	proc := &stubProcessor{}
	srv, _ := newTestServer(t, proc)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}
