package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/nfgate/internal/auth"
	"github.com/mattjoyce/nfgate/internal/engine"
	"github.com/mattjoyce/nfgate/internal/events"
	"github.com/mattjoyce/nfgate/internal/jobstore"
	"github.com/mattjoyce/nfgate/internal/orchestrator"
	"github.com/mattjoyce/nfgate/internal/workflowspace"
)

// mockOrchestrator implements Orchestrator for testing
type mockOrchestrator struct {
	createFunc     func(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error)
	updateFunc     func(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error)
	listFunc       func(ctx context.Context) ([]workflowspace.Space, error)
	getFunc        func(ctx context.Context, id string) (workflowspace.Space, error)
	startFunc      func(ctx context.Context, workflowID, workspaceID string) (*jobstore.Record, error)
	statusFunc     func(ctx context.Context, workflowID, jobID string) (*jobstore.Record, error)
	listJobsFunc   func(ctx context.Context, workflowID string) ([]*jobstore.Record, error)
	engineVersion  string
	engineErr      error
	lastUploadBody string
	lastUploadName string
}

func (m *mockOrchestrator) CreateWorkflow(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error) {
	body, _ := io.ReadAll(r)
	m.lastUploadBody, m.lastUploadName = string(body), name
	return m.createFunc(ctx, name, bytes.NewReader(body), id)
}

func (m *mockOrchestrator) UpdateWorkflow(ctx context.Context, name string, r io.Reader, id string) (workflowspace.Space, error) {
	body, _ := io.ReadAll(r)
	m.lastUploadBody, m.lastUploadName = string(body), name
	return m.updateFunc(ctx, name, bytes.NewReader(body), id)
}

func (m *mockOrchestrator) ListWorkflows(ctx context.Context) ([]workflowspace.Space, error) {
	return m.listFunc(ctx)
}

func (m *mockOrchestrator) GetWorkflow(ctx context.Context, id string) (workflowspace.Space, error) {
	return m.getFunc(ctx, id)
}

func (m *mockOrchestrator) StartJob(ctx context.Context, workflowID, workspaceID string) (*jobstore.Record, error) {
	return m.startFunc(ctx, workflowID, workspaceID)
}

func (m *mockOrchestrator) GetJobStatus(ctx context.Context, workflowID, jobID string) (*jobstore.Record, error) {
	return m.statusFunc(ctx, workflowID, jobID)
}

func (m *mockOrchestrator) ListJobs(ctx context.Context, workflowID string) ([]*jobstore.Record, error) {
	return m.listJobsFunc(ctx, workflowID)
}

func (m *mockOrchestrator) EngineVersion(context.Context) (string, error) {
	return m.engineVersion, m.engineErr
}

func newTestServer(orch Orchestrator, cfg Config) http.Handler {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://nfgate.test/"
	}
	return New(cfg, orch, nil, logger).Handler()
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("comment", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func sampleRecord() *jobstore.Record {
	return &jobstore.Record{
		ID:          "job-1",
		WorkflowID:  "wf-1",
		WorkspaceID: "ws-1",
		State:       jobstore.StateRunning,
		Description: jobstore.Description,
		CreatedAt:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestHealthz(t *testing.T) {
	orch := &mockOrchestrator{engineVersion: "23.04.1"}
	h := newTestServer(orch, Config{APIKey: "secret"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthzResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "23.04.1", resp.EngineVersion)

	orch.engineErr = orchestrator.ErrEngineUnavailable
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unavailable", decode[HealthzResponse](t, rec).EngineVersion)
}

func TestCreateWorkflow(t *testing.T) {
	orch := &mockOrchestrator{
		createFunc: func(_ context.Context, name string, _ io.Reader, id string) (workflowspace.Space, error) {
			return workflowspace.Space{ID: "wf-42", DefinitionName: name, Digest: "abc"}, nil
		},
	}
	h := newTestServer(orch, Config{})

	body, ct := multipartBody(t, "nextflow_script", `C:\scripts\ocr.nf`, "workflow {}")
	req := httptest.NewRequest(http.MethodPost, "/workflow?id=wf-42", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[WorkflowResource](t, rec)
	assert.Equal(t, "http://nfgate.test/workflow/wf-42", resp.ID)
	assert.Equal(t, "Workflow", resp.Description)
	assert.Equal(t, "ocr.nf", resp.Definition)
	assert.Equal(t, "workflow {}", orch.lastUploadBody)
	assert.Equal(t, "ocr.nf", orch.lastUploadName)
}

func TestCreateWorkflowErrors(t *testing.T) {
	tests := []struct {
		name       string
		field      string
		createErr  error
		wantStatus int
	}{
		{"conflict", "nextflow_script", workflowspace.ErrAlreadyExists, http.StatusConflict},
		{"invalid id", "nextflow_script", workflowspace.ErrInvalidID, http.StatusBadRequest},
		{"io failure", "nextflow_script", errors.New("disk full"), http.StatusInternalServerError},
		{"missing field", "script", nil, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &mockOrchestrator{
				createFunc: func(context.Context, string, io.Reader, string) (workflowspace.Space, error) {
					return workflowspace.Space{}, tt.createErr
				},
			}
			h := newTestServer(orch, Config{})

			body, ct := multipartBody(t, tt.field, "main.nf", "x")
			req := httptest.NewRequest(http.MethodPost, "/workflow", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateWorkflowRequiresMultipart(t *testing.T) {
	h := newTestServer(&mockOrchestrator{}, Config{})

	req := httptest.NewRequest(http.MethodPost, "/workflow", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateWorkflow(t *testing.T) {
	var gotID string
	orch := &mockOrchestrator{
		updateFunc: func(_ context.Context, name string, _ io.Reader, id string) (workflowspace.Space, error) {
			gotID = id
			return workflowspace.Space{ID: id, DefinitionName: name}, nil
		},
	}
	h := newTestServer(orch, Config{})

	body, ct := multipartBody(t, "nextflow_script", "", "v2")
	req := httptest.NewRequest(http.MethodPut, "/workflow/wf-1", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "wf-1", gotID)
	assert.Equal(t, "main.nf", orch.lastUploadName, "nameless upload falls back to the default name")
}

func TestGetWorkflowNegotiation(t *testing.T) {
	dir := t.TempDir()
	def := filepath.Join(dir, "main.nf")
	require.NoError(t, os.WriteFile(def, []byte("workflow { ocr() }"), 0o644))

	orch := &mockOrchestrator{
		getFunc: func(_ context.Context, id string) (workflowspace.Space, error) {
			if id != "wf-1" {
				return workflowspace.Space{}, &orchestrator.NotFoundError{Resource: "workflow", ID: id}
			}
			return workflowspace.Space{ID: id, DefinitionName: "main.nf", DefinitionPath: def, Digest: "d1"}, nil
		},
	}
	h := newTestServer(orch, Config{})

	t.Run("json descriptor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/workflow/wf-1", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[WorkflowResource](t, rec)
		assert.Equal(t, "d1", resp.Digest)
		assert.Equal(t, "http://nfgate.test/workflow/wf-1", resp.ID)
	})

	t.Run("definition download", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/workflow/wf-1", nil)
		req.Header.Set("Accept", "text/html, text/vnd.ocrd.workflow;q=0.9")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/vnd.ocrd.workflow", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename=main.nf`)
		assert.Equal(t, "workflow { ocr() }", rec.Body.String())
	})

	t.Run("unsupported accept", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/workflow/wf-1", nil)
		req.Header.Set("Accept", "text/html")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/workflow/wf-9", nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStartJob(t *testing.T) {
	var gotWorkflow, gotWorkspace string
	orch := &mockOrchestrator{
		startFunc: func(_ context.Context, workflowID, workspaceID string) (*jobstore.Record, error) {
			gotWorkflow, gotWorkspace = workflowID, workspaceID
			return sampleRecord(), nil
		},
	}
	h := newTestServer(orch, Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/workflow/wf-1", strings.NewReader(`{"workspace_id":"ws-1"}`)))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "wf-1", gotWorkflow)
	assert.Equal(t, "ws-1", gotWorkspace)

	resp := decode[JobResource](t, rec)
	assert.Equal(t, "http://nfgate.test/workflow/wf-1/job-1", resp.ID)
	assert.Equal(t, "RUNNING", resp.State)
	assert.Equal(t, "Workflow-Job", resp.Description)
	assert.Equal(t, "http://nfgate.test/workflow/wf-1", resp.Workflow.ID)
	assert.Equal(t, "http://nfgate.test/workspace/ws-1", resp.Workspace.ID)
	assert.Nil(t, resp.StoppedAt)
}

func TestStartJobErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
	}{
		{"engine unavailable", `{"workspace_id":"ws"}`, orchestrator.ErrEngineUnavailable, http.StatusServiceUnavailable},
		{"workspace missing", `{"workspace_id":"ws"}`, &orchestrator.NotFoundError{Resource: "workspace", ID: "ws"}, http.StatusNotFound},
		{"launch failure", `{"workspace_id":"ws"}`, &engine.LaunchError{Command: "nextflow", Err: errors.New("boom")}, http.StatusInternalServerError},
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"missing workspace", `{}`, nil, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &mockOrchestrator{
				startFunc: func(context.Context, string, string) (*jobstore.Record, error) {
					return nil, tt.err
				},
			}
			h := newTestServer(orch, Config{})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/workflow/wf-1", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestGetJobAndList(t *testing.T) {
	stopped := sampleRecord()
	stopped.State = jobstore.StateStopped
	at := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	stopped.StoppedAt = &at

	orch := &mockOrchestrator{
		statusFunc: func(_ context.Context, workflowID, jobID string) (*jobstore.Record, error) {
			if jobID != "job-1" {
				return nil, &orchestrator.NotFoundError{Resource: "job", ID: jobID}
			}
			return stopped, nil
		},
		listJobsFunc: func(_ context.Context, workflowID string) ([]*jobstore.Record, error) {
			if workflowID == "wf-empty" {
				return nil, nil
			}
			return []*jobstore.Record{stopped}, nil
		},
	}
	h := newTestServer(orch, Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workflow/wf-1/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[JobResource](t, rec)
	assert.Equal(t, "STOPPED", resp.State)
	require.NotNil(t, resp.StoppedAt)
	assert.True(t, at.Equal(*resp.StoppedAt))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workflow/wf-1/ghost", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workflow/wf-1/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]JobResource](t, rec), 1)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workflow/wf-empty/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestListWorkflows(t *testing.T) {
	orch := &mockOrchestrator{
		listFunc: func(context.Context) ([]workflowspace.Space, error) {
			return []workflowspace.Space{{ID: "a"}, {ID: "b"}}, nil
		},
	}
	h := newTestServer(orch, Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workflow", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[[]WorkflowResource](t, rec)
	require.Len(t, out, 2)
	assert.Equal(t, "http://nfgate.test/workflow/b", out[1].ID)
}

func TestAuthScopes(t *testing.T) {
	orch := &mockOrchestrator{
		listFunc: func(context.Context) ([]workflowspace.Space, error) { return nil, nil },
		startFunc: func(context.Context, string, string) (*jobstore.Record, error) {
			return sampleRecord(), nil
		},
	}
	h := newTestServer(orch, Config{
		APIKey: "admin",
		Tokens: []auth.TokenConfig{
			{Token: "reader", Scopes: []string{auth.ScopeWorkflowRead, auth.ScopeJobsRead}},
			{Token: "runner", Scopes: []string{auth.ScopeJobsWrite}},
		},
	})

	tests := []struct {
		name       string
		token      string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"no token", "", http.MethodGet, "/workflow", "", http.StatusUnauthorized},
		{"bad token", "nope", http.MethodGet, "/workflow", "", http.StatusUnauthorized},
		{"reader lists", "reader", http.MethodGet, "/workflow", "", http.StatusOK},
		{"reader cannot start", "reader", http.MethodPost, "/workflow/wf-1", `{"workspace_id":"ws"}`, http.StatusForbidden},
		{"runner starts", "runner", http.MethodPost, "/workflow/wf-1", `{"workspace_id":"ws"}`, http.StatusCreated},
		{"runner cannot list workflows", "runner", http.MethodGet, "/workflow", "", http.StatusForbidden},
		{"admin lists", "admin", http.MethodGet, "/workflow", "", http.StatusOK},
		{"openapi is open", "", http.MethodGet, "/openapi.json", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestOpenAPIDoc(t *testing.T) {
	doc := buildOpenAPIDoc("http://nfgate.test")
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)

	item, ok := paths["/workflow/{workflowID}"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, item, "get")
	assert.Contains(t, item, "put")
	assert.Contains(t, item, "post")
	assert.Contains(t, paths, "/workflow/{workflowID}/{jobID}")
	assert.Contains(t, paths, "/events")
	assert.NotNil(t, doc["servers"])
}

type streamWriter struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
}

func newStreamWriter() *streamWriter {
	return &streamWriter{header: make(http.Header)}
}

func (w *streamWriter) Header() http.Header { return w.header }

func (w *streamWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	w.status = statusCode
	w.mu.Unlock()
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *streamWriter) Flush() {}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestHandleEventsUnauthorized(t *testing.T) {
	h := newTestServer(&mockOrchestrator{}, Config{APIKey: "admin"})
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleEventsRequiresJobsScope(t *testing.T) {
	h := newTestServer(&mockOrchestrator{}, Config{
		Tokens: []auth.TokenConfig{{Token: "runner", Scopes: []string{auth.ScopeJobsWrite}}},
	})
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Authorization", "Bearer runner")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleEventsReplaysAndStreams(t *testing.T) {
	hub := events.NewHub(10)
	srv := New(Config{APIKey: "admin"}, &mockOrchestrator{}, hub, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	hub.Publish(events.JobStarted, events.JobPayload{WorkflowID: "wf-1", JobID: "j1", State: "RUNNING"})
	hub.Publish(events.JobStopped, events.JobPayload{WorkflowID: "wf-1", JobID: "j0", State: "STOPPED"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer admin")
	req.Header.Set("Last-Event-ID", "1")

	w := newStreamWriter()
	done := make(chan struct{})
	go func() {
		srv.Handler().ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(w.String(), "event: job.stopped\n")
	}, time.Second, 10*time.Millisecond)
	assert.NotContains(t, w.String(), "id: 1\n", "events up to Last-Event-ID are not replayed")

	hub.Publish(events.WorkflowStored, events.WorkflowPayload{WorkflowID: "wf-2", Definition: "main.nf"})
	require.Eventually(t, func() bool {
		return strings.Contains(w.String(), "id: 3\nevent: workflow.stored\n")
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, strings.Count(w.String(), "id: 2\n"))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not exit after context cancel")
	}
	assert.Equal(t, 0, hub.Subscribers())
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(42), parseLastEventID("42"))
}
