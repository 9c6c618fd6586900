package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sitebookify/internal/config"
	"sitebookify/internal/dispatch"
	"sitebookify/internal/jobs"
	"sitebookify/internal/store"
)

// fakeRunner never actually runs the pipeline; it returns immediately
// and leaves the job's state untouched, so handler tests don't need a
// live target site.
type fakeRunner struct{}

func (fakeRunner) Run(ctx context.Context, jobName string) {}

func newTestServer(t *testing.T) (*Server, store.JobStore, store.ArtifactStore, string) {
	t.Helper()
	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.Dispatch.WorkerAuthToken = "secret-token"

	jobStore, err := store.NewFSJobStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	artifactStore, err := store.NewFSArtifactStore(dataDir, "http://localhost/artifacts")
	if err != nil {
		t.Fatal(err)
	}
	d := dispatch.NewInProcessDispatcher(jobStore, fakeRunner{}, 2)

	return NewServer(cfg, jobStore, artifactStore, d, nil), jobStore, artifactStore, dataDir
}

func TestCreateJobReturnsOperationAndQueuesJob(t *testing.T) {
	srv, jobStore, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"source_url": "https://example.com/"})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var op jobs.Operation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		t.Fatal(err)
	}
	if op.Metadata.Job == "" {
		t.Fatal("expected a job name in the operation metadata")
	}

	// give the dispatched goroutine a moment to run the fake runner.
	time.Sleep(20 * time.Millisecond)

	job, err := jobStore.Get(context.Background(), op.Name)
	if err != nil {
		t.Fatal(err)
	}
	if job.Spec.SourceURL != "https://example.com/" {
		t.Fatalf("unexpected source_url: %s", job.Spec.SourceURL)
	}
}

func TestCreateJobRejectsMissingSourceURL(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/does-not-exist", nil)
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestGenerateJobDownloadURLRequiresDoneState(t *testing.T) {
	srv, jobStore, _, _ := newTestServer(t)

	job := &jobs.Job{Name: "jobs/abc", State: jobs.StatusRunning, CreatedAt: time.Now()}
	if err := jobStore.Put(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/abc/download-url", nil)
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestGenerateJobDownloadURLOnceDone(t *testing.T) {
	srv, jobStore, artifactStore, _ := newTestServer(t)

	job := &jobs.Job{Name: "jobs/done-job", State: jobs.StatusDone, CreatedAt: time.Now()}
	if err := jobStore.Put(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if err := artifactStore.Put(context.Background(), "done-job", bytes.NewReader([]byte("zip bytes"))); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/done-job/download-url", nil)
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out downloadURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.URL == "" || out.ExpiresSec <= 0 {
		t.Fatalf("unexpected download url response: %+v", out)
	}
}

func TestBookMarkdownHandlerServesWorkspaceFile(t *testing.T) {
	srv, _, _, dataDir := newTestServer(t)

	workspaceDir := filepath.Join(dataDir, "jobs", "with-book")
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workspaceDir, "book.md"), []byte("# Hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/with-book/book.md", nil)
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestInternalRunHandlerRejectsMissingToken(t *testing.T) {
	srv, jobStore, _, _ := newTestServer(t)
	job := &jobs.Job{Name: "jobs/w1", State: jobs.StatusQueued, CreatedAt: time.Now()}
	if err := jobStore.Put(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/w1/run", nil)
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestInternalRunHandlerAcceptsValidToken(t *testing.T) {
	srv, jobStore, _, _ := newTestServer(t)
	job := &jobs.Job{Name: "jobs/w2", State: jobs.StatusQueued, CreatedAt: time.Now()}
	if err := jobStore.Put(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/w2/run", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestHealthzReturnsOK(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
