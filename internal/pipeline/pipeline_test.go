package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sitebookify/internal/config"
	"sitebookify/internal/jobs"
	"sitebookify/internal/store"
)

const samplePageHTML = `<!DOCTYPE html><html><body>
<nav class="sidebar">skip me</nav>
<article>
<h1>Welcome</h1>
<p>This is the home page with a link to <a href="/docs/guide">the guide</a>.</p>
</article>
</body></html>`

const sampleGuideHTML = `<!DOCTYPE html><html><body>
<nav class="sidebar">skip me</nav>
<article>
<h1>Guide</h1>
<p>This is the guide page, linking back to <a href="/">home</a>.</p>
</article>
</body></html>`

func testServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(samplePageHTML))
	})
	mux.HandleFunc("/docs/guide", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(sampleGuideHTML))
	})
	return httptest.NewServer(mux)
}

func TestRunProducesBookArtifacts(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.Crawler.Concurrency = 2
	cfg.Crawler.DelayMs = 0
	cfg.Crawler.TimeoutMs = 5000
	cfg.Crawler.MaxPagesDefault = 10
	cfg.Crawler.MaxDepthDefault = 3

	jobStore, err := store.NewFSJobStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	artifactStore, err := store.NewFSArtifactStore(dataDir, "http://localhost/artifacts")
	if err != nil {
		t.Fatal(err)
	}

	jobName := "jobs/test-job"
	job := &jobs.Job{
		Name:  jobName,
		State: jobs.StatusQueued,
		Spec: jobs.Spec{
			SourceURL: srv.URL + "/",
		},
		CreatedAt: time.Now(),
	}
	if err := jobStore.Put(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	runner := New(cfg, jobStore, artifactStore)
	runner.Run(context.Background(), jobName)

	final, err := jobStore.Get(context.Background(), jobName)
	if err != nil {
		t.Fatal(err)
	}
	if final.State != jobs.StatusDone {
		t.Fatalf("expected DONE, got %s (%s)", final.State, final.Message)
	}
	if final.ProgressPercent != 100 {
		t.Fatalf("expected 100%% progress, got %d", final.ProgressPercent)
	}

	workspaceDir := filepath.Join(dataDir, "jobs", "test-job")
	for _, rel := range []string{
		"manifest.jsonl",
		"toc.yaml",
		"book/src/SUMMARY.md",
		"book.md",
		"book.epub",
	} {
		if _, err := os.Stat(filepath.Join(workspaceDir, rel)); err != nil {
			t.Fatalf("expected %s to exist: %v", rel, err)
		}
	}

	rc, err := artifactStore.Open(context.Background(), "test-job")
	if err != nil {
		t.Fatalf("expected artifact to be stored: %v", err)
	}
	rc.Close()
}

func TestRunFailsJobOnRerunWriteOnceConflict(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	dataDir := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.Crawler.DelayMs = 0
	cfg.Crawler.TimeoutMs = 5000

	jobStore, err := store.NewFSJobStore(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	artifactStore, err := store.NewFSArtifactStore(dataDir, "http://localhost/artifacts")
	if err != nil {
		t.Fatal(err)
	}
	jobName := "jobs/rerun"
	job := &jobs.Job{
		Name:      jobName,
		State:     jobs.StatusQueued,
		Spec:      jobs.Spec{SourceURL: srv.URL + "/"},
		CreatedAt: time.Now(),
	}
	if err := jobStore.Put(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	runner := New(cfg, jobStore, artifactStore)
	runner.Run(context.Background(), jobName)

	if _, err := jobStore.Update(context.Background(), jobName, func(j *jobs.Job) error {
		j.State = jobs.StatusQueued
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	runner.Run(context.Background(), jobName)

	final, err := jobStore.Get(context.Background(), jobName)
	if err != nil {
		t.Fatal(err)
	}
	if final.State != jobs.StatusError {
		t.Fatalf("expected ERROR on rerun against existing workspace, got %s", final.State)
	}
}
