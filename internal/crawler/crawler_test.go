package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/docs/intro">Intro</a><a href="/docs/advanced">Advanced</a></body></html>`))
	})
	mux.HandleFunc("/docs/intro", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><a href="/docs/advanced">Advanced</a><a href="https://external.example/x">External</a></body></html>`))
	})
	mux.HandleFunc("/docs/advanced", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body>no links here</body></html>`))
	})
	return httptest.NewServer(mux)
}

func TestCrawlDiscoversInScopePages(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	dir := t.TempDir()
	res, err := Crawl(context.Background(), Options{
		StartURL:    srv.URL + "/",
		MaxPages:    10,
		MaxDepth:    3,
		Concurrency: 2,
		DelayMs:     0,
		OutDir:      dir,
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if res.Visited != 3 {
		t.Fatalf("expected 3 visited pages, got %d", res.Visited)
	}

	logPath := filepath.Join(dir, "raw", "crawl.jsonl")
	if _, err := os.Stat(logPath); err != nil {
		t.Fatalf("expected crawl.jsonl to exist: %v", err)
	}
}

func TestCrawlRespectsMaxPages(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	dir := t.TempDir()
	res, err := Crawl(context.Background(), Options{
		StartURL:    srv.URL + "/",
		MaxPages:    1,
		MaxDepth:    3,
		Concurrency: 2,
		OutDir:      dir,
	})
	if err != nil {
		t.Fatalf("Crawl: %v", err)
	}
	if res.Visited != 1 {
		t.Fatalf("expected 1 visited page, got %d", res.Visited)
	}
}

func TestCrawlRejectsExistingSnapshot(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "raw"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "raw", "crawl.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Crawl(context.Background(), Options{
		StartURL: srv.URL + "/",
		MaxPages: 5,
		OutDir:   dir,
	})
	if err == nil {
		t.Fatal("expected snapshot conflict error")
	}
}
