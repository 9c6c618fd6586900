package manifest

import (
	"path/filepath"
	"testing"

	"sitebookify/internal/extractor"
)

func seedPage(t *testing.T, dir, url, html string) {
	t.Helper()
	if _, err := extractor.Extract([]byte(html), url, "2024-01-01T00:00:00Z", "raw/x/index.html", dir); err != nil {
		t.Fatalf("seed page %s: %v", url, err)
	}
}

func TestBuildIsSortedByID(t *testing.T) {
	dir := t.TempDir()
	seedPage(t, dir, "https://example.com/docs/b", "<html><body><article><h1>B</h1><p>b</p></article></body></html>")
	seedPage(t, dir, "https://example.com/docs/a", "<html><body><article><h1>A</h1><p>a</p></article></body></html>")

	records, err := Build(dir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID > records[1].ID {
		t.Fatalf("records not sorted by id: %q then %q", records[0].ID, records[1].ID)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 loaded records, got %d", len(loaded))
	}
	if loaded[0].Path != "/docs/a" && loaded[0].Path != "/docs/b" {
		t.Fatalf("unexpected path: %q", loaded[0].Path)
	}
}

func TestBuildWritesManifestFile(t *testing.T) {
	dir := t.TempDir()
	seedPage(t, dir, "https://example.com/docs/a", "<html><body><article><h1>A</h1><p>a</p></article></body></html>")
	if _, err := Build(dir); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatal(err)
	}
	_ = filepath.Join(dir, "manifest.jsonl")
}
