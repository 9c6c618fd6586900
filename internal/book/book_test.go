package book

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sitebookify/internal/extractor"
	"sitebookify/internal/manifest"
	"sitebookify/internal/toc"
)

func seedExtractedPage(t *testing.T, dir, pageURL, html string) manifest.Record {
	t.Helper()
	page, err := extractor.Extract([]byte(html), pageURL, "2024-01-01T00:00:00Z", "raw/x/index.html", dir)
	if err != nil {
		t.Fatalf("seed page: %v", err)
	}
	return manifest.Record{
		ID:          page.ID,
		URL:         page.URL,
		Title:       page.Title,
		Path:        "/docs/x",
		ExtractedMD: filepath.Join("extracted", "pages", page.ID+".md"),
	}
}

func TestRenderProducesSummaryAndSourcesSection(t *testing.T) {
	imgSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fakepngbytes"))
	}))
	defer imgSrv.Close()

	dir := t.TempDir()
	rec1 := seedExtractedPage(t, dir, "https://example.com/docs/intro",
		`<html><body><article><h1>Intro</h1><p>See <img src="`+imgSrv.URL+`/logo.png"></p></article></body></html>`)

	records := []manifest.Record{rec1}
	tocDoc := &toc.TOC{
		BookTitle: "Test Book",
		Parts: []toc.Part{{Title: "Docs", Chapters: []toc.Chapter{
			{ID: "ch01", Title: "Intro", Sources: []string{rec1.ID}},
		}}},
	}

	warnings, err := Render(context.Background(), dir, tocDoc, records, nil, Options{Engine: "noop"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	chapterPath := filepath.Join(dir, "book", "src", "chapters", "ch01.md")
	raw, err := os.ReadFile(chapterPath)
	if err != nil {
		t.Fatalf("read chapter: %v", err)
	}
	content := string(raw)
	if !strings.Contains(content, "## Sources") {
		t.Fatalf("missing Sources section: %s", content)
	}
	if !strings.Contains(content, `<a id="`+rec1.ID+`"></a>`) {
		t.Fatalf("missing anchor: %s", content)
	}
	if !strings.Contains(content, "../assets/logo_") {
		t.Fatalf("expected rewritten image path, got: %s", content)
	}

	summaryPath := filepath.Join(dir, "book", "src", "SUMMARY.md")
	summary, err := os.ReadFile(summaryPath)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !strings.Contains(string(summary), "ch01.md") {
		t.Fatalf("summary missing chapter link: %s", summary)
	}

	assetFiles, err := os.ReadDir(filepath.Join(dir, "book", "src", "assets"))
	if err != nil {
		t.Fatalf("read assets dir: %v", err)
	}
	if len(assetFiles) != 1 {
		t.Fatalf("expected 1 downloaded asset, got %d", len(assetFiles))
	}
}

func TestRenderFallsBackOnImageDownloadFailure(t *testing.T) {
	dir := t.TempDir()
	rec1 := seedExtractedPage(t, dir, "https://example.com/docs/intro",
		`<html><body><article><h1>Intro</h1><p><img src="https://nonexistent.invalid/missing.png"></p></article></body></html>`)

	records := []manifest.Record{rec1}
	tocDoc := &toc.TOC{Parts: []toc.Part{{Title: "Docs", Chapters: []toc.Chapter{
		{ID: "ch01", Title: "Intro", Sources: []string{rec1.ID}},
	}}}}

	warnings, err := Render(context.Background(), dir, tocDoc, records, nil, Options{Engine: "noop"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected one download-failure warning, got %v", warnings)
	}
}

func TestRenderRejectsUnknownSourceID(t *testing.T) {
	dir := t.TempDir()
	tocDoc := &toc.TOC{Parts: []toc.Part{{Title: "Docs", Chapters: []toc.Chapter{
		{ID: "ch01", Title: "Intro", Sources: []string{"p_missing"}},
	}}}}
	if _, err := Render(context.Background(), dir, tocDoc, nil, nil, Options{Engine: "noop"}); err == nil {
		t.Fatal("expected error for unknown source id")
	}
}
