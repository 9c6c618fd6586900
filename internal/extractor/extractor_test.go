package extractor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleHTML = `<html><head><title>Intro to Widgets</title></head>
<body>
<nav class="sidebar">skip me</nav>
<article>
<h1>Intro to Widgets</h1>
<p>Widgets are great. See <a href="/docs/advanced">advanced usage</a>.</p>
<pre><code>fmt.Println("hi")</code></pre>
</article>
</body></html>`

func TestExtractProducesMarkdownWithFrontMatter(t *testing.T) {
	dir := t.TempDir()
	page, err := Extract([]byte(sampleHTML), "https://example.com/docs/intro", "2024-01-01T00:00:00Z", "raw/html/example.com/docs/intro/index.html", dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if page.ID == "" || !strings.HasPrefix(page.ID, "p_") {
		t.Fatalf("unexpected id: %q", page.ID)
	}
	if !strings.Contains(page.Body, "Println") {
		t.Fatalf("expected code block preserved, got: %s", page.Body)
	}

	outPath := filepath.Join(dir, "extracted", "pages", page.ID+".md")
	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.HasPrefix(string(raw), "---\n") {
		t.Fatalf("expected yaml front matter header, got: %s", raw)
	}
}

func TestExtractRejectsDuplicateOutput(t *testing.T) {
	dir := t.TempDir()
	if _, err := Extract([]byte(sampleHTML), "https://example.com/docs/intro", "2024-01-01T00:00:00Z", "raw/html/example.com/docs/intro/index.html", dir); err != nil {
		t.Fatalf("first extract: %v", err)
	}
	if _, err := Extract([]byte(sampleHTML), "https://example.com/docs/intro", "2024-01-01T00:00:00Z", "raw/html/example.com/docs/intro/index.html", dir); err == nil {
		t.Fatal("expected snapshot conflict on second extract of the same page")
	}
}

func TestReadPageRoundTrips(t *testing.T) {
	dir := t.TempDir()
	page, err := Extract([]byte(sampleHTML), "https://example.com/docs/intro", "2024-01-01T00:00:00Z", "raw/html/x/index.html", dir)
	if err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(dir, "extracted", "pages", page.ID+".md")
	got, err := ReadPage(outPath)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if got.ID != page.ID || got.URL != page.URL {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, page)
	}
}
