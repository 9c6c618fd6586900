package bundle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func seedBookTree(t *testing.T, dir string) {
	t.Helper()
	chaptersDir := filepath.Join(dir, "book", "src", "chapters")
	assetsDir := filepath.Join(dir, "book", "src", "assets")
	if err := os.MkdirAll(chaptersDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(assetsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(assetsDir, "logo.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	ch01 := "# Intro\n\n<a id=\"p_1\"></a>\n\nSee [advanced](ch02.md#p_2) and ![logo](../assets/logo.png).\n\n## Sources\n\n- https://example.com/intro\n"
	ch02 := "# Advanced\n\n<a id=\"p_2\"></a>\n\nDetails.\n\n## Sources\n\n- https://example.com/advanced\n"
	if err := os.WriteFile(filepath.Join(chaptersDir, "ch01.md"), []byte(ch01), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(chaptersDir, "ch02.md"), []byte(ch02), 0o644); err != nil {
		t.Fatal(err)
	}
	summary := "# Summary\n\n- [Intro](chapters/ch01.md)\n- [Advanced](chapters/ch02.md)\n"
	if err := os.WriteFile(filepath.Join(dir, "book", "src", "SUMMARY.md"), []byte(summary), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBundleRewritesAnchorsAndAssets(t *testing.T) {
	dir := t.TempDir()
	seedBookTree(t, dir)

	if err := Bundle(dir); err != nil {
		t.Fatalf("Bundle: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "book.md"))
	if err != nil {
		t.Fatalf("read book.md: %v", err)
	}
	content := string(raw)
	if strings.Contains(content, "ch02.md#p_2") {
		t.Fatalf("expected cross-chapter anchor rewritten, got: %s", content)
	}
	if !strings.Contains(content, "(#p_2)") {
		t.Fatalf("expected in-document anchor, got: %s", content)
	}
	if strings.Contains(content, "../assets/") {
		t.Fatalf("expected asset path rewritten, got: %s", content)
	}
	if !strings.Contains(content, "assets/logo.png") {
		t.Fatalf("expected assets/logo.png reference, got: %s", content)
	}

	if _, err := os.Stat(filepath.Join(dir, "assets", "logo.png")); err != nil {
		t.Fatalf("expected mirrored asset: %v", err)
	}
}

func TestBundleRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	seedBookTree(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "book.md"), []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Bundle(dir); err == nil {
		t.Fatal("expected snapshot conflict error")
	}
}
