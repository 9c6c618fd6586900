package epub

import (
	"archive/zip"
	"os"
	"path/filepath"
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

func TestPackageProducesValidEPUBZip(t *testing.T) {
	dir := t.TempDir()
	seedBookTree(t, dir)

	titles := map[string]string{"ch01": "Intro", "ch02": "Advanced"}
	err := Package(dir, func(id string) string { return titles[id] }, "My Book")
	if err != nil {
		t.Fatalf("Package: %v", err)
	}

	outPath := filepath.Join(dir, "book.epub")
	r, err := zip.OpenReader(outPath)
	if err != nil {
		t.Fatalf("open epub zip: %v", err)
	}
	defer r.Close()

	if len(r.File) == 0 {
		t.Fatal("empty zip")
	}
	first := r.File[0]
	if first.Name != "mimetype" {
		t.Fatalf("expected mimetype to be first entry, got %q", first.Name)
	}
	if first.Method != zip.Store {
		t.Fatalf("expected mimetype to be stored uncompressed, got method %d", first.Method)
	}

	rc, err := first.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	buf := make([]byte, 64)
	n, _ := rc.Read(buf)
	if string(buf[:n]) != "application/epub+zip" {
		t.Fatalf("unexpected mimetype contents: %q", buf[:n])
	}

	names := map[string]bool{}
	for _, f := range r.File {
		names[f.Name] = true
	}
	for _, want := range []string{"META-INF/container.xml", "OEBPS/content.opf", "OEBPS/toc.ncx", "OEBPS/ch01.xhtml", "OEBPS/ch02.xhtml", "OEBPS/assets/logo.png"} {
		if !names[want] {
			t.Fatalf("missing expected entry %q in epub", want)
		}
	}
}

func TestPackageRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	seedBookTree(t, dir)
	if err := os.WriteFile(filepath.Join(dir, "book.epub"), []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Package(dir, nil, "My Book"); err == nil {
		t.Fatal("expected snapshot conflict error")
	}
}
