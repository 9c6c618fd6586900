// Package bundle implements spec.md §4.7: flattening the mdBook source
// tree into a single-file book.md, rewriting cross-chapter anchors and
// asset paths for a one-document reader. Grounded on raito's
// file-concatenation idiom (no teacher file does exactly this; the
// closest analog is internal/formats' single-document export, adapted
// here since spec.md requires literal single-file assembly with no
// format conversion).
package bundle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sitebookify/internal/sberrors"
)

var summaryLinkPattern = regexp.MustCompile(`\]\(chapters/(ch\d+\.md)\)`)
var crossChapterAnchorPattern = regexp.MustCompile(`\]\((ch\d+\.md)#(p_[0-9a-f]+)\)`)
var assetPathPattern = regexp.MustCompile(`\.\./assets/`)

// Bundle reads book/src/SUMMARY.md to determine chapter order,
// concatenates the chapter files into workspaceDir/book.md, and mirrors
// book/src/assets into workspaceDir/assets. It refuses to overwrite an
// existing book.md.
func Bundle(workspaceDir string) error {
	outPath := filepath.Join(workspaceDir, "book.md")
	if _, err := os.Stat(outPath); err == nil {
		return sberrors.Wrap(sberrors.KindSnapshotConflict, "book.md already exists", sberrors.ErrSnapshotConflict)
	}

	chapterFiles, err := parseSummaryOrder(filepath.Join(workspaceDir, "book", "src", "SUMMARY.md"))
	if err != nil {
		return err
	}

	var buf strings.Builder
	for _, fname := range chapterFiles {
		chapterPath := filepath.Join(workspaceDir, "book", "src", "chapters", fname)
		raw, err := os.ReadFile(chapterPath)
		if err != nil {
			return fmt.Errorf("read chapter %s: %w", fname, err)
		}
		content := crossChapterAnchorPattern.ReplaceAllString(string(raw), "](#$2)")
		content = assetPathPattern.ReplaceAllString(content, "assets/")
		buf.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			buf.WriteString("\n")
		}
	}

	if err := os.WriteFile(outPath, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write book.md: %w", err)
	}

	if err := mirrorAssets(filepath.Join(workspaceDir, "book", "src", "assets"), filepath.Join(workspaceDir, "assets")); err != nil {
		return err
	}
	return nil
}

// ParseSummaryOrder reads SUMMARY.md and returns its listed chapter
// filenames in order. Exported so the EPUB packager (C8) can walk
// chapters in the same order as the bundler without duplicating the
// SUMMARY.md grammar.
func ParseSummaryOrder(summaryPath string) ([]string, error) {
	return parseSummaryOrder(summaryPath)
}

func parseSummaryOrder(summaryPath string) ([]string, error) {
	raw, err := os.ReadFile(summaryPath)
	if err != nil {
		return nil, fmt.Errorf("read SUMMARY.md: %w", err)
	}
	matches := summaryLinkPattern.FindAllStringSubmatch(string(raw), -1)
	var out []string
	for _, m := range matches {
		out = append(out, m[1])
	}
	if len(out) == 0 {
		return nil, sberrors.New(sberrors.KindCoverageViolation, "SUMMARY.md lists no chapters")
	}
	return out, nil
}

// mirrorAssets copies every file under srcDir into destDir, never
// overwriting a file already present at the destination (spec.md
// §4.7: "no overwrite of pre-existing files in the destination").
func mirrorAssets(srcDir, destDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read assets dir: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("mkdir assets dest: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(srcDir, entry.Name())
		dest := filepath.Join(destDir, entry.Name())
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := copyFile(src, dest); err != nil {
			return fmt.Errorf("copy asset %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
