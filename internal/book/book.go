// Package book implements spec.md §4.6: rendering the TOC and
// extracted pages into an mdBook-style source tree, rewriting
// cross-page links and downloading images. Grounded on geopub's
// internal/renderer (structured chapter-by-chapter assembly; SUMMARY.md
// here is written directly with a strings.Builder, not a template), and
// on raito's internal/scraper image-handling idioms (ExtractImages)
// generalized into a download-and-rewrite pass.
package book

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"sitebookify/internal/extractor"
	"sitebookify/internal/manifest"
	"sitebookify/internal/sberrors"
	"sitebookify/internal/toc"
	"sitebookify/internal/urlnorm"
)

// Rewriter is the capability C9 (the LLM gateway) exposes to the
// renderer for LLM-backed page rewriting (spec.md §4.6, §4.9).
type Rewriter interface {
	RewritePage(ctx context.Context, body, prompt, language, tone string) (string, error)
}

// Options configures one render pass.
type Options struct {
	Engine   string // "noop" or "llm"
	Prompt   string
	Language string
	Tone     string
}

// mdLinkPattern matches both `[text](url)` and `![alt](url)`; callers
// distinguish by checking for a leading "!".
var mdLinkPattern = regexp.MustCompile(`(!?)\[([^\]]*)\]\(([^)\s]+)\)`)

type renderState struct {
	workspaceDir string
	byID         map[string]manifest.Record
	chapterOfID  map[string]string // page id -> chapter id
	assetsDir    string

	mu        sync.Mutex
	savedURLs map[string]string // content URL -> safe asset name already downloaded
	warnings  []string
}

// Render writes book/src/SUMMARY.md and one book/src/chapters/chNN.md
// per chapter in TOC order (spec.md §4.6).
func Render(ctx context.Context, workspaceDir string, t *toc.TOC, records []manifest.Record, rewriter Rewriter, opts Options) ([]string, error) {
	chapters := toc.AllChapters(t)
	if len(chapters) == 0 {
		return nil, sberrors.New(sberrors.KindCoverageViolation, "toc has no chapters to render")
	}

	st := &renderState{
		workspaceDir: workspaceDir,
		byID:         make(map[string]manifest.Record, len(records)),
		chapterOfID:  make(map[string]string),
		assetsDir:    filepath.Join(workspaceDir, "book", "src", "assets"),
		savedURLs:    make(map[string]string),
	}
	for _, r := range records {
		st.byID[r.ID] = r
	}
	for _, ch := range chapters {
		for _, src := range ch.Sources {
			st.chapterOfID[src] = ch.ID
		}
	}

	chaptersDir := filepath.Join(workspaceDir, "book", "src", "chapters")
	if err := os.MkdirAll(chaptersDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir chapters dir: %w", err)
	}
	if err := os.MkdirAll(st.assetsDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir assets dir: %w", err)
	}

	for _, ch := range chapters {
		if err := st.renderChapter(ctx, ch, rewriter, opts); err != nil {
			return nil, err
		}
	}

	if err := writeSummary(workspaceDir, chapters); err != nil {
		return nil, err
	}

	return st.warnings, nil
}

func (st *renderState) renderChapter(ctx context.Context, ch toc.Chapter, rewriter Rewriter, opts Options) error {
	var buf strings.Builder
	buf.WriteString("# " + ch.Title + "\n\n")

	var sourceURLs []string
	for _, id := range ch.Sources {
		rec, ok := st.byID[id]
		if !ok {
			return sberrors.New(sberrors.KindCoverageViolation, "chapter "+ch.ID+" references unknown page id "+id)
		}
		sourceURLs = append(sourceURLs, rec.URL)

		page, err := extractor.ReadPage(filepath.Join(st.workspaceDir, rec.ExtractedMD))
		if err != nil {
			return fmt.Errorf("read extracted page %s: %w", rec.ExtractedMD, err)
		}

		body := page.Body
		if opts.Engine == "llm" && rewriter != nil {
			rewritten, err := rewriter.RewritePage(ctx, body, opts.Prompt, opts.Language, opts.Tone)
			if err != nil {
				return sberrors.Wrap(sberrors.KindLLMFailure, "page rewrite failed for "+rec.URL, err)
			}
			body = rewritten
		}

		body = st.rewriteLinksAndImages(body, rec.URL, ch.ID)

		buf.WriteString(`<a id="` + id + `"></a>` + "\n\n")
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteString("\n")
		}
		buf.WriteString("\n")
	}

	buf.WriteString("## Sources\n\n")
	for _, u := range sourceURLs {
		buf.WriteString("- " + u + "\n")
	}

	outPath := filepath.Join(st.workspaceDir, "book", "src", "chapters", ch.ID+".md")
	if err := os.WriteFile(outPath, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("write chapter %s: %w", ch.ID, err)
	}
	return nil
}

// rewriteLinksAndImages performs the two link rewrites spec.md §4.6
// requires: internal page links become in-book anchors, and images are
// downloaded locally and pointed at the shared assets directory.
func (st *renderState) rewriteLinksAndImages(body, pageURL, currentChapterID string) string {
	return mdLinkPattern.ReplaceAllStringFunc(body, func(match string) string {
		groups := mdLinkPattern.FindStringSubmatch(match)
		bang, text, target := groups[1], groups[2], groups[3]

		if bang == "!" {
			newTarget := st.downloadImage(target, pageURL)
			return "![" + text + "](" + newTarget + ")"
		}

		newTarget := st.rewriteLink(target, pageURL, currentChapterID)
		return "[" + text + "](" + newTarget + ")"
	})
}

func (st *renderState) rewriteLink(target, pageURL, currentChapterID string) string {
	resolved, err := urlnorm.Resolve(pageURL, target)
	if err != nil {
		return target
	}
	id := urlnorm.PageID(resolved)
	rec, ok := st.byID[id]
	if !ok {
		return target
	}
	targetChapter, ok := st.chapterOfID[rec.ID]
	if !ok {
		return target
	}
	if targetChapter == currentChapterID {
		return "#" + rec.ID
	}
	return targetChapter + ".md#" + rec.ID
}

func (st *renderState) downloadImage(target, pageURL string) string {
	resolved, err := urlnorm.Resolve(pageURL, target)
	if err != nil {
		resolved = target
	}

	st.mu.Lock()
	if name, ok := st.savedURLs[resolved]; ok {
		st.mu.Unlock()
		return "../assets/" + name
	}
	st.mu.Unlock()

	name := safeAssetName(resolved)
	destPath := filepath.Join(st.assetsDir, name)

	if err := fetchToFile(resolved, destPath); err != nil {
		st.mu.Lock()
		st.warnings = append(st.warnings, fmt.Sprintf("image download failed for %s: %v", resolved, err))
		st.mu.Unlock()
		return target
	}

	st.mu.Lock()
	st.savedURLs[resolved] = name
	st.mu.Unlock()
	return "../assets/" + name
}

func fetchToFile(srcURL, destPath string) error {
	resp, err := http.Get(srcURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

// safeAssetName derives a collision-resistant, filesystem-safe name
// from an image URL: the URL's base name, disambiguated with a short
// content-URL hash to avoid two different images sharing a basename.
func safeAssetName(imageURL string) string {
	u, err := url.Parse(imageURL)
	base := "asset"
	if err == nil {
		base = path.Base(u.Path)
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		base = "asset"
	}

	sum := sha256.Sum256([]byte(imageURL))
	shortHash := hex.EncodeToString(sum[:])[:8]

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return stem + "_" + shortHash + ext
}

func writeSummary(workspaceDir string, chapters []toc.Chapter) error {
	var buf strings.Builder
	buf.WriteString("# Summary\n\n")
	for _, ch := range chapters {
		buf.WriteString("- [" + ch.Title + "](chapters/" + ch.ID + ".md)\n")
	}
	path := filepath.Join(workspaceDir, "book", "src", "SUMMARY.md")
	return os.WriteFile(path, []byte(buf.String()), 0o644)
}
