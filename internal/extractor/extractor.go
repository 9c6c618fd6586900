// Package extractor implements spec.md §4.3: turning one raw HTML
// fetch into a deterministic, content-addressed Markdown page. Grounded
// on raito's internal/extract/extract.go (readability extraction
// followed by html-to-markdown conversion) and internal/scraper/scraper.go
// (goquery-based boilerplate stripping before conversion), with the
// two-strategy readability-then-relaxed-retry chain suggested by
// spec.md §9 "Extraction fallbacks" modeled as an ordered list of
// strategies sharing one failure signal.
package extractor

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"gopkg.in/yaml.v3"

	"sitebookify/internal/sberrors"
	"sitebookify/internal/urlnorm"
)

// Page is spec.md §3's ExtractedPage.
type Page struct {
	ID          string `yaml:"id"`
	URL         string `yaml:"url"`
	RetrievedAt string `yaml:"retrieved_at"`
	RawHTMLPath string `yaml:"raw_html_path"`
	Title       string `yaml:"title"`
	Body        string `yaml:"-"`
}

// boilerplateSelectors is the fixed, documented denylist of elements
// known to be navigation chrome rather than page content — mdBook's
// keyboard-shortcut help panel and sidebar/toolbar furniture chief
// among them (spec.md §4.3, §9 open question (a)).
var boilerplateSelectors = []string{
	"#mdbook-help-container",
	".sidebar",
	"#sidebar",
	".menu-bar",
	".nav-chapters",
	"nav.nav-wrapper",
	"#search-wrapper",
	".page-wrapper .content > .warning",
	"script",
	"style",
	"noscript",
}

// errNoContent is the normalized failure signal shared by every
// extraction strategy: "this strategy produced nothing usable."
var errNoContent = fmt.Errorf("no usable content extracted")

// strategy is one attempt at turning raw HTML into a content fragment.
// Every strategy shares the same failure signal so the caller can try
// the next one without special-casing.
type strategy func(htmlBody []byte, pageURL string) (title string, contentHTML string, err error)

// Extract runs the full extraction pipeline for one RawFetch and writes
// extracted/pages/<page_id>.md. It refuses to overwrite an existing
// output (spec.md §7 kind 2, write-once snapshots).
func Extract(rawHTML []byte, pageURL, retrievedAt, rawHTMLRelPath, outDir string) (*Page, error) {
	id := urlnorm.PageID(pageURL)
	outPath := filepath.Join(outDir, "extracted", "pages", id+".md")

	if _, err := os.Stat(outPath); err == nil {
		return nil, sberrors.Wrap(sberrors.KindSnapshotConflict, "extracted page already exists: "+outPath, sberrors.ErrSnapshotConflict)
	}

	strategies := []strategy{readabilityStrategy, relaxedStrategy}

	var title, contentHTML string
	var err error
	for _, s := range strategies {
		title, contentHTML, err = s(rawHTML, pageURL)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, sberrors.Wrap(sberrors.KindExtractionFailure, "readability yielded nothing usable for "+pageURL, err)
	}

	contentHTML, err = stripBoilerplate(contentHTML)
	if err != nil {
		return nil, sberrors.Wrap(sberrors.KindExtractionFailure, "boilerplate strip failed for "+pageURL, err)
	}

	bodyMD, err := toMarkdown(contentHTML)
	if err != nil {
		return nil, sberrors.Wrap(sberrors.KindExtractionFailure, "markdown conversion failed for "+pageURL, err)
	}

	page := &Page{
		ID:          id,
		URL:         pageURL,
		RetrievedAt: retrievedAt,
		RawHTMLPath: rawHTMLRelPath,
		Title:       strings.TrimSpace(title),
		Body:        bodyMD,
	}

	if err := writePage(outPath, page); err != nil {
		return nil, err
	}
	return page, nil
}

func readabilityStrategy(htmlBody []byte, pageURL string) (string, string, error) {
	canon, err := urlnorm.Canonicalize(pageURL)
	if err != nil {
		return "", "", err
	}
	u, err := url.Parse(canon)
	if err != nil {
		return "", "", err
	}
	article, err := readability.FromReader(bytes.NewReader(htmlBody), u)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(article.Content) == "" {
		return "", "", errNoContent
	}
	return article.Title, article.Content, nil
}

// relaxedStrategy is the fallback when the readability pass yields
// nothing: it does not run readability again, but takes the page's
// <title> and the raw inner HTML of <body> as-is (boilerplate is
// stripped afterwards by Extract).
func relaxedStrategy(htmlBody []byte, pageURL string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(htmlBody))
	if err != nil {
		return "", "", err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	body := doc.Find("body")
	if body.Length() == 0 {
		return "", "", errNoContent
	}
	html, err := body.Html()
	if err != nil || strings.TrimSpace(html) == "" {
		return "", "", errNoContent
	}
	return title, html, nil
}

func stripBoilerplate(contentHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(wrapFragment(contentHTML)))
	if err != nil {
		return "", err
	}
	for _, sel := range boilerplateSelectors {
		doc.Find(sel).Remove()
	}
	out, err := doc.Find("body").Html()
	if err != nil {
		return "", err
	}
	return out, nil
}

func wrapFragment(fragment string) string {
	return "<html><body>" + fragment + "</body></html>"
}

func toMarkdown(contentHTML string) (string, error) {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	out, err := conv.ConvertString(contentHTML)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out) + "\n", nil
}

func writePage(outPath string, page *Page) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", outPath, err)
	}

	front, err := yaml.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n\n")
	buf.WriteString(page.Body)

	// os.O_EXCL re-asserts write-once even under a benign TOCTOU race
	// between the Stat check in Extract and this write.
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return sberrors.Wrap(sberrors.KindSnapshotConflict, "extracted page already exists: "+outPath, sberrors.ErrSnapshotConflict)
		}
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return nil
}

// ReadPage loads a previously extracted page back from disk, splitting
// the YAML front matter from the Markdown body.
func ReadPage(path string) (*Page, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(raw)
	if !strings.HasPrefix(text, "---\n") {
		return nil, fmt.Errorf("%s: missing front matter", path)
	}
	rest := text[len("---\n"):]
	idx := strings.Index(rest, "\n---\n")
	if idx == -1 {
		return nil, fmt.Errorf("%s: unterminated front matter", path)
	}
	frontRaw := rest[:idx]
	body := strings.TrimPrefix(rest[idx+len("\n---\n"):], "\n")

	var page Page
	if err := yaml.Unmarshal([]byte(frontRaw), &page); err != nil {
		return nil, fmt.Errorf("%s: parse front matter: %w", path, err)
	}
	page.Body = body
	return &page, nil
}
