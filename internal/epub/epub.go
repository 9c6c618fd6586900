// Package epub implements spec.md §4.8: packaging the mdBook tree into
// a standard EPUB zip. Grounded structurally on the other_examples
// simp-lee-epub reader (mimetype stored first and uncompressed,
// META-INF/container.xml, OEBPS/content.opf + toc.ncx + per-chapter
// XHTML) read in reverse as a writer, and on geopub's
// internal/renderer use of aymerick/raymond for templated XML/XHTML
// output.
package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/yuin/goldmark"

	"sitebookify/internal/bundle"
	"sitebookify/internal/sberrors"
)

var chapterAnchorPattern = regexp.MustCompile(`\]\((ch\d+)\.md#(p_[0-9a-f]+)\)`)
var sameChapterAnchorPattern = regexp.MustCompile(`\]\(#(p_[0-9a-f]+)\)`)
var assetPathPattern = regexp.MustCompile(`\.\./assets/`)

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const opfTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<package version="2.0" xmlns="http://www.idpf.org/2007/opf" unique-identifier="bookid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>{{title}}</dc:title>
    <dc:language>en</dc:language>
    <dc:identifier id="bookid">{{identifier}}</dc:identifier>
  </metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
{{#each items}}    <item id="{{this.id}}" href="{{this.href}}" media-type="{{this.mediaType}}"/>
{{/each}}  </manifest>
  <spine toc="ncx">
{{#each spine}}    <itemref idref="{{this}}"/>
{{/each}}  </spine>
</package>`

const ncxTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
{{#each navPoints}}    <navPoint id="np{{this.order}}" playOrder="{{this.order}}"><navLabel><text>{{this.title}}</text></navLabel><content src="{{this.href}}"/></navPoint>
{{/each}}  </navMap>
</ncx>`

const xhtmlTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>{{title}}</title></head>
<body>
{{{body}}}
</body>
</html>`

type manifestItem struct {
	ID        string
	Href      string
	MediaType string
}

type navPoint struct {
	Order int
	Title string
	Href  string
}

// ChapterTitle resolves a chapter id to its display title; the
// renderer package already owns this mapping via toc.AllChapters, so
// the packager takes it as input rather than re-deriving it.
type ChapterTitle func(chapterID string) string

// Package builds workspaceDir/book.epub from the rendered mdBook tree.
// It refuses to overwrite an existing book.epub.
func Package(workspaceDir string, titleOf ChapterTitle, bookTitle string) error {
	outPath := filepath.Join(workspaceDir, "book.epub")
	if _, err := os.Stat(outPath); err == nil {
		return sberrors.Wrap(sberrors.KindSnapshotConflict, "book.epub already exists", sberrors.ErrSnapshotConflict)
	}

	chapterFiles, err := bundle.ParseSummaryOrder(filepath.Join(workspaceDir, "book", "src", "SUMMARY.md"))
	if err != nil {
		return err
	}

	var items []manifestItem
	var spine []string
	var navPoints []navPoint
	chapterXHTML := make(map[string]string)

	for i, fname := range chapterFiles {
		chapterID := strings.TrimSuffix(fname, ".md")
		raw, err := os.ReadFile(filepath.Join(workspaceDir, "book", "src", "chapters", fname))
		if err != nil {
			return fmt.Errorf("read chapter %s: %w", fname, err)
		}

		md := chapterAnchorPattern.ReplaceAllString(string(raw), "](${1}.xhtml#${2})")
		md = sameChapterAnchorPattern.ReplaceAllString(md, "](#$1)")
		md = assetPathPattern.ReplaceAllString(md, "assets/")

		var htmlBuf bytes.Buffer
		if err := goldmark.Convert([]byte(md), &htmlBuf); err != nil {
			return fmt.Errorf("convert chapter %s to html: %w", fname, err)
		}

		xhtmlHref := chapterID + ".xhtml"
		title := chapterID
		if titleOf != nil {
			if t := titleOf(chapterID); t != "" {
				title = t
			}
		}
		xhtml, err := raymond.Render(xhtmlTemplate, map[string]interface{}{
			"title": title,
			"body":  htmlBuf.String(),
		})
		if err != nil {
			return fmt.Errorf("render xhtml for %s: %w", chapterID, err)
		}
		chapterXHTML[xhtmlHref] = xhtml

		items = append(items, manifestItem{ID: chapterID, Href: xhtmlHref, MediaType: "application/xhtml+xml"})
		spine = append(spine, chapterID)
		navPoints = append(navPoints, navPoint{Order: i + 1, Title: title, Href: xhtmlHref})
	}

	assetFiles, err := collectAssets(filepath.Join(workspaceDir, "book", "src", "assets"))
	if err != nil {
		return err
	}
	for i, rel := range assetFiles {
		items = append(items, manifestItem{
			ID:        fmt.Sprintf("asset%d", i+1),
			Href:      "assets/" + rel,
			MediaType: mediaTypeFor(rel),
		})
	}

	opf, err := raymond.Render(opfTemplate, map[string]interface{}{
		"title":      bookTitle,
		"identifier": "urn:sitebookify:" + sanitizeID(bookTitle),
		"items":      items,
		"spine":      spine,
	})
	if err != nil {
		return fmt.Errorf("render opf: %w", err)
	}
	ncx, err := raymond.Render(ncxTemplate, map[string]interface{}{"navPoints": navPoints})
	if err != nil {
		return fmt.Errorf("render ncx: %w", err)
	}

	return writeZip(outPath, workspaceDir, chapterFiles, chapterXHTML, assetFiles, opf, ncx)
}

func writeZip(outPath, workspaceDir string, chapterFiles []string, chapterXHTML map[string]string, assetFiles []string, opf, ncx string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	mimeWriter, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return err
	}
	if _, err := mimeWriter.Write([]byte("application/epub+zip")); err != nil {
		return err
	}

	if err := writeZipEntry(zw, "META-INF/container.xml", []byte(containerXML)); err != nil {
		return err
	}
	if err := writeZipEntry(zw, "OEBPS/content.opf", []byte(opf)); err != nil {
		return err
	}
	if err := writeZipEntry(zw, "OEBPS/toc.ncx", []byte(ncx)); err != nil {
		return err
	}
	for _, fname := range chapterFiles {
		chapterID := strings.TrimSuffix(fname, ".md")
		href := chapterID + ".xhtml"
		if err := writeZipEntry(zw, "OEBPS/"+href, []byte(chapterXHTML[href])); err != nil {
			return err
		}
	}
	for _, rel := range assetFiles {
		raw, err := os.ReadFile(filepath.Join(workspaceDir, "book", "src", "assets", rel))
		if err != nil {
			return fmt.Errorf("read asset %s: %w", rel, err)
		}
		if err := writeZipEntry(zw, "OEBPS/assets/"+rel, raw); err != nil {
			return err
		}
	}

	return zw.Close()
}

func writeZipEntry(zw *zip.Writer, name string, content []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create zip entry %s: %w", name, err)
	}
	_, err = w.Write(content)
	return err
}

func collectAssets(assetsDir string) ([]string, error) {
	entries, err := os.ReadDir(assetsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read assets dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func mediaTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}

func sanitizeID(s string) string {
	if s == "" {
		return "untitled"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, s)
}
