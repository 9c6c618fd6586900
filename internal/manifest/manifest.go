// Package manifest implements spec.md §4.4: walking extracted pages
// into the stable-ordered manifest.jsonl ledger. Grounded on raito's
// JSONL-writing idiom in internal/crawl/jobs.go (append one JSON
// object per line, no trailing array wrapper) generalized to a sort
// pass for reproducibility.
package manifest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"sitebookify/internal/extractor"
	"sitebookify/internal/sberrors"
)

// Record is spec.md §3's ManifestRecord.
type Record struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Path        string `json:"path"`
	ExtractedMD string `json:"extracted_md"`
}

// Build walks extracted/pages/*.md under workspaceDir, derives one
// Record per page, and writes manifest.jsonl sorted by id ascending
// (spec.md §4.4, §8 "stable id ordering"). It is a hard error to call
// Build against a workspace that already has a manifest.jsonl.
func Build(workspaceDir string) ([]Record, error) {
	manifestPath := filepath.Join(workspaceDir, "manifest.jsonl")
	pagesDir := filepath.Join(workspaceDir, "extracted", "pages")

	if _, err := os.Stat(manifestPath); err == nil {
		return nil, sberrors.Wrap(sberrors.KindSnapshotConflict, "manifest.jsonl already exists", sberrors.ErrSnapshotConflict)
	}

	entries, err := os.ReadDir(pagesDir)
	if err != nil {
		return nil, fmt.Errorf("read extracted pages dir: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		fullPath := filepath.Join(pagesDir, entry.Name())
		page, err := extractor.ReadPage(fullPath)
		if err != nil {
			// An unreadable extracted page is a corrupt snapshot, not a
			// transient extraction failure; surface it rather than
			// silently dropping a manifest row.
			return nil, fmt.Errorf("read extracted page %s: %w", fullPath, err)
		}

		rel, err := filepath.Rel(workspaceDir, fullPath)
		if err != nil {
			rel = fullPath
		}

		records = append(records, Record{
			ID:          page.ID,
			URL:         page.URL,
			Title:       page.Title,
			Path:        pathOf(page.URL),
			ExtractedMD: filepath.ToSlash(rel),
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	if err := writeJSONL(manifestPath, records); err != nil {
		return nil, err
	}
	return records, nil
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func writeJSONL(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode manifest record %s: %w", r.ID, err)
		}
	}
	return nil
}

// Load reads a previously written manifest.jsonl.
func Load(workspaceDir string) ([]Record, error) {
	path := filepath.Join(workspaceDir, "manifest.jsonl")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var records []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var r Record
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("decode manifest record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}
