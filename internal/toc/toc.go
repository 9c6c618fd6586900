// Package toc implements spec.md §4.5: building the initial
// table-of-contents from URL path structure, and validating (or
// requesting) an LLM-refined TOC. Grounded on raito's YAML-backed
// config marshaling style (gopkg.in/yaml.v3) for toc.yaml, and on the
// manifest/chapter split modeled after geopub's internal/parser/summary.go
// SUMMARY.md → Book/Chapter walk.
package toc

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"sitebookify/internal/manifest"
	"sitebookify/internal/sberrors"
)

// Chapter is spec.md §3's TOC chapter. Intent/ReaderGains are only
// populated when the chapter was produced by the LLM-backed refine
// mode (spec.md §4.5).
type Chapter struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Sources     []string `yaml:"sources"`
	Intent      string   `yaml:"intent,omitempty"`
	ReaderGains string   `yaml:"reader_gains,omitempty"`
}

// Part groups chapters, mirroring spec.md §3's `parts` array.
type Part struct {
	Title    string    `yaml:"title"`
	Chapters []Chapter `yaml:"chapters"`
}

// TOC is spec.md §3's full TOC document, serialized as toc.yaml.
type TOC struct {
	BookTitle string `yaml:"book_title"`
	Parts     []Part `yaml:"parts"`
}

// Refiner is the capability C9 (the LLM gateway) exposes to TOC
// refinement: given the manifest and an optional book title, propose a
// reordered/retitled TOC as YAML bytes in the same shape as TOC.
type Refiner interface {
	RefineTOC(ctx context.Context, manifestRecords []manifest.Record, bookTitle string) ([]byte, error)
}

// BuildInit constructs the initial TOC by grouping manifest records by
// URL path segments, preserving manifest (id-ascending) order
// (spec.md §4.5 "Init" mode).
func BuildInit(records []manifest.Record, bookTitle string) *TOC {
	type groupKey struct {
		part    string
		chapter string
	}
	var order []groupKey
	seen := make(map[groupKey]int) // groupKey -> index into order
	partOrder := []string{}
	partSeen := make(map[string]bool)

	grouped := make(map[groupKey][]manifest.Record)

	for _, r := range records {
		segs := splitPath(r.Path)
		partName := "root"
		chapterName := "index"
		if len(segs) >= 1 {
			partName = segs[0]
		}
		if len(segs) >= 2 {
			chapterName = strings.Join(segs[:2], "/")
		} else if len(segs) == 1 {
			chapterName = segs[0]
		}

		key := groupKey{part: partName, chapter: chapterName}
		if _, ok := seen[key]; !ok {
			seen[key] = len(order)
			order = append(order, key)
		}
		if !partSeen[partName] {
			partSeen[partName] = true
			partOrder = append(partOrder, partName)
		}
		grouped[key] = append(grouped[key], r)
	}

	partsByName := make(map[string]*Part)
	var parts []*Part
	for _, pname := range partOrder {
		p := &Part{Title: titleCase(pname)}
		partsByName[pname] = p
		parts = append(parts, p)
	}

	chNum := 1
	for _, key := range order {
		recs := grouped[key]
		sources := make([]string, 0, len(recs))
		title := ""
		for _, r := range recs {
			sources = append(sources, r.ID)
			if title == "" {
				title = r.Title
			}
		}
		if title == "" {
			title = titleCase(key.chapter)
		}
		ch := Chapter{
			Title:   title,
			Sources: sources,
		}
		partsByName[key.part].Chapters = append(partsByName[key.part].Chapters, ch)
	}

	// Number chapters in part order, the order Validate checks.
	chNum = 1
	out := &TOC{BookTitle: bookTitle}
	for _, p := range parts {
		for i := range p.Chapters {
			p.Chapters[i].ID = fmt.Sprintf("ch%02d", chNum)
			chNum++
		}
		out.Parts = append(out.Parts, *p)
	}
	return out
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func titleCase(s string) string {
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "/", " / ")
	if s == "" {
		return s
	}
	words := strings.Fields(s)
	for i, w := range words {
		if len(w) == 0 {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Refine asks the LLM gateway to propose a reordered/retitled TOC and
// validates the result against the §3 invariants before returning it
// (spec.md §4.5 "Refine" mode). Validation failure surfaces to the
// caller rather than being silently discarded.
func Refine(ctx context.Context, refiner Refiner, records []manifest.Record, bookTitle string) (*TOC, error) {
	raw, err := refiner.RefineTOC(ctx, records, bookTitle)
	if err != nil {
		return nil, sberrors.Wrap(sberrors.KindLLMFailure, "toc refine request failed", err)
	}

	var refined TOC
	if err := yaml.Unmarshal(raw, &refined); err != nil {
		return nil, sberrors.Wrap(sberrors.KindCoverageViolation, "refined toc is not valid yaml", err)
	}

	if err := Validate(&refined, records); err != nil {
		return nil, err
	}
	return &refined, nil
}

// Validate checks the three §3 invariants: every sources entry refers
// to a manifest id, chapter ids are ch01..chNN in order, and no
// manifest id is referenced twice.
func Validate(t *TOC, records []manifest.Record) error {
	known := make(map[string]bool, len(records))
	for _, r := range records {
		known[r.ID] = true
	}

	seenIDs := make(map[string]bool)
	chapterNum := 1
	for _, part := range t.Parts {
		for _, ch := range part.Chapters {
			expected := fmt.Sprintf("ch%02d", chapterNum)
			if ch.ID != expected {
				return sberrors.Wrap(sberrors.KindCoverageViolation,
					fmt.Sprintf("chapter id out of sequence: got %q, want %q", ch.ID, expected),
					sberrors.ErrCoverageViolation)
			}
			chapterNum++

			for _, src := range ch.Sources {
				if !known[src] {
					return sberrors.Wrap(sberrors.KindCoverageViolation,
						fmt.Sprintf("chapter %s references unknown page id %q", ch.ID, src),
						sberrors.ErrCoverageViolation)
				}
				if seenIDs[src] {
					return sberrors.Wrap(sberrors.KindCoverageViolation,
						fmt.Sprintf("page id %q referenced by more than one chapter", src),
						sberrors.ErrCoverageViolation)
				}
				seenIDs[src] = true
			}
		}
	}
	return nil
}

// Save writes toc.yaml under workspaceDir.
func Save(workspaceDir string, t *TOC) error {
	raw, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal toc: %w", err)
	}
	return os.WriteFile(workspaceDir+"/toc.yaml", raw, 0o644)
}

// Load reads toc.yaml back from workspaceDir.
func Load(workspaceDir string) (*TOC, error) {
	raw, err := os.ReadFile(workspaceDir + "/toc.yaml")
	if err != nil {
		return nil, fmt.Errorf("read toc.yaml: %w", err)
	}
	var t TOC
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse toc.yaml: %w", err)
	}
	return &t, nil
}

// AllChapters flattens a TOC into TOC-order chapter list, used by the
// renderer and bundler which both need a single linear chapter
// sequence regardless of part grouping.
func AllChapters(t *TOC) []Chapter {
	var out []Chapter
	for _, p := range t.Parts {
		out = append(out, p.Chapters...)
	}
	return out
}
