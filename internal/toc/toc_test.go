package toc

import (
	"context"
	"fmt"
	"testing"

	"sitebookify/internal/manifest"
)

func sampleRecords() []manifest.Record {
	return []manifest.Record{
		{ID: "p_1", URL: "https://example.com/docs/intro", Title: "Intro", Path: "/docs/intro"},
		{ID: "p_2", URL: "https://example.com/docs/advanced", Title: "Advanced", Path: "/docs/advanced"},
		{ID: "p_3", URL: "https://example.com/blog/post", Title: "Post", Path: "/blog/post"},
	}
}

func TestBuildInitGroupsByFirstSegment(t *testing.T) {
	got := BuildInit(sampleRecords(), "My Book")
	if got.BookTitle != "My Book" {
		t.Fatalf("unexpected book title: %q", got.BookTitle)
	}
	if len(got.Parts) != 2 {
		t.Fatalf("expected 2 parts (docs, blog), got %d: %+v", len(got.Parts), got.Parts)
	}
	if err := Validate(got, sampleRecords()); err != nil {
		t.Fatalf("init toc failed validation: %v", err)
	}
}

func TestBuildInitAssignsSequentialChapterIDs(t *testing.T) {
	got := BuildInit(sampleRecords(), "")
	chapters := AllChapters(got)
	for i, ch := range chapters {
		want := fmt.Sprintf("ch%02d", i+1)
		if ch.ID != want {
			t.Fatalf("chapter %d: got id %q, want %q", i, ch.ID, want)
		}
	}
}

func TestValidateRejectsUnknownID(t *testing.T) {
	bad := &TOC{Parts: []Part{{Title: "P", Chapters: []Chapter{{ID: "ch01", Sources: []string{"p_missing"}}}}}}
	if err := Validate(bad, sampleRecords()); err == nil {
		t.Fatal("expected coverage violation for unknown id")
	}
}

func TestValidateRejectsDuplicateID(t *testing.T) {
	bad := &TOC{Parts: []Part{{Title: "P", Chapters: []Chapter{
		{ID: "ch01", Sources: []string{"p_1"}},
		{ID: "ch02", Sources: []string{"p_1"}},
	}}}}
	if err := Validate(bad, sampleRecords()); err == nil {
		t.Fatal("expected coverage violation for duplicate id")
	}
}

func TestValidateRejectsOutOfSequenceChapterID(t *testing.T) {
	bad := &TOC{Parts: []Part{{Title: "P", Chapters: []Chapter{
		{ID: "ch02", Sources: []string{"p_1"}},
	}}}}
	if err := Validate(bad, sampleRecords()); err == nil {
		t.Fatal("expected coverage violation for out-of-sequence chapter id")
	}
}

type stubRefiner struct {
	yaml []byte
	err  error
}

func (s stubRefiner) RefineTOC(_ context.Context, _ []manifest.Record, _ string) ([]byte, error) {
	return s.yaml, s.err
}

func TestRefineValidatesLLMOutput(t *testing.T) {
	goodYAML := []byte(`
book_title: Refined
parts:
  - title: Docs
    chapters:
      - id: ch01
        title: Intro
        sources: [p_1, p_2]
      - id: ch02
        title: Blog
        sources: [p_3]
`)
	got, err := Refine(context.Background(), stubRefiner{yaml: goodYAML}, sampleRecords(), "Refined")
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if got.BookTitle != "Refined" {
		t.Fatalf("unexpected title: %q", got.BookTitle)
	}
}

func TestRefineRejectsInvalidCoverage(t *testing.T) {
	badYAML := []byte(`
book_title: Refined
parts:
  - title: Docs
    chapters:
      - id: ch01
        sources: [p_1, p_nonexistent]
`)
	if _, err := Refine(context.Background(), stubRefiner{yaml: badYAML}, sampleRecords(), "Refined"); err == nil {
		t.Fatal("expected validation error for unknown page id")
	}
}
