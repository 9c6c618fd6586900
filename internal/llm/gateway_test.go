package llm

import (
	"context"
	"strings"
	"testing"

	"sitebookify/internal/config"
	"sitebookify/internal/manifest"
)

func TestTokenizeDetokenizeRoundTrips(t *testing.T) {
	input := "See the ```go\nfmt.Println(1)\n``` block and `inline` and https://example.com/x for more."
	protected, table := Tokenize(input)
	if strings.Contains(protected, "fmt.Println") {
		t.Fatalf("expected code block to be tokenized: %s", protected)
	}
	if !strings.Contains(protected, "{{SBY_TOKEN_") {
		t.Fatalf("expected placeholder tokens: %s", protected)
	}
	back := Detokenize(protected, table)
	if back != input {
		t.Fatalf("detokenize mismatch:\n got: %q\nwant: %q", back, input)
	}
}

func TestNoopGatewayReturnsInputUnchanged(t *testing.T) {
	gw, err := New(config.LLMConfig{Engine: "noop", MaxChars: 10, Concurrency: 2, Retries: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	body := "# Heading\n\nSome text with `code` and https://example.com/page and more words to force chunking across the boundary."
	out, err := gw.Rewrite(context.Background(), body, "rewrite", "en", "neutral")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if out != body {
		t.Fatalf("noop engine must return byte-identical output:\n got: %q\nwant: %q", out, body)
	}
}

func TestNewRejectsOpenAIEngineWithoutKey(t *testing.T) {
	if _, err := New(config.LLMConfig{Engine: "openai"}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewRejectsCommandEngineWithoutPath(t *testing.T) {
	if _, err := New(config.LLMConfig{Engine: "command"}); err == nil {
		t.Fatal("expected error for missing command path")
	}
}

func TestRefineTOCWithNoopEngineProducesValidTOC(t *testing.T) {
	gw, err := New(config.LLMConfig{Engine: "noop"})
	if err != nil {
		t.Fatal(err)
	}
	records := []manifest.Record{
		{ID: "p_1", URL: "https://example.com/docs/intro", Title: "Intro", Path: "/docs/intro"},
	}
	raw, err := gw.RefineTOC(context.Background(), records, "Book")
	if err != nil {
		t.Fatalf("RefineTOC: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty yaml")
	}
}

func TestChunkSplitsAtHeadingsAndParagraphs(t *testing.T) {
	body := "## A\n\nshort\n\n## B\n\n" + strings.Repeat("x", 50)
	chunks := Chunk(body, 20)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d: %v", len(chunks), chunks)
	}
}

func TestMissingTokensDetectsDroppedPlaceholder(t *testing.T) {
	wanted := []string{"{{SBY_TOKEN_000000}}", "{{SBY_TOKEN_000001}}"}
	out := "only has {{SBY_TOKEN_000000}}"
	missing := MissingTokens(wanted, out)
	if len(missing) != 1 || missing[0] != "{{SBY_TOKEN_000001}}" {
		t.Fatalf("unexpected missing tokens: %v", missing)
	}
}
