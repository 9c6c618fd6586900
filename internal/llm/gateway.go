// Package llm implements spec.md §4.9: the chunked, placeholder-
// protected LLM gateway shared by the TOC refiner (C5) and the book
// renderer (C6). Grounded on raito's internal/llm/llm.go Provider
// abstraction (one interface, pluggable backends) generalized with the
// tokenize/chunk/dispatch/validate/retry/fallback pipeline spec.md
// §4.9 spells out step by step.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"sitebookify/internal/config"
	"sitebookify/internal/manifest"
	"sitebookify/internal/metrics"
	"sitebookify/internal/sberrors"
	"sitebookify/internal/toc"
)

// Gateway is the concrete C9 implementation; it satisfies both
// book.Rewriter and toc.Refiner so C6 and C5 can depend on it through
// those narrow interfaces.
type Gateway struct {
	cfg config.LLMConfig
	eng engine
}

// New constructs a Gateway and fails fast if the configured engine's
// credentials are missing, per spec.md §4.9's "surfaces a fatal error
// before consuming input" rule.
func New(cfg config.LLMConfig) (*Gateway, error) {
	eng, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 4000
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	cfg.MaxChars, cfg.Concurrency, cfg.Retries = maxChars, concurrency, retries
	return &Gateway{cfg: cfg, eng: eng}, nil
}

// Rewrite implements the full §4.9 pipeline: tokenize, chunk, dispatch
// concurrently, validate, retry, and fall back to the original chunk on
// persistent validation failure.
func (g *Gateway) Rewrite(ctx context.Context, body, prompt, language, tone string) (string, error) {
	protected, table := Tokenize(body)
	chunks := Chunk(protected, g.cfg.MaxChars)

	results := make([]string, len(chunks))
	var wg sync.WaitGroup
	sem := make(chan struct{}, g.cfg.Concurrency)
	errs := make([]error, len(chunks))

	for i, chunk := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, chunk string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i], errs[i] = g.processChunk(ctx, chunk, prompt, language, tone)
		}(i, chunk)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return "", err
		}
	}

	return Detokenize(strings.Join(results, ""), table), nil
}

// RewritePage implements book.Rewriter.
func (g *Gateway) RewritePage(ctx context.Context, body, prompt, language, tone string) (string, error) {
	return g.Rewrite(ctx, body, prompt, language, tone)
}

// processChunk dispatches one chunk, validates the placeholder
// invariant, retries with the chunk split in half on failure, and
// falls back to the original chunk text if every attempt fails
// (spec.md §4.9 steps 3-5, §7 kind 6).
func (g *Gateway) processChunk(ctx context.Context, chunk, prompt, language, tone string) (string, error) {
	wanted := TokensIn(chunk)

	attempt := func(text string) (string, bool) {
		out, err := g.eng.run(ctx, request{Chunk: text, Prompt: prompt, Language: language, Tone: tone})
		if err != nil {
			return "", false
		}
		if len(MissingTokens(wanted, out)) > 0 {
			return "", false
		}
		return out, true
	}

	if out, ok := attempt(chunk); ok {
		metrics.RecordLLMChunkOutcome("ok")
		return out, nil
	}

	pieces := []string{chunk}
	for i := 0; i < g.cfg.Retries; i++ {
		var next []string
		for _, p := range pieces {
			next = append(next, splitAtParagraphs(p, maxInt(len(p)/2, 1))...)
		}
		pieces = next

		var rebuilt strings.Builder
		ok := true
		for _, p := range pieces {
			out, good := attempt(p)
			if !good {
				ok = false
				break
			}
			rebuilt.WriteString(out)
		}
		if ok {
			metrics.RecordLLMChunkOutcome("ok")
			return rebuilt.String(), nil
		}
	}

	// Fallback: the chunk is never silently summarized into a loss —
	// it is returned exactly as received.
	metrics.RecordLLMChunkOutcome("fallback_original")
	return chunk, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// manifestForPrompt is the JSON shape handed to the model for TOC
// refinement: id, title, url, and path only — enough to propose structure
// without leaking full page bodies into the prompt.
type manifestForPrompt struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Path  string `json:"path"`
}

// RefineTOC implements toc.Refiner. The engine is asked to return a
// YAML document matching toc.TOC's shape directly; the caller
// (internal/toc) is responsible for validating coverage invariants.
func (g *Gateway) RefineTOC(ctx context.Context, records []manifest.Record, bookTitle string) ([]byte, error) {
	if _, ok := g.eng.(noopEngine); ok {
		return yaml.Marshal(toc.BuildInit(records, bookTitle))
	}

	entries := make([]manifestForPrompt, 0, len(records))
	for _, r := range records {
		entries = append(entries, manifestForPrompt{ID: r.ID, Title: r.Title, URL: r.URL, Path: r.Path})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	payload, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for toc refine: %w", err)
	}

	prompt := fmt.Sprintf(
		"Propose a table of contents for the book titled %q from this page manifest. "+
			"Respond with only a YAML document shaped like: book_title, parts: [{title, chapters: "+
			"[{id: chNN, title, intent, reader_gains, sources: [page ids]}]}]. "+
			"You may omit unsuitable pages. You must not invent page ids not present in the manifest.\n\n%s",
		bookTitle, string(payload))

	out, err := g.eng.run(ctx, request{Chunk: prompt})
	if err != nil {
		metrics.RecordLLMChunkOutcome("error")
		return nil, sberrors.Wrap(sberrors.KindLLMFailure, "toc refine request failed", err)
	}
	return []byte(stripCodeFence(out)), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```yaml")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
