// Markdown chunking for the LLM gateway (spec.md §4.9 step 2). Grounded
// on geopub's use of goldmark for Markdown-structure-aware processing
// (internal/parser walks section boundaries rather than splitting on
// raw byte offsets).
package llm

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Chunk splits protectedText into pieces not exceeding maxChars,
// preferring "##" heading boundaries and falling back to paragraph
// breaks when a single section still exceeds the limit.
func Chunk(protectedText string, maxChars int) []string {
	if maxChars <= 0 || len(protectedText) <= maxChars {
		return []string{protectedText}
	}

	sections := splitAtHeadings(protectedText)

	var out []string
	for _, sec := range sections {
		if len(sec) <= maxChars {
			out = append(out, sec)
			continue
		}
		out = append(out, splitAtParagraphs(sec, maxChars)...)
	}
	return out
}

// splitAtHeadings walks the Markdown AST and cuts the source at every
// top-level "##" heading, keeping each section's heading attached to
// its body.
func splitAtHeadings(src string) []string {
	md := goldmark.New()
	reader := text.NewReader([]byte(src))
	doc := md.Parser().Parse(reader)

	var cuts []int
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok && h.Level == 2 {
			lines := h.Lines()
			if lines.Len() > 0 {
				// The segment starts at the heading text, after the "##"
				// marker; back up to the start of the line.
				c := lines.At(0).Start
				for c > 0 && src[c-1] != '\n' {
					c--
				}
				cuts = append(cuts, c)
			}
		}
		return ast.WalkContinue, nil
	})

	if len(cuts) == 0 {
		return []string{src}
	}

	var out []string
	start := 0
	for _, c := range cuts {
		if c > start {
			out = append(out, src[start:c])
		}
		start = c
	}
	out = append(out, src[start:])

	// A whitespace-only piece (blank lines before the first heading) is
	// carried into the next section rather than dropped, so the
	// sections still concatenate back to src byte-for-byte.
	var cleaned []string
	carry := ""
	for _, s := range out {
		if strings.TrimSpace(s) == "" {
			carry += s
			continue
		}
		cleaned = append(cleaned, carry+s)
		carry = ""
	}
	if len(cleaned) == 0 {
		return []string{src}
	}
	return cleaned
}

// splitAtParagraphs further splits one oversized section at paragraph
// breaks ("\n\n") to stay within maxChars. Every cut lands exactly on
// a paragraph boundary and keeps the separator with the preceding
// piece, so concatenating the result reproduces section byte-for-byte
// — required for the noop engine's identity guarantee (spec.md §8).
// A run with no internal paragraph break short enough to help is
// returned as a single oversized piece rather than cut mid-paragraph.
func splitAtParagraphs(section string, maxChars int) []string {
	cuts := paragraphCutPoints(section)
	if len(cuts) == 0 {
		return []string{section}
	}

	var out []string
	segStart, pending := 0, 0
	for _, c := range cuts {
		if c-segStart <= maxChars {
			pending = c
			continue
		}
		if pending > segStart {
			out = append(out, section[segStart:pending])
			segStart = pending
		}
		pending = c
	}
	out = append(out, section[segStart:])
	return out
}

// paragraphCutPoints returns the byte offsets immediately after every
// "\n\n" in s, i.e. the set of positions a cut can land on without
// splitting a paragraph in half.
func paragraphCutPoints(s string) []int {
	var out []int
	idx := 0
	for {
		pos := strings.Index(s[idx:], "\n\n")
		if pos == -1 {
			break
		}
		idx += pos + 2
		out = append(out, idx)
	}
	return out
}
