// Placeholder tokenization for the LLM gateway (spec.md §4.9 step 1).
// Grounded on the pattern raito's internal/llm/llm.go uses for building
// provider-agnostic request payloads, generalized into a reversible
// string transform with a dedicated side-table type so detokenization
// can assert bijectivity (spec.md §9 design note).
package llm

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedCodePattern = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern = regexp.MustCompile("`[^`\n]+`")
	bareURLPattern    = regexp.MustCompile(`https?://[^\s)\]}>"']+`)
)

// TokenTable is the side table produced by Tokenize: a bijective map
// from placeholder token to the original protected text it stands in
// for.
type TokenTable struct {
	tokens map[string]string
	order  []string
}

func newTokenTable() *TokenTable {
	return &TokenTable{tokens: make(map[string]string)}
}

func (t *TokenTable) add(original string) string {
	token := fmt.Sprintf("{{SBY_TOKEN_%06x}}", len(t.order))
	t.tokens[token] = original
	t.order = append(t.order, token)
	return token
}

// Tokens returns every placeholder token issued, in issue order.
func (t *TokenTable) Tokens() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Tokenize replaces every fenced code block, inline code span, and
// bare URL in text with a monotonic opaque placeholder, returning the
// protected text and the side table needed to reverse the operation.
func Tokenize(text string) (string, *TokenTable) {
	table := newTokenTable()

	protect := func(re *regexp.Regexp, s string) string {
		return re.ReplaceAllStringFunc(s, func(match string) string {
			return table.add(match)
		})
	}

	out := protect(fencedCodePattern, text)
	out = protect(inlineCodePattern, out)
	out = protect(bareURLPattern, out)
	return out, table
}

// Detokenize substitutes every placeholder token in text back to its
// original value from table.
func Detokenize(text string, table *TokenTable) string {
	out := text
	for token, original := range table.tokens {
		out = strings.ReplaceAll(out, token, original)
	}
	return out
}

// MissingTokens reports which of the tokens a chunk was given are
// absent (or altered beyond simple presence) from its output — the
// validation spec.md §4.9 step 4 requires before accepting a response.
func MissingTokens(chunkTokens []string, output string) []string {
	var missing []string
	for _, tok := range chunkTokens {
		if !strings.Contains(output, tok) {
			missing = append(missing, tok)
		}
	}
	return missing
}

// TokensIn returns every placeholder token referenced within text, in
// order of first appearance — used to determine which side-table
// entries a given chunk actually carries.
func TokensIn(text string) []string {
	matches := tokenRefPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

var tokenRefPattern = regexp.MustCompile(`\{\{SBY_TOKEN_[0-9a-f]{6}\}\}`)
