// Package sitemap implements spec.md §4.10's Preview(url) RPC: a
// non-authoritative structural estimate of a site, sitemap-first with
// a one-hop link-graph fallback. Pure fetch-and-parse, no LLM.
// Grounded on raito's internal/crawler/map.go (sitemap.xml discovery
// via encoding/xml, HTML anchor discovery via goquery, same-host
// filtering), generalized from raito's "collect up to a limit" Map
// operation into an estimator that reports counts and samples rather
// than an exhaustive link list.
package sitemap

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"sitebookify/internal/urlnorm"
)

// Source names which discovery path produced the estimate.
type Source string

const (
	SourceSitemap   Source = "sitemap"
	SourceLinkGraph Source = "link_graph"
)

// Result is Preview's response shape (spec.md §6: "Preview(url) →
// { source, estimated_pages, estimated_chapters, chapters[],
// sample_urls[], notes[], … }").
type Result struct {
	Source            Source   `json:"source"`
	EstimatedPages    int      `json:"estimated_pages"`
	EstimatedChapters int      `json:"estimated_chapters"`
	Chapters          []string `json:"chapters"`
	SampleURLs        []string `json:"sample_urls"`
	EstimatedTokens   int      `json:"estimated_tokens"`
	Notes             []string `json:"notes"`
}

const (
	sampleLimit = 20
	fetchLimit  = 500 // cap how many sitemap/HTML urls we even parse
)

// Preview fetches /sitemap.xml first; if that yields nothing usable it
// falls back to a one-hop crawl of the start page's own anchors. It
// never follows links beyond that single hop and never invokes an LLM.
func Preview(ctx context.Context, startURL string, userAgent string, timeout time.Duration) (*Result, error) {
	base, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if base.Scheme == "" {
		base.Scheme = "https"
	}

	client := &http.Client{Timeout: timeout}

	urls, notes := fetchSitemapURLs(ctx, client, base, userAgent)
	source := SourceSitemap
	if len(urls) == 0 {
		urls, notes = fetchOneHopURLs(ctx, client, base, userAgent)
		source = SourceLinkGraph
	}

	urls = filterInScope(base, urls)
	if len(urls) == 0 {
		urls = []string{base.String()}
		notes = append(notes, "no additional pages discovered; estimate reflects the start URL alone")
	}

	chapters := estimateChapters(urls)
	samples := urls
	if len(samples) > sampleLimit {
		samples = samples[:sampleLimit]
	}

	avgPageChars := estimatePageSize(ctx, client, base, userAgent)
	estTokens := (len(urls) * avgPageChars) / 4 // ~4 chars/token, a standard rough heuristic
	notes = append(notes, "token estimate is a rough per-page average times page count; actual usage depends on content length and the configured rewrite engine")

	return &Result{
		Source:            source,
		EstimatedPages:    len(urls),
		EstimatedChapters: len(chapters),
		Chapters:          chapters,
		SampleURLs:        samples,
		EstimatedTokens:   estTokens,
		Notes:             notes,
	}, nil
}

func fetchSitemapURLs(ctx context.Context, client *http.Client, base *url.URL, userAgent string) ([]string, []string) {
	sitemapURL := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/sitemap.xml"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL.String(), nil)
	if err != nil {
		return nil, nil
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, []string{"sitemap.xml unreachable, falling back to link-graph discovery"}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, []string{"sitemap.xml not found, falling back to link-graph discovery"}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, nil
	}

	type urlEntry struct {
		Loc string `xml:"loc"`
	}
	type urlSet struct {
		URLs []urlEntry `xml:"url"`
	}
	type sitemapIndexEntry struct {
		Loc string `xml:"loc"`
	}
	type sitemapIndex struct {
		Sitemaps []sitemapIndexEntry `xml:"sitemap"`
	}

	var us urlSet
	if err := xml.Unmarshal(body, &us); err == nil && len(us.URLs) > 0 {
		var out []string
		for _, e := range us.URLs {
			if len(out) >= fetchLimit {
				break
			}
			out = append(out, e.Loc)
		}
		return out, []string{"estimate derived from sitemap.xml"}
	}

	var idx sitemapIndex
	if err := xml.Unmarshal(body, &idx); err == nil && len(idx.Sitemaps) > 0 {
		// Only peek the first child sitemap; this is a non-authoritative
		// preview, not a full crawl.
		child := idx.Sitemaps[0].Loc
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, child, nil)
		if err != nil {
			return nil, nil
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, nil
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, nil
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, nil
		}
		var childSet urlSet
		if err := xml.Unmarshal(body, &childSet); err == nil && len(childSet.URLs) > 0 {
			var out []string
			for _, e := range childSet.URLs {
				if len(out) >= fetchLimit {
					break
				}
				out = append(out, e.Loc)
			}
			return out, []string{fmt.Sprintf("estimate derived from sitemap index (%d child sitemaps, first one sampled)", len(idx.Sitemaps))}
		}
	}

	return nil, []string{"sitemap.xml present but unparseable, falling back to link-graph discovery"}
}

func fetchOneHopURLs(ctx context.Context, client *http.Client, base *url.URL, userAgent string) ([]string, []string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, nil
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, []string{fmt.Sprintf("could not fetch start URL: %v", err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, []string{fmt.Sprintf("start URL returned status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil
	}

	seen := map[string]bool{base.String(): true}
	var out []string
	out = append(out, base.String())
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || len(out) >= fetchLimit {
			return
		}
		u, err := base.Parse(href)
		if err != nil {
			return
		}
		norm := u.String()
		if !seen[norm] {
			seen[norm] = true
			out = append(out, norm)
		}
	})

	return out, []string{"estimate derived from a single-hop scan of the start page's own links"}
}

func filterInScope(base *url.URL, urls []string) []string {
	startCanon, err := urlnorm.Canonicalize(base.String())
	if err != nil {
		return nil
	}

	var out []string
	seen := map[string]bool{}
	for _, raw := range urls {
		canon, err := urlnorm.Resolve(base.String(), raw)
		if err != nil {
			continue
		}
		inScope, err := urlnorm.InScope(startCanon, canon)
		if err != nil || !inScope {
			continue
		}
		if seen[canon] {
			continue
		}
		seen[canon] = true
		out = append(out, canon)
	}
	sort.Strings(out)
	return out
}

// estimateChapters mirrors toc.BuildInit's top-level grouping (first
// path segment) without depending on internal/toc or a manifest —
// Preview runs before any page has been extracted.
func estimateChapters(urls []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		seg := firstPathSegment(u.Path)
		if seg == "" {
			seg = "(root)"
		}
		if !seen[seg] {
			seen[seg] = true
			out = append(out, seg)
		}
	}
	sort.Strings(out)
	return out
}

func firstPathSegment(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	parts := strings.SplitN(p, "/", 2)
	return parts[0]
}

// estimatePageSize fetches the start page once to derive a rough
// per-page byte count for the token envelope; failures fall back to a
// conservative constant rather than failing the whole preview.
func estimatePageSize(ctx context.Context, client *http.Client, base *url.URL, userAgent string) int {
	const fallback = 6000
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return fallback
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fallback
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil || len(body) == 0 {
		return fallback
	}
	return len(body)
}
