// Package crawler implements the bounded, same-origin breadth-first
// crawl described in spec.md §4.2. Grounded on raito's crawl
// orchestration (internal/crawl/jobs.go's goroutine-per-job Start, and
// internal/crawler/map.go's goquery-based link extraction) generalized
// from "map then scrape sequentially" into a genuinely concurrent
// worker-pool BFS with per-host rate limiting, and on refyne's
// internal/crawler (URL queue + bounded concurrency shape).
package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"sitebookify/internal/sberrors"
	"sitebookify/internal/urlnorm"
)

// RawFetch is one row of raw/crawl.jsonl (spec.md §3/§6).
type RawFetch struct {
	URL           string `json:"url"`
	NormalizedURL string `json:"normalized_url"`
	Depth         int    `json:"depth"`
	Status        int    `json:"status"`
	ContentType   string `json:"content_type,omitempty"`
	RetrievedAt   string `json:"retrieved_at"`
	RawHTMLPath   string `json:"raw_html_path,omitempty"`
}

// Options configures a single crawl run.
type Options struct {
	StartURL    string
	MaxPages    int
	MaxDepth    int
	Concurrency int
	DelayMs     int
	TimeoutMs   int
	UserAgent   string
	OutDir      string // workspace root; raw/ is created under here
}

// Result summarizes a completed crawl.
type Result struct {
	Fetches []RawFetch
	Visited int
}

type queueItem struct {
	url   string
	depth int
}

// Crawl executes the bounded BFS crawl and writes raw/crawl.jsonl plus
// raw/html/**. It is a hard error to call Crawl against an OutDir whose
// raw/ directory already contains a crawl.jsonl — snapshots are
// write-once (spec.md §4.2, §7 kind 2).
func Crawl(ctx context.Context, opts Options) (*Result, error) {
	if opts.StartURL == "" {
		return nil, sberrors.New(sberrors.KindInvalidInput, "start url is required")
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 200
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 5
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "sitebookify/1.0"
	}

	rawDir := filepath.Join(opts.OutDir, "raw")
	htmlDir := filepath.Join(rawDir, "html")
	logPath := filepath.Join(rawDir, "crawl.jsonl")

	if _, err := os.Stat(logPath); err == nil {
		return nil, sberrors.Wrap(sberrors.KindSnapshotConflict, "raw/crawl.jsonl already exists", sberrors.ErrSnapshotConflict)
	}
	if err := os.MkdirAll(htmlDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw dir: %w", err)
	}

	startCanon, err := urlnorm.Canonicalize(opts.StartURL)
	if err != nil {
		return nil, sberrors.Wrap(sberrors.KindInvalidInput, "invalid start url", err)
	}

	c := &crawl{
		opts:       opts,
		startURL:   startCanon,
		visited:    make(map[string]struct{}),
		savedFiles: make(map[string]struct{}),
		limiters:   make(map[string]*rate.Limiter),
		client: &http.Client{
			Timeout: timeoutOr(opts.TimeoutMs, 15*time.Second),
		},
		logFile: nil,
	}

	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create crawl.jsonl: %w", err)
	}
	defer logFile.Close()
	c.logFile = logFile
	c.htmlDir = htmlDir

	if err := c.run(ctx); err != nil {
		return nil, err
	}

	return &Result{Fetches: c.fetches, Visited: len(c.visited)}, nil
}

func timeoutOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

type crawl struct {
	opts     Options
	startURL string
	client   *http.Client

	mu         sync.Mutex
	visited    map[string]struct{}
	savedFiles map[string]struct{}
	fetches    []RawFetch

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	logMu   sync.Mutex
	logFile *os.File
	htmlDir string
}

func (c *crawl) run(ctx context.Context) error {
	queue := make(chan queueItem, 4096)
	var wg sync.WaitGroup
	var inFlight sync.WaitGroup

	var stopOnce sync.Once
	stopped := make(chan struct{})
	stop := func() { stopOnce.Do(func() { close(stopped) }) }

	enqueue := func(item queueItem) bool {
		c.mu.Lock()
		if len(c.visited) >= c.opts.MaxPages {
			c.mu.Unlock()
			return false
		}
		if _, ok := c.visited[item.url]; ok {
			c.mu.Unlock()
			return false
		}
		c.visited[item.url] = struct{}{}
		n := len(c.visited)
		c.mu.Unlock()

		inFlight.Add(1)
		select {
		case queue <- item:
		case <-stopped:
			inFlight.Done()
			return false
		}
		if n >= c.opts.MaxPages {
			stop()
		}
		return true
	}

	var runErr error
	var runErrOnce sync.Once
	fail := func(err error) {
		runErrOnce.Do(func() { runErr = err })
		stop()
	}

	enqueue(queueItem{url: c.startURL, depth: 0})

	for i := 0; i < c.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stopped:
					return
				case item, ok := <-queue:
					if !ok {
						return
					}
					func() {
						defer inFlight.Done()
						links, err := c.fetchOne(ctx, item)
						if err != nil {
							fail(err)
							return
						}
						if item.depth+1 <= c.opts.MaxDepth {
							for _, l := range links {
								enqueue(queueItem{url: l, depth: item.depth + 1})
							}
						}
					}()
				}
			}
		}()
	}

	go func() {
		inFlight.Wait()
		stop()
	}()

	<-stopped
	close(queue)
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}

// fetchOne performs one HTTP GET, records a RawFetch row, and — for
// in-scope HTML responses — returns the canonical links discovered on
// the page.
func (c *crawl) fetchOne(ctx context.Context, item queueItem) ([]string, error) {
	c.waitHostDelay(ctx, item.url)

	row := RawFetch{
		URL:           item.url,
		NormalizedURL: item.url,
		Depth:         item.depth,
		RetrievedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", item.url, err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		row.Status = 0
		c.appendLog(row)
		return nil, nil // transport failure: logged, crawl continues
	}
	defer resp.Body.Close()

	row.Status = resp.StatusCode
	row.ContentType = resp.Header.Get("Content-Type")

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		c.appendLog(row)
		return nil, nil
	}

	isHTML := resp.StatusCode >= 200 && resp.StatusCode < 300 && strings.HasPrefix(strings.TrimSpace(row.ContentType), "text/html")
	if !isHTML {
		c.appendLog(row)
		return nil, nil
	}

	savePath, err := urlnorm.FilePath(item.url)
	if err != nil {
		c.appendLog(row)
		return nil, nil
	}
	absPath := filepath.Join(c.htmlDir, filepath.FromSlash(savePath))

	c.mu.Lock()
	if _, dup := c.savedFiles[absPath]; dup {
		c.mu.Unlock()
		return nil, sberrors.Wrap(sberrors.KindSnapshotConflict, "raw html path collision: "+absPath, sberrors.ErrSnapshotConflict)
	}
	if _, err := os.Stat(absPath); err == nil {
		c.mu.Unlock()
		return nil, sberrors.Wrap(sberrors.KindSnapshotConflict, "raw html file already exists: "+absPath, sberrors.ErrSnapshotConflict)
	}
	c.savedFiles[absPath] = struct{}{}
	c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir for %s: %w", absPath, err)
	}
	if err := os.WriteFile(absPath, body, 0o644); err != nil {
		return nil, fmt.Errorf("write raw html %s: %w", absPath, err)
	}

	rel, err := filepath.Rel(c.opts.OutDir, absPath)
	if err != nil {
		rel = absPath
	}
	row.RawHTMLPath = filepath.ToSlash(rel)
	c.appendLog(row)

	links := c.extractInScopeLinks(item.url, body)
	return links, nil
}

func (c *crawl) extractInScopeLinks(pageURL string, body []byte) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		resolved, err := urlnorm.Resolve(pageURL, href)
		if err != nil {
			return
		}
		inScope, err := urlnorm.InScope(c.startURL, resolved)
		if err != nil || !inScope {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	})
	return out
}

func (c *crawl) appendLog(row RawFetch) {
	c.mu.Lock()
	c.fetches = append(c.fetches, row)
	c.mu.Unlock()

	line, err := json.Marshal(row)
	if err != nil {
		return
	}
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.logFile.Write(line)
	c.logFile.Write([]byte("\n"))
}

// waitHostDelay spaces the starts of fetches to the same host at least
// delay_ms apart using a token-bucket limiter keyed by host. The gap is
// measured between fetch starts, not completions, and fetches to one
// host are not serialized: a slow response can still overlap the next
// fetch to that host.
func (c *crawl) waitHostDelay(ctx context.Context, rawURL string) {
	host, err := urlnorm.HostPath(rawURL)
	if err != nil {
		return
	}
	delay := time.Duration(c.opts.DelayMs) * time.Millisecond
	if delay <= 0 {
		return
	}

	c.limMu.Lock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(delay), 1)
		c.limiters[host] = lim
	}
	c.limMu.Unlock()

	_ = lim.Wait(ctx)
}
