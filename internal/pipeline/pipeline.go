// Package pipeline wires C1 through C8 into the single ordered run a
// dispatched job executes, writing progress to the JobStore at each
// stage boundary spec.md §4.10 names. Grounded on raito's
// internal/jobs/runner.go dispatch-to-executor shape, generalized from
// "one executor per job type" into "one fixed stage sequence per job",
// since Sitebookify has exactly one job type.
package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"sitebookify/internal/book"
	"sitebookify/internal/bundle"
	"sitebookify/internal/config"
	"sitebookify/internal/crawler"
	"sitebookify/internal/epub"
	"sitebookify/internal/extractor"
	"sitebookify/internal/jobs"
	"sitebookify/internal/llm"
	"sitebookify/internal/manifest"
	"sitebookify/internal/metrics"
	"sitebookify/internal/sberrors"
	"sitebookify/internal/store"
	"sitebookify/internal/toc"
)

// Runner executes one job's pipeline end to end and satisfies
// dispatch.PipelineRunner.
type Runner struct {
	cfg           *config.Config
	jobStore      store.JobStore
	artifactStore store.ArtifactStore
}

// New builds a Runner sharing cfg, jobStore, and artifactStore with the
// rest of the service.
func New(cfg *config.Config, jobStore store.JobStore, artifactStore store.ArtifactStore) *Runner {
	return &Runner{cfg: cfg, jobStore: jobStore, artifactStore: artifactStore}
}

// Run drives jobName's pipeline to completion, writing progress at
// every stage boundary and the terminal DONE/ERROR state on exit. It
// never returns an error to the caller — dispatch.PipelineRunner has no
// error return, because a job's outcome lives entirely in the store.
func (r *Runner) Run(ctx context.Context, jobName string) {
	job, err := r.jobStore.Get(ctx, jobName)
	if err != nil {
		return
	}

	workspaceDir := filepath.Join(r.cfg.DataDir, "jobs", jobIDOf(jobName))
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		r.fail(ctx, jobName, sberrors.Wrap(sberrors.KindInvalidInput, "create workspace", err))
		return
	}

	if err := r.runStages(ctx, jobName, workspaceDir, job.Spec); err != nil {
		r.fail(ctx, jobName, err)
		return
	}

	r.advance(ctx, jobName, jobs.StageDone, "")
	_, _ = r.jobStore.Update(ctx, jobName, func(j *jobs.Job) error {
		j.State = jobs.StatusDone
		j.ArtifactRef = jobIDOf(jobName)
		j.Message = ""
		return nil
	})
	metrics.RecordJobTerminal(jobs.StatusDone)
}

func (r *Runner) runStages(ctx context.Context, jobName, workspaceDir string, spec jobs.Spec) error {
	maxPages := spec.MaxPages
	if maxPages <= 0 {
		maxPages = r.cfg.Crawler.MaxPagesDefault
	}
	maxDepth := spec.MaxDepth
	if maxDepth <= 0 {
		maxDepth = r.cfg.Crawler.MaxDepthDefault
	}

	r.advance(ctx, jobName, jobs.StageCrawl, "crawling "+spec.SourceURL)
	stageStart := time.Now()
	crawlResult, err := crawler.Crawl(ctx, crawler.Options{
		StartURL:    spec.SourceURL,
		MaxPages:    maxPages,
		MaxDepth:    maxDepth,
		Concurrency: r.cfg.Crawler.Concurrency,
		DelayMs:     r.cfg.Crawler.DelayMs,
		TimeoutMs:   r.cfg.Crawler.TimeoutMs,
		UserAgent:   r.cfg.Crawler.UserAgent,
		OutDir:      workspaceDir,
	})
	if err != nil {
		return err
	}
	metrics.RecordStageDuration(jobs.StageCrawl, time.Since(stageStart).Seconds())

	r.advance(ctx, jobName, jobs.StageExtract, fmt.Sprintf("extracting %d pages", len(crawlResult.Fetches)))
	stageStart = time.Now()
	for _, fetch := range crawlResult.Fetches {
		if fetch.Status < 200 || fetch.Status >= 300 || fetch.RawHTMLPath == "" {
			continue
		}
		rawHTML, err := os.ReadFile(filepath.Join(workspaceDir, filepath.FromSlash(fetch.RawHTMLPath)))
		if err != nil {
			return sberrors.Wrap(sberrors.KindExtractionFailure, "read raw html for "+fetch.URL, err)
		}
		if _, err := extractor.Extract(rawHTML, fetch.NormalizedURL, fetch.RetrievedAt, fetch.RawHTMLPath, workspaceDir); err != nil {
			return err
		}
	}
	metrics.RecordStageDuration(jobs.StageExtract, time.Since(stageStart).Seconds())

	r.advance(ctx, jobName, jobs.StageManifest, "")
	stageStart = time.Now()
	records, err := manifest.Build(workspaceDir)
	if err != nil {
		return err
	}
	metrics.RecordStageDuration(jobs.StageManifest, time.Since(stageStart).Seconds())

	r.advance(ctx, jobName, jobs.StageTOC, "")
	stageStart = time.Now()
	bookTitle := spec.SourceURL
	var t *toc.TOC
	if spec.TOCEngine == "llm" {
		gw, err := llm.New(r.cfg.LLM)
		if err != nil {
			return err
		}
		t, err = toc.Refine(ctx, gw, records, bookTitle)
		if err != nil {
			return err
		}
	} else {
		t = toc.BuildInit(records, bookTitle)
		if err := toc.Validate(t, records); err != nil {
			return err
		}
	}
	if err := toc.Save(workspaceDir, t); err != nil {
		return err
	}
	metrics.RecordStageDuration(jobs.StageTOC, time.Since(stageStart).Seconds())

	r.advance(ctx, jobName, jobs.StageBookInit, "")
	stageStart = time.Now()
	if err := writeBookScaffold(workspaceDir, bookTitle); err != nil {
		return err
	}
	metrics.RecordStageDuration(jobs.StageBookInit, time.Since(stageStart).Seconds())

	r.advance(ctx, jobName, jobs.StageBookRender, "")
	stageStart = time.Now()
	var rewriter book.Rewriter
	renderOpts := book.Options{
		Engine:   "noop",
		Prompt:   spec.RewritePrompt,
		Language: spec.LanguageCode,
		Tone:     spec.Tone,
	}
	if spec.RenderEngine == "llm" {
		gw, err := llm.New(r.cfg.LLM)
		if err != nil {
			return err
		}
		rewriter = gw
		renderOpts.Engine = "llm"
	}
	if _, err := book.Render(ctx, workspaceDir, t, records, rewriter, renderOpts); err != nil {
		return err
	}
	metrics.RecordStageDuration(jobs.StageBookRender, time.Since(stageStart).Seconds())

	r.advance(ctx, jobName, jobs.StageBookBundle, "")
	stageStart = time.Now()
	if err := bundle.Bundle(workspaceDir); err != nil {
		return err
	}
	metrics.RecordStageDuration(jobs.StageBookBundle, time.Since(stageStart).Seconds())

	r.advance(ctx, jobName, jobs.StageBookEPUB, "")
	stageStart = time.Now()
	titleOf := func(chapterID string) string {
		for _, ch := range toc.AllChapters(t) {
			if ch.ID == chapterID {
				return ch.Title
			}
		}
		return chapterID
	}
	if err := epub.Package(workspaceDir, titleOf, bookTitle); err != nil {
		return err
	}
	metrics.RecordStageDuration(jobs.StageBookEPUB, time.Since(stageStart).Seconds())

	r.advance(ctx, jobName, jobs.StageArtifact, "")
	stageStart = time.Now()
	if err := r.packageArtifact(ctx, jobIDOf(jobName), workspaceDir); err != nil {
		return err
	}
	metrics.RecordStageDuration(jobs.StageArtifact, time.Since(stageStart).Seconds())

	return nil
}

// packageArtifact zips the workspace's book outputs (book.md, book.epub,
// manifest.jsonl, toc.yaml, the mdBook tree, and its sibling assets
// mirror) and puts the archive
// into the ArtifactStore under jobID, the bytes GenerateJobDownloadUrl
// and GET /artifacts/{id} ultimately serve. Grounded on bundle.Bundle's
// own "read one well-known set of workspace paths" style; archive/zip is
// used directly since no third-party library in the pack does general
// directory archiving — epub's own zip writer is purpose-built for the
// EPUB container format, a distinct concern from this plain bundle.
func (r *Runner) packageArtifact(ctx context.Context, jobID, workspaceDir string) error {
	pr, pw := io.Pipe()
	zipErrCh := make(chan error, 1)

	go func() {
		zw := zip.NewWriter(pw)
		err := addArtifactPaths(zw, workspaceDir, []string{"book.md", "book.epub", "manifest.jsonl", "toc.yaml", "book", "assets"})
		if closeErr := zw.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
		zipErrCh <- err
	}()

	if err := r.artifactStore.Put(ctx, jobID, pr); err != nil {
		pr.CloseWithError(err)
		<-zipErrCh
		return sberrors.Wrap(sberrors.KindArtifactReadFailure, "put artifact", err)
	}
	if err := <-zipErrCh; err != nil {
		return sberrors.Wrap(sberrors.KindArtifactReadFailure, "zip workspace artifact", err)
	}
	return nil
}

// addArtifactPaths walks each root (relative to workspaceDir) that
// exists and writes it into zw, skipping any root that is absent.
func addArtifactPaths(zw *zip.Writer, workspaceDir string, roots []string) error {
	for _, root := range roots {
		absRoot := filepath.Join(workspaceDir, root)
		info, err := os.Stat(absRoot)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			if err := addFileToZip(zw, absRoot, root); err != nil {
				return err
			}
			continue
		}
		err = filepath.Walk(absRoot, func(path string, fi os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if fi.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(workspaceDir, path)
			if err != nil {
				return err
			}
			return addFileToZip(zw, path, filepath.ToSlash(rel))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func addFileToZip(zw *zip.Writer, absPath, zipName string) error {
	f, err := os.Open(absPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(zipName)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func (r *Runner) advance(ctx context.Context, jobName string, stage jobs.Stage, message string) {
	_, _ = r.jobStore.Update(ctx, jobName, func(j *jobs.Job) error {
		j.ProgressPercent = jobs.ProgressFor(stage)
		j.Message = message
		return nil
	})
}

func (r *Runner) fail(ctx context.Context, jobName string, err error) {
	msg := err.Error()
	_, _ = r.jobStore.Update(ctx, jobName, func(j *jobs.Job) error {
		j.State = jobs.StatusError
		j.Message = msg
		return nil
	})
	metrics.RecordJobTerminal(jobs.StatusError)
}

// jobIDOf strips the "jobs/" resource-name prefix to get the bare
// workspace directory name.
func jobIDOf(jobName string) string {
	const prefix = "jobs/"
	if len(jobName) > len(prefix) && jobName[:len(prefix)] == prefix {
		return jobName[len(prefix):]
	}
	return jobName
}

// bookManifest is book.toml's [book] table, the subset of mdBook's own
// schema Sitebookify's output needs. Grounded on geopub's
// internal/config.BookConfig struct (same toml tags, same shape),
// reused here to emit rather than parse the file.
type bookManifest struct {
	Book struct {
		Title string `toml:"title"`
		Src   string `toml:"src"`
	} `toml:"book"`
}

// writeBookScaffold creates book/book.toml and the src directories C6
// writes chapters into. It never overwrites a pre-existing book.toml,
// consistent with this pipeline's write-once posture elsewhere.
func writeBookScaffold(workspaceDir, bookTitle string) error {
	bookDir := filepath.Join(workspaceDir, "book")
	if err := os.MkdirAll(filepath.Join(bookDir, "src"), 0o755); err != nil {
		return err
	}
	tomlPath := filepath.Join(bookDir, "book.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return nil
	}

	var manifest bookManifest
	manifest.Book.Title = bookTitle
	manifest.Book.Src = "src"

	data, err := toml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("marshal book.toml: %w", err)
	}
	return os.WriteFile(tomlPath, data, 0o644)
}
