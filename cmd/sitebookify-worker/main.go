// Command sitebookify-worker hosts the in-process pipeline runner
// behind the internal dispatch endpoint (C11's remote-dispatch target):
// POST /internal/jobs/{id}/run, guarded by the shared worker auth
// token. It shares the same JobStore/ArtifactStore backing as the API
// process, per spec.md §5's "may be shared between API and Worker
// processes". Grounded on raito's cmd/raito-api/main.go wiring, split
// into its own binary because spec.md §4.11 describes the worker as "a
// separate worker service" rather than a flag on the API process.
package main

import (
	"context"
	"flag"
	"log"

	"sitebookify/internal/config"
	"sitebookify/internal/dispatch"
	"sitebookify/internal/httpapi"
	"sitebookify/internal/logging"
	"sitebookify/internal/pipeline"
	"sitebookify/internal/retention"
	"sitebookify/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if cfg.Dispatch.WorkerAuthToken == "" {
		log.Fatal("worker requires SITEBOOKIFY_WORKER_AUTH_TOKEN / SITEBOOKIFY_INTERNAL_DISPATCH_TOKEN to be set")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	var jobStore store.JobStore
	var artifactStore store.ArtifactStore
	if cfg.Artifact.Bucket == "" {
		jobStore, err = store.NewFSJobStore(cfg.DataDir)
		if err == nil {
			artifactStore, err = store.NewFSArtifactStore(cfg.DataDir, "/artifacts")
		}
	} else {
		jobStore, err = store.NewS3JobStore(cfg.Artifact.Region, cfg.Artifact.Bucket)
		if err == nil {
			artifactStore, err = store.NewS3ArtifactStore(cfg.Artifact.Region, cfg.Artifact.Bucket)
		}
	}
	if err != nil {
		log.Fatalf("build stores: %v", err)
	}

	runner := pipeline.New(cfg, jobStore, artifactStore)
	dispatcher := dispatch.NewInProcessDispatcher(jobStore, runner, cfg.Worker.MaxConcurrentJobs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go retention.Run(ctx, cfg, jobStore, logger)

	srv := httpapi.NewServer(cfg, jobStore, artifactStore, dispatcher, logger)
	logger.Info("sitebookify-worker listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := srv.Listen(); err != nil {
		log.Fatalf("worker server failed: %v", err)
	}
}
