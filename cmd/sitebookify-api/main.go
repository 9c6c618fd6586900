// Command sitebookify-api runs the CreateJob/GetJob/ListJobs/Preview
// RPC surface (C10). In "inprocess" execution mode it also runs the
// pipeline itself; in "worker" mode it dispatches jobs to a separate
// sitebookify-worker process over HTTP. Grounded on raito's
// cmd/raito-api/main.go: flag-selected config path, config.Load,
// construct dependencies, start background loops, then Listen.
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

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	jobStore, artifactStore, err := buildStores(cfg)
	if err != nil {
		log.Fatalf("build stores: %v", err)
	}

	var dispatcher dispatch.JobDispatcher
	switch cfg.Dispatch.ExecutionMode {
	case config.ExecutionWorker:
		dispatcher = dispatch.NewRemoteDispatcher(cfg.Dispatch.WorkerURL, cfg.Dispatch.WorkerAuthToken)
	default:
		runner := pipeline.New(cfg, jobStore, artifactStore)
		dispatcher = dispatch.NewInProcessDispatcher(jobStore, runner, cfg.Worker.MaxConcurrentJobs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go retention.Run(ctx, cfg, jobStore, logger)

	srv := httpapi.NewServer(cfg, jobStore, artifactStore, dispatcher, logger)
	logger.Info("sitebookify-api listening", "host", cfg.Server.Host, "port", cfg.Server.Port, "executionMode", cfg.Dispatch.ExecutionMode)
	if err := srv.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// buildStores picks the filesystem or object-store backing for both
// JobStore and ArtifactStore based on whether an artifact bucket is
// configured, per spec.md §4.12/§6's SITEBOOKIFY_ARTIFACT_BUCKET.
func buildStores(cfg *config.Config) (store.JobStore, store.ArtifactStore, error) {
	if cfg.Artifact.Bucket == "" {
		jobStore, err := store.NewFSJobStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		artifactStore, err := store.NewFSArtifactStore(cfg.DataDir, "/artifacts")
		if err != nil {
			return nil, nil, err
		}
		return jobStore, artifactStore, nil
	}

	jobStore, err := store.NewS3JobStore(cfg.Artifact.Region, cfg.Artifact.Bucket)
	if err != nil {
		return nil, nil, err
	}
	artifactStore, err := store.NewS3ArtifactStore(cfg.Artifact.Region, cfg.Artifact.Bucket)
	if err != nil {
		return nil, nil, err
	}
	return jobStore, artifactStore, nil
}
