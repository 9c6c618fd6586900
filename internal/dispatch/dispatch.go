// Package dispatch implements spec.md §4.11: the JobDispatcher
// abstraction that starts a job's pipeline execution either in-process
// or on a remote worker, without CreateJob ever blocking on the
// pipeline itself. Grounded on raito's internal/jobs/runner.go
// (semaphore-bounded goroutine pool polling for work, executor
// delegation by type) generalized from a polling runner into a
// push-dispatched one: CreateJob calls Dispatch(job_id) directly
// instead of the job appearing in a poll a moment later.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sitebookify/internal/jobs"
	"sitebookify/internal/metrics"
	"sitebookify/internal/sberrors"
	"sitebookify/internal/store"
)

// ErrBusy is returned when Dispatch is asked to start a job that is
// already RUNNING — spec.md §4.11's "busy error without double-starting".
var ErrBusy = fmt.Errorf("job already running")

// JobDispatcher has the single operation spec.md §4.11 names.
type JobDispatcher interface {
	Dispatch(ctx context.Context, jobName string) error
}

// PipelineRunner executes one job's C1→C8 pipeline to completion,
// including writing progress and the terminal state back to the
// JobStore. internal/pipeline implements this; dispatch never imports
// it directly, keeping the dependency pointed the other way.
type PipelineRunner interface {
	Run(ctx context.Context, jobName string)
}

// InProcessDispatcher runs pipelines on a bounded local goroutine pool.
// Grounded on raito's runner.go semaphore pattern (sem := make(chan
// struct{}, maxJobs)), adapted from "poll then dispatch" to "dispatch
// immediately, blocking only on pool capacity".
type InProcessDispatcher struct {
	jobStore store.JobStore
	runner   PipelineRunner
	sem      chan struct{}
}

// NewInProcessDispatcher builds a dispatcher that runs at most
// maxConcurrent pipelines at once.
func NewInProcessDispatcher(jobStore store.JobStore, runner PipelineRunner, maxConcurrent int) *InProcessDispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &InProcessDispatcher{
		jobStore: jobStore,
		runner:   runner,
		sem:      make(chan struct{}, maxConcurrent),
	}
}

// Dispatch performs the QUEUED→RUNNING compare-and-swap spec.md §9
// calls for, then runs the pipeline in a new goroutine so the caller
// never blocks on pipeline execution.
func (d *InProcessDispatcher) Dispatch(ctx context.Context, jobName string) error {
	started := false
	_, err := d.jobStore.Update(ctx, jobName, func(j *jobs.Job) error {
		switch j.State {
		case jobs.StatusQueued:
		case jobs.StatusRunning:
			return ErrBusy
		default:
			return sberrors.New(sberrors.KindInvalidInput, "job "+jobName+" is "+string(j.State)+", not QUEUED")
		}
		j.State = jobs.StatusRunning
		j.Message = ""
		started = true
		return nil
	})
	if err != nil {
		return err
	}
	if !started {
		return ErrBusy
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	metrics.RecordDispatch(nil)
	go func() {
		defer func() { <-d.sem }()
		// Run with a background context: dispatch's own ctx may be the
		// scope of the CreateJob RPC, which ends long before the
		// pipeline does.
		d.runner.Run(context.Background(), jobName)
	}()
	return nil
}

// RemoteDispatcher issues the HTTP POST spec.md §4.11 describes to a
// worker service. Grounded on the same "shell out to a peer service"
// shape raito's http package uses for admin-to-tenant calls, generalized
// here to a single authenticated POST with no response body.
type RemoteDispatcher struct {
	WorkerURL string
	AuthToken string
	Client    *http.Client
}

// NewRemoteDispatcher builds a dispatcher targeting workerURL, using a
// default 10s-timeout client if one isn't supplied.
func NewRemoteDispatcher(workerURL, authToken string) *RemoteDispatcher {
	return &RemoteDispatcher{
		WorkerURL: workerURL,
		AuthToken: authToken,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatch POSTs to <worker_url>/internal/jobs/<job_id>/run. Any
// network error, non-2xx status, or auth rejection is returned as a
// KindDispatchFailure error — the caller (CreateJob) is responsible
// for transitioning the job to ERROR with this message, per spec.md
// §4.11/§7 kind 7.
func (d *RemoteDispatcher) Dispatch(ctx context.Context, jobName string) (err error) {
	defer func() { metrics.RecordDispatch(err) }()

	url := fmt.Sprintf("%s/internal/jobs/%s/run", d.WorkerURL, jobIDSuffix(jobName))
	body, _ := json.Marshal(map[string]string{"job": jobName})

	req, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if buildErr != nil {
		err = sberrors.New(sberrors.KindDispatchFailure, fmt.Sprintf("build dispatch request: %v", buildErr))
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.AuthToken)

	resp, doErr := d.Client.Do(req)
	if doErr != nil {
		err = sberrors.New(sberrors.KindDispatchFailure, fmt.Sprintf("dispatch to worker: %v", doErr))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		err = sberrors.New(sberrors.KindDispatchFailure, fmt.Sprintf("worker rejected dispatch token: %d", resp.StatusCode))
		return err
	}
	if resp.StatusCode/100 != 2 {
		err = sberrors.New(sberrors.KindDispatchFailure, fmt.Sprintf("worker returned status %d", resp.StatusCode))
		return err
	}
	return nil
}

// jobIDSuffix strips the "jobs/" resource-name prefix, since the
// worker's URL path takes the bare id.
func jobIDSuffix(jobName string) string {
	const prefix = "jobs/"
	if len(jobName) > len(prefix) && jobName[:len(prefix)] == prefix {
		return jobName[len(prefix):]
	}
	return jobName
}
