// Package store implements spec.md §4.12: the JobStore and
// ArtifactStore capability interfaces, each with a filesystem and an
// object-store backing. Grounded on polyester's storage.Storage
// interface + scheme-keyed constructor registry
// (storage/storage.go), adapted from write-only resource storage into
// the read-modify-write job ledger and artifact-bytes contracts
// spec.md requires.
package store

import (
	"context"
	"io"
	"time"

	"sitebookify/internal/jobs"
)

// JobStore is spec.md §4.12's job persistence capability. Both
// backings must make ListJobIDs agree across API and Worker processes
// sharing the same bucket/directory.
type JobStore interface {
	Put(ctx context.Context, job *jobs.Job) error
	Get(ctx context.Context, name string) (*jobs.Job, error)
	List(ctx context.Context) ([]*jobs.Job, error)
	ListJobIDs(ctx context.Context) ([]string, error)
	// Update performs a read-modify-write on the named job. Concurrent
	// updates are last-write-wins, which spec.md §4.12 notes is "fine
	// at this grain".
	Update(ctx context.Context, name string, fn func(*jobs.Job) error) (*jobs.Job, error)
	DeleteExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
}

// ArtifactStore is spec.md §4.12's artifact-bytes capability.
type ArtifactStore interface {
	Put(ctx context.Context, jobID string, r io.Reader) error
	Open(ctx context.Context, jobID string) (io.ReadCloser, error)
	SignedURL(ctx context.Context, jobID string, ttl time.Duration) (string, error)
}

// ErrNotFound is returned by JobStore.Get and ArtifactStore.Open when
// the requested resource does not exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }
