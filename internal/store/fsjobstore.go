package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"sitebookify/internal/jobs"
)

// FSJobStore persists one JSON file per job under <dir>/jobs, per
// spec.md §4.12's explicit filesystem-backing shape. Grounded on
// polyester's storage.Storage write-path simplicity, generalized here
// to also read, list, and read-modify-write, since a job ledger needs
// more than the write-only Storage interface polyester exposes.
type FSJobStore struct {
	dir string
	mu  sync.Mutex
}

// NewFSJobStore creates the jobs directory (if absent) and returns a
// store rooted there.
func NewFSJobStore(dataDir string) (*FSJobStore, error) {
	dir := filepath.Join(dataDir, "jobs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job store dir: %w", err)
	}
	return &FSJobStore{dir: dir}, nil
}

func (s *FSJobStore) pathFor(name string) string {
	safe := strings.ReplaceAll(name, "/", "_")
	return filepath.Join(s.dir, safe+".json")
}

func (s *FSJobStore) Put(ctx context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJobFile(s.pathFor(job.Name), job)
}

func (s *FSJobStore) Get(ctx context.Context, name string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readJobFile(s.pathFor(name))
}

func (s *FSJobStore) List(ctx context.Context) ([]*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list job store dir: %w", err)
	}
	var out []*jobs.Job
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		job, err := readJobFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *FSJobStore) ListJobIDs(ctx context.Context) ([]string, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for _, j := range all {
		ids = append(ids, j.Name)
	}
	return ids, nil
}

// Update reads the job, applies fn, bumps UpdatedAt, and writes it
// back under the same lock — concurrent updates are last-write-wins,
// which spec.md §4.12 notes is acceptable at this grain.
func (s *FSJobStore) Update(ctx context.Context, name string, fn func(*jobs.Job) error) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := readJobFile(s.pathFor(name))
	if err != nil {
		return nil, err
	}
	if err := fn(job); err != nil {
		return nil, err
	}
	job.UpdatedAt = time.Now().UTC()
	if err := writeJobFile(s.pathFor(name), job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *FSJobStore) DeleteExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("list job store dir: %w", err)
	}
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		p := filepath.Join(s.dir, e.Name())
		job, err := readJobFile(p)
		if err != nil {
			return deleted, err
		}
		if !job.State.Terminal() {
			continue
		}
		if now.Sub(job.UpdatedAt) >= ttl {
			if err := os.Remove(p); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, nil
}

func writeJobFile(path string, job *jobs.Job) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(job); err != nil {
		f.Close()
		return fmt.Errorf("encode job: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJobFile(path string) (*jobs.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var job jobs.Job
	if err := json.NewDecoder(f).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &job, nil
}
