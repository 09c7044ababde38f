// Package tempfile tracks scratch files created while processing a single
// upload job and guarantees their removal.
//
// State is partitioned per job: every job owns a directory under the registry
// root and its own release list, so releasing one job never touches files that
// belong to another job running concurrently.
package tempfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	ErrJobIDRequired = errors.New("tempfile: job id is required")
	ErrInvalidJobID  = errors.New("tempfile: job id must be a single path element")
)

// Handle is a scratch path reserved for one job. The file itself may not exist
// yet; some tools refuse to write to a path that is already present.
type Handle struct {
	path  string
	jobID string
	reg   *Registry
	once  sync.Once
}

// Path returns the absolute scratch path.
func (h *Handle) Path() string { return h.path }

// JobID returns the owning job.
func (h *Handle) JobID() string { return h.jobID }

// Release removes the file early. Calling it more than once, or after the job
// has been released, is harmless.
func (h *Handle) Release() error {
	var err error
	h.once.Do(func() {
		err = removeFile(h.path)
		h.reg.forget(h)
	})
	return err
}

type jobEntry struct {
	dir     string
	seq     int
	handles []*Handle
}

// Registry hands out job-scoped scratch paths under a root directory.
// It is safe for concurrent use.
type Registry struct {
	root string

	mu   sync.Mutex
	jobs map[string]*jobEntry
}

// NewRegistry creates root if needed.
func NewRegistry(root string) (*Registry, error) {
	if root == "" {
		return nil, errors.New("tempfile: root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("tempfile: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("tempfile: create root: %w", err)
	}
	return &Registry{root: abs, jobs: make(map[string]*jobEntry)}, nil
}

// Root returns the registry root directory.
func (r *Registry) Root() string { return r.root }

// Acquire reserves a new scratch path for jobID. name only contributes its base
// name (and extension, which some tools use to detect the file format).
func (r *Registry) Acquire(jobID, name string) (*Handle, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.jobs[jobID]
	if !ok {
		dir := filepath.Join(r.root, jobID)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("tempfile: create job dir: %w", err)
		}
		entry = &jobEntry{dir: dir}
		r.jobs[jobID] = entry
	}

	entry.seq++
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "scratch"
	}
	h := &Handle{
		path:  filepath.Join(entry.dir, strconv.Itoa(entry.seq)+"-"+base),
		jobID: jobID,
		reg:   r,
	}
	entry.handles = append(entry.handles, h)
	return h, nil
}

// ReleaseAll deletes every scratch file registered for jobID together with the
// job directory. It is idempotent and never affects other jobs.
func (r *Registry) ReleaseAll(jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}

	r.mu.Lock()
	entry, ok := r.jobs[jobID]
	delete(r.jobs, jobID)
	r.mu.Unlock()

	if !ok {
		return nil
	}

	var errs []error
	for _, h := range entry.handles {
		h.once.Do(func() {
			if err := removeFile(h.path); err != nil {
				errs = append(errs, err)
			}
		})
	}
	if err := os.RemoveAll(entry.dir); err != nil {
		errs = append(errs, fmt.Errorf("tempfile: remove job dir: %w", err))
	}
	return errors.Join(errs...)
}

// Jobs returns the ids of jobs that currently hold scratch files.
func (r *Registry) Jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		out = append(out, id)
	}
	return out
}

// Paths returns the scratch paths currently registered for jobID.
func (r *Registry) Paths(jobID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[jobID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(entry.handles))
	for _, h := range entry.handles {
		out = append(out, h.path)
	}
	return out
}

// Sweep removes job directories under root that are not tracked by this
// registry and were last modified before olderThan. It clears leftovers of a
// previous process that crashed mid-job and returns the number removed.
func (r *Registry) Sweep(olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return 0, fmt.Errorf("tempfile: read root: %w", err)
	}

	r.mu.Lock()
	active := make(map[string]bool, len(r.jobs))
	for id := range r.jobs {
		active[id] = true
	}
	r.mu.Unlock()

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || active[e.Name()] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(olderThan) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Open returns an Arena bound to jobID. The intended use is
//
//	arena := reg.Open(job.ID)
//	defer arena.Close()
//
// so that every exit path drains the job's scratch files.
func (r *Registry) Open(jobID string) *Arena {
	return &Arena{reg: r, jobID: jobID}
}

func (r *Registry) forget(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.jobs[h.jobID]
	if !ok {
		return
	}
	for i, candidate := range entry.handles {
		if candidate == h {
			entry.handles = append(entry.handles[:i], entry.handles[i+1:]...)
			return
		}
	}
}

// Arena is the scoped view of a Registry for a single job.
type Arena struct {
	reg   *Registry
	jobID string
}

// JobID returns the job this arena belongs to.
func (a *Arena) JobID() string { return a.jobID }

// Acquire reserves a scratch path for the arena's job.
func (a *Arena) Acquire(name string) (*Handle, error) {
	return a.reg.Acquire(a.jobID, name)
}

// Close releases every scratch file of the job. Safe to call repeatedly.
func (a *Arena) Close() error {
	return a.reg.ReleaseAll(a.jobID)
}

func validateJobID(jobID string) error {
	if jobID == "" {
		return ErrJobIDRequired
	}
	if jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return ErrInvalidJobID
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tempfile: remove %s: %w", path, err)
	}
	return nil
}
