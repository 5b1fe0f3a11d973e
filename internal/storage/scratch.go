package storage

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// JobDirPrefix prefixes every scratch job directory so orphan sweeps can
// recognise them.
const JobDirPrefix = "vidmux-job-"

// ScratchManager hands out per-job scratch directories inside a sandbox.
// The transcoder works on file paths, so every byte payload it consumes or
// produces passes through a ScratchJob.
type ScratchManager struct {
	sandbox *Sandbox
	logger  *slog.Logger
	active  atomic.Int64
}

// NewScratchManager creates a manager rooted at root.
func NewScratchManager(root string, logger *slog.Logger) (*ScratchManager, error) {
	sandbox, err := NewSandbox(root)
	if err != nil {
		return nil, fmt.Errorf("creating scratch sandbox: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScratchManager{sandbox: sandbox, logger: logger}, nil
}

// Root returns the absolute scratch root.
func (m *ScratchManager) Root() string {
	return m.sandbox.BaseDir()
}

// Close releases the scratch root. Jobs must be released first.
func (m *ScratchManager) Close() error {
	return m.sandbox.Close()
}

// Active returns the number of acquired, unreleased jobs.
func (m *ScratchManager) Active() int64 {
	return m.active.Load()
}

// Acquire creates a fresh job directory. An empty jobID gets a random UUID,
// so concurrent callers never share a directory.
func (m *ScratchManager) Acquire(jobID string) (*ScratchJob, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	if jobID == "." || jobID == ".." || filepath.Base(jobID) != jobID {
		return nil, fmt.Errorf("invalid scratch job id %q", jobID)
	}

	dir := JobDirPrefix + jobID
	if _, err := m.sandbox.Stat(dir); err == nil {
		return nil, fmt.Errorf("scratch job %s already exists", jobID)
	}
	if err := m.sandbox.MkdirAll(dir); err != nil {
		return nil, fmt.Errorf("acquiring scratch job %s: %w", jobID, err)
	}

	m.active.Add(1)
	m.logger.Debug("acquired scratch job", slog.String("job_id", jobID))
	return &ScratchJob{id: jobID, dir: dir, manager: m}, nil
}

// With acquires a job, runs fn and releases the job on every exit path,
// including panics and cancellation observed by fn. A release failure is
// logged; fn's error takes precedence.
func (m *ScratchManager) With(jobID string, fn func(job *ScratchJob) error) error {
	job, err := m.Acquire(jobID)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := job.Release(); rerr != nil {
			m.logger.Warn("failed to release scratch job",
				slog.String("job_id", job.ID()),
				slog.String("error", rerr.Error()),
			)
		}
	}()
	return fn(job)
}

// ScratchJob is one job's private scratch directory. It has a single writer
// and a single reader and must be released once the merge completes.
type ScratchJob struct {
	id      string
	dir     string
	manager *ScratchManager

	once       sync.Once
	releaseErr error
}

// ID returns the job identifier.
func (j *ScratchJob) ID() string {
	return j.id
}

// Dir returns the absolute path of the job directory.
func (j *ScratchJob) Dir() string {
	return filepath.Join(j.manager.sandbox.BaseDir(), j.dir)
}

// WriteInput stores data as name in the job directory and returns its absolute path.
func (j *ScratchJob) WriteInput(name string, data []byte) (string, error) {
	path, _, err := j.WriteInputFrom(name, bytes.NewReader(data))
	return path, err
}

// WriteInputFrom streams r into name and returns its absolute path and size.
func (j *ScratchJob) WriteInputFrom(name string, r io.Reader) (string, int64, error) {
	rel, err := j.rel(name)
	if err != nil {
		return "", 0, err
	}
	n, err := j.manager.sandbox.AtomicWriteReader(rel, r)
	if err != nil {
		return "", n, fmt.Errorf("writing scratch input %s: %w", name, err)
	}
	path, err := j.manager.sandbox.ResolvePath(rel)
	return path, n, err
}

// OutputPath returns the absolute path the transcoder should write name to.
func (j *ScratchJob) OutputPath(name string) (string, error) {
	rel, err := j.rel(name)
	if err != nil {
		return "", err
	}
	return j.manager.sandbox.ResolvePath(rel)
}

// ReadOutput reads back a file the transcoder produced.
func (j *ScratchJob) ReadOutput(name string) ([]byte, error) {
	rel, err := j.rel(name)
	if err != nil {
		return nil, err
	}
	return j.manager.sandbox.ReadFile(rel)
}

// Release removes the job directory. It is safe to call more than once;
// later calls return the first call's result.
func (j *ScratchJob) Release() error {
	j.once.Do(func() {
		j.releaseErr = j.manager.sandbox.RemoveAll(j.dir)
		j.manager.active.Add(-1)
		j.manager.logger.Debug("released scratch job", slog.String("job_id", j.id))
	})
	return j.releaseErr
}

func (j *ScratchJob) rel(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid scratch file name %q", name)
	}
	return filepath.Join(j.dir, name), nil
}
