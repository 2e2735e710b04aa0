package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	pverrors "github.com/pubvec/pubvec/internal/errors"
)

// CheckpointVersion is bumped on incompatible layout changes.
const CheckpointVersion = "1.0"

// Stats aggregates progress across all jobs in a run.
type Stats struct {
	TotalJobs     int `json:"totalJobs"`
	CompletedJobs int `json:"completedJobs"`
	TotalArticles int `json:"totalArticles"`
	TotalChunks   int `json:"totalChunks"`
	TotalErrors   int `json:"totalErrors"`
}

// Checkpoint is the resumable state of a scale or bulk run. Topic jobs live
// under topics, file jobs under files; a run uses one or the other.
type Checkpoint struct {
	Version    string    `json:"version"`
	StartTime  time.Time `json:"startTime"`
	LastUpdate time.Time `json:"lastUpdate"`
	Topics     []*Job    `json:"topics,omitempty"`
	Files      []*Job    `json:"files,omitempty"`
	Stats      Stats     `json:"stats"`
}

// NewCheckpoint creates a fresh checkpoint covering jobs.
func NewCheckpoint(jobs []*Job) *Checkpoint {
	cp := &Checkpoint{
		Version:   CheckpointVersion,
		StartTime: time.Now().UTC(),
	}
	for _, j := range jobs {
		if j.Type == JobFile {
			cp.Files = append(cp.Files, j)
		} else {
			cp.Topics = append(cp.Topics, j)
		}
	}
	cp.Stats.TotalJobs = len(jobs)
	return cp
}

// Jobs returns all jobs in checkpoint order.
func (cp *Checkpoint) Jobs() []*Job {
	out := make([]*Job, 0, len(cp.Topics)+len(cp.Files))
	out = append(out, cp.Topics...)
	out = append(out, cp.Files...)
	return out
}

// Recount recomputes the aggregate stats from the jobs.
func (cp *Checkpoint) Recount() {
	s := Stats{TotalJobs: len(cp.Topics) + len(cp.Files)}
	for _, j := range cp.Jobs() {
		if j.Status == StatusCompleted {
			s.CompletedJobs++
		}
		s.TotalArticles += j.ArticlesProcessed
		s.TotalChunks += j.ChunksCreated
		s.TotalErrors += len(j.Errors)
	}
	cp.Stats = s
}

// MergeForResume reconciles requested jobs against a loaded checkpoint:
// finished jobs keep their state and are skipped, interrupted ones restart
// from pending, and jobs not present in the checkpoint are appended.
func MergeForResume(existing *Checkpoint, jobs []*Job) *Checkpoint {
	if existing == nil {
		return NewCheckpoint(jobs)
	}

	known := make(map[string]*Job)
	for _, j := range existing.Jobs() {
		known[j.Key()] = j
		if j.Status == StatusProcessing {
			// Interrupted mid-flight; counters may cover partial work.
			j.Status = StatusPending
			j.ArticlesProcessed = 0
			j.ChunksCreated = 0
			j.Errors = nil
			j.LevelCounts = nil
		}
	}

	for _, j := range jobs {
		if _, ok := known[j.Key()]; ok {
			continue
		}
		if j.Type == JobFile {
			existing.Files = append(existing.Files, j)
		} else {
			existing.Topics = append(existing.Topics, j)
		}
	}

	existing.Recount()
	return existing
}

// CheckpointFile wraps the on-disk checkpoint with an advisory lock so two
// runs cannot share one file.
type CheckpointFile struct {
	path string
	lock *flock.Flock
}

// NewCheckpointFile points at path; nothing is created until Save.
func NewCheckpointFile(path string) *CheckpointFile {
	return &CheckpointFile{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the checkpoint location.
func (c *CheckpointFile) Path() string { return c.path }

// Acquire takes the advisory lock, failing immediately if another process
// holds it.
func (c *CheckpointFile) Acquire() error {
	locked, err := c.lock.TryLock()
	if err != nil {
		return pverrors.New(pverrors.ErrCodeCheckpointFailed,
			fmt.Sprintf("locking %s failed", c.lock.Path()), err)
	}
	if !locked {
		return pverrors.New(pverrors.ErrCodeCheckpointFailed,
			fmt.Sprintf("checkpoint %s is in use by another run", c.path), nil)
	}
	return nil
}

// Release drops the advisory lock.
func (c *CheckpointFile) Release() error {
	return c.lock.Unlock()
}

// Load reads the checkpoint. A missing file returns (nil, nil).
func (c *CheckpointFile) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, pverrors.New(pverrors.ErrCodeCheckpointFailed,
			"reading checkpoint failed", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, pverrors.New(pverrors.ErrCodeCheckpointFailed,
			"checkpoint is not valid JSON", err)
	}
	if cp.Version != CheckpointVersion {
		return nil, pverrors.New(pverrors.ErrCodeCheckpointFailed,
			fmt.Sprintf("checkpoint version %q is not supported", cp.Version), nil)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically: temp file in the same directory,
// then rename. A crash mid-write never corrupts the previous checkpoint.
func (c *CheckpointFile) Save(cp *Checkpoint) error {
	cp.LastUpdate = time.Now().UTC()
	cp.Recount()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return pverrors.New(pverrors.ErrCodeCheckpointFailed,
			"encoding checkpoint failed", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pverrors.New(pverrors.ErrCodeCheckpointFailed,
			"creating checkpoint directory failed", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp-*")
	if err != nil {
		return pverrors.New(pverrors.ErrCodeCheckpointFailed,
			"creating checkpoint temp file failed", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return pverrors.New(pverrors.ErrCodeCheckpointFailed,
			"writing checkpoint failed", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return pverrors.New(pverrors.ErrCodeCheckpointFailed,
			"closing checkpoint temp file failed", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return pverrors.New(pverrors.ErrCodeCheckpointFailed,
			"replacing checkpoint failed", err)
	}
	return nil
}
