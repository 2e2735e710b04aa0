// Package ingest orchestrates the pipeline: search or read identifiers,
// fetch and parse records, chunk, embed, store, with checkpointed progress.
package ingest

import (
	"path/filepath"
	"strconv"
	"time"
)

// JobType distinguishes topic-driven jobs from bulk XML file jobs.
type JobType string

const (
	// JobTopic searches PubMed for a topic and ingests the results.
	JobTopic JobType = "topic"
	// JobFile ingests an already-downloaded PubMed XML file.
	JobFile JobType = "file"
)

// JobStatus is the lifecycle state of a job, persisted in the checkpoint.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is one unit of checkpointed work: a topic or a file.
type Job struct {
	Type JobType `json:"type"`

	// Topic and MaxResults apply to topic jobs.
	Topic      string `json:"topic,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`

	// Path applies to file jobs.
	Path string `json:"path,omitempty"`

	Status            JobStatus  `json:"status"`
	ArticlesProcessed int        `json:"articlesProcessed"`
	ChunksCreated     int        `json:"chunksCreated"`
	Errors            []string   `json:"errors,omitempty"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`

	// LevelCounts tallies processed articles by evidence level ("1".."5").
	LevelCounts map[string]int `json:"levelCounts,omitempty"`
}

// NewTopicJob creates a pending topic job.
func NewTopicJob(topic string, maxResults int) *Job {
	return &Job{Type: JobTopic, Topic: topic, MaxResults: maxResults, Status: StatusPending}
}

// NewFileJob creates a pending file job.
func NewFileJob(path string) *Job {
	return &Job{Type: JobFile, Path: path, Status: StatusPending}
}

// Name identifies the job in logs and progress output.
func (j *Job) Name() string {
	if j.Type == JobFile {
		return filepath.Base(j.Path)
	}
	return j.Topic
}

// Key uniquely identifies the job inside a checkpoint.
func (j *Job) Key() string {
	if j.Type == JobFile {
		return string(JobFile) + ":" + j.Path
	}
	return string(JobTopic) + ":" + j.Topic
}

// Done reports whether the job needs no further work on resume.
func (j *Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func (j *Job) noteLevel(level int) {
	if j.LevelCounts == nil {
		j.LevelCounts = make(map[string]int)
	}
	j.LevelCounts[strconv.Itoa(level)]++
}

func (j *Job) markProcessing() {
	now := time.Now().UTC()
	j.Status = StatusProcessing
	j.StartedAt = &now
}

func (j *Job) markFinished() {
	now := time.Now().UTC()
	j.CompletedAt = &now
	if len(j.Errors) == 0 {
		j.Status = StatusCompleted
	} else {
		j.Status = StatusFailed
	}
}
