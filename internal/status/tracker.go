// Package status tracks the live processing state of every uploaded video.
package status

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("video not found")

type Status string

const (
	StatusQueued       Status = "queued"
	StatusExtracting   Status = "extracting"
	StatusTranscribing Status = "transcribing"
	StatusAnalyzing    Status = "analyzing"
	StatusComplete     Status = "complete"
	StatusError        Status = "error"
)

// Progress milestones published as each stage starts.
const (
	ProgressQueued       = 0
	ProgressExtracting   = 10
	ProgressTranscribing = 40
	ProgressAnalyzing    = 70
	ProgressComplete     = 100
)

var rank = map[Status]int{
	StatusQueued:       0,
	StatusExtracting:   1,
	StatusTranscribing: 2,
	StatusAnalyzing:    3,
	StatusComplete:     4,
	StatusError:        5,
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

type Job struct {
	VideoID     string    `json:"video_id"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	Message     string    `json:"message"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tracker is a concurrency-safe map of video id to Job. Each video is
// written by the single worker running its pipeline; readers get copies.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Set records a transition. It returns false when the update was dropped:
// the job is already terminal, the status would move backwards, or the
// status is unknown. Progress never decreases.
func (t *Tracker) Set(videoID string, s Status, progress int, message string) bool {
	if !s.Valid() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	job, ok := t.jobs[videoID]
	if !ok {
		job = &Job{VideoID: videoID, Status: s, CreatedAt: now}
		t.jobs[videoID] = job
	} else {
		if job.Status.IsTerminal() {
			return false
		}
		if rank[s] < rank[job.Status] {
			return false
		}
	}

	job.Status = s
	job.Message = message
	job.UpdatedAt = now
	if progress > job.Progress {
		job.Progress = clamp(progress)
	}
	return true
}

// Fail moves the job to error, freezing progress at its last value.
func (t *Tracker) Fail(videoID, detail string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	job, ok := t.jobs[videoID]
	if !ok {
		job = &Job{VideoID: videoID, CreatedAt: now}
		t.jobs[videoID] = job
	} else if job.Status.IsTerminal() {
		return false
	}

	job.Status = StatusError
	job.Message = detail
	job.ErrorDetail = detail
	job.UpdatedAt = now
	return true
}

func (t *Tracker) Get(videoID string) (Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[videoID]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// List returns all jobs, oldest first.
func (t *Tracker) List() []Job {
	t.mu.RLock()
	jobs := make([]Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		jobs = append(jobs, *j)
	}
	t.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].VideoID < jobs[k].VideoID
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs
}

// Forget removes a job. Used when an upload could not be scheduled.
func (t *Tracker) Forget(videoID string) {
	t.mu.Lock()
	delete(t.jobs, videoID)
	t.mu.Unlock()
}

// Counts returns the number of jobs per status.
func (t *Tracker) Counts() map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[Status]int, len(rank))
	for _, j := range t.jobs {
		counts[j.Status]++
	}
	return counts
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
