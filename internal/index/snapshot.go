package index

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot holds the currently served artifact behind an atomic pointer.
// Queries read one consistent artifact for their whole lifetime; a rebuild
// publishes its result with a single pointer swap.
type Snapshot struct {
	cur atomic.Pointer[Artifact]
}

// NewSnapshot returns a snapshot serving a, which may be nil when no
// artifact has been loaded yet.
func NewSnapshot(a *Artifact) *Snapshot {
	s := &Snapshot{}
	if a != nil {
		s.cur.Store(a)
	}
	return s
}

// Current returns the served artifact, or ErrUnavailable if none is loaded.
func (s *Snapshot) Current() (*Artifact, error) {
	a := s.cur.Load()
	if a == nil {
		return nil, ErrUnavailable
	}
	return a, nil
}

// Swap atomically replaces the served artifact. In-flight readers keep the
// artifact they already obtained from Current.
func (s *Snapshot) Swap(a *Artifact) {
	s.cur.Store(a)
}

// JobState is the lifecycle of the rebuild job.
type JobState string

const (
	JobIdle     JobState = "idle"
	JobBuilding JobState = "building"
	JobReady    JobState = "ready"
	JobFailed   JobState = "failed"
)

// ErrRebuildInProgress is returned when a rebuild is requested while one is
// already running. Concurrent rebuilds are rejected, never queued.
var ErrRebuildInProgress = errors.New("a rebuild is already in progress")

// JobStatus is a point-in-time view of the rebuild job.
type JobStatus struct {
	State      JobState  `json:"state"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Job is the process-wide rebuild state machine: idle -> building ->
// ready|failed. At most one rebuild is in flight at a time.
type Job struct {
	mu       sync.Mutex
	state    JobState
	started  time.Time
	finished time.Time
	lastErr  error
}

// NewJob returns a job in the idle state.
func NewJob() *Job {
	return &Job{state: JobIdle}
}

// Begin transitions to building, or returns ErrRebuildInProgress.
func (j *Job) Begin() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == JobBuilding {
		return ErrRebuildInProgress
	}
	j.state = JobBuilding
	j.started = time.Now()
	j.finished = time.Time{}
	j.lastErr = nil
	return nil
}

// Finish marks the running rebuild as successful.
func (j *Job) Finish() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = JobReady
	j.finished = time.Now()
}

// Fail marks the running rebuild as failed with err.
func (j *Job) Fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = JobFailed
	j.finished = time.Now()
	j.lastErr = err
}

// Status returns the current job state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{State: j.state, StartedAt: j.started, FinishedAt: j.finished}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}
