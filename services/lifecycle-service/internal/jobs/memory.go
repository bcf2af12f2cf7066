package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process. Used by tests and STORAGE_DRIVER=memory.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*memJob
}

type memJob struct {
	Job
	status string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]*memJob{}}
}

func (m *MemoryStore) Insert(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := job
	m.jobs[job.ID] = &memJob{Job: j, status: "pending"}
	return nil
}

func (m *MemoryStore) FetchDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*memJob
	for _, j := range m.jobs {
		if j.status == "pending" && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]Job, 0, len(due))
	for _, j := range due {
		out = append(out, j.Job)
		j.RunAt = now.Add(lease)
	}
	return out, nil
}

func (m *MemoryStore) MarkDone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		j.status = "done"
	}
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, id string, attempts int, nextRunAt time.Time, lastError string, dead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	j.Attempts = attempts
	j.RunAt = nextRunAt
	j.LastError = lastError
	if dead {
		j.status = "failed"
	}
	return nil
}

// Pending returns the jobs still waiting to run, oldest first.
func (m *MemoryStore) Pending() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if j.status == "pending" {
			out = append(out, j.Job)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].RunAt.Before(out[b].RunAt) })
	return out
}
