package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one housekeeping task of a cron cycle. Run reports how many items
// it acted on.
type Job interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Registry keeps jobs in registration order, unique by name.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

// NewRegistry builds a registry preloaded with jobs. Nil jobs are skipped.
func NewRegistry(jobs ...Job) (*Registry, error) {
	registry := &Registry{names: map[string]struct{}{}}
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register appends a job. A second job with the same name is rejected.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	if r.names == nil {
		r.names = map[string]struct{}{}
	}
	name := job.Name()
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.names[name] = struct{}{}
	r.jobs = append(r.jobs, job)
	return nil
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Select returns a registry restricted to the named jobs, keeping
// registration order. An empty list selects everything.
func (r *Registry) Select(names []string) (*Registry, error) {
	want := map[string]bool{}
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			want[name] = true
		}
	}
	if len(want) == 0 {
		return r, nil
	}
	for name := range want {
		if _, ok := r.names[name]; !ok {
			return nil, fmt.Errorf("unknown cron job %q", name)
		}
	}
	selected := &Registry{names: map[string]struct{}{}}
	for _, job := range r.jobs {
		if want[job.Name()] {
			_ = selected.Register(job)
		}
	}
	return selected, nil
}
