package job

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Registry errors.
var (
	ErrDuplicateJob   = errors.New("job: duplicate job name")
	ErrRegistryFrozen = errors.New("job: registry is frozen")
	ErrUnknownJob     = errors.New("job: unknown job")
)

// Registry maps job names to their definitions. It accepts registrations
// until Freeze is called and is read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	jobs   map[string]ScheduledJob
	frozen bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]ScheduledJob)}
}

// Register normalizes, validates and stores j.
func (r *Registry) Register(j ScheduledJob) error {
	j = j.Normalize()
	if err := j.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrRegistryFrozen, j.Name)
	}
	if _, exists := r.jobs[j.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateJob, j.Name)
	}
	r.jobs[j.Name] = j
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the job registered under name.
func (r *Registry) Lookup(name string) (ScheduledJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[name]
	if !ok {
		return ScheduledJob{}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return j, nil
}

// All returns every registered job sorted by name.
func (r *Registry) All() []ScheduledJob {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ScheduledJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b ScheduledJob) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
