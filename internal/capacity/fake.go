package capacity

import (
	"context"
	"sync"
)

// FakeBackend is an in-memory Backend used by tests to exercise the
// provider's policy logic end-to-end without any external
// infrastructure; a hypervisor-specific implementation ships as a
// separate collaborator behind the same interface.
type FakeBackend struct {
	mu        sync.Mutex
	instances map[string]string // id -> status
}

// NewFakeBackend returns an empty fake.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{instances: make(map[string]string)}
}

func (f *FakeBackend) List(ctx context.Context) ([]Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Instance, 0, len(f.instances))
	for id, status := range f.instances {
		out = append(out, Instance{ID: id, Status: status})
	}
	return out, nil
}

func (f *FakeBackend) Create(ctx context.Context, id string, opts map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instances[id] = "running"
	return nil
}

func (f *FakeBackend) Destroy(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.instances, id)
	return nil
}

// SimulateEmptyListOutage is a test hook: it clears tracked instances
// without actually destroying anything in the "real" backend, modeling
// a List() call that returns empty during a backend outage so tests can
// exercise the reconciliation guard.
func (f *FakeBackend) SimulateEmptyListOutage() func() {
	f.mu.Lock()
	saved := f.instances
	f.instances = make(map[string]string)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.instances = saved
		f.mu.Unlock()
	}
}

// Count reports how many instances the fake currently tracks, used by
// tests asserting on scale-up/scale-down batch sizes.
func (f *FakeBackend) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}
