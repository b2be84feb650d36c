package capacity

import "context"

// Instance is one provisioned runner as reported by a Backend.
type Instance struct {
	ID     string
	Status string
}

// Backend is the pluggable capacity-provisioning collaborator:
// list/create/destroy against whatever infrastructure actually runs
// session-runner processes. A concrete implementation targeting a
// hypervisor API is out of scope here; only the narrow interface and
// an in-memory fake for tests live in this package.
type Backend interface {
	// List returns every runner the backend currently knows about.
	List(ctx context.Context) ([]Instance, error)
	// Create provisions a new runner with the given session ID. The
	// call may return before the runner has actually come online; the
	// provider only considers creation successful once the runner
	// publishes its own session:{id} record.
	Create(ctx context.Context, id string, opts map[string]string) error
	// Destroy tears a runner down. Like Create, this may be
	// asynchronous from the backend's perspective.
	Destroy(ctx context.Context, id string) error
}
