package pool

import "sync"

// Registry holds one pool per field for a single index generation. Create a
// registry when the generation opens, thread it through the request context,
// and drop it when the generation closes; pools from a previous generation
// must never serve a new one, since their maxima no longer match the index.
//
// All pools share the registry's supervisor, capping total background
// clearing concurrency across fields.
type Registry struct {
	supervisor *Supervisor
	poolOpts   []Option

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewRegistry creates a registry whose pools share the given supervisor and
// are created with the given options.
func NewRegistry(supervisor *Supervisor, poolOpts ...Option) *Registry {
	return &Registry{
		supervisor: supervisor,
		poolOpts:   poolOpts,
		pools:      make(map[string]*Pool),
	}
}

// Pool returns the pool for the given field, creating it on first use.
// The returned pool still needs SetFieldProperties before its first Acquire.
func (r *Registry) Pool(field string) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[field]
	if !ok {
		p = New(r.supervisor, field, r.poolOpts...)
		r.pools[field] = p
	}
	return p
}

// Fields returns the fields with a pool.
func (r *Registry) Fields() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	fields := make([]string, 0, len(r.pools))
	for field := range r.pools {
		fields = append(fields, field)
	}
	return fields
}

// Close drops all pools and waits for in-flight janitor tasks, releasing
// every pooled counter for collection.
func (r *Registry) Close() {
	r.mu.Lock()
	for _, p := range r.pools {
		p.Clear()
	}
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()
	r.supervisor.Wait()
}
