package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"toolbridge/internal/backend"
	"toolbridge/internal/marshal"
	"toolbridge/internal/schema"
)

// Adapter declares one processor: which tool to run, where it runs, and the
// fixed per-tool overrides fed into the generic engine. Everything that used
// to be a per-tool subclass is plain data here.
type Adapter struct {
	Tool     string
	Title    string
	Category string

	// Image is the container image for locally run processors.
	Image string

	// Remote is the base URL of a remote worker; set instead of Image for
	// remotely run processors.
	Remote string

	// User is an optional uid:gid override applied to local containers.
	User string

	// ResourcesDir is an optional host directory with pre-staged models,
	// mounted read-only into local containers.
	ResourcesDir string

	FormOverrides   marshal.FormOverrides
	SubmitOverrides marshal.SubmitOverrides
}

func (a Adapter) IsRemote() bool {
	return a.Remote != ""
}

// Registry holds the registered adapters and the per-processor description
// cache. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	cache    *schema.Cache
}

func New() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		cache:    schema.NewCache(),
	}
}

func (r *Registry) Register(a Adapter) error {
	if a.Tool == "" {
		return fmt.Errorf("adapter has no tool identifier")
	}
	if a.Image == "" && a.Remote == "" {
		return fmt.Errorf("adapter %s declares neither an image nor a remote worker", a.Tool)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Tool]; exists {
		return fmt.Errorf("adapter %s is already registered", a.Tool)
	}
	r.adapters[a.Tool] = a
	return nil
}

func (r *Registry) Get(tool string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[tool]
	return a, ok
}

func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	sort.Slice(adapters, func(i, j int) bool { return adapters[i].Tool < adapters[j].Tool })
	return adapters
}

// Backend constructs a fresh, stateless invocation backend for one run of
// the given adapter.
func (r *Registry) Backend(a Adapter) backend.Backend {
	if a.IsRemote() {
		return backend.NewRemoteBackend(a.Remote)
	}
	return &backend.DockerBackend{
		Image:        a.Image,
		User:         a.User,
		ResourcesDir: a.ResourcesDir,
	}
}

func (r *Registry) source(a Adapter) backend.DescriptionSource {
	if a.IsRemote() {
		return backend.NewRemoteBackend(a.Remote)
	}
	return &backend.DockerBackend{Image: a.Image}
}

// Describe returns the parsed, cached description for tool, fetching it
// from the adapter's backend on first use.
func (r *Registry) Describe(ctx context.Context, tool string) (*schema.Description, error) {
	a, ok := r.Get(tool)
	if !ok {
		return nil, fmt.Errorf("unknown processor %s", tool)
	}
	source := r.source(a)
	return r.cache.Get(ctx, tool, source.Describe)
}

// Preflight checks whether a processor is currently usable. For remote
// adapters this pings the worker; a failure is surfaced to the platform as a
// proactive warning rather than hiding the processor.
func (r *Registry) Preflight(ctx context.Context, a Adapter) error {
	if !a.IsRemote() {
		return nil
	}
	return backend.NewRemoteBackend(a.Remote).Ping(ctx)
}
