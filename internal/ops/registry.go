package ops

import (
	"sort"
	"sync"

	"github.com/reflow-sh/reflow/pkg/schema"
)

// Registry is the thread-safe operation registry. The runner resolves
// flow-script class names against it at execution time.
type Registry struct {
	mu      sync.RWMutex
	ops     map[string]Operation
	catalog *Catalog
}

// NewRegistry creates a Registry backed by the given credential catalog.
// Passing nil uses the default catalog.
func NewRegistry(catalog *Catalog) *Registry {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Registry{
		ops:     make(map[string]Operation),
		catalog: catalog,
	}
}

// Catalog returns the credential catalog backing this registry.
func (r *Registry) Catalog() *Catalog { return r.catalog }

// Register adds an operation to the registry. Returns error on duplicate name.
func (r *Registry) Register(op Operation) error {
	if op == nil {
		return schema.NewError(schema.ErrCodeValidation, "operation is nil")
	}
	name := op.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "operation name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "operation %q already registered", name)
	}
	r.ops[name] = op
	return nil
}

// Get retrieves an operation by class name.
func (r *Registry) Get(name string) (Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "operation %q not registered", name)
	}
	return op, nil
}

// Has checks if an operation is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ops[name]
	return ok
}

// Count returns the number of registered operations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// List returns info for all registered operations, sorted by name.
func (r *Registry) List() []OperationInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]OperationInfo, 0, len(r.ops))
	for _, op := range r.ops {
		infos = append(infos, OperationInfo{
			Name:        op.Name(),
			Kind:        op.Kind(),
			Credentials: r.catalog.RequiredFor(op.Name()),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
