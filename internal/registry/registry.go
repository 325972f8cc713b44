// Package registry is the central catalog of action, input, and
// reconciler plugins: it tracks which plugins are registered and the
// resource types each reconciler claims. It holds no plugin
// configuration.
package registry

import (
	"fmt"
	"sync"

	"github.com/wilsonge/no8s-operator/internal/logging"
	"github.com/wilsonge/no8s-operator/internal/plugin"
)

// Registry is the operator's plugin catalog. The zero value is not
// usable; construct with New.
type Registry struct {
	log logging.Logger

	mu sync.RWMutex

	actionPlugins     map[string]plugin.ActionExecutor
	inputPlugins      map[string]plugin.InputSource
	reconcilerPlugins map[string]plugin.ReconcilerPlugin

	// resourceTypeOwner maps a resource type name to the reconciler
	// plugin name that claimed it, so conflicting claims can be rejected
	// at registration time.
	resourceTypeOwner map[string]string
}

// New creates an empty Registry.
func New(log logging.Logger) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	return &Registry{
		log:               log,
		actionPlugins:     map[string]plugin.ActionExecutor{},
		inputPlugins:      map[string]plugin.InputSource{},
		reconcilerPlugins: map[string]plugin.ReconcilerPlugin{},
		resourceTypeOwner: map[string]string{},
	}
}

// RegisterActionExecutor adds an action executor to the catalog,
// overwriting (with a warning) any previous executor of the same name.
func (r *Registry) RegisterActionExecutor(p plugin.ActionExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.actionPlugins[name]; exists {
		r.log.Warn("overwriting existing action plugin", logging.NewFields().Component("registry").Operation("register_action").Slice()...)
	}
	r.actionPlugins[name] = p
	r.log.Info(fmt.Sprintf("registered action plugin: %s v%s", name, p.Version()))
}

// RegisterInputSource adds an input source to the catalog.
func (r *Registry) RegisterInputSource(p plugin.InputSource) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, exists := r.inputPlugins[name]; exists {
		r.log.Warn("overwriting existing input plugin")
	}
	r.inputPlugins[name] = p
	r.log.Info(fmt.Sprintf("registered input plugin: %s v%s", name, p.Version()))
}

// RegisterReconcilerPlugin adds a reconciler plugin, claiming every
// resource type it handles. If any resource type is already claimed by
// a different reconciler, registration fails and nothing is mutated.
func (r *Registry) RegisterReconcilerPlugin(p plugin.ReconcilerPlugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	resourceTypes := p.ResourceTypes()

	for _, rt := range resourceTypes {
		if owner, ok := r.resourceTypeOwner[rt]; ok && owner != name {
			return fmt.Errorf("resource type %q is already claimed by reconciler %q: cannot register %q", rt, owner, name)
		}
	}

	if _, exists := r.reconcilerPlugins[name]; exists {
		r.log.Warn("overwriting existing reconciler plugin")
	}

	r.reconcilerPlugins[name] = p
	for _, rt := range resourceTypes {
		r.resourceTypeOwner[rt] = name
	}
	r.log.Info(fmt.Sprintf("registered reconciler plugin: %s (resource types: %v)", name, resourceTypes))
	return nil
}

// GetActionExecutor looks up an action executor by name.
func (r *Registry) GetActionExecutor(name string) (plugin.ActionExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.actionPlugins[name]
	if !ok {
		return nil, fmt.Errorf("unknown action plugin: %s. available plugins: %v", name, keys(r.actionPlugins))
	}
	return p, nil
}

// GetInputSource looks up an input source by name.
func (r *Registry) GetInputSource(name string) (plugin.InputSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.inputPlugins[name]
	if !ok {
		return nil, fmt.Errorf("unknown input plugin: %s. available plugins: %v", name, keys(r.inputPlugins))
	}
	return p, nil
}

// GetReconcilerForResourceType returns the reconciler plugin claiming
// resourceTypeName, or ok=false if none does.
func (r *Registry) GetReconcilerForResourceType(resourceTypeName string) (plugin.ReconcilerPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.resourceTypeOwner[resourceTypeName]
	if !ok {
		return nil, false
	}
	return r.reconcilerPlugins[owner], true
}

// HasActionExecutor reports whether an action plugin with the given
// name is registered.
func (r *Registry) HasActionExecutor(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actionPlugins[name]
	return ok
}

// ListActionExecutors returns the names of every registered action
// executor.
func (r *Registry) ListActionExecutors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return keys(r.actionPlugins)
}

// ListReconcilerPlugins returns every registered reconciler plugin.
func (r *Registry) ListReconcilerPlugins() []plugin.ReconcilerPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]plugin.ReconcilerPlugin, 0, len(r.reconcilerPlugins))
	for _, p := range r.reconcilerPlugins {
		out = append(out, p)
	}
	return out
}

// Count returns the total number of registered plugins across all
// three categories.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actionPlugins) + len(r.inputPlugins) + len(r.reconcilerPlugins)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
