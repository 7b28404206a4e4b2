package registry

import (
	"log/slog"
	"sync/atomic"

	"github.com/infradash/infradash/pkg/types"
	"github.com/infradash/infradash/server/internal/apiconfig"
)

// snapshot is one immutable parse result plus its id index.
type snapshot struct {
	apis []types.APIDescriptor
	byID map[string]int
}

// Registry is a read-through view over the latest parse of the API config
// string. It is safe for concurrent use.
type Registry struct {
	cur atomic.Pointer[snapshot]
}

// New parses configString and returns a Registry holding the result.
func New(configString string) *Registry {
	r := &Registry{}
	r.Reload(configString)
	return r
}

// Reload re-parses configString and atomically replaces the held descriptors.
// It returns the new descriptor list.
func (r *Registry) Reload(configString string) []types.APIDescriptor {
	apis := apiconfig.Parse(configString)
	snap := &snapshot{apis: apis, byID: make(map[string]int, len(apis))}
	for i, d := range apis {
		snap.byID[d.ID] = i
	}
	r.cur.Store(snap)
	slog.Info("registry: loaded api descriptors", "count", len(apis))
	return copyOf(apis)
}

// All returns a copy of every descriptor in config order.
func (r *Registry) All() []types.APIDescriptor {
	return copyOf(r.cur.Load().apis)
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	return len(r.cur.Load().apis)
}

// ByID returns the descriptor with the given id.
func (r *Registry) ByID(id string) (types.APIDescriptor, bool) {
	snap := r.cur.Load()
	i, ok := snap.byID[id]
	if !ok {
		return types.APIDescriptor{}, false
	}
	return snap.apis[i], true
}

// FirstByName returns the first descriptor whose name matches.
// Names are not unique; prefer ByID wherever an id is available.
func (r *Registry) FirstByName(name string) (types.APIDescriptor, bool) {
	for _, d := range r.cur.Load().apis {
		if d.Name == name {
			return d, true
		}
	}
	return types.APIDescriptor{}, false
}

// Resolve looks nameOrID up as an id first, then as a name.
func (r *Registry) Resolve(nameOrID string) (types.APIDescriptor, bool) {
	if d, ok := r.ByID(nameOrID); ok {
		return d, true
	}
	return r.FirstByName(nameOrID)
}

// Names returns the distinct descriptor names in config order.
func (r *Registry) Names() []string {
	apis := r.cur.Load().apis
	seen := make(map[string]struct{}, len(apis))
	out := make([]string, 0, len(apis))
	for _, d := range apis {
		if _, ok := seen[d.Name]; ok {
			continue
		}
		seen[d.Name] = struct{}{}
		out = append(out, d.Name)
	}
	return out
}

func copyOf(apis []types.APIDescriptor) []types.APIDescriptor {
	out := make([]types.APIDescriptor, len(apis))
	copy(out, apis)
	return out
}
