package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a provider from backend-specific settings (install
// directories, regions, rate limits). Credentials never travel through the
// settings map; each backend resolves them from its platform's standard
// credential chain.
type Factory func(settings map[string]string) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a provider constructable by id. Concrete backends call it
// from their init functions; registering the same id twice panics, as that
// is always a programming error.
func Register(id string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[id]; dup {
		panic(fmt.Sprintf("provider %q registered twice", id))
	}
	registry[id] = f
}

// New constructs the provider registered under id.
func New(id string, settings map[string]string) (Provider, error) {
	registryMu.RLock()
	f, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownProvider, id, IDs())
	}
	return f(settings)
}

// IDs returns the registered provider ids, sorted.
func IDs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
