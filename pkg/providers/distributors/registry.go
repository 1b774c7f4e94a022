package distributors

import (
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Distributor)
)

// Register registers a distributor.
func Register(d Distributor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if d == nil {
		panic("distributors: Register distributor is nil")
	}
	if _, dup := registry[d.Key()]; dup {
		panic("distributors: Register called twice for distributor " + d.Key())
	}
	registry[d.Key()] = d
}

// Replace swaps the distributor registered under d.Key(), for example to
// point it at another endpoint.
func Replace(d Distributor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Key()] = d
}

// Get returns a distributor by key.
func Get(key string) (Distributor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[key]
	return d, ok
}

// List returns a sorted list of registered distributor keys.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var keys []string
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetAll returns all registered distributors.
func GetAll() []Distributor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var out []Distributor
	for _, d := range registry {
		out = append(out, d)
	}
	return out
}
