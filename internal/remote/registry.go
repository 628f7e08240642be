package remote

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor creates a Client from a backend Config.
// Backends register themselves with the registry using Register().
type Constructor func(cfg Config) (Client, error)

// registry maps backend types to their constructors
var (
	registry      = make(map[Type]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a backend constructor.
// This is called from init() functions in backend packages.
//
// Example:
//
//	func init() {
//	    remote.Register(remote.TypeGitHub, New)
//	}
func Register(t Type, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("remote: Register constructor is nil for type %s", t))
	}

	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("remote: Register called twice for type %s", t))
	}

	registry[t] = constructor
}

// getConstructor retrieves the constructor for a backend type.
// Returns nil if the type is not registered.
func getConstructor(t Type) Constructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t]
}

// IsRegistered returns true if a constructor is registered for the given type.
func IsRegistered(t Type) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[t]
	return exists
}

// RegisteredTypes returns all registered backend types, sorted.
func RegisteredTypes() []Type {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
