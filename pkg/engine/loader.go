package engine

import (
	"errors"
	"fmt"
	"plugin"
	"sort"
	"sync"
)

// LibrarySymbol is the symbol a library plugin must export: a variable of
// type engine.Library, or a func() (engine.Library, error)
const LibrarySymbol = "KappaLibrary"

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Library)
)

// Register makes a statically linked library available by name.
// Libraries call it from an init function, like database/sql drivers.
func Register(name string, lib Library) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if lib == nil {
		panic("engine: Register library is nil")
	}
	if _, dup := registry[name]; dup {
		panic("engine: Register called twice for library " + name)
	}
	registry[name] = lib
}

// Registered returns the names of the statically linked libraries
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegistryLoader loads a registered library by name
type RegistryLoader struct {
	Name string
}

// Load looks the library up in the registry
func (l RegistryLoader) Load() (Library, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if l.Name == "" {
		return nil, fmt.Errorf("no library name configured")
	}
	lib, ok := registry[l.Name]
	if !ok {
		return nil, fmt.Errorf("library %q is not registered", l.Name)
	}
	return lib, nil
}

// PluginLoader loads a library from a Go plugin (.so) at call time
type PluginLoader struct {
	Path string
}

// Load opens the plugin and resolves LibrarySymbol
func (l PluginLoader) Load() (Library, error) {
	if l.Path == "" {
		return nil, fmt.Errorf("no library plugin path configured")
	}

	p, err := plugin.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin %s: %w", l.Path, err)
	}

	sym, err := p.Lookup(LibrarySymbol)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", l.Path, err)
	}

	switch v := sym.(type) {
	case *Library:
		return *v, nil
	case Library:
		return v, nil
	case func() (Library, error):
		return v()
	default:
		return nil, fmt.Errorf("plugin %s: symbol %s has unsupported type %T", l.Path, LibrarySymbol, sym)
	}
}

// ChainLoader tries each loader in turn and returns the first library found
type ChainLoader []Loader

// Load returns the first successful load, or an error describing every failure
func (c ChainLoader) Load() (Library, error) {
	if len(c) == 0 {
		return nil, fmt.Errorf("no simulation library configured")
	}

	var errs []error
	for _, l := range c {
		lib, err := l.Load()
		if err == nil {
			return lib, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
