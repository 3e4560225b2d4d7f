package engine

import (
	"fmt"
	"strings"

	"github.com/psantana5/kappa-rpc/pkg/logging"
)

// Config selects and configures the backends
type Config struct {
	Order    []string       `mapstructure:"order" yaml:"order"`
	External ExternalConfig `mapstructure:"external" yaml:"external"`
	Library  LibraryConfig  `mapstructure:"library" yaml:"library"`
}

// LibraryConfig says where the in-process library comes from. Registry
// name is tried first, then the plugin path.
type LibraryConfig struct {
	Name   string `mapstructure:"name" yaml:"name"`
	Plugin string `mapstructure:"plugin" yaml:"plugin"`
}

// DefaultConfig returns external-then-library with KaSim defaults
func DefaultConfig() Config {
	order := make([]string, len(DefaultOrder))
	for i, t := range DefaultOrder {
		order[i] = string(t)
	}
	return Config{
		Order:    order,
		External: DefaultExternalConfig(),
	}
}

// Loader builds the library loader described by the config
func (c LibraryConfig) Loader() Loader {
	var chain ChainLoader
	if c.Name != "" {
		chain = append(chain, RegistryLoader{Name: c.Name})
	}
	if c.Plugin != "" {
		chain = append(chain, PluginLoader{Path: c.Plugin})
	}
	if len(chain) == 0 {
		// Fall back to the only registered library, if exactly one is linked in
		if names := Registered(); len(names) == 1 {
			chain = append(chain, RegistryLoader{Name: names[0]})
		}
	}
	return chain
}

// BuildBackends creates the backends in configured order
func BuildBackends(cfg Config, logger *logging.Logger) ([]Backend, error) {
	order := cfg.Order
	if len(order) == 0 {
		order = DefaultConfig().Order
	}

	seen := make(map[BackendType]bool)
	backends := make([]Backend, 0, len(order))
	for _, name := range order {
		t := BackendType(strings.ToLower(strings.TrimSpace(name)))
		if seen[t] {
			return nil, fmt.Errorf("backend %q listed twice", name)
		}
		seen[t] = true

		switch t {
		case BackendTypeExternal:
			backends = append(backends, NewExternalBackend(cfg.External, logger))
		case BackendTypeLibrary:
			backends = append(backends, NewLibraryBackend(cfg.Library.Loader(), logger))
		default:
			return nil, fmt.Errorf("unknown backend %q (valid: %s, %s)", name, BackendTypeExternal, BackendTypeLibrary)
		}
	}
	return backends, nil
}

// EngineInfo describes a configured backend and whether it can run here
type EngineInfo struct {
	Name      string `json:"name"`
	Position  int    `json:"position"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

// availabilityChecker is implemented by backends that can probe their dependency
type availabilityChecker interface {
	Available() error
}

// Describe reports each backend's availability, in try order.
// Probing is informational only; Run never probes before trying.
func Describe(backends []Backend) []EngineInfo {
	infos := make([]EngineInfo, 0, len(backends))
	for i, b := range backends {
		info := EngineInfo{Name: b.Name(), Position: i + 1, Available: true}
		if c, ok := b.(availabilityChecker); ok {
			if err := c.Available(); err != nil {
				info.Available = false
				info.Detail = err.Error()
			}
		}
		infos = append(infos, info)
	}
	return infos
}
