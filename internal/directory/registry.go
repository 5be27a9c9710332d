// Package directory resolves the configured room directory backend.
//
// Backends register a Factory under a type name from an init function;
// the binary selects one with the directory.type config key.
package directory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/callmon/internal/config"
	"firestige.xyz/callmon/internal/core"
)

// Factory builds a backend from its raw options map.
type Factory func(options map[string]any) (core.Backend, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a backend available under name.
// It panics if name is empty or already registered.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if name == "" || f == nil {
		panic("directory: Register called with empty name or nil factory")
	}
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("directory: backend '%s' already registered", name))
	}
	factories[name] = f
}

// Types returns the registered backend names in sorted order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Option keys naming the call attributes a backend writes on the
// participants it provisions.
const (
	OptionCallStatusKey        = "call_status_key"
	OptionOriginNumberKey      = "origin_number_key"
	OptionDestinationNumberKey = "destination_number_key"
)

// WithAttributeKeys returns a copy of cfg whose attribute key options
// default to attrs, so provisioned participants carry the keys the
// classifier looks for. Keys set explicitly in cfg.Options are kept.
func WithAttributeKeys(cfg config.DirectoryConfig, attrs config.AttributesConfig) config.DirectoryConfig {
	options := make(map[string]any, len(cfg.Options)+3)
	for k, v := range cfg.Options {
		options[k] = v
	}
	def := func(key, value string) {
		if value == "" {
			return
		}
		if _, ok := options[key]; !ok {
			options[key] = value
		}
	}
	def(OptionCallStatusKey, attrs.CallStatus)
	def(OptionOriginNumberKey, attrs.OriginNumber)
	def(OptionDestinationNumberKey, attrs.DestinationNumber)

	cfg.Options = options
	return cfg
}

// Open builds the backend named by cfg.Type.
func Open(cfg config.DirectoryConfig) (core.Backend, error) {
	mu.RLock()
	f, ok := factories[cfg.Type]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: '%s' (available: %v)", core.ErrBackendNotFound, cfg.Type, Types())
	}
	backend, err := f(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("open %s directory: %w", cfg.Type, err)
	}
	return backend, nil
}

// DecodeOptions decodes a backend options map into out, which must be a
// pointer to a struct with mapstructure tags. Durations may be given as
// strings ("5s") and scalars are weakly typed, matching what viper and
// environment overrides produce.
func DecodeOptions(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}
