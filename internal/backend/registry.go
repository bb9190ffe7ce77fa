package backend

import (
	"fmt"

	"fm-serve/internal/types"
)

// engineConstructor defines the function signature for creating an engine
// from its configuration.
type engineConstructor func(cfg types.EngineConfig) (Engine, error)

// driverRegistry holds the mapping from driver name to its constructor.
var driverRegistry = make(map[string]engineConstructor)

// RegisterDriver adds a new engine driver to the registry.
func RegisterDriver(driver string, constructor engineConstructor) {
	if _, exists := driverRegistry[driver]; exists {
		panic(fmt.Sprintf("engine driver '%s' is already registered", driver))
	}
	driverRegistry[driver] = constructor
}

// Drivers returns the names of all registered engine drivers.
func Drivers() []string {
	names := make([]string, 0, len(driverRegistry))
	for name := range driverRegistry {
		names = append(names, name)
	}
	return names
}

// Registry resolves models to the engine serving them.
type Registry struct {
	engines []Engine
	byModel map[string]Engine
}

// NewRegistry constructs every configured engine and indexes its models.
func NewRegistry(configs []types.EngineConfig) (*Registry, error) {
	r := &Registry{byModel: make(map[string]Engine)}
	for _, cfg := range configs {
		constructor, found := driverRegistry[cfg.Driver]
		if !found {
			return nil, fmt.Errorf("unknown engine driver: %s", cfg.Driver)
		}
		engine, err := constructor(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to construct engine %s: %w", cfg.Name, err)
		}
		for _, model := range engine.Models() {
			if existing, dup := r.byModel[model]; dup {
				return nil, fmt.Errorf("model %s is served by both %s and %s", model, existing.Name(), engine.Name())
			}
			r.byModel[model] = engine
		}
		r.engines = append(r.engines, engine)
	}
	return r, nil
}

// Lookup returns the engine serving the given model.
func (r *Registry) Lookup(model string) (Engine, bool) {
	engine, ok := r.byModel[model]
	return engine, ok
}

// All returns every registered engine.
func (r *Registry) All() []Engine {
	return r.engines
}
