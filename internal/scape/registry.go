package scape

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"pfsap/internal/scapeid"
)

var ErrScapeExists = errors.New("scape already registered")

var scapeRegistry = struct {
	mu sync.RWMutex
	m  map[string]Scape
}{
	m: make(map[string]Scape),
}

func init() {
	initializeDefaultScapes()
}

func initializeDefaultScapes() {
	for _, s := range []Scape{GravityScape{}, ThermoScape{}, EnergyScape{}} {
		if err := Register(s); err != nil {
			panic(err)
		}
	}
}

// Register adds a scape under its normalized name.
func Register(s Scape) error {
	if s == nil {
		return errors.New("scape is required")
	}
	name := scapeid.Normalize(s.Name())
	if name == "" {
		return errors.New("scape name is required")
	}

	scapeRegistry.mu.Lock()
	defer scapeRegistry.mu.Unlock()

	if _, exists := scapeRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrScapeExists, name)
	}
	scapeRegistry.m[name] = s
	return nil
}

// Lookup resolves a pillar by name, alias or test id.
func Lookup(name string) (Scape, error) {
	normalized := scapeid.Normalize(name)

	scapeRegistry.mu.RLock()
	defer scapeRegistry.mu.RUnlock()

	s, ok := scapeRegistry.m[normalized]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScape, name)
	}
	return s, nil
}

// List returns the registered pillar names, sorted.
func List() []string {
	scapeRegistry.mu.RLock()
	defer scapeRegistry.mu.RUnlock()

	names := make([]string, 0, len(scapeRegistry.m))
	for name := range scapeRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetRegistryForTests() {
	scapeRegistry.mu.Lock()
	scapeRegistry.m = make(map[string]Scape)
	scapeRegistry.mu.Unlock()

	initializeDefaultScapes()
}
