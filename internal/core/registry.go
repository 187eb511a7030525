package core

import (
	"fmt"
	"sort"
	"sync"
)

// EntityDefinition describes how one entity type is submitted and keyed.
type EntityDefinition struct {
	Type  EntityType
	Label string

	// Collection is the key under a bridge object that holds this entity's
	// rows. Empty for the primary bridge record.
	Collection string

	// SubKey lists the field codes that distinguish a child within its bridge.
	SubKey []string

	// Order fixes the position of the entity in reports and validation runs.
	Order int

	// New returns an empty canonical record for the entity.
	New func() EntityData
}

// Primary reports whether the definition is the bridge record itself.
func (d EntityDefinition) Primary() bool {
	return d.Collection == ""
}

var (
	registry   = make(map[EntityType]EntityDefinition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if the entity type or collection is already registered.
func Register(def EntityDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Type]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Type))
	}
	if def.Collection != "" {
		for _, other := range registry {
			if other.Collection == def.Collection {
				panic(fmt.Sprintf("collection %q already registered by %s", def.Collection, other.Type))
			}
		}
	}
	if def.New == nil {
		panic(fmt.Sprintf("entity %s has no constructor", def.Type))
	}

	registry[def.Type] = def
}

// Lookup returns an entity definition by type.
func Lookup(t EntityType) (EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[t]
	return def, ok
}

// ByCollection returns the child entity stored under a bridge collection key.
func ByCollection(name string) (EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, def := range registry {
		if def.Collection != "" && def.Collection == name {
			return def, true
		}
	}
	return EntityDefinition{}, false
}

// Entities returns all registered definitions sorted by Order.
func Entities() []EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntityDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Type < result[j].Type
	})

	return result
}

// EntityCount returns the number of registered entity types.
func EntityCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// entityOrder returns the sort position of t; unknown types sort last.
func entityOrder(t EntityType) int {
	if def, ok := Lookup(t); ok {
		return def.Order
	}
	return int(^uint(0) >> 1)
}

// NewEntityData builds an empty canonical record for t.
func NewEntityData(t EntityType) (EntityData, error) {
	def, ok := Lookup(t)
	if !ok {
		return nil, fmt.Errorf("unknown entity: %s", t)
	}
	return def.New(), nil
}
