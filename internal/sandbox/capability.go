// Package sandbox hosts the per-object JavaScript execution engine: a pool
// of goja runtimes, the efun bridge that exposes the host API surface to
// script code, and the capability model that gates which efun categories a
// given invocation may reach.
package sandbox

import (
	"fmt"
	"sync"

	"github.com/jasona/mudforge-sub010/internal/domain/permission"
)

// Capability names one efun category from spec section 4.2's taxonomy.
// Grounded on system/sandbox/sandbox.go's Capability/CapabilitySet model,
// narrowed from that package's service-to-service IPC capabilities down to
// the MUD driver's efun categories.
type Capability string

const (
	CapObjectLifecycle    Capability = "object.lifecycle"
	CapRegistryIntrospect Capability = "registry.introspect"
	CapSchedule           Capability = "schedule"
	CapPersistence        Capability = "persistence"
	CapMessaging          Capability = "messaging"
	CapPermissionRead     Capability = "permission.read"
	CapPermissionWrite    Capability = "permission.write"
	CapIntegration        Capability = "integration"
	CapAdmin              Capability = "admin"
)

// CapabilitySet is a set of capabilities granted to one invocation context.
// Safe for concurrent use, though in practice a set is built once per
// context and never mutated concurrently with a read.
type CapabilitySet struct {
	mu   sync.RWMutex
	caps map[Capability]bool
}

// NewCapabilitySet returns a set containing exactly the given capabilities.
func NewCapabilitySet(caps ...Capability) *CapabilitySet {
	cs := &CapabilitySet{caps: make(map[Capability]bool, len(caps))}
	for _, c := range caps {
		cs.caps[c] = true
	}
	return cs
}

// Grant adds a capability to the set.
func (cs *CapabilitySet) Grant(cap Capability) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.caps[cap] = true
}

// Revoke removes a capability from the set.
func (cs *CapabilitySet) Revoke(cap Capability) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.caps, cap)
}

// Has reports whether cap is granted.
func (cs *CapabilitySet) Has(cap Capability) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.caps[cap]
}

// List returns the granted capabilities in no particular order.
func (cs *CapabilitySet) List() []Capability {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]Capability, 0, len(cs.caps))
	for c := range cs.caps {
		out = append(out, c)
	}
	return out
}

// CapabilitiesForLevel returns the default capability set for a principal's
// permission level. Coarse efun-category gating complements, but does not
// replace, the path-scoped checkReadPermission/checkWritePermission efuns
// backed by permission.Table's writable prefixes.
func CapabilitiesForLevel(level permission.Level) *CapabilitySet {
	caps := []Capability{
		CapObjectLifecycle,
		CapRegistryIntrospect,
		CapSchedule,
		CapPersistence,
		CapMessaging,
		CapPermissionRead,
	}
	switch {
	case level >= permission.LevelAdmin:
		caps = append(caps, CapPermissionWrite, CapIntegration, CapAdmin)
	case level >= permission.LevelSenior:
		caps = append(caps, CapPermissionWrite, CapIntegration)
	case level >= permission.LevelBuilder:
		caps = append(caps, CapIntegration)
	}
	return NewCapabilitySet(caps...)
}

// CapabilityDeniedError is returned when an efun call requires a capability
// the calling context's capability set does not grant.
type CapabilityDeniedError struct {
	Capability Capability
}

func (e *CapabilityDeniedError) Error() string {
	return fmt.Sprintf("capability denied: %s", e.Capability)
}
