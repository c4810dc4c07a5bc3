// Package object defines the universal game-object entity: the unit the
// registry indexes, the sandbox operates on, and the scheduler ticks.
package object

import (
	"sort"
	"strings"
	"sync"
)

// Kind distinguishes singleton blueprints from independently-instanced clones.
type Kind int

const (
	// KindBlueprint is the template object for a source path; at most one
	// live blueprint exists per path.
	KindBlueprint Kind = iota
	// KindClone is a distinct instance produced from a blueprint.
	KindClone
)

func (k Kind) String() string {
	if k == KindClone {
		return "clone"
	}
	return "blueprint"
}

// Action binds a verb token to a script handler at a given priority. Higher
// priority fires first; ties break by most-recent insertion (Seq).
type Action struct {
	Verb     string
	Handler  string // script entry point reference, opaque to the core
	Priority int
	Seq      uint64
}

// Object is the universal game-object entity. All mutation outside of
// construction goes through the registry or the methods below, which hold
// the object's own lock; the registry additionally serializes moves across
// objects to uphold the containment invariants.
type Object struct {
	mu sync.RWMutex

	path string
	kind Kind

	short   string
	long    string
	aliases []string

	environment *Object
	inventory   []*Object

	properties map[string]any
	actions    map[string]*Action
	actionSeq  uint64

	heartbeat bool

	created    bool
	destructed bool
}

// New constructs an object in the created state. It is not registered or
// linked into any containment graph until the caller does so (normally via
// registry.Registry).
func New(path string, kind Kind) *Object {
	return &Object{
		path:       path,
		kind:       kind,
		properties: make(map[string]any),
		actions:    make(map[string]*Action),
		created:    true,
	}
}

// Path returns the object's blueprint or clone path. Immutable after creation.
func (o *Object) Path() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.path
}

// Kind returns whether this is a blueprint or a clone. Immutable after creation.
func (o *Object) Kind() Kind {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.kind
}

// IsBlueprintPath reports whether p has the shape of a blueprint path
// (contains no clone separator).
func IsBlueprintPath(p string) bool {
	return !strings.Contains(p, "#")
}

// Descriptors returns the short label and long description.
func (o *Object) Descriptors() (short, long string) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.short, o.long
}

// SetDescriptors updates the short label and long description.
func (o *Object) SetDescriptors(short, long string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.short = short
	o.long = long
}

// Aliases returns a copy of the alias token set, in insertion order.
func (o *Object) Aliases() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, len(o.aliases))
	copy(out, o.aliases)
	return out
}

// AddAlias appends an alias token if not already present.
func (o *Object) AddAlias(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, a := range o.aliases {
		if a == token {
			return
		}
	}
	o.aliases = append(o.aliases, token)
}

// Environment returns the containing object, or nil for a root object.
func (o *Object) Environment() *Object {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.environment
}

// Inventory returns a snapshot of the contained objects in insertion order.
func (o *Object) Inventory() []*Object {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Object, len(o.inventory))
	copy(out, o.inventory)
	return out
}

// SetEnvironment is called only by the registry while it holds the
// cross-object move lock; it updates this object's environment pointer.
func (o *Object) SetEnvironment(env *Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.environment = env
}

// AppendInventory is called only by the registry; it appends child to the
// inventory if not already present.
func (o *Object) AppendInventory(child *Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.inventory {
		if existing == child {
			return
		}
	}
	o.inventory = append(o.inventory, child)
}

// RemoveInventory is called only by the registry; it removes child from the
// inventory if present.
func (o *Object) RemoveInventory(child *Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, existing := range o.inventory {
		if existing == child {
			o.inventory = append(o.inventory[:i], o.inventory[i+1:]...)
			return
		}
	}
}

// Property reads a property value by key.
func (o *Object) Property(key string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.properties[key]
	return v, ok
}

// SetProperty sets a property value by key.
func (o *Object) SetProperty(key string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.properties[key] = value
}

// Properties returns a shallow copy of the full property map.
func (o *Object) Properties() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]any, len(o.properties))
	for k, v := range o.properties {
		out[k] = v
	}
	return out
}

// SetProperties replaces the property map with a copy of props.
func (o *Object) SetProperties(props map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	o.properties = out
}

// AddAction registers a verb handler, replacing any existing handler
// registered for the same verb.
func (o *Object) AddAction(verb, handler string, priority int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actionSeq++
	o.actions[verb] = &Action{Verb: verb, Handler: handler, Priority: priority, Seq: o.actionSeq}
}

// RemoveAction unregisters the handler for verb, if any.
func (o *Object) RemoveAction(verb string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.actions, verb)
}

// Actions returns the object's registered actions for verb resolution,
// highest priority first, ties broken by most-recent insertion.
func (o *Object) Actions() []*Action {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Action, 0, len(o.actions))
	for _, a := range o.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

// ActionFor returns the action registered for verb, if any.
func (o *Object) ActionFor(verb string) (*Action, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.actions[verb]
	return a, ok
}

// HeartbeatEnabled reports whether the object is subscribed to the heartbeat.
func (o *Object) HeartbeatEnabled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.heartbeat
}

// SetHeartbeatEnabled updates the heartbeat subscription flag directly on
// the object. Callers driving the scheduler's subscription set should use
// scheduler.Scheduler.SetHeartbeat so the two stay consistent.
func (o *Object) SetHeartbeatEnabled(on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.heartbeat = on
}

// Destructed reports whether the object has been destructed. Destruction is
// terminal and one-way.
func (o *Object) Destructed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.destructed
}

// MarkDestructed is called only by the registry; it flips the destructed
// flag and clears the containment pointers.
func (o *Object) MarkDestructed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.destructed = true
	o.environment = nil
	o.inventory = nil
}
