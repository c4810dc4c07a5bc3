// Package registry implements the process-wide index of live objects and
// the containment graph between them. It is pure in-memory: no I/O, no
// sandboxing, only the invariants described in spec section 4.1.
//
// Grounded on the teacher's in-memory store pattern
// (internal/app/storage/memory.go): a single RWMutex-guarded struct with
// copy-on-read accessors, generalized from account/function records to the
// object containment graph.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
)

// Sentinel errors for the conditions named in spec section 4.1 / 7.
var (
	ErrDuplicatePath    = errors.New("registry: duplicate path")
	ErrDestructedTarget = errors.New("registry: destructed target")
	ErrContainmentCycle = errors.New("registry: containment cycle")
	ErrNotFound         = errors.New("registry: not found")
)

// Registry is the authoritative index of live objects and their containment
// graph. All mutation goes through its methods; there is no other exposed
// way to alter the graph.
type Registry struct {
	mu sync.Mutex

	byPath  map[string]*object.Object
	nextSeq map[string]int // next unused clone suffix, keyed by blueprint path
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		byPath:  make(map[string]*object.Object),
		nextSeq: make(map[string]int),
	}
}

// Register inserts obj by its path. Fails with ErrDuplicatePath if another
// live object already holds that path.
func (r *Registry) Register(obj *object.Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := obj.Path()
	if _, exists := r.byPath[path]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, path)
	}
	r.byPath[path] = obj
	return nil
}

// Unregister removes obj from the path index. Idempotent after destruction.
func (r *Registry) Unregister(obj *object.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byPath, obj.Path())
}

// Find returns the live object at path, if any.
func (r *Registry) Find(path string) (*object.Object, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj, ok := r.byPath[path]
	return obj, ok
}

// CloneOf allocates the next unused clone path for blueprintPath, of the
// form "<blueprint>#<n>". Clone ids are never reused across the process
// lifetime even if the clones they named have since been destructed.
func (r *Registry) CloneOf(blueprintPath string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nextSeq[blueprintPath]
	r.nextSeq[blueprintPath] = n + 1
	return fmt.Sprintf("%s#%d", blueprintPath, n)
}

// AllObjects returns a snapshot of every live object. The order is
// unspecified.
func (r *Registry) AllObjects() []*object.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*object.Object, 0, len(r.byPath))
	for _, obj := range r.byPath {
		out = append(out, obj)
	}
	return out
}

// CountsByKind returns the number of live blueprints and clones.
func (r *Registry) CountsByKind() (blueprints, clones int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, obj := range r.byPath {
		if obj.Kind() == object.KindBlueprint {
			blueprints++
		} else {
			clones++
		}
	}
	return blueprints, clones
}

// LargestInventories returns up to topN objects ordered by inventory size
// descending, as required by the registry-introspection efun surface.
func (r *Registry) LargestInventories(topN int) []*object.Object {
	r.mu.Lock()
	all := make([]*object.Object, 0, len(r.byPath))
	for _, obj := range r.byPath {
		all = append(all, obj)
	}
	r.mu.Unlock()

	// Simple selection: fine for a bounded top-N over the live object set.
	sortBySizeDesc(all)
	if topN > 0 && len(all) > topN {
		all = all[:topN]
	}
	return all
}

func sortBySizeDesc(objs []*object.Object) {
	for i := 1; i < len(objs); i++ {
		j := i
		for j > 0 && len(objs[j-1].Inventory()) < len(objs[j].Inventory()) {
			objs[j-1], objs[j] = objs[j], objs[j-1]
			j--
		}
	}
}

// Move removes obj from its current environment's inventory (if any), sets
// obj's environment to dest, and appends obj to dest's inventory. Passing a
// nil dest detaches obj into a root object with no environment.
//
// Move is atomic with respect to observers: the whole relinking happens
// while the registry holds its lock, so no other Move/Destruct call can
// observe a partial state.
func (r *Registry) Move(obj *object.Object, dest *object.Object) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if obj.Destructed() {
		return fmt.Errorf("%w: %s", ErrDestructedTarget, obj.Path())
	}
	if dest != nil && dest.Destructed() {
		return fmt.Errorf("%w: %s", ErrDestructedTarget, dest.Path())
	}

	if dest != nil && wouldCycle(obj, dest) {
		return fmt.Errorf("%w: moving %s into %s", ErrContainmentCycle, obj.Path(), dest.Path())
	}

	current := obj.Environment()
	if current == dest {
		return nil // move(O, E); move(O, E) is a no-op
	}
	if current != nil {
		current.RemoveInventory(obj)
	}
	obj.SetEnvironment(dest)
	if dest != nil {
		dest.AppendInventory(obj)
	}
	return nil
}

// wouldCycle reports whether moving obj into dest would make dest a
// descendant of obj (i.e. dest is obj itself or already inside obj).
func wouldCycle(obj, dest *object.Object) bool {
	cur := dest
	for cur != nil {
		if cur == obj {
			return true
		}
		cur = cur.Environment()
	}
	return false
}

// DestructionPolicy decides what happens to an object's inventory when its
// container is destructed. The core ships one policy (see Destruct): owned
// contents cascade-destruct, everything else spills to the environment or,
// absent one, to limbo.
type DestructionPolicy struct {
	// IsOwned reports whether child is considered owned by its former
	// container and should be cascade-destructed rather than spilled.
	IsOwned func(child *object.Object) bool
	// Limbo is the fallback destination for spilled contents when the
	// destructed container had no environment of its own.
	Limbo *object.Object
}

// Destruct marks obj destructed, removes it from its environment, applies
// policy to its former inventory, and unregisters it. Destruction is
// terminal: obj must not be re-registered.
func (r *Registry) Destruct(obj *object.Object, policy DestructionPolicy) error {
	r.mu.Lock()

	if obj.Destructed() {
		r.mu.Unlock()
		return nil // idempotent
	}

	env := obj.Environment()
	if env != nil {
		env.RemoveInventory(obj)
	}

	contents := obj.Inventory()
	spillTarget := env
	if spillTarget == nil || spillTarget.Destructed() {
		spillTarget = policy.Limbo
	}

	obj.MarkDestructed()
	delete(r.byPath, obj.Path())
	r.mu.Unlock()

	for _, child := range contents {
		if child.Destructed() {
			continue
		}
		owned := policy.IsOwned != nil && policy.IsOwned(child)
		if owned {
			if err := r.Destruct(child, policy); err != nil {
				return err
			}
			continue
		}
		if err := r.Move(child, spillTarget); err != nil {
			return err
		}
	}
	return nil
}

// ValidateClonePath reports whether p is well-formed as a clone path
// derived from blueprintPath (i.e. "<blueprintPath>#<digits>").
func ValidateClonePath(blueprintPath, p string) bool {
	prefix := blueprintPath + "#"
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	suffix := p[len(prefix):]
	if suffix == "" {
		return false
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
