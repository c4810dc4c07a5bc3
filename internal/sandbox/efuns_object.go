package sandbox

import (
	"github.com/dop251/goja"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/internal/registry"
)

// installObjectEfuns wires the object-lifecycle efun category: create
// blueprint, clone, destruct, find, move, inventory/environment walks.
func (b *Bridge) installObjectEfuns(rt *goja.Runtime, efuns *goja.Object, frames *frameStack) error {
	set := func(name string, fn func(goja.FunctionCall) goja.Value) error {
		return efuns.Set(name, fn)
	}

	if err := set("createBlueprint", func(call goja.FunctionCall) goja.Value {
		path, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("createBlueprint: path required"))
		}
		if !b.checkCapability(frames, CapObjectLifecycle) {
			return resultValue(rt, capabilityDenied(CapObjectLifecycle))
		}
		if !object.IsBlueprintPath(path) {
			return resultValue(rt, Fail("createBlueprint: not a blueprint path"))
		}
		if existing, ok := b.registry.Find(path); ok {
			return resultValue(rt, Ok(objectSnapshot(existing)))
		}
		obj := object.New(path, object.KindBlueprint)
		if err := b.registry.Register(obj); err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(objectSnapshot(obj)))
	}); err != nil {
		return err
	}

	if err := set("cloneObject", func(call goja.FunctionCall) goja.Value {
		blueprintPath, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("cloneObject: blueprint path required"))
		}
		if !b.checkCapability(frames, CapObjectLifecycle) {
			return resultValue(rt, capabilityDenied(CapObjectLifecycle))
		}
		blueprint, ok := b.registry.Find(blueprintPath)
		if !ok {
			return resultValue(rt, Fail("cloneObject: blueprint not found"))
		}
		clonePath := b.registry.CloneOf(blueprintPath)
		clone := object.New(clonePath, object.KindClone)
		short, long := blueprint.Descriptors()
		clone.SetDescriptors(short, long)
		for _, alias := range blueprint.Aliases() {
			clone.AddAlias(alias)
		}
		clone.SetProperties(blueprint.Properties())
		if err := b.registry.Register(clone); err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(objectSnapshot(clone)))
	}); err != nil {
		return err
	}

	if err := set("destructObject", func(call goja.FunctionCall) goja.Value {
		path, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("destructObject: path required"))
		}
		if !b.checkCapability(frames, CapObjectLifecycle) {
			return resultValue(rt, capabilityDenied(CapObjectLifecycle))
		}
		obj, ok := b.registry.Find(path)
		if !ok {
			return resultValue(rt, Fail("destructObject: not found"))
		}
		privileged := false
		if v, ok := obj.Property("privileged"); ok {
			privileged, _ = v.(bool)
		}
		policy := registry.DestructionPolicy{
			IsOwned: func(child *object.Object) bool {
				v, ok := child.Property("owner")
				return ok && v == path
			},
			Limbo: b.limbo,
		}
		if err := b.registry.Destruct(obj, policy); err != nil {
			return resultValue(rt, FailErr(err))
		}
		if privileged {
			b.recordAudit(frames, "destructObject", path, "privileged object")
		}
		return resultValue(rt, Ok(nil))
	}); err != nil {
		return err
	}

	if err := set("findObject", func(call goja.FunctionCall) goja.Value {
		path, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("findObject: path required"))
		}
		obj, ok := b.registry.Find(path)
		if !ok {
			return goja.Null()
		}
		return resultValue(rt, Ok(objectSnapshot(obj)))
	}); err != nil {
		return err
	}

	if err := set("moveObject", func(call goja.FunctionCall) goja.Value {
		path, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("moveObject: path required"))
		}
		destPath, hasDest := argString(call, 1)
		if !b.checkCapability(frames, CapObjectLifecycle) {
			return resultValue(rt, capabilityDenied(CapObjectLifecycle))
		}
		obj, ok := b.registry.Find(path)
		if !ok {
			return resultValue(rt, Fail("moveObject: not found"))
		}
		var dest *object.Object
		if hasDest && destPath != "" {
			dest, ok = b.registry.Find(destPath)
			if !ok {
				return resultValue(rt, Fail("moveObject: destination not found"))
			}
		}
		if err := b.registry.Move(obj, dest); err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(nil))
	}); err != nil {
		return err
	}

	if err := set("environmentOf", func(call goja.FunctionCall) goja.Value {
		path, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("environmentOf: path required"))
		}
		obj, ok := b.registry.Find(path)
		if !ok {
			return goja.Null()
		}
		env := obj.Environment()
		if env == nil {
			return goja.Null()
		}
		return resultValue(rt, Ok(objectSnapshot(env)))
	}); err != nil {
		return err
	}

	if err := set("inventoryOf", func(call goja.FunctionCall) goja.Value {
		path, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("inventoryOf: path required"))
		}
		obj, ok := b.registry.Find(path)
		if !ok {
			return resultValue(rt, Fail("inventoryOf: not found"))
		}
		items := obj.Inventory()
		snapshots := make([]any, len(items))
		for i, item := range items {
			snapshots[i] = objectSnapshot(item)
		}
		return resultValue(rt, Ok(snapshots))
	}); err != nil {
		return err
	}

	return nil
}

func argString(call goja.FunctionCall, i int) (string, bool) {
	arg := call.Argument(i)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return "", false
	}
	s, ok := arg.Export().(string)
	return s, ok
}

// argInt extracts a JS number argument as an int, accepting both goja's
// int64 export (integral values) and float64 export (non-integral or
// large values).
func argInt(call goja.FunctionCall, i int) (int, bool) {
	arg := call.Argument(i)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return 0, false
	}
	switch v := arg.Export().(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// argMap extracts a JS object argument as a map[string]any.
func argMap(call goja.FunctionCall, i int) (map[string]any, bool) {
	arg := call.Argument(i)
	if goja.IsUndefined(arg) || goja.IsNull(arg) {
		return nil, false
	}
	m, ok := arg.Export().(map[string]any)
	return m, ok
}

func capabilityDenied(cap Capability) Result {
	return FailErr(&CapabilityDeniedError{Capability: cap})
}

func resultValue(rt *goja.Runtime, r Result) goja.Value {
	return rt.ToValue(r.toMap())
}
