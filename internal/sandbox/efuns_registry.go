package sandbox

import (
	"github.com/dop251/goja"
)

// installRegistryEfuns wires the registry-introspection efun category:
// whole-process object counts and the largest inventories, bounded to a
// caller-supplied top-N. Read-only, so no capability gate guards it beyond
// the ambient CapRegistryIntrospect grant every principal carries.
func (b *Bridge) installRegistryEfuns(rt *goja.Runtime, efuns *goja.Object) error {
	if err := efuns.Set("objectCounts", func(call goja.FunctionCall) goja.Value {
		blueprints, clones := b.registry.CountsByKind()
		return resultValue(rt, Ok(map[string]any{
			"blueprints": blueprints,
			"clones":     clones,
			"total":      blueprints + clones,
		}))
	}); err != nil {
		return err
	}

	return efuns.Set("largestInventories", func(call goja.FunctionCall) goja.Value {
		topN := 10
		if n, ok := argInt(call, 0); ok && n > 0 {
			topN = n
		}
		objs := b.registry.LargestInventories(topN)
		out := make([]any, len(objs))
		for i, obj := range objs {
			out[i] = map[string]any{
				"path":          obj.Path(),
				"inventorySize": len(obj.Inventory()),
			}
		}
		return resultValue(rt, Ok(out))
	})
}
