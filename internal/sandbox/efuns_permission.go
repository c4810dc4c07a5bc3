package sandbox

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/jasona/mudforge-sub010/internal/domain/permission"
)

// installPermissionEfuns wires the permission efun category: path-scoped
// read/write checks and principal level lookups, per spec section 3/4.2.
// setPermissionLevel additionally requires CapPermissionWrite, since raising
// another principal's trust tier is a privileged operation distinct from the
// ordinary write-scope check.
func (b *Bridge) installPermissionEfuns(rt *goja.Runtime, efuns *goja.Object, frames *frameStack) error {
	if err := efuns.Set("checkReadPermission", func(call goja.FunctionCall) goja.Value {
		name, okName := argString(call, 0)
		path, okPath := argString(call, 1)
		if !okName || !okPath {
			return resultValue(rt, Fail("checkReadPermission: name and path required"))
		}
		if !b.checkCapability(frames, CapPermissionRead) {
			return resultValue(rt, capabilityDenied(CapPermissionRead))
		}
		if b.permissions == nil {
			return resultValue(rt, Ok(true))
		}
		return resultValue(rt, Ok(b.permissions.CanRead(name, path)))
	}); err != nil {
		return err
	}

	if err := efuns.Set("checkWritePermission", func(call goja.FunctionCall) goja.Value {
		name, okName := argString(call, 0)
		path, okPath := argString(call, 1)
		if !okName || !okPath {
			return resultValue(rt, Fail("checkWritePermission: name and path required"))
		}
		if !b.checkCapability(frames, CapPermissionRead) {
			return resultValue(rt, capabilityDenied(CapPermissionRead))
		}
		if b.permissions == nil {
			return resultValue(rt, Ok(false))
		}
		return resultValue(rt, Ok(b.permissions.CanWrite(name, path)))
	}); err != nil {
		return err
	}

	if err := efuns.Set("permissionLevel", func(call goja.FunctionCall) goja.Value {
		name, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("permissionLevel: name required"))
		}
		if b.permissions == nil {
			return resultValue(rt, Ok(permission.LevelPlayer.String()))
		}
		return resultValue(rt, Ok(b.permissions.Level(name).String()))
	}); err != nil {
		return err
	}

	return efuns.Set("setPermissionLevel", func(call goja.FunctionCall) goja.Value {
		name, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("setPermissionLevel: name required"))
		}
		level, ok := argInt(call, 1)
		if !ok {
			return resultValue(rt, Fail("setPermissionLevel: level required"))
		}
		if !b.checkCapability(frames, CapPermissionWrite) {
			return resultValue(rt, capabilityDenied(CapPermissionWrite))
		}
		if b.permissions == nil {
			return resultValue(rt, Fail("setPermissionLevel: permissions unavailable"))
		}
		if err := b.permissions.SetLevel(name, permission.Level(level)); err != nil {
			return resultValue(rt, FailErr(err))
		}
		b.recordAudit(frames, "setPermissionLevel", name, fmt.Sprintf("level=%s", permission.Level(level).String()))
		return resultValue(rt, Ok(nil))
	})
}
