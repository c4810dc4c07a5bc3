package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"
)

// installIntegrationEfuns wires the integration efun category: availability
// checks and calls out to external AI/chat/search backends, per spec
// section 4.2's integration efun category. Two efuns serve every registered
// Integration, selected by its registered key as the first argument:
// integrationAvailable(name) reports Available() (false for an unknown
// name), and callIntegration(name, args) makes one blocking Call with a
// 10-second timeout, gated by CapIntegration.
func (b *Bridge) installIntegrationEfuns(rt *goja.Runtime, efuns *goja.Object, frames *frameStack) error {
	if err := efuns.Set("integrationAvailable", func(call goja.FunctionCall) goja.Value {
		name, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("integrationAvailable: name required"))
		}
		integ, ok := b.integrations[name]
		if !ok {
			return resultValue(rt, Ok(false))
		}
		return resultValue(rt, Ok(integ.Available()))
	}); err != nil {
		return err
	}

	return efuns.Set("callIntegration", func(call goja.FunctionCall) goja.Value {
		name, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("callIntegration: name required"))
		}
		if !b.checkCapability(frames, CapIntegration) {
			return resultValue(rt, capabilityDenied(CapIntegration))
		}
		args, _ := argMap(call, 1)
		integ, ok := b.integrations[name]
		if !ok {
			return resultValue(rt, Fail("callIntegration: unknown integration "+name))
		}
		if !integ.Available() {
			return resultValue(rt, Fail("callIntegration: "+name+" unavailable"))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		value, err := integ.Call(ctx, args)
		if err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(value))
	})
}
