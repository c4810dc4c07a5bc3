package sandbox

import (
	"time"

	"github.com/dop251/goja"
)

// installScheduleEfuns wires the scheduling efun category: heartbeat
// subscription toggling and one-shot delayed callouts, per spec section
// 4.2/4.3. Delegates to the Scheduler interface so this package never
// imports internal/scheduler directly.
func (b *Bridge) installScheduleEfuns(rt *goja.Runtime, efuns *goja.Object, frames *frameStack) error {
	if err := efuns.Set("setHeartbeat", func(call goja.FunctionCall) goja.Value {
		path, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("setHeartbeat: path required"))
		}
		if !b.checkCapability(frames, CapSchedule) {
			return resultValue(rt, capabilityDenied(CapSchedule))
		}
		on := false
		if arg := call.Argument(1); !goja.IsUndefined(arg) {
			on, _ = arg.Export().(bool)
		}
		if b.scheduler == nil {
			return resultValue(rt, Fail("setHeartbeat: scheduler unavailable"))
		}
		b.scheduler.SetHeartbeat(path, on)
		if obj, found := b.registry.Find(path); found {
			obj.SetHeartbeatEnabled(on)
		}
		return resultValue(rt, Ok(nil))
	}); err != nil {
		return err
	}

	if err := efuns.Set("callOut", func(call goja.FunctionCall) goja.Value {
		target, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("callOut: target required"))
		}
		if !b.checkCapability(frames, CapSchedule) {
			return resultValue(rt, capabilityDenied(CapSchedule))
		}
		delaySeconds, ok := argInt(call, 1)
		if !ok || delaySeconds < 0 {
			return resultValue(rt, Fail("callOut: delay (seconds) required"))
		}
		payload, _ := argMap(call, 2)
		if b.scheduler == nil {
			return resultValue(rt, Fail("callOut: scheduler unavailable"))
		}
		id := b.scheduler.CallOut(target, time.Duration(delaySeconds)*time.Second, payload)
		return resultValue(rt, Ok(id))
	}); err != nil {
		return err
	}

	return efuns.Set("removeCallOut", func(call goja.FunctionCall) goja.Value {
		id, ok := argInt(call, 0)
		if !ok {
			return resultValue(rt, Fail("removeCallOut: id required"))
		}
		if !b.checkCapability(frames, CapSchedule) {
			return resultValue(rt, capabilityDenied(CapSchedule))
		}
		if b.scheduler == nil {
			return resultValue(rt, Fail("removeCallOut: scheduler unavailable"))
		}
		removed := b.scheduler.RemoveCallOut(int64(id))
		return resultValue(rt, Ok(removed))
	})
}
