package sandbox

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/dop251/goja"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// installAdminEfuns wires the admin efun category: process shutdown,
// memory/object statistics, and a forced permissions-table save, per spec
// section 8. Every efun here requires CapAdmin.
func (b *Bridge) installAdminEfuns(rt *goja.Runtime, efuns *goja.Object, frames *frameStack) error {
	if err := efuns.Set("shutdown", func(call goja.FunctionCall) goja.Value {
		if !b.checkCapability(frames, CapAdmin) {
			return resultValue(rt, capabilityDenied(CapAdmin))
		}
		reason, _ := argString(call, 0)
		if b.onShutdown == nil {
			return resultValue(rt, Fail("shutdown: no shutdown hook registered"))
		}
		b.recordAudit(frames, "shutdown", "#process", reason)
		b.onShutdown(reason)
		return resultValue(rt, Ok(nil))
	}); err != nil {
		return err
	}

	if err := efuns.Set("memoryStats", func(call goja.FunctionCall) goja.Value {
		if !b.checkCapability(frames, CapAdmin) {
			return resultValue(rt, capabilityDenied(CapAdmin))
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		stats := map[string]any{
			"allocBytes":      m.Alloc,
			"totalAllocBytes": m.TotalAlloc,
			"sysBytes":        m.Sys,
			"numGoroutine":    runtime.NumGoroutine(),
			"sandboxPoolSize": b.pool.Size(),
		}
		// Host-level figures alongside the Go runtime's own view, per spec
		// section 8's getMemoryStats covering the process's environment as
		// well as its heap. gopsutil failures are non-fatal: the runtime
		// fields above are still returned.
		if vm, err := mem.VirtualMemory(); err == nil {
			stats["hostMemTotalBytes"] = vm.Total
			stats["hostMemUsedBytes"] = vm.Used
			stats["hostMemUsedPercent"] = vm.UsedPercent
		}
		if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
			stats["hostCPUPercent"] = pct[0]
		}
		return resultValue(rt, Ok(stats))
	}); err != nil {
		return err
	}

	if err := efuns.Set("objectStats", func(call goja.FunctionCall) goja.Value {
		if !b.checkCapability(frames, CapAdmin) {
			return resultValue(rt, capabilityDenied(CapAdmin))
		}
		blueprints, clones := b.registry.CountsByKind()
		largest := b.registry.LargestInventories(5)
		top := make([]any, len(largest))
		for i, obj := range largest {
			top[i] = map[string]any{
				"path":          obj.Path(),
				"inventorySize": len(obj.Inventory()),
			}
		}
		return resultValue(rt, Ok(map[string]any{
			"blueprints":         blueprints,
			"clones":             clones,
			"largestInventories": top,
		}))
	}); err != nil {
		return err
	}

	return efuns.Set("savePermissions", func(call goja.FunctionCall) goja.Value {
		if !b.checkCapability(frames, CapAdmin) {
			return resultValue(rt, capabilityDenied(CapAdmin))
		}
		if b.adapter == nil || b.permissions == nil {
			return resultValue(rt, Fail("savePermissions: persistence or permissions unavailable"))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		snapshot := b.permissions.Snapshot()
		if err := b.adapter.SavePermissions(ctx, snapshot); err != nil {
			return resultValue(rt, FailErr(err))
		}
		b.recordAudit(frames, "savePermissions", "#process", fmt.Sprintf("%d entries", len(snapshot.Levels)))
		return resultValue(rt, Ok(nil))
	})
}
