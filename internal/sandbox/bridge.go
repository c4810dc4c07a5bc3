package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/jasona/mudforge-sub010/internal/audit"
	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/internal/domain/permission"
	"github.com/jasona/mudforge-sub010/internal/metrics"
	"github.com/jasona/mudforge-sub010/internal/persistence"
	"github.com/jasona/mudforge-sub010/internal/registry"
	"github.com/jasona/mudforge-sub010/pkg/logger"
)

// Scheduler is the subset of the scheduler the bridge needs for the
// scheduling efun category (spec section 4.2). Implemented by
// internal/scheduler.Scheduler; declared here, consumer-side, so this
// package never imports the scheduler package.
type Scheduler interface {
	SetHeartbeat(path string, on bool)
	CallOut(target string, delay time.Duration, payload map[string]any) int64
	RemoveCallOut(id int64) bool
}

// Sender is the subset of the connection manager the bridge needs for the
// messaging efun category. Implemented by internal/connection.Manager.
type Sender interface {
	SendText(playerPath, text string) error
	Broadcast(text string)
	SendFrame(playerPath, tag string, payload any) error
}

// Integration is one registered external-service efun callback (AI text/
// image, chat gateway, HTTP search): an availability predicate plus a call
// that blocks the invoking script until it returns or ctx ends, per spec
// section 4.2's integration efun category.
// Implementations live in internal/integrations and carry their own rate
// limiting and response caching.
type Integration interface {
	Available() bool
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Options configures a Bridge.
type Options struct {
	PoolSize        int
	MemoryMiB       int
	Timeout         time.Duration
	AcquireGrace    time.Duration
	Registry        *registry.Registry
	Scheduler       Scheduler
	Persistence     persistence.Adapter
	Sender          Sender
	Permissions     *permission.Store
	Integrations    map[string]Integration
	Limbo           *object.Object
	Logger          *logger.Logger
	OnShutdown      func(reason string)

	// Audit records permission-affecting operations (shutdown,
	// savePermissions, setPermissionLevel, destructs of privileged
	// objects), per spec section 8. Nil disables audit recording entirely.
	Audit *audit.Log
}

// Bridge is the sandboxed script execution engine: it owns the runtime
// pool, installs the efun namespace into each invocation, and enforces the
// resource and capability limits from spec section 4.2.
//
// Grounded on the teacher's TEEExecutor
// (internal/services/functions/tee_executor.go) for the
// goja.New/RunString/Interrupt/console-wiring shape, generalized from a
// one-shot function executor to a pooled, capability-gated, context-nesting
// bridge; and on system/sandbox/sandbox.go for the capability model.
type Bridge struct {
	pool         *Pool
	registry     *registry.Registry
	scheduler    Scheduler
	adapter      persistence.Adapter
	sender       Sender
	permissions  *permission.Store
	integrations map[string]Integration
	limbo        *object.Object
	timeout      time.Duration
	acquireGrace time.Duration
	log          *logger.Logger
	onShutdown   func(reason string)
	audit        *audit.Log
}

// New constructs a Bridge from opts, filling in sensible defaults for any
// zero-valued timing fields.
func New(opts Options) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.AcquireGrace <= 0 {
		opts.AcquireGrace = 200 * time.Millisecond
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 8
	}
	if opts.MemoryMiB <= 0 {
		opts.MemoryMiB = 128
	}
	if opts.Integrations == nil {
		opts.Integrations = map[string]Integration{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("sandbox")
	}

	return &Bridge{
		pool:         NewPool(opts.PoolSize, opts.MemoryMiB),
		registry:     opts.Registry,
		scheduler:    opts.Scheduler,
		adapter:      opts.Persistence,
		sender:       opts.Sender,
		permissions:  opts.Permissions,
		integrations: opts.Integrations,
		limbo:        opts.Limbo,
		timeout:      opts.Timeout,
		acquireGrace: opts.AcquireGrace,
		log:          log,
		onShutdown:   opts.OnShutdown,
		audit:        opts.Audit,
	}
}

// recordAudit appends an entry to the bridge's audit log, if one is
// configured, tagging it with the acting player from the top of frames
// ("system" when the invocation has no connected principal).
func (b *Bridge) recordAudit(frames *frameStack, action, target, detail string) {
	if b.audit == nil {
		return
	}
	actor := "system"
	if top := frames.top(); top.ThisPlayer != nil {
		actor = top.ThisPlayer.Path()
	}
	b.audit.Add(audit.Entry{
		Time:   time.Now().UTC(),
		Actor:  actor,
		Action: action,
		Target: target,
		Detail: detail,
	})
}

// Invoke runs source — a JavaScript expression or function body, supplied
// by mudlib content outside this repository's scope — inside a pooled
// sandbox under cc's ambient this-object/this-player context, with args
// exposed as the script global "params". It enforces the memory and
// wall-clock limits from spec section 4.2 and recycles the runtime if
// either is exceeded.
func (b *Bridge) Invoke(ctx context.Context, cc CallContext, source string, args map[string]any) (result Result, invokeErr error) {
	start := time.Now()
	defer func() {
		metrics.RecordSandboxInvocation(invocationOutcome(invokeErr), time.Since(start).Seconds())
	}()

	slot, err := b.pool.Acquire(ctx, b.acquireGrace)
	if err != nil {
		return Result{}, err
	}

	discard := false
	defer func() { b.pool.Release(slot, discard) }()

	rt := slot.rt
	frames := &frameStack{}
	frames.push(cc)

	if err := b.install(rt, frames); err != nil {
		discard = true
		return Result{}, fmt.Errorf("sandbox: install efuns: %w", err)
	}

	var logs []string
	attachConsole(rt, &logs)

	if err := rt.Set("thisObject", objectSnapshot(cc.ThisObject)); err != nil {
		discard = true
		return Result{}, fmt.Errorf("sandbox: set thisObject: %w", err)
	}
	if err := rt.Set("thisPlayer", objectSnapshot(cc.ThisPlayer)); err != nil {
		discard = true
		return Result{}, fmt.Errorf("sandbox: set thisPlayer: %w", err)
	}
	if err := rt.Set("params", args); err != nil {
		discard = true
		return Result{}, fmt.Errorf("sandbox: set params: %w", err)
	}

	invokeCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	stop := make(chan struct{})
	go func() {
		select {
		case <-invokeCtx.Done():
			rt.Interrupt(invokeCtx.Err())
		case <-stop:
		}
	}()

	val, err := rt.RunString(source)
	close(stop)

	if err != nil {
		discard = true
		return Result{}, classifyRuntimeError(err, invokeCtx)
	}

	exported := val.Export()
	if len(logs) > 0 {
		if m, ok := exported.(map[string]any); ok {
			m["__logs"] = logs
		}
	}
	return Ok(exported), nil
}

// install wires the efuns global object and its categories into rt.
func (b *Bridge) install(rt *goja.Runtime, frames *frameStack) error {
	efuns := rt.NewObject()

	if err := b.installObjectEfuns(rt, efuns, frames); err != nil {
		return err
	}
	if err := b.installRegistryEfuns(rt, efuns); err != nil {
		return err
	}
	if err := b.installScheduleEfuns(rt, efuns, frames); err != nil {
		return err
	}
	if err := b.installPersistenceEfuns(rt, efuns); err != nil {
		return err
	}
	if err := b.installMessagingEfuns(rt, efuns); err != nil {
		return err
	}
	if err := b.installPermissionEfuns(rt, efuns, frames); err != nil {
		return err
	}
	if err := b.installIntegrationEfuns(rt, efuns, frames); err != nil {
		return err
	}
	if err := b.installAdminEfuns(rt, efuns, frames); err != nil {
		return err
	}

	return rt.Set("efuns", efuns)
}

// objectSnapshot converts obj into the plain value scripts see as
// thisObject/thisPlayer: a read-only view, never the live *object.Object —
// all mutation must go through efuns.
func objectSnapshot(obj *object.Object) any {
	if obj == nil {
		return nil
	}
	short, long := obj.Descriptors()
	return map[string]any{
		"path":       obj.Path(),
		"kind":       obj.Kind().String(),
		"short":      short,
		"long":       long,
		"aliases":    obj.Aliases(),
		"properties": obj.Properties(),
		"heartbeat":  obj.HeartbeatEnabled(),
	}
}

// checkCapability reports whether the frame currently on top of frames
// grants cap. A frame with a nil CapabilitySet is treated as
// system-initiated (heartbeat ticks, scheduler callouts) and is
// unrestricted, since those invocations never originate from a connected
// principal for the capability model to scope.
func (b *Bridge) checkCapability(frames *frameStack, cap Capability) bool {
	top := frames.top()
	if top.Caps == nil {
		return true
	}
	return top.Caps.Has(cap)
}

func attachConsole(rt *goja.Runtime, logs *[]string) {
	console := rt.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		*logs = append(*logs, fmt.Sprint(args...))
		return goja.Undefined()
	}
	_ = console.Set("log", logFn)
	_ = console.Set("info", logFn)
	_ = console.Set("warn", logFn)
	_ = console.Set("error", logFn)
	_ = rt.Set("console", console)
}

// invocationOutcome labels a completed Invoke call for the sandbox
// invocation metrics, per spec section 6.4's outcome taxonomy. A
// goja.InterruptedError covers both the wall-clock timeout and a runtime
// that exceeded its SetMemoryLimit cap — goja doesn't distinguish the two
// in the error it returns, so both surface here as "interrupted" rather
// than a guessed-at "memory_exhausted" this package cannot actually verify.
func invocationOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrSandboxUnavailable) {
		return "pool_exhausted"
	}
	msg := err.Error()
	if strings.Contains(msg, "timeout") {
		return "timeout"
	}
	if strings.Contains(msg, "interrupted") {
		return "interrupted"
	}
	return "error"
}

// classifyRuntimeError maps a goja execution error onto a "timeout" error
// when the invocation context has ended, an "interrupted" error for any
// other goja interrupt, a "script error" for a thrown exception, and a
// plain wrapped error otherwise. A memory-cap hit is not told apart from
// the other cases. Grounded on the teacher's runtimeError
// helper (internal/services/functions/tee_executor.go).
func classifyRuntimeError(err error, ctx context.Context) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("sandbox: timeout: %w", ctxErr)
	}
	if ie, ok := err.(*goja.InterruptedError); ok {
		return fmt.Errorf("sandbox: interrupted: %v", ie.Value())
	}
	if ex, ok := err.(*goja.Exception); ok {
		return fmt.Errorf("sandbox: script error: %s", ex.Error())
	}
	return fmt.Errorf("sandbox: %w", err)
}
