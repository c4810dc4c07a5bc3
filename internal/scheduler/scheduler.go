// Package scheduler implements the driver's single logical clock: a
// fixed-interval heartbeat delivered to subscribing objects and a min-heap
// of one-shot callouts scheduled by script code, per spec section 4.3.
//
// Grounded on the teacher's lifecycle-managed polling loop
// (internal/app/services/automation/scheduler.go): idempotent Start/Stop,
// a sync.WaitGroup-drained background goroutine, graceful shutdown via
// context cancellation. Generalized from "poll a store for due jobs on a
// fixed ticker" to a dynamic wait that wakes at the earlier of the next
// heartbeat boundary or the next due callout.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/internal/metrics"
	"github.com/jasona/mudforge-sub010/internal/registry"
	"github.com/jasona/mudforge-sub010/internal/sandbox"
	"github.com/jasona/mudforge-sub010/pkg/logger"
)

// autoSaveTarget is the reserved callout target the scheduler uses for its
// self-rescheduling auto-save timer. It never resolves to a registry
// object; the scheduler intercepts it before reaching the bridge.
const autoSaveTarget = "#autosave"

// HandlerResolver resolves the literal script source a heartbeat tick or a
// due callout should run. The driver core has no mudlib loader of its own
// (content is out of this repository's scope per spec's Non-goals); the
// default PropertyResolver reads the source from a conventional object
// property, keeping the seam open for a real loader to be wired in later
// without changing the scheduler.
type HandlerResolver interface {
	ResolveHeartbeat(obj *object.Object) (source string, ok bool)
	ResolveCallout(target string, payload map[string]any) (source string, ok bool)
	ResolveReset(obj *object.Object) (source string, ok bool)
}

// PropertyResolver is the default HandlerResolver: it reads heartbeat and
// reset handler source from the "heartbeat_handler" and "reset_handler"
// properties of the relevant object, and callout source from the callout
// payload's "source" key, per the same "script entry point reference, opaque to
// the core" convention object.Action.Handler already uses for verbs.
type PropertyResolver struct{}

func (PropertyResolver) ResolveHeartbeat(obj *object.Object) (string, bool) {
	v, ok := obj.Property("heartbeat_handler")
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func (PropertyResolver) ResolveCallout(target string, payload map[string]any) (string, bool) {
	if src, ok := payload["source"].(string); ok && src != "" {
		return src, true
	}
	return "", false
}

func (PropertyResolver) ResolveReset(obj *object.Object) (string, bool) {
	v, ok := obj.Property("reset_handler")
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

type calloutEntry struct {
	id       int64
	due      time.Time
	target   string
	payload  map[string]any
	canceled bool
}

// calloutHeap orders entries by due time ascending, ties broken by id
// ascending, per spec section 4.3's drain-order rule.
type calloutHeap []*calloutEntry

func (h calloutHeap) Len() int { return len(h) }
func (h calloutHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].id < h[j].id
	}
	return h[i].due.Before(h[j].due)
}
func (h calloutHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *calloutHeap) Push(x any)   { *h = append(*h, x.(*calloutEntry)) }
func (h *calloutHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ sandbox.Scheduler = (*Scheduler)(nil)

// Options configures a Scheduler.
type Options struct {
	HeartbeatInterval time.Duration
	AutoSaveInterval  time.Duration
	Registry          *registry.Registry
	Bridge            *sandbox.Bridge
	Resolver          HandlerResolver
	AutoSaveHook      func(ctx context.Context) error
	Logger            *logger.Logger

	// ResetCron is a standard five-field cron expression driving the
	// periodic reset pass described in spec section 4.3 (e.g. repopulating
	// rooms, respawning monsters). Empty disables reset passes entirely;
	// the heartbeat/callout/auto-save clock is unaffected either way.
	ResetCron string
}

// Scheduler is the driver's single logical clock. Safe for concurrent use:
// script-originated calls into SetHeartbeat/CallOut/RemoveCallOut may
// arrive from any sandbox invocation goroutine concurrently with the
// scheduler's own background loop.
type Scheduler struct {
	mu         sync.Mutex
	heartbeats map[string]bool
	queue      calloutHeap
	nextID     int64

	hbInFlight map[string]bool

	interval         time.Duration
	autoSaveInterval time.Duration

	registry     *registry.Registry
	bridge       *sandbox.Bridge
	resolver     HandlerResolver
	autoSaveHook func(ctx context.Context) error
	log          *logger.Logger

	resetCron  string
	resetClock *cron.Cron

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a Scheduler from opts, filling sensible defaults.
func New(opts Options) *Scheduler {
	if opts.HeartbeatInterval < 100*time.Millisecond {
		opts.HeartbeatInterval = 2 * time.Second
	}
	if opts.AutoSaveInterval <= 0 {
		opts.AutoSaveInterval = 5 * time.Minute
	}
	if opts.Resolver == nil {
		opts.Resolver = PropertyResolver{}
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("scheduler")
	}

	return &Scheduler{
		heartbeats:       make(map[string]bool),
		hbInFlight:       make(map[string]bool),
		interval:         opts.HeartbeatInterval,
		autoSaveInterval: opts.AutoSaveInterval,
		registry:         opts.Registry,
		bridge:           opts.Bridge,
		resolver:         opts.Resolver,
		autoSaveHook:     opts.AutoSaveHook,
		log:              log,
		resetCron:        opts.ResetCron,
	}
}

// Name identifies this component in the application's lifecycle manager.
func (s *Scheduler) Name() string { return "scheduler" }

// Start begins the background clock. Idempotent: calling Start while
// already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.scheduleAutoSave()

	s.wg.Add(1)
	go s.run(runCtx)

	if s.resetCron != "" {
		clock := cron.New()
		if _, err := clock.AddFunc(s.resetCron, func() { s.dispatchResetPass(runCtx) }); err != nil {
			s.log.WithError(err).WithField("expr", s.resetCron).Warn("invalid reset cron expression, reset passes disabled")
		} else {
			clock.Start()
			s.resetClock = clock
		}
	}

	s.log.Info("scheduler started")
	return nil
}

// Stop halts the background clock and waits for the current pass to drain,
// bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if s.resetClock != nil {
		stopCtx := s.resetClock.Stop()
		<-stopCtx.Done()
		s.resetClock = nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("scheduler stopped")
	return nil
}

// SetHeartbeat subscribes or unsubscribes path to the heartbeat set.
// Unsubscribing takes effect no later than the next tick; a pass already
// under way may still invoke the object, per spec section 4.3.
func (s *Scheduler) SetHeartbeat(path string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.heartbeats[path] = true
	} else {
		delete(s.heartbeats, path)
	}
}

// CallOut schedules a one-shot callout against target, due after delay,
// carrying payload as its ambient invocation data. Returns a
// monotonically increasing id, never reused for the process lifetime.
func (s *Scheduler) CallOut(target string, delay time.Duration, payload map[string]any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	heap.Push(&s.queue, &calloutEntry{
		id:      id,
		due:     time.Now().Add(delay),
		target:  target,
		payload: payload,
	})
	return id
}

// RemoveCallOut best-effort cancels a pending callout. A callout already
// selected for this drain pass still fires, per spec section 4.3.
func (s *Scheduler) RemoveCallOut(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.queue {
		if entry.id == id && !entry.canceled {
			entry.canceled = true
			return true
		}
	}
	return false
}

func (s *Scheduler) scheduleAutoSave() {
	s.CallOut(autoSaveTarget, s.autoSaveInterval, nil)
}

// run is the single background loop: it wakes at the earlier of the next
// heartbeat boundary or the next due callout, drains whichever is ready,
// and repeats until ctx is canceled.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	nextHeartbeat := time.Now().Add(s.interval)
	initialWait := s.interval
	if d, ok := s.nextDue(); ok {
		if until := time.Until(d); until < initialWait {
			initialWait = until
		}
	}
	if initialWait < 0 {
		initialWait = 0
	}
	timer := time.NewTimer(initialWait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			now := time.Now()
			if !now.Before(nextHeartbeat) {
				s.dispatchHeartbeatPass(ctx)
				nextHeartbeat = now.Add(s.interval)
			}
			s.drainDueCallouts(ctx, now)

			wait := time.Until(nextHeartbeat)
			if d, ok := s.nextDue(); ok {
				if until := time.Until(d); until < wait {
					wait = until
				}
			}
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		}
	}
}

func (s *Scheduler) nextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].due, true
}

// dispatchHeartbeatPass snapshots the current heartbeat set and invokes
// each subscribed object's handler. Coalesces: an object whose previous
// pass invocation has not yet completed is skipped this tick rather than
// queued, per spec section 4.3's "at most one outstanding heartbeat pass
// per object".
func (s *Scheduler) dispatchHeartbeatPass(ctx context.Context) {
	s.mu.Lock()
	paths := make([]string, 0, len(s.heartbeats))
	for p := range s.heartbeats {
		if s.hbInFlight[p] {
			continue
		}
		paths = append(paths, p)
		s.hbInFlight[p] = true
	}
	s.mu.Unlock()

	for _, path := range paths {
		path := path
		go func() {
			defer func() {
				s.mu.Lock()
				delete(s.hbInFlight, path)
				s.mu.Unlock()
			}()
			s.invokeHeartbeat(ctx, path)
		}()
	}
}

func (s *Scheduler) invokeHeartbeat(ctx context.Context, path string) {
	if s.registry == nil || s.bridge == nil {
		return
	}
	obj, ok := s.registry.Find(path)
	if !ok {
		s.mu.Lock()
		delete(s.heartbeats, path)
		s.mu.Unlock()
		return
	}
	source, ok := s.resolver.ResolveHeartbeat(obj)
	if !ok {
		return
	}
	cc := sandbox.CallContext{ThisObject: obj}
	metrics.RecordHeartbeatTick()
	s.runWithBackpressure(ctx, cc, source, nil, "heartbeat:"+path)
}

// drainDueCallouts pops and dispatches every callout due by now, in
// due-time order with ties broken by id ascending (the heap's natural
// order), skipping any marked canceled.
func (s *Scheduler) drainDueCallouts(ctx context.Context, now time.Time) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].due.After(now) {
			s.mu.Unlock()
			break
		}
		entry := heap.Pop(&s.queue).(*calloutEntry)
		s.mu.Unlock()

		if entry.canceled {
			continue
		}
		s.dispatchCallout(ctx, entry)
	}
}

func (s *Scheduler) dispatchCallout(ctx context.Context, entry *calloutEntry) {
	if entry.target == autoSaveTarget {
		s.runAutoSave(ctx)
		s.scheduleAutoSave()
		return
	}

	go func() {
		s.invokeCallout(ctx, entry)
	}()
}

func (s *Scheduler) invokeCallout(ctx context.Context, entry *calloutEntry) {
	if s.bridge == nil {
		return
	}
	source, ok := s.resolver.ResolveCallout(entry.target, entry.payload)
	if !ok {
		return
	}
	var thisObj *object.Object
	if s.registry != nil {
		thisObj, _ = s.registry.Find(entry.target)
	}
	cc := sandbox.CallContext{ThisObject: thisObj}
	err := s.runWithBackpressure(ctx, cc, source, entry.payload, "callout:"+entry.target)
	if err != nil {
		metrics.RecordCallout("error")
	} else {
		metrics.RecordCallout("success")
	}
}

// runWithBackpressure invokes the bridge, retrying on sandbox-pool
// exhaustion with a short backoff rather than dropping the invocation, per
// spec section 4.3's "scheduler never drops callouts" backpressure rule.
func (s *Scheduler) runWithBackpressure(ctx context.Context, cc sandbox.CallContext, source string, args map[string]any, label string) error {
	backoff := 10 * time.Millisecond
	for {
		_, err := s.bridge.Invoke(ctx, cc, source, args)
		if err == nil {
			return nil
		}
		if errors.Is(err, sandbox.ErrSandboxUnavailable) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 500*time.Millisecond {
				backoff *= 2
			}
			continue
		}
		s.log.WithError(err).WithField("invocation", label).Warn("scheduled invocation failed")
		return err
	}
}

// dispatchResetPass invokes every live object's reset handler, if it has
// one, on the cron schedule configured by Options.ResetCron. Unlike the
// heartbeat pass, there is no coalescing: reset passes fire infrequently
// enough (minutes to hours, per convention) that an overrun invocation
// blocking the next tick is an acceptable tradeoff for simplicity.
func (s *Scheduler) dispatchResetPass(ctx context.Context) {
	if s.registry == nil || s.bridge == nil {
		return
	}
	for _, obj := range s.registry.AllObjects() {
		source, ok := s.resolver.ResolveReset(obj)
		if !ok {
			continue
		}
		cc := sandbox.CallContext{ThisObject: obj}
		err := s.runWithBackpressure(ctx, cc, source, nil, "reset:"+obj.Path())
		if err != nil {
			metrics.RecordResetPass("error")
		} else {
			metrics.RecordResetPass("success")
		}
	}
}

func (s *Scheduler) runAutoSave(ctx context.Context) {
	if s.autoSaveHook == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.autoSaveHook(saveCtx); err != nil {
		s.log.WithError(err).Warn("auto-save failed")
	}
}
