// Package schedule defines the scheduled-entry types driven by the
// scheduler: heartbeat subscriptions and one-shot callouts.
package schedule

import "time"

// Callout is a one-shot scheduled invocation. Ids are monotonically
// increasing and never reused.
type Callout struct {
	ID      int64
	DueAt   time.Time
	Target  string // object path the callout fires against
	Payload map[string]any
}

// HeartbeatSubscription marks an object path as subscribed to the
// fixed-interval tick.
type HeartbeatSubscription struct {
	Target string
}
