package sandbox

import "github.com/jasona/mudforge-sub010/internal/domain/object"

// CallContext is one frame of ambient invocation state: the this-object and
// this-player every efun call observes, per spec section 4.2. The command
// dispatcher sets ThisPlayer to the invoking player and ThisObject to the
// object whose action matched (the player when no other object owns the
// action); the heartbeat sets ThisObject to the ticking object and leaves
// ThisPlayer nil; a callout sets ThisObject to its target object (nil when
// the target path is not registered) and leaves ThisPlayer nil, since a
// scheduled callout records no player.
type CallContext struct {
	ThisObject *object.Object
	ThisPlayer *object.Object
	Caps       *CapabilitySet
}

// frameStack holds the CallContext frames for one invocation. Invoke pushes
// the caller's frame once; no efun pushes or pops a further frame, so every
// efun call in an invocation, including one that acts on another object,
// observes that same frame. Not safe for concurrent use — a
// sandbox is single-threaded cooperative within one invocation by
// construction, so only one goroutine ever touches a given frameStack.
type frameStack struct {
	frames []CallContext
}

func (s *frameStack) push(cc CallContext) {
	s.frames = append(s.frames, cc)
}

func (s *frameStack) pop() {
	if len(s.frames) > 0 {
		s.frames = s.frames[:len(s.frames)-1]
	}
}

func (s *frameStack) top() CallContext {
	if len(s.frames) == 0 {
		return CallContext{}
	}
	return s.frames[len(s.frames)-1]
}

func (s *frameStack) empty() bool { return len(s.frames) == 0 }
