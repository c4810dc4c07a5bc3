package sandbox

import (
	"github.com/dop251/goja"
)

// installMessagingEfuns wires the messaging efun category: direct text to a
// connected player, broadcast to every connection, and structured GUI
// frames, per spec section 4.2/4.4. Delegates to the Sender interface so
// this package never imports internal/connection directly.
func (b *Bridge) installMessagingEfuns(rt *goja.Runtime, efuns *goja.Object) error {
	if err := efuns.Set("sendText", func(call goja.FunctionCall) goja.Value {
		playerPath, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("sendText: player path required"))
		}
		text, ok := argString(call, 1)
		if !ok {
			return resultValue(rt, Fail("sendText: text required"))
		}
		if b.sender == nil {
			return resultValue(rt, Fail("sendText: messaging unavailable"))
		}
		if err := b.sender.SendText(playerPath, text); err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(nil))
	}); err != nil {
		return err
	}

	if err := efuns.Set("broadcast", func(call goja.FunctionCall) goja.Value {
		text, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("broadcast: text required"))
		}
		if b.sender == nil {
			return resultValue(rt, Fail("broadcast: messaging unavailable"))
		}
		b.sender.Broadcast(text)
		return resultValue(rt, Ok(nil))
	}); err != nil {
		return err
	}

	return efuns.Set("sendFrame", func(call goja.FunctionCall) goja.Value {
		playerPath, ok := argString(call, 0)
		if !ok {
			return resultValue(rt, Fail("sendFrame: player path required"))
		}
		tag, ok := argString(call, 1)
		if !ok {
			return resultValue(rt, Fail("sendFrame: tag required"))
		}
		payload := call.Argument(2).Export()
		if b.sender == nil {
			return resultValue(rt, Fail("sendFrame: messaging unavailable"))
		}
		if err := b.sender.SendFrame(playerPath, tag, payload); err != nil {
			return resultValue(rt, FailErr(err))
		}
		return resultValue(rt, Ok(nil))
	})
}
