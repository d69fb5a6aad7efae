package client

import (
	"encoding/json"
	"sync"

	"github.com/circuit-labs/circuit/internal/protocol"
)

// Handle subscribes a typed callback for every server frame of M's
// discriminant. Frames that carry the right type but fail to decode
// are dropped. The returned unsubscribe is idempotent.
func Handle[M protocol.Outbound](m *Manager, fn func(M)) (unsubscribe func()) {
	var zero M
	return m.On(zero.MsgType(), func(raw json.RawMessage) {
		decoded, err := protocol.DecodeOutbound(raw)
		if err != nil {
			return
		}
		msg, ok := decoded.(M)
		if !ok {
			return
		}
		fn(msg)
	})
}

// Once waits for the first frame of M's discriminant that satisfies
// pred (a nil pred matches everything), delivers it on the returned
// channel, and unsubscribes. Later matching frames are ignored. The
// channel is buffered so delivery never blocks the read loop.
func Once[M protocol.Outbound](m *Manager, pred func(M) bool) <-chan M {
	ch := make(chan M, 1)

	var mu sync.Mutex
	var unsub func()
	done := false

	u := Handle(m, func(msg M) {
		if pred != nil && !pred(msg) {
			return
		}
		mu.Lock()
		if done {
			mu.Unlock()
			return
		}
		done = true
		if unsub != nil {
			unsub()
		}
		mu.Unlock()
		ch <- msg
	})

	mu.Lock()
	unsub = u
	alreadyDone := done
	mu.Unlock()
	if alreadyDone {
		// the frame arrived before the unsubscribe handle was stored
		u()
	}
	return ch
}
