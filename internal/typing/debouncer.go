// Package typing coalesces rapid keystroke notifications into edge-triggered
// typing-start and typing-stop signals, one in-flight timer per chat.
package typing

import (
	"sync"
	"time"
)

// DefaultWindow is the idle period after which a typing-stop is emitted
// automatically.
const DefaultWindow = 3 * time.Second

// Sender delivers a typing signal for a chat. Wired to the chat session's
// publish endpoint in production.
type Sender func(chatID string, isTyping bool)

type chatTimer struct {
	timer *time.Timer
	gen   int
}

// Debouncer tracks per-chat typing activity.
//
// The first Typing call for an idle chat emits a start signal immediately;
// every further call only pushes the stop timer out. Stop emits the stop
// signal right away and cancels the timer.
type Debouncer struct {
	window time.Duration
	send   Sender

	mu     sync.Mutex
	timers map[string]*chatTimer
	closed bool
}

// NewDebouncer creates a debouncer with the given idle window. A
// non-positive window falls back to DefaultWindow.
func NewDebouncer(window time.Duration, send Sender) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		window: window,
		send:   send,
		timers: make(map[string]*chatTimer),
	}
}

// Typing records a keystroke in the chat. Start is edge-triggered: repeated
// calls within the window emit nothing further.
func (d *Debouncer) Typing(chatID string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if ct, ok := d.timers[chatID]; ok {
		// Already typing; push the stop out. A fresh timer avoids the
		// ambiguity of resetting one whose callback is about to run.
		ct.timer.Stop()
		ct.gen++
		gen := ct.gen
		ct.timer = time.AfterFunc(d.window, func() { d.timeout(chatID, gen) })
		d.mu.Unlock()
		return
	}
	ct := &chatTimer{}
	ct.timer = time.AfterFunc(d.window, func() { d.timeout(chatID, 0) })
	d.timers[chatID] = ct
	d.mu.Unlock()

	d.send(chatID, true)
}

// Stop cancels the timer and emits the stop signal immediately if the chat
// is currently marked as typing; otherwise it is a no-op.
func (d *Debouncer) Stop(chatID string) {
	d.mu.Lock()
	ct, ok := d.timers[chatID]
	if ok {
		ct.timer.Stop()
		delete(d.timers, chatID)
	}
	d.mu.Unlock()

	if ok {
		d.send(chatID, false)
	}
}

// CancelAll cancels all pending timers without emitting stop signals.
// Used on disconnect, where the server forgets typing state anyway.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	for chatID, ct := range d.timers {
		ct.timer.Stop()
		delete(d.timers, chatID)
	}
	d.mu.Unlock()
}

// Close cancels all pending timers and refuses further Typing calls.
func (d *Debouncer) Close() {
	d.mu.Lock()
	for chatID, ct := range d.timers {
		ct.timer.Stop()
		delete(d.timers, chatID)
	}
	d.closed = true
	d.mu.Unlock()
}

func (d *Debouncer) timeout(chatID string, gen int) {
	d.mu.Lock()
	ct, ok := d.timers[chatID]
	if !ok || ct.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.timers, chatID)
	d.mu.Unlock()

	d.send(chatID, false)
}
