package realtime

import "sync"

// FocusTracker decorates a bridge with app focus state and emits a
// presence:focus signal only when the state actually changes, never on
// every reconnect.
type FocusTracker struct {
	bridge *Bridge

	mu      sync.Mutex
	focused bool
	known   bool
}

// NewFocusTracker wraps a bridge.
func NewFocusTracker(b *Bridge) *FocusTracker {
	return &FocusTracker{bridge: b}
}

// SetFocused records foreground/background state derived from the app
// lifecycle. The signal goes out on change only; emit failures while
// disconnected are dropped, the state is re-sent on the next change.
func (f *FocusTracker) SetFocused(focused bool) {
	f.mu.Lock()
	if f.known && f.focused == focused {
		f.mu.Unlock()
		return
	}
	f.known = true
	f.focused = focused
	f.mu.Unlock()

	_ = f.bridge.Emit("presence:focus", struct {
		Focused bool `json:"focused"`
	}{Focused: focused})
}

// Focused returns the last recorded focus state.
func (f *FocusTracker) Focused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.focused
}
