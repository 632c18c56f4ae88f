package gpio

import "sync"

// FakeLine is a test double whose level is set by hand. Level changes are
// delivered to the handler as edges.
type FakeLine struct {
	mu      sync.Mutex
	value   int
	handler Handler

	// Closed tracks if Close was called.
	Closed bool

	// ReadError, if set, will be returned by Value.
	ReadError error

	// CloseError, if set, will be returned by Close.
	CloseError error
}

var _ Line = (*FakeLine)(nil)

// NewFakeLine creates a FakeLine at level 0.
func NewFakeLine(h Handler) *FakeLine {
	return &FakeLine{handler: h}
}

// Set changes the level and fires the matching edge. Setting the current
// level does nothing.
func (f *FakeLine) Set(v int) {
	f.mu.Lock()
	if v == f.value {
		f.mu.Unlock()
		return
	}
	f.value = v
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return
	}
	if v == 1 {
		h(Rising)
	} else {
		h(Falling)
	}
}

// Pulse drives an active-low interrupt: a falling edge then a rising edge.
func (f *FakeLine) Pulse() {
	f.Set(1)
	f.Set(0)
	f.Set(1)
}

// Value returns the current level.
func (f *FakeLine) Value() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	return f.value, nil
}

// Close marks the line as closed.
func (f *FakeLine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return f.CloseError
}
