package charger

import (
	"sync"
	"time"
)

// FakeTicker is a TickSource advanced by hand.
type FakeTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	running bool
	period  time.Duration
	resets  int
}

var _ TickSource = (*FakeTicker)(nil)

// NewFakeTicker returns a stopped ticker.
func NewFakeTicker() *FakeTicker {
	return &FakeTicker{ch: make(chan time.Time)}
}

func (f *FakeTicker) C() <-chan time.Time { return f.ch }

func (f *FakeTicker) Reset(d time.Duration) {
	f.mu.Lock()
	f.running, f.period = true, d
	f.resets++
	f.mu.Unlock()
}

func (f *FakeTicker) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()
}

// Running reports whether the ticker was last reset rather than stopped.
func (f *FakeTicker) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Period returns the period of the last Reset.
func (f *FakeTicker) Period() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.period
}

// Tick delivers one tick if the ticker is running, blocking until it is
// received. It reports whether a tick was sent.
func (f *FakeTicker) Tick() bool {
	if !f.Running() {
		return false
	}
	f.ch <- time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return true
}

// FakeUSB records FinalizeAttach calls.
type FakeUSB struct {
	mu    sync.Mutex
	calls int

	// Log, when set, receives "FinalizeAttach" on every call.
	Log func(string)
	Err error
}

var _ USB = (*FakeUSB)(nil)

func (f *FakeUSB) FinalizeAttach() error {
	f.mu.Lock()
	f.calls++
	log, err := f.Log, f.Err
	f.mu.Unlock()
	if log != nil {
		log("FinalizeAttach")
	}
	return err
}

// Calls returns the number of FinalizeAttach calls.
func (f *FakeUSB) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeTimers is an AfterFunc replacement whose timers fire on demand.
type FakeTimers struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

// AfterFunc schedules f. It has the signature of Deps.AfterFunc.
func (ft *FakeTimers) AfterFunc(d time.Duration, f func()) func() bool {
	t := &fakeTimer{d: d, f: f}
	ft.mu.Lock()
	ft.pending = append(ft.pending, t)
	ft.mu.Unlock()
	return func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

// Pending returns the number of timers neither fired nor stopped.
func (ft *FakeTimers) Pending() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, t := range ft.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

// FireAll runs every pending timer and reports how many ran.
func (ft *FakeTimers) FireAll() int {
	ft.mu.Lock()
	var due []*fakeTimer
	for _, t := range ft.pending {
		if !t.stopped {
			t.stopped = true
			due = append(due, t)
		}
	}
	ft.pending = nil
	ft.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}
