package charger

import "time"

// TickSource drives the software detection FSM.
type TickSource interface {
	C() <-chan time.Time
	// Reset (re)starts ticking every d.
	Reset(d time.Duration)
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func newRealTicker() *realTicker {
	t := time.NewTicker(time.Hour)
	t.Stop()
	return &realTicker{t: t}
}

func (r *realTicker) C() <-chan time.Time   { return r.t.C }
func (r *realTicker) Reset(d time.Duration) { r.t.Reset(d) }
func (r *realTicker) Stop()                 { r.t.Stop() }
