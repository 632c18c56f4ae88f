package mqtt

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/sweeney/usb-charger/internal/charger"
)

// DefaultNotifyQueue is the number of notifications held while the
// publisher is busy.
const DefaultNotifyQueue = 64

// Notifier turns charger hooks into published Events. Hooks only enqueue;
// Run does the publishing, so a slow broker never stalls a consumer.
type Notifier struct {
	pub      Publisher
	snapshot func() charger.Snapshot
	now      func() time.Time
	events   chan Event
	observe  func(charger.Notification)

	dropped atomic.Uint64
}

// NewNotifier returns a Notifier publishing to pub. snapshot, if set,
// supplies the port class and last observation for each event.
func NewNotifier(pub Publisher, snapshot func() charger.Snapshot) *Notifier {
	return &Notifier{
		pub:      pub,
		snapshot: snapshot,
		now:      time.Now,
		events:   make(chan Event, DefaultNotifyQueue),
	}
}

// OnNotify registers fn to be called for every notification, before it is
// queued. It must be set before Hooks is used.
func (n *Notifier) OnNotify(fn func(charger.Notification)) {
	n.observe = fn
}

// Hooks returns charger hooks that queue one Event per notification.
func (n *Notifier) Hooks() charger.Hooks {
	return charger.NotifyAll(n.notify)
}

func (n *Notifier) notify(note charger.Notification) {
	if n.observe != nil {
		n.observe(note)
	}
	ev := Event{Timestamp: n.now(), Notification: note}
	if n.snapshot != nil {
		s := n.snapshot()
		ev.Port = s.Class
		ev.Attached = s.Attached
		if s.Observed {
			o := s.Observation
			ev.Observation = &o
		}
	}
	select {
	case n.events <- ev:
	default:
		n.dropped.Add(1)
	}
}

// Dropped returns the number of notifications lost to a full queue.
func (n *Notifier) Dropped() uint64 { return n.dropped.Load() }

// Run publishes queued events until ctx is done, then flushes what is
// already queued.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-n.events:
					n.publish(ev)
				default:
					return
				}
			}
		case ev := <-n.events:
			n.publish(ev)
		}
	}
}

func (n *Notifier) publish(ev Event) {
	if err := n.pub.Publish(ev); err != nil {
		log.Printf("mqtt: publish %s: %v", ev.Notification, err)
	}
}
