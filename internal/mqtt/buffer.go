package mqtt

import "log"

// queuedMsg is a serialized message held for replay after reconnection.
type queuedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// offlineQueue keeps the most recent messages published while the broker
// is unreachable, oldest first. Not safe for concurrent use.
type offlineQueue struct {
	msgs    []queuedMsg
	start   int
	n       int
	dropped uint64
	warned  bool
}

func newOfflineQueue(capacity int) *offlineQueue {
	return &offlineQueue{msgs: make([]queuedMsg, capacity)}
}

// push appends msg, evicting the oldest message when full.
func (q *offlineQueue) push(msg queuedMsg) {
	size := len(q.msgs)
	if q.n == size {
		if !q.warned {
			log.Printf("mqtt: offline queue full (%d messages), dropping oldest", size)
			q.warned = true
		}
		q.msgs[q.start] = msg
		q.start = (q.start + 1) % size
		q.dropped++
		return
	}
	q.msgs[(q.start+q.n)%size] = msg
	q.n++
}

// take removes and returns every queued message.
func (q *offlineQueue) take() []queuedMsg {
	if q.n == 0 {
		return nil
	}
	out := make([]queuedMsg, 0, q.n)
	for i := 0; i < q.n; i++ {
		out = append(out, q.msgs[(q.start+i)%len(q.msgs)])
	}
	q.start, q.n, q.warned = 0, 0, false
	return out
}

func (q *offlineQueue) len() int { return q.n }
