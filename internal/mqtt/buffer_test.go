package mqtt

import "testing"

func payloads(msgs []queuedMsg) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m.payload[0])
	}
	return out
}

func TestOfflineQueueEmpty(t *testing.T) {
	q := newOfflineQueue(4)
	if got := q.take(); got != nil {
		t.Errorf("expected nil from empty queue, got %d items", len(got))
	}
}

func TestOfflineQueueOrder(t *testing.T) {
	tests := []struct {
		name        string
		capacity    int
		pushes      int
		want        []byte
		wantDropped uint64
	}{
		{"under capacity", 4, 3, []byte{0, 1, 2}, 0},
		{"exactly full", 4, 4, []byte{0, 1, 2, 3}, 0},
		{"wrapped", 4, 6, []byte{2, 3, 4, 5}, 2},
		{"wrapped twice", 3, 8, []byte{5, 6, 7}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newOfflineQueue(tt.capacity)
			for i := 0; i < tt.pushes; i++ {
				q.push(queuedMsg{topic: Topic, payload: []byte{byte(i)}})
			}
			if q.len() != len(tt.want) {
				t.Errorf("len = %d, want %d", q.len(), len(tt.want))
			}
			if got := payloads(q.take()); string(got) != string(tt.want) {
				t.Errorf("order = %v, want %v", got, tt.want)
			}
			if q.dropped != tt.wantDropped {
				t.Errorf("dropped = %d, want %d", q.dropped, tt.wantDropped)
			}
			if q.len() != 0 {
				t.Errorf("len after take = %d", q.len())
			}
		})
	}
}

func TestOfflineQueueReuseAfterTake(t *testing.T) {
	q := newOfflineQueue(2)
	q.push(queuedMsg{payload: []byte{1}})
	q.push(queuedMsg{payload: []byte{2}})
	q.push(queuedMsg{payload: []byte{3}})
	q.take()

	q.push(queuedMsg{payload: []byte{4}})
	if got := payloads(q.take()); string(got) != string([]byte{4}) {
		t.Errorf("after reuse = %v, want [4]", got)
	}
}
