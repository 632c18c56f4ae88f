package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/usb-charger/internal/charger"
)

// syncBuffer is a bytes.Buffer safe for the coordinator's goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startSim(t *testing.T, cfg charger.Config, hw bool) (*sim, *charger.FakeTicker, *syncBuffer) {
	t.Helper()
	out := &syncBuffer{}
	ticker := charger.NewFakeTicker()
	s, err := newSim(cfg, hw, ticker, out)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, ticker, out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// attach plugs the cable in and runs software detection to completion.
func attach(t *testing.T, s *sim, ticker *charger.FakeTicker) {
	t.Helper()
	s.key('a')
	waitFor(t, ticker.Running)
	s.key('c')
	for ticker.Tick() {
	}
}

func TestSimQuit(t *testing.T) {
	s, _, _ := startSim(t, charger.DefaultConfig(), false)
	if !s.key('?') {
		t.Error("status key ended the simulation")
	}
	if s.key('q') {
		t.Error("q did not end the simulation")
	}
}

func TestSimUnknownKeyPrintsHelp(t *testing.T) {
	s, _, out := startSim(t, charger.DefaultConfig(), false)
	s.key('z')
	if !strings.Contains(out.String(), "O oscillation burst") {
		t.Errorf("help not printed, got %q", out.String())
	}
}

func TestSimClassifiesSelectedPort(t *testing.T) {
	tests := []struct {
		key         rune
		want        charger.PortClass
		wantConnect int
	}{
		{'1', charger.ClassSDP, 1},
		{'2', charger.ClassCDP, 1},
		{'3', charger.ClassDCP, 0},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			s, ticker, out := startSim(t, charger.DefaultConfig(), false)
			s.key(tt.key)
			if !strings.Contains(out.String(), "next port: "+tt.want.String()) {
				t.Errorf("port selection not echoed, got %q", out.String())
			}

			attach(t, s, ticker)
			waitFor(t, func() bool {
				snap := s.coord.Snapshot()
				return snap.Charging && snap.Class == tt.want
			})
			if got := s.usb.Calls(); got != tt.wantConnect {
				t.Errorf("usb connects = %d, want %d", got, tt.wantConnect)
			}

			s.key('d')
			waitFor(t, func() bool { return !s.coord.Snapshot().Attached })
		})
	}
}

func TestSimHardwareDetection(t *testing.T) {
	s, _, _ := startSim(t, charger.DefaultConfig(), true)
	s.key('2')
	s.key('a')
	waitFor(t, func() bool { return s.coord.Snapshot().State == charger.StateHWDetect })
	s.key('h')
	waitFor(t, func() bool {
		snap := s.coord.Snapshot()
		return snap.Charging && snap.Class == charger.ClassCDP
	})
}

func TestSimHardwareKeyInSoftwareMode(t *testing.T) {
	s, _, out := startSim(t, charger.DefaultConfig(), false)
	s.key('h')
	if !strings.Contains(out.String(), "hardware detection not running") {
		t.Errorf("got %q", out.String())
	}
}

func TestSimObservationNotifies(t *testing.T) {
	s, ticker, out := startSim(t, charger.DefaultConfig(), false)
	s.key('3')
	attach(t, s, ticker)
	waitFor(t, func() bool { return s.coord.Snapshot().Charging })

	s.key('C')
	s.key('x')
	waitFor(t, func() bool {
		o := out.String()
		return strings.Contains(o, "notify: CHARGING") && strings.Contains(o, "notify: OVP_ERROR")
	})
}

func TestSimChargerNotRunning(t *testing.T) {
	s, _, out := startSim(t, charger.DefaultConfig(), false)
	s.key('F')
	if !strings.Contains(out.String(), "charger not running") {
		t.Errorf("got %q", out.String())
	}
}

func TestSimOscillationHalts(t *testing.T) {
	cfg := charger.DefaultConfig()
	cfg.OscillationWindow = 300 * time.Millisecond
	s, ticker, out := startSim(t, cfg, false)
	s.key('3')
	attach(t, s, ticker)
	waitFor(t, func() bool { return s.coord.Snapshot().Charging })

	s.key('O')
	waitFor(t, func() bool { return s.coord.Snapshot().Halted })
	if !strings.Contains(out.String(), "notify: OSCILLATION_DETECTED") {
		t.Errorf("oscillation not notified, got %q", out.String())
	}
	if s.eng.Run {
		t.Error("engine still running after oscillation")
	}
}
