package charger

import (
	"errors"
	"reflect"
	"testing"

	"github.com/sweeney/usb-charger/internal/pmic"
)

func newSW(det *pmic.FakeDetector) (*swDetection, *session) {
	cfg := DefaultConfig().withDefaults()
	d := &swDetection{det: det, cfg: &cfg}
	s := &session{}
	return d, s
}

// run delivers n ticks and returns the first classification, if any.
func run(t *testing.T, d *swDetection, s *session, n int) (PortClass, bool) {
	t.Helper()
	for i := 0; i < n; i++ {
		class, done, err := d.step(s, detectEvent{kind: evTick})
		if err != nil {
			t.Fatalf("tick %d: %v", s.ticks, err)
		}
		if done {
			return class, true
		}
	}
	return ClassUnknown, false
}

func TestDCDTimeout(t *testing.T) {
	det := pmic.NewFakeDetector()
	d, s := newSW(det)
	if err := d.start(s); err != nil {
		t.Fatal(err)
	}
	if s.state != StateAttached {
		t.Fatalf("state = %v, want ATTACHED", s.state)
	}

	run(t, d, s, DefaultDCDTimeoutTicks-1)
	if s.state != StateDCD {
		t.Fatalf("after %d ticks state = %v, want DCD", s.ticks, s.state)
	}
	run(t, d, s, 1)
	if s.state != StatePrimary {
		t.Fatalf("after %d ticks state = %v, want PRIMARY", s.ticks, s.state)
	}
}

func TestDCDDebounce(t *testing.T) {
	det := pmic.NewFakeDetector()
	d, s := newSW(det)
	if err := d.start(s); err != nil {
		t.Fatal(err)
	}
	run(t, d, s, 1)
	d.step(s, detectEvent{kind: evContact, contact: true})

	run(t, d, s, DefaultDCDDebounceTicks-1)
	if s.state != StateDCD {
		t.Fatalf("state = %v before debounce elapsed, want DCD", s.state)
	}
	run(t, d, s, 1)
	if s.state != StatePrimary {
		t.Fatalf("state = %v after debounce, want PRIMARY", s.state)
	}
	if s.ticks != 1+DefaultDCDDebounceTicks {
		t.Errorf("primary entered at tick %d, want %d", s.ticks, 1+DefaultDCDDebounceTicks)
	}
}

func TestDCDContactLost(t *testing.T) {
	det := pmic.NewFakeDetector()
	d, s := newSW(det)
	if err := d.start(s); err != nil {
		t.Fatal(err)
	}
	run(t, d, s, 1)
	d.step(s, detectEvent{kind: evContact, contact: true})
	run(t, d, s, 5)
	d.step(s, detectEvent{kind: evContact, contact: false})
	run(t, d, s, 20)
	if s.state != StateDCD {
		t.Fatalf("state = %v, want DCD while contact is lost", s.state)
	}
}

func TestSoftwareDetectionClassifies(t *testing.T) {
	tests := []struct {
		name        string
		highCurrent bool
		secondary   pmic.SecondaryResult
		want        PortClass
		wantTicks   int
		wantCalls   []string
	}{
		{
			name:      "sdp",
			want:      ClassSDP,
			wantTicks: 1 + DefaultDCDDebounceTicks + DefaultSettleTicks + DefaultSDPSettleTicks,
			wantCalls: []string{
				"StartContactDetection",
				"CancelIRQ", "StartPrimaryDetection",
				"PrimaryResult",
				"CancelIRQ", "Disable",
			},
		},
		{
			name:        "cdp",
			highCurrent: true,
			secondary:   pmic.SecondaryCDP,
			want:        ClassCDP,
			wantTicks:   1 + DefaultDCDDebounceTicks + 2*DefaultSettleTicks,
			wantCalls: []string{
				"StartContactDetection",
				"CancelIRQ", "StartPrimaryDetection",
				"PrimaryResult",
				"CancelIRQ", "StartSecondaryDetection",
				"SecondaryResult",
				"CancelIRQ", "Disable",
			},
		},
		{
			name:        "dcp",
			highCurrent: true,
			secondary:   pmic.SecondaryDCP,
			want:        ClassDCP,
			wantTicks:   1 + DefaultDCDDebounceTicks + 2*DefaultSettleTicks,
			wantCalls: []string{
				"StartContactDetection",
				"CancelIRQ", "StartPrimaryDetection",
				"PrimaryResult",
				"CancelIRQ", "StartSecondaryDetection",
				"SecondaryResult",
				"CancelIRQ", "Disable",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := pmic.NewFakeDetector()
			det.SetPort(tt.highCurrent, tt.secondary)
			d, s := newSW(det)
			if err := d.start(s); err != nil {
				t.Fatal(err)
			}
			run(t, d, s, 1)
			d.step(s, detectEvent{kind: evContact, contact: true})

			class, done := run(t, d, s, 100)
			if !done {
				t.Fatalf("not classified, state %v", s.state)
			}
			if class != tt.want {
				t.Errorf("class = %v, want %v", class, tt.want)
			}
			if s.ticks != tt.wantTicks {
				t.Errorf("classified at tick %d, want %d", s.ticks, tt.wantTicks)
			}
			if s.state != StateIdle {
				t.Errorf("state = %v, want IDLE", s.state)
			}
			if got := det.Calls(); !reflect.DeepEqual(got, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", got, tt.wantCalls)
			}
		})
	}
}

func TestSoftwareDetectionDriverError(t *testing.T) {
	det := pmic.NewFakeDetector()
	boom := errors.New("nak")
	det.Errors["PrimaryResult"] = boom
	d, s := newSW(det)
	if err := d.start(s); err != nil {
		t.Fatal(err)
	}
	var err error
	for i := 0; i < 100 && err == nil; i++ {
		_, _, err = d.step(s, detectEvent{kind: evTick})
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestSoftwareDetectionIgnoresCompletion(t *testing.T) {
	det := pmic.NewFakeDetector()
	d, s := newSW(det)
	if err := d.start(s); err != nil {
		t.Fatal(err)
	}
	_, done, err := d.step(s, detectEvent{kind: evCompleted, status: pmic.DetectionCompleted | pmic.DetectionDCP})
	if err != nil || done {
		t.Fatalf("done=%v err=%v, want ignored", done, err)
	}
	if s.ticks != 0 {
		t.Errorf("completion advanced the tick count to %d", s.ticks)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status pmic.DetectionStatus
		want   PortClass
	}{
		{"dcp", pmic.DetectionDCP, ClassDCP},
		{"sdp", pmic.DetectionSDP, ClassSDP},
		{"cdp", pmic.DetectionCDP, ClassCDP},
		{"dcp wins", pmic.DetectionDCP | pmic.DetectionCDP, ClassDCP},
		{"sdp before cdp", pmic.DetectionSDP | pmic.DetectionCDP, ClassSDP},
		{"unknown", 0, ClassSDP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyStatus(tt.status | pmic.DetectionCompleted); got != tt.want {
				t.Errorf("classifyStatus(%v) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestHardwareDetection(t *testing.T) {
	det := pmic.NewFakeDetector()
	var got []pmic.DetectionStatus
	d := &hwDetection{fsm: det, onEvent: func(st pmic.DetectionStatus) { got = append(got, st) }}
	s := &session{}

	if err := d.start(s); err != nil {
		t.Fatal(err)
	}
	if s.state != StateHWDetect || !det.FSMEnabled {
		t.Fatalf("state = %v, fsm enabled = %v", s.state, det.FSMEnabled)
	}
	if !det.Complete(pmic.DetectionCDP) || len(got) != 1 {
		t.Fatal("completion not delivered to handler")
	}

	class, done, err := d.step(s, detectEvent{kind: evCompleted, status: got[0]})
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if class != ClassCDP {
		t.Errorf("class = %v, want CDP", class)
	}
	if det.FSMEnabled {
		t.Error("fsm still enabled after completion")
	}
}
