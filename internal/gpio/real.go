//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealLine is an input line on the Linux GPIO character device that
// reports both edges.
type RealLine struct {
	pin  int
	line *gpiocdev.Line
}

// RequestLine requests pin on chip as an edge-reporting input. Active-low
// interrupt lines take a pull-up; other lines take a pull-down.
func RequestLine(chip string, pin int, pullUp bool, h Handler) (*RealLine, error) {
	bias := gpiocdev.WithPullDown
	if pullUp {
		bias = gpiocdev.WithPullUp
	}
	line, err := gpiocdev.RequestLine(chip, pin,
		gpiocdev.AsInput,
		bias,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			switch evt.Type {
			case gpiocdev.LineEventRisingEdge:
				h(Rising)
			case gpiocdev.LineEventFallingEdge:
				h(Falling)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("request pin %d on %s: %w", pin, chip, err)
	}
	return &RealLine{pin: pin, line: line}, nil
}

// Value returns the raw line level.
func (r *RealLine) Value() (int, error) {
	v, err := r.line.Value()
	if err != nil {
		return 0, fmt.Errorf("read pin %d: %w", r.pin, err)
	}
	return v, nil
}

// Close releases the line.
// The pin is reconfigured to input with pull-down (matching Pi boot
// defaults) before closing so the charger HAT sees a clean state across
// reboots.
func (r *RealLine) Close() error {
	var errs []error
	if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", r.pin, err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close pin %d: %w", r.pin, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
