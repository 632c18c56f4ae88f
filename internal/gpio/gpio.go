// Package gpio delivers interrupt lines as edge callbacks.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
)

// Edge is a line transition.
type Edge uint8

const (
	Rising Edge = iota + 1
	Falling
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	}
	return fmt.Sprintf("Edge(%d)", uint8(e))
}

// Handler is called for every edge on a line, from the line's event
// goroutine. It must not block.
type Handler func(Edge)

// Line is a requested input line.
type Line interface {
	// Value returns the current raw level, 0 or 1.
	Value() (int, error)

	// Close releases the line.
	Close() error
}

// DefaultChip is the GPIO chip the lines are requested from.
const DefaultChip = "gpiochip0"

// Pins are the interrupt line offsets (BCM numbering).
type Pins struct {
	VBUS         int // VBUS sense, active high
	ChargerOK    int // charging engine state-transition IRQ, active low
	ChargerError int // charging engine error IRQ, active low
	Detection    int // port detection IRQ, active low
}

// DefaultPins match the charger HAT wiring.
var DefaultPins = Pins{
	VBUS:         17,
	ChargerOK:    27,
	ChargerError: 22,
	Detection:    23,
}

// VBUS returns a Handler that reports a rising edge as attach and a
// falling edge as detach.
func VBUS(attach, detach func()) Handler {
	return func(e Edge) {
		switch e {
		case Rising:
			attach()
		case Falling:
			detach()
		}
	}
}

// ActiveLow returns a Handler that calls fn on falling edges only.
func ActiveLow(fn func()) Handler {
	return func(e Edge) {
		if e == Falling {
			fn()
		}
	}
}

// High reports whether l currently reads 1.
func High(l Line) (bool, error) {
	v, err := l.Value()
	if err != nil {
		return false, err
	}
	return v == 1, nil
}

// Lines closes a set of lines together.
type Lines []Line

// Close closes every line and reports all failures.
func (ls Lines) Close() error {
	var errs []error
	for _, l := range ls {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
