package pmic

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"
)

// PeriphBus adapts a periph.io I2C bus to drivers.I2C so Device can run on
// a Linux host.
type PeriphBus struct {
	bus i2c.BusCloser
}

var _ drivers.I2C = (*PeriphBus)(nil)

// OpenPeriph initialises the periph host drivers and opens the named I2C
// bus ("" selects the first available bus).
func OpenPeriph(name string) (*PeriphBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return &PeriphBus{bus: bus}, nil
}

// Tx performs a combined write/read transaction.
func (b *PeriphBus) Tx(addr uint16, w, r []byte) error {
	return b.bus.Tx(addr, w, r)
}

// String returns the underlying bus name.
func (b *PeriphBus) String() string { return b.bus.String() }

// Close releases the bus.
func (b *PeriphBus) Close() error { return b.bus.Close() }
