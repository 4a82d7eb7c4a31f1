package periphio

import (
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"spiman/core"
)

// GPIO implements core.GPIODriver on periph.io pins, looked up by number
type GPIO struct {
	lookup func(name string) gpio.PinIO

	mu   sync.Mutex
	pins map[core.GPIOPin]gpio.PinIO
}

var _ core.GPIODriver = (*GPIO)(nil)

// NewGPIO returns a driver using the periph.io pin registry
func NewGPIO() *GPIO {
	return newGPIO(gpioreg.ByName)
}

func newGPIO(lookup func(string) gpio.PinIO) *GPIO {
	return &GPIO{lookup: lookup, pins: make(map[core.GPIOPin]gpio.PinIO)}
}

func (g *GPIO) ConfigureOutput(pin core.GPIOPin) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.lookup(strconv.Itoa(int(pin)))
	if p == nil {
		return errors.Errorf("gpio %d not found", pin)
	}
	// Keep the current level until the caller sets one
	if err := p.Out(p.Read()); err != nil {
		return errors.Wrapf(err, "configure gpio %d", pin)
	}
	g.pins[pin] = p
	return nil
}

func (g *GPIO) SetPin(pin core.GPIOPin, value bool) error {
	p, err := g.pin(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(value))
}

func (g *GPIO) GetPin(pin core.GPIOPin) (bool, error) {
	p, err := g.pin(pin)
	if err != nil {
		return false, err
	}
	return bool(p.Read()), nil
}

func (g *GPIO) pin(pin core.GPIOPin) (gpio.PinIO, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pins[pin]
	if !ok {
		return nil, errors.Errorf("gpio %d not configured as output", pin)
	}
	return p, nil
}
