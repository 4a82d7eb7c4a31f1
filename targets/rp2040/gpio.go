//go:build rp2040

package main

import (
	"errors"
	"machine"

	"spiman/core"
)

const numGPIO = 30 // GPIO0-GPIO29

var errInvalidPin = errors.New("gpio: invalid pin")

// RPGPIODriver implements core.GPIODriver for chip-select lines on the RP2040
type RPGPIODriver struct {
	configured [numGPIO]bool
}

// NewRPGPIODriver creates a new RP2040 GPIO driver
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{}
}

// ConfigureOutput configures a pin as a digital output.
// Configuring a pin twice is allowed.
func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	if pin >= numGPIO {
		return errInvalidPin
	}
	if d.configured[pin] {
		return nil
	}
	// GPIO numbers map directly to machine pins
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.configured[pin] = true
	return nil
}

// SetPin sets the pin to high (true) or low (false)
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	if pin >= numGPIO || !d.configured[pin] {
		return errInvalidPin
	}
	machine.Pin(pin).Set(value)
	return nil
}

// GetPin reads the current pin state
func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	if pin >= numGPIO {
		return false, errInvalidPin
	}
	return machine.Pin(pin).Get(), nil
}
