package core

// SlaveSelectFunc drives one device's chip-select line.
// high=false asserts an active-low select, high=true releases it.
// A nil SlaveSelectFunc means the line is hardware-automatic or absent.
type SlaveSelectFunc func(high bool)

// HardwareSelect is the strategy for peripherals that toggle select on their own
// or for buses without a select line.
var HardwareSelect SlaveSelectFunc

// GPIOSelect returns a strategy driving pin through the given GPIO driver.
// The pin is configured as an output and parked at its inactive level.
func GPIOSelect(gpio GPIODriver, pin GPIOPin, activeHigh bool) (SlaveSelectFunc, error) {
	if err := gpio.ConfigureOutput(pin); err != nil {
		return nil, err
	}

	// Inactive level is high for active-low lines
	if err := gpio.SetPin(pin, !activeHigh); err != nil {
		return nil, err
	}

	return func(high bool) {
		level := high
		if activeHigh {
			level = !high
		}
		if err := gpio.SetPin(pin, level); err != nil {
			RecordTrace(EvtSelErr, 0xFF, uint32(pin), boolToU32(high))
			DebugPrintln("[SPI] cs pin " + utoa(uint32(pin)) + ": " + err.Error())
		}
	}, nil
}

// Framer is a transport that drives its own chip select and can hold it
// asserted across the next n byte exchanges instead of pulsing it per byte.
type Framer interface {
	// BeginFrame asserts select for the next n exchanges. Select drops
	// after the n-th one.
	BeginFrame(n int) error
	// EndFrame drops select if a frame is still open
	EndFrame() error
}

// FramedSelect returns a strategy that opens a frame over the rest of dev's
// transfer when the line is asserted and closes it on release.
func FramedSelect(f Framer, dev *Device) SlaveSelectFunc {
	open := false
	return func(high bool) {
		var err error
		switch {
		case !high:
			open = true
			err = f.BeginFrame(dev.Remaining())
		case open:
			open = false
			err = f.EndFrame()
		}
		if err != nil {
			RecordTrace(EvtSelErr, dev.index, uint32(dev.Remaining()), boolToU32(high))
			DebugPrintln("[SPI] frame dev=" + utoa(uint32(dev.index)) + ": " + err.Error())
		}
	}
}
