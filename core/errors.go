package core

import "errors"

// Usage errors returned by the bus manager and its devices
var (
	ErrZeroLength          = errors.New("spi: transfer of zero bytes")
	ErrInvalidLength       = errors.New("spi: negative transfer length")
	ErrDeviceBusy          = errors.New("spi: device already has a transfer in progress")
	ErrWriteBufferTooSmall = errors.New("spi: write buffer smaller than bytes to send")
	ErrReadBufferTooSmall  = errors.New("spi: read buffer smaller than bytes to read")
	ErrNotRegistered       = errors.New("spi: device not registered with a manager")
	ErrTooManyDevices      = errors.New("spi: device table full")
	ErrManagerBusy         = errors.New("spi: manager is processing")
)

// Transfer outcomes reported through Device.Err
var (
	ErrModeFault   = errors.New("spi: mode fault")
	ErrOverflow    = errors.New("spi: receive overrun")
	ErrCanceled    = errors.New("spi: transfer canceled")
	ErrBusDisabled = errors.New("spi: bus disabled during transfer")
)

// Blocking helpers
var (
	ErrDrainTimeout = errors.New("spi: shift register did not drain")
	ErrTimeout      = errors.New("spi: transfer timed out")
)

// faultError maps transport status bits to the error stored on the device
func faultError(status SPIStatus) error {
	if status&StatusModeFault != 0 {
		return ErrModeFault
	}
	return ErrOverflow
}
