// Package serial opens the serial link to an SPI bridge device
package serial

import (
	"io"
)

// Port is the byte stream a bridge runs over.
// Native ports use github.com/tarm/serial; tests use net.Pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string `json:"device"`

	// Baud rate, ignored by USB CDC devices
	Baud int `json:"baud"`

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int `json:"read_timeout_ms"`
}

// DefaultConfig returns the bridge defaults for device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100,
	}
}
