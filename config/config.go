// Package config loads the bus description used by the host tool
package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"spiman/core"
)

// Transport kinds
const (
	TransportSpidev = "spidev"
	TransportBridge = "bridge"
	TransportMock   = "mock"
)

// BusConfig describes one SPI bus and the devices wired to it
type BusConfig struct {
	Transport string `json:"transport"`
	Port      string `json:"port"` // spidev port name or serial device path
	Baud      int    `json:"baud"` // bridge only
	Rate      uint32 `json:"rate"` // clock in Hz
	Mode      uint8  `json:"mode"`
	LSBFirst  bool   `json:"lsb_first"`

	// ProcessPeriodUS is the interval between Process steps when the host
	// runs the timer scheduler
	ProcessPeriodUS uint32 `json:"process_period_us"`

	// TimeoutMS bounds one bridge round trip
	TimeoutMS int `json:"timeout_ms"`

	Devices []DeviceConfig `json:"devices"`
}

// DeviceConfig describes one chip on the bus
type DeviceConfig struct {
	Name string `json:"name"`

	// CSPin is the GPIO driving the chip select; nil means the transport
	// handles select itself
	CSPin      *uint32 `json:"cs_pin"`
	ActiveHigh bool    `json:"active_high"`

	// BufferSize sizes both transfer buffers
	BufferSize int `json:"buffer_size"`
}

// LoadConfig parses a JSON5 bus description
func LoadConfig(data []byte) (*BusConfig, error) {
	var config BusConfig

	if err := json5.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "parse bus config")
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFile reads and parses the bus description at path
func LoadFile(path string) (*BusConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read bus config")
	}
	cfg, err := LoadConfig(data)
	return cfg, errors.Wrap(err, path)
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *BusConfig) {
	if config.Transport == "" {
		config.Transport = TransportSpidev
	}
	if config.Rate == 0 {
		config.Rate = 1000000 // 1 MHz
	}
	if config.Baud == 0 {
		config.Baud = 250000
	}
	if config.ProcessPeriodUS == 0 {
		config.ProcessPeriodUS = 100
	}
	if config.TimeoutMS == 0 {
		config.TimeoutMS = 500
	}

	for i := range config.Devices {
		if config.Devices[i].BufferSize == 0 {
			config.Devices[i].BufferSize = 64
		}
	}
}

// Validate checks the description for settings the bus cannot honor
func (c *BusConfig) Validate() error {
	switch c.Transport {
	case TransportSpidev, TransportBridge, TransportMock:
	default:
		return errors.Errorf("unknown transport %q", c.Transport)
	}
	if c.Transport == TransportBridge && c.Port == "" {
		return errors.New("bridge transport needs a serial port")
	}
	if c.Mode > 3 {
		return errors.Errorf("spi mode %d out of range", c.Mode)
	}
	if len(c.Devices) == 0 {
		return errors.New("no devices configured")
	}
	if len(c.Devices) > core.MaxDevices {
		return errors.Errorf("%d devices configured, bus supports %d", len(c.Devices), core.MaxDevices)
	}

	seen := make(map[string]bool)
	for i, dev := range c.Devices {
		if dev.Name == "" {
			return errors.Errorf("device %d has no name", i)
		}
		if seen[dev.Name] {
			return errors.Errorf("duplicate device name %q", dev.Name)
		}
		seen[dev.Name] = true
		if dev.BufferSize < 1 {
			return errors.Errorf("device %q: buffer size %d", dev.Name, dev.BufferSize)
		}
	}
	return c.validateSelect()
}

// validateSelect checks that every device gets a select line. A spidev port
// either gives up its single kernel select line when any cs pin is set, or
// keeps it for exactly one device; a bridge only has the remote line.
func (c *BusConfig) validateSelect() error {
	if c.Transport == TransportMock {
		return nil
	}

	var pinned, unpinned []string
	for _, dev := range c.Devices {
		if dev.CSPin != nil {
			pinned = append(pinned, dev.Name)
		} else {
			unpinned = append(unpinned, dev.Name)
		}
	}

	if c.Transport == TransportBridge && len(pinned) > 0 {
		return errors.Errorf("device %q: bridge transport cannot drive cs pins", pinned[0])
	}
	if len(pinned) > 0 && len(unpinned) > 0 {
		return errors.Errorf("device %q has no cs pin but %q does; the port select line is off once any cs pin is set",
			unpinned[0], pinned[0])
	}
	if len(unpinned) > 1 {
		return errors.Errorf("devices %q and %q would share the port select line", unpinned[0], unpinned[1])
	}
	return nil
}

// SPIConfig returns the transport configuration
func (c *BusConfig) SPIConfig() core.SPIConfig {
	ss := core.SSHardware
	for _, dev := range c.Devices {
		if dev.CSPin != nil {
			ss = core.SSSoftware
			break
		}
	}
	return core.SPIConfig{
		Role:      core.RoleMaster,
		Mode:      core.SPIMode(c.Mode),
		Rate:      c.Rate,
		LSBFirst:  c.LSBFirst,
		SSControl: ss,
	}
}

// Device returns the device named name
func (c *BusConfig) Device(name string) (*DeviceConfig, bool) {
	for i := range c.Devices {
		if c.Devices[i].Name == name {
			return &c.Devices[i], true
		}
	}
	return nil, false
}
