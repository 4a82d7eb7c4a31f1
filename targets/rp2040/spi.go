//go:build rp2040

package main

import (
	"errors"
	"machine"

	"spiman/core"
)

// SPI pin groups usable on the RP2040.
// Each group names the controller and the GPIOs routed to it.
type spiPins struct {
	spi  *machine.SPI
	sck  machine.Pin
	sdo  machine.Pin
	sdi  machine.Pin
	name string
}

var spiPinGroups = [...]spiPins{
	{spi: machine.SPI0, sck: machine.GPIO2, sdo: machine.GPIO3, sdi: machine.GPIO0, name: "spi0a"},
	{spi: machine.SPI0, sck: machine.GPIO6, sdo: machine.GPIO7, sdi: machine.GPIO4, name: "spi0b"},
	{spi: machine.SPI0, sck: machine.GPIO18, sdo: machine.GPIO19, sdi: machine.GPIO16, name: "spi0c"},
	{spi: machine.SPI0, sck: machine.GPIO22, sdo: machine.GPIO23, sdi: machine.GPIO20, name: "spi0d"},
	{spi: machine.SPI1, sck: machine.GPIO10, sdo: machine.GPIO11, sdi: machine.GPIO8, name: "spi1a"},
	{spi: machine.SPI1, sck: machine.GPIO14, sdo: machine.GPIO15, sdi: machine.GPIO12, name: "spi1b"},
	{spi: machine.SPI1, sck: machine.GPIO26, sdo: machine.GPIO27, sdi: machine.GPIO24, name: "spi1c"},
}

var errPinGroup = errors.New("spi: invalid pin group")

// pinGroup looks up a pin group by name
func pinGroup(name string) (spiPins, error) {
	for _, g := range spiPinGroups {
		if g.name == name {
			return g, nil
		}
	}
	return spiPins{}, errPinGroup
}

// newHardwareTransport configures the group's controller and wraps it in a
// SyncTransport. Select lines are driven by the manager, never by the controller.
func newHardwareTransport(group spiPins, cfg core.SPIConfig) (*core.SyncTransport, error) {
	if cfg.Mode > 3 {
		return nil, errors.New("spi: invalid mode")
	}

	err := group.spi.Configure(machine.SPIConfig{
		Frequency: cfg.Rate,
		SCK:       group.sck,
		SDO:       group.sdo,
		SDI:       group.sdi,
		Mode:      uint8(cfg.Mode),
		LSBFirst:  cfg.LSBFirst,
	})
	if err != nil {
		return nil, err
	}
	return core.NewSyncTransport(group.spi), nil
}
