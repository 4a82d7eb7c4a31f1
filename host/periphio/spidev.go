// Package periphio runs a bus manager on Linux spidev and sysfs GPIO through
// periph.io.
package periphio

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"spiman/core"
)

// Init loads the periph.io host drivers. Call once before Open.
func Init() error {
	_, err := host.Init()
	return errors.Wrap(err, "periph host init")
}

// Port is an open spidev port usable as a drivers.SPI, ready to be wrapped
// with core.NewSyncTransport.
type Port struct {
	closer spi.PortCloser
	conn   spi.Conn

	frame int // exchanges left in the open kernel select frame
}

var (
	_ drivers.SPI = (*Port)(nil)
	_ core.Framer = (*Port)(nil)
)

// Open connects to the spidev port name ("SPI0.0", "/dev/spidev0.0", or ""
// for the first one) with cfg's mode and rate. With gpioSelect set the kernel
// leaves its own chip-select line alone so GPIO select lines can frame
// transfers longer than one byte.
func Open(name string, cfg core.SPIConfig, gpioSelect bool) (*Port, error) {
	p, err := spireg.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open spi port %q", name)
	}

	conn, err := p.Connect(physic.Hertz*physic.Frequency(cfg.Rate), modeFlags(cfg, gpioSelect), 8)
	if err != nil {
		_ = p.Close()
		return nil, errors.Wrapf(err, "connect spi port %q", name)
	}
	return &Port{closer: p, conn: conn}, nil
}

func modeFlags(cfg core.SPIConfig, gpioSelect bool) spi.Mode {
	mode := spi.Mode(cfg.Mode & 0x3)
	if cfg.LSBFirst {
		mode |= spi.LSBFirst
	}
	if gpioSelect {
		mode |= spi.NoCS
	}
	return mode
}

// Tx runs one full-duplex transaction
func (p *Port) Tx(w, r []byte) error {
	return p.conn.Tx(w, r)
}

// Transfer exchanges one byte. Outside a frame the kernel pulses its chip
// select around the byte; inside one select stays asserted until the frame's
// last byte.
func (p *Port) Transfer(b byte) (byte, error) {
	var r [1]byte
	w := []byte{b}

	if p.frame == 0 {
		if err := p.conn.Tx(w, r[:]); err != nil {
			return 0, err
		}
		return r[0], nil
	}

	p.frame--
	if err := p.conn.TxPackets([]spi.Packet{{W: w, R: r[:], KeepCS: p.frame > 0}}); err != nil {
		p.frame = 0
		return 0, err
	}
	return r[0], nil
}

// BeginFrame holds the kernel chip select across the next n Transfer calls
func (p *Port) BeginFrame(n int) error {
	if n < 0 {
		return errors.Errorf("frame of %d bytes", n)
	}
	p.frame = n
	return nil
}

// EndFrame drops the kernel chip select of an unfinished frame. spidev only
// releases select at the end of a packet, so one 0x00 byte is clocked out.
func (p *Port) EndFrame() error {
	if p.frame == 0 {
		return nil
	}
	p.frame = 1
	_, err := p.Transfer(0x00)
	return errors.Wrap(err, "close select frame")
}

// Close releases the port
func (p *Port) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
