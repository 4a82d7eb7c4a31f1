package core

import "tinygo.org/x/drivers"

// DefaultConnSpins bounds how many Process calls a blocking transfer may take
const DefaultConnSpins = 1 << 16

// Conn presents a registered device as a blocking drivers.SPI, so existing
// TinyGo device drivers can share a scheduled bus. Each call queues one
// transfer and drives the manager until it completes; other queued devices
// are served along the way.
type Conn struct {
	mgr *Manager
	dev *Device

	// Spins bounds the Process calls per transfer
	Spins int
}

var _ drivers.SPI = (*Conn)(nil)

// NewConn returns a blocking view of d
func NewConn(m *Manager, d *Device) *Conn {
	return &Conn{mgr: m, dev: d, Spins: DefaultConnSpins}
}

// Tx sends w and receives into r, exchanging max(len(w), len(r)) bytes
func (c *Conn) Tx(w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		return nil
	}
	if c.dev.State() != StateIdle {
		return ErrDeviceBusy
	}
	if len(w) > len(c.dev.writeBuf) {
		return ErrWriteBufferTooSmall
	}
	copy(c.dev.writeBuf, w)

	if err := c.dev.BeginTransfer(len(w), len(r)); err != nil {
		return err
	}

	for i := 0; !c.dev.IsTransferFinished(); i++ {
		if i >= c.Spins {
			c.mgr.Cancel(c.dev)
			return ErrTimeout
		}
		c.mgr.Process()
	}

	if err := c.dev.Err(); err != nil {
		return err
	}
	copy(r, c.dev.readBuf[:len(r)])
	return nil
}

// Transfer exchanges a single byte
func (c *Conn) Transfer(b byte) (byte, error) {
	var rx [1]byte
	err := c.Tx([]byte{b}, rx[:])
	return rx[0], err
}
