// SPI device sessions
// One Device per chip on a shared bus, owned by the Manager it was added to
package core

import "sync/atomic"

// DeviceState is the per-device transfer state
type DeviceState uint32

const (
	StateIdle         DeviceState = iota // No transfer, BeginTransfer allowed
	StateRequestStart                    // Waiting for the manager to grant the bus
	StateSendByte                        // Owns the bus, next byte goes out
	StateReceiveByte                     // Owns the bus, waiting for the clocked-in byte
)

func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestStart:
		return "request-start"
	case StateSendByte:
		return "send-byte"
	case StateReceiveByte:
		return "receive-byte"
	}
	return "unknown"
}

// Device tracks one logical device's transfers on a shared bus.
// The write and read buffers belong to the caller; the device only borrows
// them while a transfer is in flight.
type Device struct {
	index uint8
	mgr   *Manager

	writeBuf []byte
	readBuf  []byte

	numSend int
	numRead int
	count   int // bytes exchanged in the current transfer

	state    uint32 // DeviceState, atomic
	finished uint32 // atomic bool
	cancel   uint32 // atomic bool, cancel requested
	err      error

	sel        SlaveSelectFunc
	onComplete func(*Device)
}

// Index returns the device's slot in its manager
func (d *Device) Index() uint8 {
	return d.index
}

// BeginTransfer queues a transfer exchanging max(numSend, numRead) bytes.
// Bytes past numSend are sent as 0x00; bytes past numRead are discarded.
// No I/O happens here; the manager performs it from Process.
func (d *Device) BeginTransfer(numSend, numRead int) error {
	if d.mgr == nil {
		return ErrNotRegistered
	}
	if numSend < 0 || numRead < 0 {
		return ErrInvalidLength
	}
	if numSend == 0 && numRead == 0 {
		return ErrZeroLength
	}
	if numSend > len(d.writeBuf) {
		return ErrWriteBufferTooSmall
	}
	if numRead > len(d.readBuf) {
		return ErrReadBufferTooSmall
	}

	irq := disableInterrupts()
	defer restoreInterrupts(irq)

	if d.State() != StateIdle {
		return ErrDeviceBusy
	}

	d.numSend = numSend
	d.numRead = numRead
	d.count = 0
	d.err = nil
	atomic.StoreUint32(&d.cancel, 0)
	atomic.StoreUint32(&d.finished, 0)

	// Publishing the state hands the device to the manager
	d.setState(StateRequestStart)

	RecordTrace(EvtBegin, d.index, uint32(numSend), uint32(numRead))
	return nil
}

// IsTransferFinished reports whether the last transfer completed, with or without error.
// The flag stays set until ClearTransferFinished or the next BeginTransfer.
func (d *Device) IsTransferFinished() bool {
	return atomic.LoadUint32(&d.finished) != 0
}

// ClearTransferFinished resets the finished flag
func (d *Device) ClearTransferFinished() {
	atomic.StoreUint32(&d.finished, 0)
}

// IsBusy reports whether the device currently owns the bus
func (d *Device) IsBusy() bool {
	s := d.State()
	return s == StateSendByte || s == StateReceiveByte
}

// IsPending reports whether the device is waiting for the bus
func (d *Device) IsPending() bool {
	return d.State() == StateRequestStart
}

// IsActive reports whether a transfer is queued or in flight, i.e. whether
// BeginTransfer would be refused with ErrDeviceBusy
func (d *Device) IsActive() bool {
	return d.State() != StateIdle
}

// Remaining returns the bytes still to be exchanged in the current transfer
func (d *Device) Remaining() int {
	if d.State() == StateIdle {
		return 0
	}
	return d.total() - d.count
}

// State returns the current transfer state
func (d *Device) State() DeviceState {
	return DeviceState(atomic.LoadUint32(&d.state))
}

// Err returns the outcome of the last finished or canceled transfer
func (d *Device) Err() error {
	return d.err
}

// Count returns the number of bytes exchanged so far.
// After a cancel, ReadBuffer()[:min(Count(), numRead)] holds valid data.
func (d *Device) Count() int {
	return d.count
}

// WriteBuffer returns the borrowed write buffer
func (d *Device) WriteBuffer() []byte {
	return d.writeBuf
}

// ReadBuffer returns the borrowed read buffer
func (d *Device) ReadBuffer() []byte {
	return d.readBuf
}

// SetSlaveSelect replaces the chip-select strategy. Only valid while idle.
func (d *Device) SetSlaveSelect(fn SlaveSelectFunc) {
	d.sel = fn
}

// SetCompletionCallback registers fn to run each time a transfer ends
// (finished, faulted or canceled). It runs inside the manager, possibly in
// interrupt context, after the device is back to idle.
func (d *Device) SetCompletionCallback(fn func(*Device)) {
	d.onComplete = fn
}

func (d *Device) setState(s DeviceState) {
	atomic.StoreUint32(&d.state, uint32(s))
}

func (d *Device) total() int {
	if d.numSend > d.numRead {
		return d.numSend
	}
	return d.numRead
}

// nextOut returns the byte for the current cursor, padding once the write data runs out
func (d *Device) nextOut() byte {
	if d.count < d.numSend {
		return d.writeBuf[d.count]
	}
	return 0x00
}

func (d *Device) selectLine(high bool) {
	if d.sel != nil {
		d.sel(high)
	}
}
