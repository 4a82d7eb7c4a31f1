// SPI bus manager
// Multiplexes one byte-level SPI peripheral across several devices, serving
// one transfer at a time in round-robin order. All I/O happens one byte per
// step from Process or from the transport's completion callbacks, so every
// call returns in bounded time and is safe from a main loop or a timer tick.
package core

import "sync/atomic"

const (
	// MaxDevices is the size of a manager's device table
	MaxDevices = 8

	// DefaultDrainSpins bounds the hardware drain wait in Disable
	DefaultDrainSpins = 10000
)

// ManagerStats counts bus activity. Fields are updated atomically.
type ManagerStats struct {
	Transfers uint32 // Transfers that completed normally
	Faults    uint32 // Transfers aborted by a transport fault
	Canceled  uint32 // Transfers canceled or aborted by Disable
	Deferred  uint32 // Events deferred by the re-entrancy guard
	MaxDepth  uint32 // Deepest observed nesting of manager entry points
}

// Manager owns one SPI peripheral and schedules the devices registered on it
type Manager struct {
	driver SPIDriver
	config SPIConfig

	devices [MaxDevices]Device
	count   int
	last    int   // slot served most recently; the scan starts after it
	active  int32 // slot owning the bus, -1 when idle (atomic)

	enabled uint32 // atomic bool
	locked  uint32 // atomic bool, see reconcile.go
	pending uint32 // deferred event bits (atomic)
	depth   uint32 // current entry nesting (atomic)
	cancels uint32 // a device has a cancel request (atomic)
	abort   uint32 // abort the active transfer, set by Disable (atomic)

	stats ManagerStats

	// Periodic processing (see scheduler.go)
	timer  Timer
	period uint32

	// DrainSpins bounds the wait for the shift register in Disable
	DrainSpins int
}

// NewManager binds a manager to driver and registers its completion callbacks.
// The driver must not be shared with another manager.
func NewManager(driver SPIDriver) *Manager {
	m := &Manager{
		driver:     driver,
		last:       -1,
		active:     -1,
		DrainSpins: DefaultDrainSpins,
	}
	driver.SetTransmitRegisterEmptyCallback(m.onTransmitEmpty)
	driver.SetReceivedDataCallback(m.onReceived)
	return m
}

// Configure applies cfg to the underlying driver
func (m *Manager) Configure(cfg SPIConfig) error {
	if err := m.driver.Init(cfg); err != nil {
		return err
	}
	m.config = cfg
	return nil
}

// Config returns the configuration last applied with Configure
func (m *Manager) Config() SPIConfig {
	return m.config
}

// AddDevice registers a device using the caller's buffers and chip-select strategy.
// Either buffer may be nil for devices that only write or only read.
func (m *Manager) AddDevice(writeBuf, readBuf []byte, sel SlaveSelectFunc) (*Device, error) {
	if !m.tryLock() {
		return nil, ErrManagerBusy
	}
	defer m.unlock()

	if m.count >= MaxDevices {
		return nil, ErrTooManyDevices
	}

	d := &m.devices[m.count]
	*d = Device{
		index:    uint8(m.count),
		mgr:      m,
		writeBuf: writeBuf,
		readBuf:  readBuf,
		sel:      sel,
	}
	m.count++

	if m.Enabled() {
		d.selectLine(true)
	}
	return d, nil
}

// Device returns the device in slot i, or nil
func (m *Manager) Device(i int) *Device {
	if i < 0 || i >= m.count {
		return nil
	}
	return &m.devices[i]
}

// NumDevices returns the number of registered devices
func (m *Manager) NumDevices() int {
	return m.count
}

// Enable arms the driver and parks every idle select line at its inactive level
func (m *Manager) Enable() {
	m.driver.Enable()
	for i := 0; i < m.count; i++ {
		if d := &m.devices[i]; !d.IsBusy() {
			d.selectLine(true)
		}
	}
	atomic.StoreUint32(&m.enabled, 1)
	RecordTrace(EvtEnable, 0xFF, 1, 0)
}

// Disable stops scheduling, waits for the byte on the wire to finish shifting,
// aborts the transfer that owned the bus and turns the driver off.
// Pending requests stay queued and resume after Enable.
func (m *Manager) Disable() error {
	atomic.StoreUint32(&m.enabled, 0)

	var err error
	drained := false
	for i := 0; i < m.DrainSpins; i++ {
		if m.driver.IsTransmitFinished() {
			drained = true
			break
		}
	}
	if !drained {
		err = ErrDrainTimeout
		DebugPrintln("[SPI] disable: shift register still busy after " + utoa(uint32(m.DrainSpins)) + " polls")
	}

	atomic.StoreUint32(&m.abort, 1)
	if m.tryLock() {
		m.applyAbort()
		m.unlock()
	} else {
		m.deferEvent(eventProcess)
	}

	m.driver.Disable()
	RecordTrace(EvtEnable, 0xFF, 0, boolToU32(drained))
	return err
}

// Enabled reports whether the manager is scheduling transfers
func (m *Manager) Enabled() bool {
	return atomic.LoadUint32(&m.enabled) != 0
}

// Busy reports whether a device currently owns the bus
func (m *Manager) Busy() bool {
	return atomic.LoadInt32(&m.active) >= 0
}

// Active returns the device owning the bus, or nil
func (m *Manager) Active() *Device {
	idx := atomic.LoadInt32(&m.active)
	if idx < 0 {
		return nil
	}
	return &m.devices[idx]
}

// Cancel aborts d's queued or in-flight transfer. The select line is released
// and the device returns to idle without setting its finished flag; data read
// before the cancel stays in the read buffer up to d.Count().
func (m *Manager) Cancel(d *Device) {
	if d == nil || d.mgr != m {
		return
	}
	atomic.StoreUint32(&d.cancel, 1)
	atomic.StoreUint32(&m.cancels, 1)
	if m.tryLock() {
		m.applyCancels()
		m.unlock()
	} else {
		m.deferEvent(eventProcess)
	}
}

// Stats returns a snapshot of the bus counters
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Transfers: atomic.LoadUint32(&m.stats.Transfers),
		Faults:    atomic.LoadUint32(&m.stats.Faults),
		Canceled:  atomic.LoadUint32(&m.stats.Canceled),
		Deferred:  atomic.LoadUint32(&m.stats.Deferred),
		MaxDepth:  atomic.LoadUint32(&m.stats.MaxDepth),
	}
}

// Process advances the bus by one step: it replays deferred events, then
// either starts the next queued device or moves the active transfer forward
// by at most one byte. Call it repeatedly from the main loop or a timer.
func (m *Manager) Process() {
	m.enter()
	defer m.leave()

	if !m.tryLock() {
		m.deferEvent(eventProcess)
		return
	}
	m.replay()
	m.step()
	m.unlock()
}

// step runs the state machine once; caller holds the lock
func (m *Manager) step() {
	if atomic.LoadUint32(&m.cancels) != 0 {
		m.applyCancels()
	}
	if atomic.LoadUint32(&m.abort) != 0 {
		m.applyAbort()
	}
	if !m.Enabled() {
		return
	}

	idx := atomic.LoadInt32(&m.active)
	if idx < 0 {
		if idx = m.start(); idx < 0 {
			return
		}
	}
	d := &m.devices[idx]

	if status := m.driver.GetStatus(); status.Fault() {
		atomic.AddUint32(&m.stats.Faults, 1)
		RecordTrace(EvtFault, d.index, uint32(status), uint32(d.count))
		DebugPrintln("[SPI] fault dev=" + utoa(uint32(d.index)) + " status=0x" + hex8(byte(status)))
		m.release(d, faultError(status), true)
		return
	}

	switch d.State() {
	case StateSendByte:
		if !m.driver.IsTransmitRegisterEmpty() {
			return
		}
		b := d.nextOut()
		// The driver may report the received byte before TransmitByte returns
		d.setState(StateReceiveByte)
		m.driver.TransmitByte(b)
		RecordTrace(EvtTxByte, d.index, uint32(d.count), uint32(b))

	case StateReceiveByte:
		if !m.driver.IsReceiveRegisterFull() {
			return
		}
		b := m.driver.GetReceivedByte()
		if d.count < d.numRead {
			d.readBuf[d.count] = b
		}
		RecordTrace(EvtRxByte, d.index, uint32(d.count), uint32(b))
		d.count++

		if d.count >= d.total() {
			atomic.AddUint32(&m.stats.Transfers, 1)
			m.release(d, nil, true)
			return
		}
		d.setState(StateSendByte)
	}
}

// start grants the bus to the first queued device after the last one served
func (m *Manager) start() int32 {
	for i := 1; i <= m.count; i++ {
		idx := (m.last + i) % m.count
		d := &m.devices[idx]
		if d.State() != StateRequestStart {
			continue
		}

		m.last = idx
		atomic.StoreInt32(&m.active, int32(idx))
		d.count = 0
		d.selectLine(false)
		d.setState(StateSendByte)
		RecordTrace(EvtSelect, d.index, uint32(d.numSend), uint32(d.numRead))
		return int32(idx)
	}
	return -1
}

// release ends d's transfer; caller holds the lock
func (m *Manager) release(d *Device, err error, finished bool) {
	if atomic.LoadInt32(&m.active) == int32(d.index) {
		d.selectLine(true)
		atomic.StoreInt32(&m.active, -1)
	}

	d.err = err
	if finished {
		atomic.StoreUint32(&d.finished, 1)
	}
	d.setState(StateIdle)
	RecordTrace(EvtFinish, d.index, uint32(d.count), boolToU32(err == nil))

	if d.onComplete != nil {
		d.onComplete(d)
	}
}

// applyCancels handles cancel requests; caller holds the lock
func (m *Manager) applyCancels() {
	atomic.StoreUint32(&m.cancels, 0)
	for i := 0; i < m.count; i++ {
		d := &m.devices[i]
		if atomic.SwapUint32(&d.cancel, 0) == 0 || d.State() == StateIdle {
			continue
		}
		atomic.AddUint32(&m.stats.Canceled, 1)
		RecordTrace(EvtCancel, d.index, uint32(d.count), 0)
		m.release(d, ErrCanceled, false)
	}
}

// applyAbort ends the active transfer after Disable; caller holds the lock
func (m *Manager) applyAbort() {
	if atomic.SwapUint32(&m.abort, 0) == 0 {
		return
	}
	idx := atomic.LoadInt32(&m.active)
	if idx < 0 {
		return
	}
	atomic.AddUint32(&m.stats.Canceled, 1)
	m.release(&m.devices[idx], ErrBusDisabled, true)
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
