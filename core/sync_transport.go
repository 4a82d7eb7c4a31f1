package core

import "tinygo.org/x/drivers"

// SyncTransport adapts a blocking drivers.SPI (machine.SPI, a bit-banged bus,
// a Linux spidev wrapper) into the byte-level SPIDriver the manager schedules.
// Each TransmitByte completes the exchange immediately, so the received byte
// is ready as soon as it returns.
type SyncTransport struct {
	bus    drivers.SPI
	config SPIConfig

	enabled bool
	rx      byte
	rxFull  bool
	faults  SPIStatus // sticky until read by GetStatus

	txEmptyFn  func()
	receivedFn func()
}

// NewSyncTransport wraps bus. The bus must already be configured.
func NewSyncTransport(bus drivers.SPI) *SyncTransport {
	return &SyncTransport{bus: bus}
}

// Init records the configuration; clocking is owned by the wrapped bus
func (t *SyncTransport) Init(config SPIConfig) error {
	t.config = config
	return nil
}

func (t *SyncTransport) Enable() {
	t.enabled = true
	t.rxFull = false
	t.faults = 0
}

func (t *SyncTransport) Disable() {
	t.enabled = false
}

// TransmitByte runs one full-duplex exchange on the wrapped bus
func (t *SyncTransport) TransmitByte(b byte) {
	if !t.enabled {
		return
	}
	if t.rxFull {
		// Previous byte never read
		t.faults |= StatusOverflow
	}

	rx, err := t.bus.Transfer(b)
	if err != nil {
		t.faults |= StatusModeFault
		return
	}
	t.rx = rx
	t.rxFull = true

	if t.receivedFn != nil {
		t.receivedFn()
	}
}

func (t *SyncTransport) GetReceivedByte() byte {
	t.rxFull = false
	b := t.rx
	if t.txEmptyFn != nil {
		t.txEmptyFn()
	}
	return b
}

func (t *SyncTransport) IsTransmitRegisterEmpty() bool {
	return t.enabled
}

// IsTransmitFinished is always true: nothing is left shifting after TransmitByte
func (t *SyncTransport) IsTransmitFinished() bool {
	return true
}

func (t *SyncTransport) IsReceiveRegisterFull() bool {
	return t.rxFull
}

// GetStatus reports and clears the sticky fault bits
func (t *SyncTransport) GetStatus() SPIStatus {
	status := t.faults
	t.faults = 0
	if t.enabled {
		status |= StatusTxEmpty
	}
	if t.rxFull {
		status |= StatusRxNotEmpty
	}
	return status
}

func (t *SyncTransport) SetTransmitRegisterEmptyCallback(fn func()) {
	t.txEmptyFn = fn
}

func (t *SyncTransport) SetReceivedDataCallback(fn func()) {
	t.receivedFn = fn
}
