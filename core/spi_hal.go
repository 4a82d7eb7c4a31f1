package core

// SPIMode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// SPIRole selects whether the peripheral drives the clock
type SPIRole uint8

const (
	RoleMaster SPIRole = iota
	RoleSlave
)

// SSControl describes who drives the slave-select line of a bus
type SSControl uint8

const (
	SSNone     SSControl = iota // No select line (single device or external logic)
	SSHardware                  // Peripheral toggles select automatically
	SSSoftware                  // Select is driven per device through a SlaveSelectFunc
)

// SPIConfig holds the configuration for one SPI peripheral instance.
// Every transport keeps its own copy; nothing here is shared between buses.
type SPIConfig struct {
	Role      SPIRole   // Master or slave
	Mode      SPIMode   // SPI mode (0-3)
	Rate      uint32    // Clock rate in Hz
	LSBFirst  bool      // Bit order, MSB first by default
	SSControl SSControl // Slave-select strategy for the bus
}

// SPIStatus is the status bit set reported by a transport
type SPIStatus uint8

const (
	StatusBusy       SPIStatus = 1 << 0 // Shift register active
	StatusTxEmpty    SPIStatus = 1 << 1 // Transmit register can accept a byte
	StatusRxNotEmpty SPIStatus = 1 << 2 // Receive register holds a byte
	StatusModeFault  SPIStatus = 1 << 3 // Another master pulled select low
	StatusOverflow   SPIStatus = 1 << 4 // Receive register overrun
)

// Fault reports whether the status carries a condition that aborts a transfer
func (s SPIStatus) Fault() bool {
	return s&(StatusModeFault|StatusOverflow) != 0
}

// SPIDriver is the byte-level SPI interface that the bus manager drives.
// Platform-specific implementations handle actual hardware control.
// None of the methods may block.
type SPIDriver interface {
	// Init applies a configuration; called before Enable
	Init(config SPIConfig) error

	// Enable arms the peripheral
	Enable()

	// Disable turns the peripheral off
	Disable()

	// TransmitByte loads one byte into the transmit register
	TransmitByte(b byte)

	// GetReceivedByte reads the receive register
	GetReceivedByte() byte

	// IsTransmitRegisterEmpty reports whether TransmitByte may be called
	IsTransmitRegisterEmpty() bool

	// IsTransmitFinished reports whether the shift register is idle
	IsTransmitFinished() bool

	// IsReceiveRegisterFull reports whether a received byte is waiting
	IsReceiveRegisterFull() bool

	// GetStatus returns the current status bits
	GetStatus() SPIStatus

	// SetTransmitRegisterEmptyCallback registers the "tx register empty" handler.
	// May be invoked from interrupt context.
	SetTransmitRegisterEmptyCallback(fn func())

	// SetReceivedDataCallback registers the "data received" handler.
	// May be invoked from interrupt context.
	SetReceivedDataCallback(fn func())
}
