//go:build rp2040

package main

// PIO byte transport
// Clocks SPI mode 0 from one PIO state machine. The FIFOs stand in for the
// transmit and receive registers, so the manager can poll them without blocking.

import (
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"spiman/core"
)

// buildSPIProgram returns the CPHA=0 program: data out on the falling edge,
// sampled on the rising edge. SCK is driven by side-set.
func buildSPIProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 1}
	return []uint16{
		// .wrap_target
		asm.Out(rp2pio.OutDestPins, 1).Side(0).Delay(1).Encode(), // 0: out pins, 1 side 0 [1]
		asm.In(rp2pio.InSrcPins, 1).Side(1).Delay(1).Encode(),    // 1: in pins, 1 side 1 [1]
		// .wrap
	}
}

const spiPIOOrigin = -1 // Any free offset, the program has no jumps

// PIOTransport implements core.SPIDriver on a PIO state machine
type PIOTransport struct {
	pio    *rp2pio.PIO
	sm     rp2pio.StateMachine
	pins   spiPins
	offset uint8

	config  core.SPIConfig
	enabled bool
	pending uint8 // bytes pushed but not yet read back

	txEmptyFn  func()
	receivedFn func()
}

// NewPIOTransport binds a transport to state machine smNum of PIO pioNum
func NewPIOTransport(pioNum, smNum uint8, pins spiPins) *PIOTransport {
	pioHW := rp2pio.PIO0
	if pioNum != 0 {
		pioHW = rp2pio.PIO1
	}
	return &PIOTransport{
		pio:  pioHW,
		sm:   pioHW.StateMachine(smNum),
		pins: pins,
	}
}

// Init loads the program and configures pins and clock for cfg.
// Only mode 0 is supported.
func (t *PIOTransport) Init(cfg core.SPIConfig) error {
	if cfg.Mode != 0 {
		return errors.New("pio spi: only mode 0 is supported")
	}
	if cfg.Rate == 0 {
		return errors.New("pio spi: zero clock rate")
	}

	// Two PIO cycles per half bit
	whole, frac, err := rp2pio.ClkDivFromFrequency(cfg.Rate*4, machine.CPUFrequency())
	if err != nil {
		return err
	}

	t.sm.TryClaim()

	program := buildSPIProgram()
	offset, err := t.pio.AddProgram(program, spiPIOOrigin)
	if err != nil {
		return err
	}
	t.offset = offset

	pinCfg := machine.PinConfig{Mode: t.pio.PinMode()}
	t.pins.sck.Configure(pinCfg)
	t.pins.sdo.Configure(pinCfg)
	t.pins.sdi.Configure(pinCfg)

	smCfg := rp2pio.DefaultStateMachineConfig()
	smCfg.SetWrap(offset+uint8(len(program))-1, offset)
	smCfg.SetSidesetParams(1, false, false)
	smCfg.SetOutPins(t.pins.sdo, 1)
	smCfg.SetInPins(t.pins.sdi)
	smCfg.SetSidesetPins(t.pins.sck)

	// Autopush and autopull every 8 bits. Shifting right sends LSB first.
	smCfg.SetOutShift(cfg.LSBFirst, true, 8)
	smCfg.SetInShift(cfg.LSBFirst, true, 8)
	smCfg.SetClkDivIntFrac(whole, frac)

	t.sm.Init(offset, smCfg)

	// SCK and SDO idle low, SDI is an input
	outMask := uint32(1)<<t.pins.sck | uint32(1)<<t.pins.sdo
	inMask := uint32(1) << t.pins.sdi
	t.sm.SetPinsMasked(0, outMask)
	t.sm.SetPindirsMasked(outMask, outMask|inMask)

	t.config = cfg
	return nil
}

func (t *PIOTransport) Enable() {
	t.sm.ClearFIFOs()
	t.sm.Restart()
	t.pending = 0
	t.sm.SetEnabled(true)
	t.enabled = true
}

func (t *PIOTransport) Disable() {
	t.enabled = false
	t.sm.SetEnabled(false)
	t.sm.ClearFIFOs()
	t.pending = 0
}

// TransmitByte pushes b to the TX FIFO; the state machine starts clocking at once
func (t *PIOTransport) TransmitByte(b byte) {
	if !t.enabled || t.sm.IsTxFIFOFull() {
		return
	}
	if t.config.LSBFirst {
		t.sm.TxPut(uint32(b))
	} else {
		// Shift-left OUT takes bits from the top of the word
		t.sm.TxPut(uint32(b) << 24)
	}
	t.pending++
}

func (t *PIOTransport) GetReceivedByte() byte {
	if t.sm.IsRxFIFOEmpty() {
		return 0
	}
	word := t.sm.RxGet()
	if t.pending > 0 {
		t.pending--
	}
	if t.txEmptyFn != nil {
		t.txEmptyFn()
	}
	if t.config.LSBFirst {
		// Shift-right IN fills from the top of the word
		return byte(word >> 24)
	}
	return byte(word)
}

// IsTransmitRegisterEmpty allows one byte in flight at a time
func (t *PIOTransport) IsTransmitRegisterEmpty() bool {
	return t.enabled && t.pending == 0 && !t.sm.IsTxFIFOFull()
}

// IsTransmitFinished reports whether no byte is left on the wire
func (t *PIOTransport) IsTransmitFinished() bool {
	return t.pending == 0 || !t.sm.IsRxFIFOEmpty()
}

func (t *PIOTransport) IsReceiveRegisterFull() bool {
	return !t.sm.IsRxFIFOEmpty()
}

func (t *PIOTransport) GetStatus() core.SPIStatus {
	var status core.SPIStatus
	if !t.IsTransmitFinished() {
		status |= core.StatusBusy
	}
	if t.IsTransmitRegisterEmpty() {
		status |= core.StatusTxEmpty
	}
	if !t.sm.IsRxFIFOEmpty() {
		status |= core.StatusRxNotEmpty
	}
	return status
}

func (t *PIOTransport) SetTransmitRegisterEmptyCallback(fn func()) {
	t.txEmptyFn = fn
}

func (t *PIOTransport) SetReceivedDataCallback(fn func()) {
	t.receivedFn = fn
}

// Poll fires the received-data callback when a byte has been clocked in.
// Call it from the main loop; the state machine raises no interrupt.
func (t *PIOTransport) Poll() {
	if t.receivedFn != nil && t.pending > 0 && !t.sm.IsRxFIFOEmpty() {
		t.receivedFn()
	}
}
