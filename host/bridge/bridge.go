// Package bridge carries single-byte SPI exchanges over a serial link.
//
// Bridge is the host end: it implements core.SPIDriver so a core.Manager can
// schedule devices wired to a remote SPI peripheral. Responder is the device
// end: it executes the exchanges against a local core.SPIDriver.
package bridge

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"spiman/core"
	"spiman/protocol"
)

// DefaultTimeout bounds each request/response round trip
const DefaultTimeout = 500 * time.Millisecond

var (
	ErrClosed  = errors.New("bridge: closed")
	ErrTimeout = errors.New("bridge: response timeout")
	ErrRemote  = errors.New("bridge: remote rejected request")
)

// Options configures a Bridge
type Options struct {
	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

type response struct {
	seq  uint8
	id   uint32
	args []uint32
}

// Bridge drives a remote SPI peripheral through a Responder.
// Every TransmitByte is a blocking round trip, so the received byte and the
// completion callbacks are delivered on the caller's goroutine.
type Bridge struct {
	port    io.ReadWriteCloser
	log     *zap.SugaredLogger
	timeout time.Duration

	reqMu sync.Mutex // one request in flight
	seq   uint8

	mu      sync.Mutex
	enabled bool
	rx      byte
	rxFull  bool
	faults  core.SPIStatus // sticky until read by GetStatus

	txEmptyFn  func()
	receivedFn func()

	responses chan response
	closing   chan struct{}
	done      chan struct{}
	readErr   error // set by readLoop before done closes
	closeOnce sync.Once
}

var (
	_ core.SPIDriver = (*Bridge)(nil)
	_ core.Framer    = (*Bridge)(nil)
)

// New starts a bridge over port. The bridge owns port and closes it on Close.
func New(port io.ReadWriteCloser, opts Options) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	b := &Bridge{
		port:      port,
		log:       opts.Logger,
		timeout:   opts.Timeout,
		seq:       protocol.MessageDest,
		responses: make(chan response, 4),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// Init sends the bus configuration to the remote peripheral
func (b *Bridge) Init(cfg core.SPIConfig) error {
	lsb := uint32(0)
	if cfg.LSBFirst {
		lsb = 1
	}
	_, err := b.request(protocol.MsgAck, protocol.MsgConfig, uint32(cfg.Mode), cfg.Rate, lsb)
	return errors.Wrap(err, "configure remote SPI")
}

// Enable arms the remote peripheral. Failures are logged and surface as a
// mode fault on the next status read.
func (b *Bridge) Enable() {
	b.mu.Lock()
	b.rxFull = false
	b.faults = 0
	b.mu.Unlock()

	if _, err := b.request(protocol.MsgAck, protocol.MsgEnable); err != nil {
		b.log.Errorw("enable remote SPI", "error", err)
		b.setFault(core.StatusModeFault)
		return
	}
	b.mu.Lock()
	b.enabled = true
	b.mu.Unlock()
}

func (b *Bridge) Disable() {
	b.mu.Lock()
	b.enabled = false
	b.mu.Unlock()

	if _, err := b.request(protocol.MsgAck, protocol.MsgDisable); err != nil {
		b.log.Warnw("disable remote SPI", "error", err)
	}
}

// BeginFrame asks the remote end to hold its chip select across the next n
// exchanges. A failure faults the bus so the transfer aborts.
func (b *Bridge) BeginFrame(n int) error {
	if n <= 0 {
		return errors.Errorf("frame of %d bytes", n)
	}
	if _, err := b.request(protocol.MsgAck, protocol.MsgSelect, uint32(n)); err != nil {
		b.setFault(core.StatusModeFault)
		return errors.Wrap(err, "assert remote select")
	}
	return nil
}

// EndFrame releases the remote chip select
func (b *Bridge) EndFrame() error {
	_, err := b.request(protocol.MsgAck, protocol.MsgSelect, 0)
	return errors.Wrap(err, "release remote select")
}

// TransmitByte exchanges one byte with the remote bus
func (b *Bridge) TransmitByte(v byte) {
	if !b.Enabled() {
		return
	}

	resp, err := b.request(protocol.MsgXferResponse, protocol.MsgXfer, uint32(v))
	if err != nil {
		b.log.Errorw("remote transfer", "byte", v, "error", err)
		b.setFault(core.StatusModeFault)
		return
	}

	b.mu.Lock()
	if b.rxFull {
		b.faults |= core.StatusOverflow
	}
	b.rx = byte(resp.args[0])
	b.rxFull = true
	b.faults |= core.SPIStatus(resp.args[1]) & (core.StatusModeFault | core.StatusOverflow)
	fn := b.receivedFn
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (b *Bridge) GetReceivedByte() byte {
	b.mu.Lock()
	b.rxFull = false
	v := b.rx
	fn := b.txEmptyFn
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
	return v
}

// Enabled reports whether the remote peripheral accepted Enable
func (b *Bridge) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *Bridge) IsTransmitRegisterEmpty() bool {
	return b.Enabled()
}

// IsTransmitFinished is always true: TransmitByte returns after the response
func (b *Bridge) IsTransmitFinished() bool {
	return true
}

func (b *Bridge) IsReceiveRegisterFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rxFull
}

// GetStatus reports and clears the sticky fault bits
func (b *Bridge) GetStatus() core.SPIStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := b.faults
	b.faults = 0
	if b.enabled {
		status |= core.StatusTxEmpty
	}
	if b.rxFull {
		status |= core.StatusRxNotEmpty
	}
	return status
}

func (b *Bridge) SetTransmitRegisterEmptyCallback(fn func()) {
	b.mu.Lock()
	b.txEmptyFn = fn
	b.mu.Unlock()
}

func (b *Bridge) SetReceivedDataCallback(fn func()) {
	b.mu.Lock()
	b.receivedFn = fn
	b.mu.Unlock()
}

// Close stops the reader and closes the port. A read failure that ended the
// reader earlier is reported along with the close error.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closing)
		err = b.port.Close()
		<-b.done
		err = multierr.Append(err, b.readErr)
	})
	return err
}

func (b *Bridge) setFault(s core.SPIStatus) {
	b.mu.Lock()
	b.faults |= s
	b.mu.Unlock()
}

// request sends one message and waits for the response with the same sequence
func (b *Bridge) request(want uint32, id uint32, args ...uint32) (response, error) {
	b.reqMu.Lock()
	defer b.reqMu.Unlock()

	seq := b.seq
	b.seq = protocol.NextSequence(seq)

	frame, err := protocol.EncodeFrame(seq, protocol.EncodeMessage(id, args...))
	if err != nil {
		return response{}, err
	}
	if _, err := b.port.Write(frame); err != nil {
		return response{}, errors.Wrap(err, "write frame")
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	for {
		select {
		case resp := <-b.responses:
			if resp.seq != seq {
				// Late answer to a request that already timed out
				b.log.Debugw("dropping stale response", "seq", resp.seq, "want", seq)
				continue
			}
			if resp.id != want {
				return resp, errors.Wrapf(protocol.ErrUnexpectedMessage, "got %d, want %d", resp.id, want)
			}
			if resp.id == protocol.MsgAck && resp.args[1] != 0 {
				return resp, errors.Wrapf(ErrRemote, "message %d", resp.args[0])
			}
			return resp, nil
		case <-timer.C:
			return response{}, errors.Wrapf(ErrTimeout, "after %v", b.timeout)
		case <-b.done:
			return response{}, ErrClosed
		}
	}
}

// readLoop decodes frames from the port until it is closed
func (b *Bridge) readLoop() {
	defer close(b.done)

	scanner := protocol.NewFrameScanner(512)
	buf := make([]byte, 256)
	for {
		n, err := b.port.Read(buf)
		if n > 0 {
			scanner.Write(buf[:n])
			b.dispatch(scanner)
		}
		if err != nil {
			select {
			case <-b.closing:
			default:
				if err != io.EOF {
					b.log.Errorw("bridge read failed", "error", err)
					b.readErr = errors.Wrap(err, "bridge read")
				}
			}
			return
		}
	}
}

func (b *Bridge) dispatch(scanner *protocol.FrameScanner) {
	for {
		frame, ok := scanner.Next()
		if !ok {
			return
		}
		id, args, err := decode(frame.Payload)
		if err != nil {
			b.log.Warnw("bad response frame", "seq", frame.Sequence, "error", err)
			continue
		}

		select {
		case b.responses <- response{seq: frame.Sequence, id: id, args: args}:
		case <-b.closing:
			return
		}
	}
}

// decode splits a payload, naming the id in errors
func decode(payload []byte) (uint32, []uint32, error) {
	id, args, err := protocol.DecodeMessage(payload)
	if err != nil {
		return id, nil, errors.Wrapf(err, "message %d", id)
	}
	return id, args, nil
}
