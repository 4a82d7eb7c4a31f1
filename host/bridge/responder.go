package bridge

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"spiman/core"
	"spiman/protocol"
)

// DefaultResponderSpins bounds the wait for a received byte per exchange
const DefaultResponderSpins = 100000

// Responder serves bridge requests against a local SPI driver
type Responder struct {
	driver  core.SPIDriver
	log     *zap.SugaredLogger
	scanner *protocol.FrameScanner

	// Spins bounds the receive poll for each exchanged byte
	Spins int

	// Framer holds the local chip select across a select request. Without
	// one, select requests are acknowledged and every byte stands alone.
	Framer core.Framer
}

// NewResponder serves requests on driver
func NewResponder(driver core.SPIDriver, log *zap.SugaredLogger) *Responder {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Responder{
		driver:  driver,
		log:     log,
		scanner: protocol.NewFrameScanner(512),
		Spins:   DefaultResponderSpins,
	}
}

// Serve reads requests from rw and writes responses until rw reaches EOF or
// ctx is done. ctx is checked between reads.
func (r *Responder) Serve(ctx context.Context, rw io.ReadWriter) error {
	buf := make([]byte, 256)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := rw.Read(buf)
		if n > 0 {
			r.scanner.Write(buf[:n])
			if werr := r.drain(rw); werr != nil {
				return werr
			}
		}
		if err == io.EOF || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "responder read")
		}
	}
}

func (r *Responder) drain(w io.Writer) error {
	for {
		frame, ok := r.scanner.Next()
		if !ok {
			return nil
		}
		payload, err := r.handle(frame.Payload)
		if err != nil {
			r.log.Warnw("dropping request", "seq", frame.Sequence, "error", err)
			continue
		}

		out, err := protocol.EncodeFrame(frame.Sequence, payload)
		if err != nil {
			return err
		}
		if _, err := w.Write(out); err != nil {
			return errors.Wrap(err, "responder write")
		}
	}
}

// handle executes one request and returns the response payload
func (r *Responder) handle(payload []byte) ([]byte, error) {
	id, args, err := decode(payload)
	if err != nil {
		return nil, err
	}

	switch id {
	case protocol.MsgConfig:
		cfg := core.SPIConfig{
			Role:     core.RoleMaster,
			Mode:     core.SPIMode(args[0]),
			Rate:     args[1],
			LSBFirst: args[2] != 0,
		}
		if err := r.driver.Init(cfg); err != nil {
			r.log.Errorw("init failed", "mode", args[0], "rate", args[1], "error", err)
			return ack(id, 1), nil
		}
		return ack(id, 0), nil

	case protocol.MsgEnable:
		r.driver.Enable()
		return ack(id, 0), nil

	case protocol.MsgDisable:
		r.driver.Disable()
		return ack(id, 0), nil

	case protocol.MsgSelect:
		if r.Framer == nil {
			return ack(id, 0), nil
		}
		var err error
		if args[0] == 0 {
			err = r.Framer.EndFrame()
		} else {
			err = r.Framer.BeginFrame(int(args[0]))
		}
		if err != nil {
			r.log.Errorw("select failed", "frame", args[0], "error", err)
			return ack(id, 1), nil
		}
		return ack(id, 0), nil

	case protocol.MsgXfer:
		rx, status := r.exchange(byte(args[0]))
		return protocol.EncodeMessage(protocol.MsgXferResponse, uint32(rx), uint32(status)), nil
	}
	return nil, errors.Wrapf(protocol.ErrUnexpectedMessage, "request id %d", id)
}

// exchange clocks one byte through the local driver
func (r *Responder) exchange(v byte) (byte, core.SPIStatus) {
	for i := 0; !r.driver.IsTransmitRegisterEmpty(); i++ {
		if i >= r.Spins {
			return 0, core.StatusModeFault
		}
	}
	r.driver.TransmitByte(v)

	for i := 0; !r.driver.IsReceiveRegisterFull(); i++ {
		if status := r.driver.GetStatus(); status.Fault() || i >= r.Spins {
			return 0, status | core.StatusModeFault
		}
	}
	rx := r.driver.GetReceivedByte()
	return rx, r.driver.GetStatus() & (core.StatusModeFault | core.StatusOverflow)
}

func ack(id uint32, result uint32) []byte {
	return protocol.EncodeMessage(protocol.MsgAck, id, result)
}
