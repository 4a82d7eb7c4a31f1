//go:build !wasm

package serial

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// NativePort wraps the tarm/serial implementation
type NativePort struct {
	port   *serial.Port
	cfg    *Config
	closed atomic.Bool
}

// Open opens a native serial port
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, errors.New("serial: config cannot be nil")
	}
	if cfg.Device == "" {
		return nil, errors.New("serial: no device path")
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Device)
	}

	return &NativePort{port: port, cfg: cfg}, nil
}

// Read returns (0, nil) when a read timeout expires with no data; the
// underlying port reports that as io.EOF.
func (p *NativePort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && err == io.EOF && p.cfg.ReadTimeout > 0 && !p.closed.Load() {
		return 0, nil
	}
	return n, err
}

func (p *NativePort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *NativePort) Close() error {
	if p.port == nil || p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}

// Flush discards unread input so a restarted bridge does not see stale frames
func (p *NativePort) Flush() error {
	return p.port.Flush()
}
