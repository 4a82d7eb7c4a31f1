package main

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"spiman/config"
	"spiman/core"
	"spiman/host/bridge"
	"spiman/host/periphio"
	"spiman/host/serial"
)

// bus is a configured manager with one device per configured chip
type bus struct {
	cfg     *config.BusConfig
	mgr     *core.Manager
	devices map[string]*core.Device
	closers []io.Closer
	log     *zap.SugaredLogger

	// framer holds the transport's own chip select across a transfer for
	// devices without a cs pin; nil when the transport has none
	framer core.Framer
}

// loopback is the mock transport's wire: every byte comes back unchanged.
// It keeps a select line of its own the way spidev does, counting frames.
type loopback struct {
	frame  int // bytes left in the open frame
	frames int
}

func (l *loopback) Transfer(b byte) (byte, error) {
	if l.frame == 0 {
		l.frames++
	} else {
		l.frame--
	}
	return b, nil
}

func (l *loopback) Tx(w, r []byte) error {
	l.frames++
	copy(r, w)
	return nil
}

func (l *loopback) BeginFrame(n int) error {
	l.frames++
	l.frame = n
	return nil
}

func (l *loopback) EndFrame() error {
	l.frame = 0
	return nil
}

// openBus builds the transport named by cfg and registers its devices
func openBus(cfg *config.BusConfig, log *zap.SugaredLogger) (_ *bus, err error) {
	b := &bus{
		cfg:     cfg,
		devices: make(map[string]*core.Device),
		log:     log,
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.closeTransport())
		}
	}()

	spiCfg := cfg.SPIConfig()
	driver, gpio, err := b.openDriver(spiCfg)
	if err != nil {
		return nil, err
	}

	b.mgr = core.NewManager(driver)
	if err := b.mgr.Configure(spiCfg); err != nil {
		return nil, errors.Wrap(err, "configure bus")
	}

	for _, devCfg := range cfg.Devices {
		sel, err := b.selectFor(devCfg, gpio)
		if err != nil {
			return nil, errors.Wrapf(err, "device %q", devCfg.Name)
		}
		dev, err := b.mgr.AddDevice(make([]byte, devCfg.BufferSize), make([]byte, devCfg.BufferSize), sel)
		if err != nil {
			return nil, errors.Wrapf(err, "device %q", devCfg.Name)
		}
		if sel == nil && b.framer != nil {
			dev.SetSlaveSelect(core.FramedSelect(b.framer, dev))
		}
		b.devices[devCfg.Name] = dev
	}

	b.mgr.Enable()
	log.Debugw("bus open", "transport", cfg.Transport, "port", cfg.Port, "devices", len(b.devices))
	return b, nil
}

// openDriver opens the byte transport named by the configuration. The GPIO
// driver is nil when the transport cannot drive chip-select lines. b.framer
// is set when the transport owns a select line of its own.
func (b *bus) openDriver(spiCfg core.SPIConfig) (core.SPIDriver, core.GPIODriver, error) {
	switch b.cfg.Transport {
	case config.TransportSpidev:
		if err := periphio.Init(); err != nil {
			return nil, nil, err
		}
		port, err := periphio.Open(b.cfg.Port, spiCfg, spiCfg.SSControl == core.SSSoftware)
		if err != nil {
			return nil, nil, err
		}
		b.closers = append(b.closers, port)
		if spiCfg.SSControl == core.SSHardware {
			b.framer = port
		}
		return core.NewSyncTransport(port), periphio.NewGPIO(), nil

	case config.TransportBridge:
		port, err := serial.Open(&serial.Config{Device: b.cfg.Port, Baud: b.cfg.Baud, ReadTimeout: 100})
		if err != nil {
			return nil, nil, err
		}
		br := bridge.New(port, bridge.Options{
			Timeout: time.Duration(b.cfg.TimeoutMS) * time.Millisecond,
			Logger:  b.log.Named("bridge"),
		})
		b.closers = append(b.closers, br)
		b.framer = br
		return br, nil, nil

	case config.TransportMock:
		lb := &loopback{}
		b.framer = lb
		return core.NewSyncTransport(lb), nil, nil
	}
	return nil, nil, errors.Errorf("unknown transport %q", b.cfg.Transport)
}

func (b *bus) selectFor(devCfg config.DeviceConfig, gpio core.GPIODriver) (core.SlaveSelectFunc, error) {
	if devCfg.CSPin == nil {
		return core.HardwareSelect, nil
	}
	pin := core.GPIOPin(*devCfg.CSPin)

	if gpio == nil {
		if b.cfg.Transport != config.TransportMock {
			return nil, errors.Errorf("%s transport cannot drive cs pin %d", b.cfg.Transport, pin)
		}
		name := devCfg.Name
		return func(high bool) {
			b.log.Debugw("chip select", "device", name, "pin", pin, "released", high)
		}, nil
	}
	return core.GPIOSelect(gpio, pin, devCfg.ActiveHigh)
}

// transfer writes w to the named device and reads n bytes back, running the
// manager from the timer scheduler until the transfer ends or ctx is done
func (b *bus) transfer(ctx context.Context, name string, w []byte, n int) ([]byte, error) {
	dev, ok := b.devices[name]
	if !ok {
		return nil, errors.Errorf("unknown device %q", name)
	}
	if len(w) > len(dev.WriteBuffer()) || n > len(dev.ReadBuffer()) {
		return nil, errors.Errorf("device %q buffers hold %d bytes", name, len(dev.WriteBuffer()))
	}
	copy(dev.WriteBuffer(), w)

	if err := dev.BeginTransfer(len(w), n); err != nil {
		return nil, errors.Wrapf(err, "begin transfer on %q", name)
	}

	start := time.Now()
	core.SetTime(0)
	b.mgr.ScheduleProcess(core.TimerFromUS(b.cfg.ProcessPeriodUS))
	defer b.mgr.StopProcess()

	for !dev.IsTransferFinished() {
		select {
		case <-ctx.Done():
			b.mgr.Cancel(dev)
			return nil, errors.Wrapf(ctx.Err(), "transfer on %q after %d bytes", name, dev.Count())
		default:
		}
		core.SetTime(core.TimerFromUS(uint32(time.Since(start).Microseconds())))
		core.ProcessTimers()
		b.mgr.PendingEventHandler()
	}

	if err := dev.Err(); err != nil {
		return nil, errors.Wrapf(err, "transfer on %q", name)
	}
	out := make([]byte, n)
	copy(out, dev.ReadBuffer())

	stats := b.mgr.Stats()
	b.log.Debugw("transfer done", "device", name, "sent", len(w), "read", n,
		"elapsed", time.Since(start), "deferred", stats.Deferred, "max_depth", stats.MaxDepth)
	return out, nil
}

// Close disables the bus and releases the transport
func (b *bus) Close() error {
	var err error
	if b.mgr != nil {
		err = b.mgr.Disable()
	}
	return multierr.Append(err, b.closeTransport())
}

func (b *bus) closeTransport() error {
	var err error
	for _, c := range b.closers {
		err = multierr.Append(err, c.Close())
	}
	b.closers = nil
	return err
}
