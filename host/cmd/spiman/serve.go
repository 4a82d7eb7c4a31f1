package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"spiman/config"
	"spiman/host/bridge"
	"spiman/host/serial"
)

const (
	flagListen = "listen"
	flagBaud   = "baud"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "answer bridge requests on a serial port using the configured transport",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagListen,
				Aliases:  []string{"l"},
				Usage:    "serial device the bridge host is attached to",
				Required: true,
			},
			&cli.IntFlag{
				Name:  flagBaud,
				Value: serial.DefaultConfig("").Baud,
				Usage: "serial baud rate",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := config.LoadFile(c.String(flagConfig))
	if err != nil {
		return err
	}

	log := newLogger(c.Bool(flagVerbose))
	defer func() { _ = log.Sync() }()
	wireDebug(log, c.Bool(flagVerbose))

	portCfg := serial.DefaultConfig(c.String(flagListen))
	portCfg.Baud = c.Int(flagBaud)
	port, err := serial.Open(portCfg)
	if err != nil {
		return err
	}
	defer port.Close()
	if err := port.Flush(); err != nil {
		log.Warnw("flushing serial input", "error", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()
	return serveBus(ctx, cfg, port, log)
}

// serveBus runs a bridge responder on rw, forwarding every exchanged byte to
// the transport named by cfg. It returns nil once ctx is done or rw closes.
func serveBus(ctx context.Context, cfg *config.BusConfig, rw io.ReadWriter, log *zap.SugaredLogger) error {
	if cfg.Transport == config.TransportBridge {
		return errors.New("serve needs a local transport, not another bridge")
	}

	b := &bus{cfg: cfg, log: log}
	defer func() {
		if err := b.closeTransport(); err != nil {
			log.Warnw("closing transport", "error", err)
		}
	}()

	driver, _, err := b.openDriver(cfg.SPIConfig())
	if err != nil {
		return err
	}

	log.Infow("serving bridge", "transport", cfg.Transport, "port", cfg.Port)
	resp := bridge.NewResponder(driver, log.Named("responder"))
	resp.Framer = b.framer
	err = resp.Serve(ctx, rw)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
