// Package main is the spiman command: it runs scheduled transfers against the
// devices of a configured SPI bus.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spiman/config"
	"spiman/core"
	"spiman/protocol"
)

const (
	flagConfig  = "config"
	flagVerbose = "verbose"
	flagDevice  = "device"
	flagWrite   = "write"
	flagRead    = "read"
	flagTimeout = "timeout"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "spiman:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	transferFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     flagDevice,
			Aliases:  []string{"d"},
			Usage:    "configured device name",
			Required: true,
		},
		&cli.StringFlag{
			Name:    flagWrite,
			Aliases: []string{"w"},
			Usage:   "bytes to send, hex encoded",
		},
		&cli.IntFlag{
			Name:    flagRead,
			Aliases: []string{"r"},
			Usage:   "number of bytes to read",
		},
		&cli.DurationFlag{
			Name:  flagTimeout,
			Value: 2 * time.Second,
			Usage: "give up on the transfer after this long",
		},
	}

	return &cli.App{
		Name:    "spiman",
		Usage:   "schedule transfers on a shared SPI bus",
		Version: protocol.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "bus.json5",
				Usage:   "bus description (JSON5)",
			},
			&cli.BoolFlag{
				Name:  flagVerbose,
				Usage: "log bus activity",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "transfer",
				Usage:  "write and read one device",
				Flags:  transferFlags,
				Action: transferAction,
			},
			{
				Name:   "devices",
				Usage:  "list configured devices",
				Action: devicesAction,
			},
			{
				Name:   "trace",
				Usage:  "run one transfer and dump the bus event trace",
				Flags:  transferFlags,
				Action: traceAction,
			},
			serveCommand(),
		},
	}
}

func newLogger(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level.SetLevel(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// wireDebug routes the bus debug output into log
func wireDebug(log *zap.SugaredLogger, enabled bool) {
	core.SetDebugWriter(func(msg string) {
		log.Debug(msg)
	})
	core.SetDebugEnabled(enabled)
}

func transferAction(c *cli.Context) error {
	out, err := runTransfer(c, false)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hex.EncodeToString(out))
	return nil
}

func traceAction(c *cli.Context) error {
	core.ClearTrace()
	out, err := runTransfer(c, true)

	for _, evt := range core.TraceSnapshot() {
		fmt.Fprintf(c.App.Writer, "%10d %-8s dev=%d v1=%d v2=%d\n",
			evt.Clock, core.EventName(evt.EventType), evt.Device, evt.Value1, evt.Value2)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hex.EncodeToString(out))
	return nil
}

func runTransfer(c *cli.Context, debug bool) ([]byte, error) {
	w, err := hex.DecodeString(strings.ReplaceAll(c.String(flagWrite), " ", ""))
	if err != nil {
		return nil, errors.Wrap(err, "decode --write")
	}
	n := c.Int(flagRead)
	if n < 0 {
		return nil, errors.Errorf("--read must not be negative, got %d", n)
	}

	cfg, err := config.LoadFile(c.String(flagConfig))
	if err != nil {
		return nil, err
	}

	log := newLogger(c.Bool(flagVerbose) || debug)
	defer func() { _ = log.Sync() }()
	wireDebug(log, c.Bool(flagVerbose) || debug)

	b, err := openBus(cfg, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			log.Warnw("closing bus", "error", cerr)
		}
	}()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration(flagTimeout))
	defer cancel()
	return b.transfer(ctx, c.String(flagDevice), w, n)
}

func devicesAction(c *cli.Context) error {
	cfg, err := config.LoadFile(c.String(flagConfig))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCS\tACTIVE\tBUFFER")
	for _, dev := range cfg.Devices {
		cs := "hw"
		if dev.CSPin != nil {
			cs = fmt.Sprintf("gpio%d", *dev.CSPin)
		}
		active := "low"
		if dev.ActiveHigh {
			active = "high"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", dev.Name, cs, active, dev.BufferSize)
	}
	return tw.Flush()
}
