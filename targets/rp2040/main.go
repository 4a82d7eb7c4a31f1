//go:build rp2040

package main

import (
	"machine"
	"time"

	"spiman/core"
)

// Set to clock the bus from PIO0 instead of the SPI0 controller
const usePIO = false

const (
	flashCS  = core.GPIOPin(17)
	sensorCS = core.GPIOPin(21)

	pollPeriodUS    = 500000 // Re-request both reads every 500ms
	processPeriodUS = 50
)

var (
	mgr     *core.Manager
	pioSPI  *PIOTransport
	flash   *core.Device
	sensor  *core.Device
	pollTmr core.Timer

	flashTx  = [4]byte{0x9F} // JEDEC ID: command then three ID bytes
	flashRx  [4]byte
	sensorTx = [2]byte{0x80 | 0x0F} // Read WHO_AM_I
	sensorRx [2]byte
)

func main() {
	// Disable watchdog on boot to clear any previous state
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	InitUSB()
	core.SetDebugWriter(usbDebugWriter)
	core.SetDebugEnabled(true)
	UpdateSystemTime()

	if err := setupBus(); err != nil {
		core.DebugPrintln("[SPI] setup failed: " + err.Error())
		for {
			time.Sleep(time.Second)
		}
	}

	mgr.ScheduleProcess(core.TimerFromUS(processPeriodUS))
	pollTmr.Handler = pollDevices
	pollTmr.WakeTime = core.GetTime() + core.TimerFromUS(processPeriodUS)
	core.ScheduleTimer(&pollTmr)

	for {
		UpdateSystemTime()
		core.ProcessTimers()
		if pioSPI != nil {
			pioSPI.Poll()
		}
		mgr.PendingEventHandler()

		time.Sleep(10 * time.Microsecond)
	}
}

// setupBus builds the transport, the manager and both devices
func setupBus() error {
	group, err := pinGroup("spi0c")
	if err != nil {
		return err
	}
	cfg := core.SPIConfig{
		Role:      core.RoleMaster,
		Mode:      0,
		Rate:      4000000,
		SSControl: core.SSSoftware,
	}

	var driver core.SPIDriver
	if usePIO {
		pioSPI = NewPIOTransport(0, 0, group)
		driver = pioSPI
	} else {
		hw, err := newHardwareTransport(group, cfg)
		if err != nil {
			return err
		}
		driver = hw
	}

	mgr = core.NewManager(driver)
	if err := mgr.Configure(cfg); err != nil {
		return err
	}

	gpio := NewRPGPIODriver()
	flashSel, err := core.GPIOSelect(gpio, flashCS, false)
	if err != nil {
		return err
	}
	sensorSel, err := core.GPIOSelect(gpio, sensorCS, false)
	if err != nil {
		return err
	}

	if flash, err = mgr.AddDevice(flashTx[:], flashRx[:], flashSel); err != nil {
		return err
	}
	if sensor, err = mgr.AddDevice(sensorTx[:], sensorRx[:], sensorSel); err != nil {
		return err
	}
	flash.SetCompletionCallback(report("flash"))
	sensor.SetCompletionCallback(report("sensor"))

	mgr.Enable()
	return nil
}

// pollDevices queues a read on every idle device
func pollDevices(t *core.Timer) uint8 {
	if !flash.IsActive() {
		_ = flash.BeginTransfer(1, len(flashRx))
	}
	if !sensor.IsActive() {
		_ = sensor.BeginTransfer(1, len(sensorRx))
	}
	t.WakeTime += core.TimerFromUS(pollPeriodUS)
	return core.SF_RESCHEDULE
}

// report returns a completion callback printing the bytes read after the command byte
func report(name string) func(*core.Device) {
	return func(d *core.Device) {
		if err := d.Err(); err != nil {
			core.DebugPrintln("[SPI] " + name + ": " + err.Error())
			return
		}
		n := d.Count()
		if n > len(d.ReadBuffer()) {
			n = len(d.ReadBuffer())
		}
		if n < 1 {
			return
		}
		core.DebugPrintln("[SPI] " + name + ": " + core.HexBytes(d.ReadBuffer()[1:n]))
	}
}
