//go:build rp2040

package main

import "machine"

var usbReady bool

// InitUSB configures machine.Serial, which TinyGo maps to USB CDC on the RP2040
func InitUSB() {
	if err := machine.Serial.Configure(machine.UARTConfig{}); err != nil {
		return
	}
	usbReady = true
}

// usbDebugWriter sends one line of debug output over USB.
// Output is dropped until InitUSB succeeds.
func usbDebugWriter(s string) {
	if !usbReady {
		return
	}
	machine.Serial.Write([]byte(s))
	machine.Serial.Write([]byte("\r\n"))
}
