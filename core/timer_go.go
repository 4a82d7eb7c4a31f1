//go:build !tinygo

package core

// getSystemTicks returns the simulated tick counter used by host builds
func getSystemTicks() uint32 {
	return systemTicks
}

// setSystemTicks sets the simulated tick counter
func setSystemTicks(ticks uint32) {
	systemTicks = ticks
}
