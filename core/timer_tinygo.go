//go:build tinygo

package core

import "sync/atomic"

// getSystemTicks returns the tick counter maintained by the target's clock code
func getSystemTicks() uint32 {
	return atomic.LoadUint32(&systemTicks)
}

// setSystemTicks is called by target clock code on every clock update
func setSystemTicks(ticks uint32) {
	atomic.StoreUint32(&systemTicks, ticks)
}
