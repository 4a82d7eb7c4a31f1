//go:build !tinygo

package core

// irqState stands in for interrupt.State on host builds
type irqState uintptr

// disableInterrupts is a no-op on host builds; shared state is atomic
func disableInterrupts() irqState {
	return 0
}

// restoreInterrupts is a no-op on host builds
func restoreInterrupts(irqState) {}
