package core

// Timer frequencies for common MCUs
const (
	TimerFreq = 12000000 // 12MHz default timer frequency
)

var systemTicks uint32

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// ProcessTimers latches the current time and runs due timers.
// Call it from the main loop.
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
