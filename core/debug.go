package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TraceEvent captures one bus event for post-mortem analysis
type TraceEvent struct {
	EventType uint8  // Event type code
	Device    uint8  // Device slot, 0xFF for bus-wide events
	Clock     uint32 // System clock at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtBegin    = 1  // BeginTransfer accepted (v1=send, v2=read)
	EvtSelect   = 2  // Device granted the bus, select asserted
	EvtTxByte   = 3  // Byte loaded into the transmit register (v1=index, v2=byte)
	EvtRxByte   = 4  // Byte taken from the receive register (v1=index, v2=byte)
	EvtFinish   = 5  // Transfer ended (v1=count, v2=1 on success)
	EvtFault    = 6  // Transport fault (v1=status, v2=count)
	EvtDeferred = 7  // Re-entrant event deferred (v1=event bits)
	EvtCancel   = 8  // Transfer canceled (v1=count)
	EvtEnable   = 9  // Bus enabled (v1=1) or disabled (v1=0, v2=drained)
	EvtSelErr   = 10 // Chip select could not be driven (v1=pin or frame length, v2=released)
)

const (
	TraceRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Trace ring buffer (non-blocking, for post-mortem)
	traceRing     [TraceRingSize]TraceEvent
	traceRingHead uint8
	traceEnabled  bool = true
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, a host logger, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// SetTraceEnabled turns event capture on or off
func SetTraceEnabled(enabled bool) {
	traceEnabled = enabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// RecordTrace captures a bus event in the ring buffer
// This is always non-blocking and allocation free
func RecordTrace(eventType, device uint8, value1, value2 uint32) {
	if !traceEnabled {
		return
	}
	state := disableInterrupts()
	idx := traceRingHead
	traceRing[idx] = TraceEvent{
		EventType: eventType,
		Device:    device,
		Clock:     GetTime(),
		Value1:    value1,
		Value2:    value2,
	}
	traceRingHead = (idx + 1) % TraceRingSize
	restoreInterrupts(state)
}

// TraceSnapshot returns the captured events, oldest first
func TraceSnapshot() []TraceEvent {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	events := make([]TraceEvent, 0, TraceRingSize)
	start := traceRingHead
	for i := uint8(0); i < TraceRingSize; i++ {
		evt := traceRing[(start+i)%TraceRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		events = append(events, evt)
	}
	return events
}

// EventName returns the short name of an event type code
func EventName(eventType uint8) string {
	switch eventType {
	case EvtBegin:
		return "BEGIN"
	case EvtSelect:
		return "SELECT"
	case EvtTxByte:
		return "TX"
	case EvtRxByte:
		return "RX"
	case EvtFinish:
		return "FINISH"
	case EvtFault:
		return "FAULT!"
	case EvtDeferred:
		return "DEFERRED"
	case EvtCancel:
		return "CANCEL"
	case EvtEnable:
		return "ENABLE"
	case EvtSelErr:
		return "SELECT-ERR"
	}
	return "UNKNOWN"
}

// DumpTrace writes the trace ring through the debug writer (call on shutdown/error)
func DumpTrace() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TRACE] === Bus Trace Dump ===")
	for _, evt := range TraceSnapshot() {
		line := "[TRACE] " + EventName(evt.EventType) +
			" dev=" + utoa(uint32(evt.Device)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1)
		if evt.EventType == EvtTxByte || evt.EventType == EvtRxByte {
			line += " byte=0x" + hex8(byte(evt.Value2))
		} else {
			line += " v2=" + utoa(evt.Value2)
		}
		debugPrintln(line)
	}
	debugPrintln("[TRACE] === End Dump ===")
}

// ClearTrace clears the trace buffer
func ClearTrace() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for i := range traceRing {
		traceRing[i] = TraceEvent{}
	}
	traceRingHead = 0
}
