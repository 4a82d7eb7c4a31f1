package core

import "sync/atomic"

// Pending event bits recorded while the manager is locked
const (
	eventTxEmpty  uint32 = 1 << 0
	eventReceived uint32 = 1 << 1
	eventProcess  uint32 = 1 << 2
)

// tryLock takes the manager without blocking. A failed attempt means the
// caller is nested inside the manager (or racing it from another goroutine)
// and must defer its work instead of running it.
func (m *Manager) tryLock() bool {
	return atomic.CompareAndSwapUint32(&m.locked, 0, 1)
}

func (m *Manager) unlock() {
	atomic.StoreUint32(&m.locked, 0)
}

// deferEvent records ev for the next PendingEventHandler or Process call
func (m *Manager) deferEvent(ev uint32) {
	for {
		old := atomic.LoadUint32(&m.pending)
		if atomic.CompareAndSwapUint32(&m.pending, old, old|ev) {
			break
		}
	}
	atomic.AddUint32(&m.stats.Deferred, 1)
	RecordTrace(EvtDeferred, 0xFF, ev, 0)
}

// takePending atomically clears and returns the pending event bits
func (m *Manager) takePending() uint32 {
	return atomic.SwapUint32(&m.pending, 0)
}

// enter tracks handler nesting depth
func (m *Manager) enter() {
	depth := atomic.AddUint32(&m.depth, 1)
	for {
		max := atomic.LoadUint32(&m.stats.MaxDepth)
		if depth <= max {
			break
		}
		if atomic.CompareAndSwapUint32(&m.stats.MaxDepth, max, depth) {
			break
		}
	}
}

func (m *Manager) leave() {
	atomic.AddUint32(&m.depth, ^uint32(0))
}

// handleEvent is the body of both transport callbacks
func (m *Manager) handleEvent(ev uint32) {
	m.enter()
	defer m.leave()

	if !m.tryLock() {
		m.deferEvent(ev)
		return
	}
	m.step()
	m.unlock()
}

func (m *Manager) onTransmitEmpty() {
	m.handleEvent(eventTxEmpty)
}

func (m *Manager) onReceived() {
	m.handleEvent(eventReceived)
}

// PendingEventHandler replays events that arrived while the manager was
// already running. Each recorded event costs one state-machine step.
// Returns the number of events replayed.
func (m *Manager) PendingEventHandler() int {
	m.enter()
	defer m.leave()

	if !m.tryLock() {
		m.deferEvent(eventProcess)
		return 0
	}
	n := m.replay()
	m.unlock()
	return n
}

// replay runs one step per pending bit; caller holds the lock
func (m *Manager) replay() int {
	pending := m.takePending()
	n := 0
	for _, ev := range [...]uint32{eventTxEmpty, eventReceived, eventProcess} {
		if pending&ev != 0 {
			m.step()
			n++
		}
	}
	return n
}

// HasPendingEvents reports whether deferred events are waiting
func (m *Manager) HasPendingEvents() bool {
	return atomic.LoadUint32(&m.pending) != 0
}
