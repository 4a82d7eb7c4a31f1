package core

import "fmt"

// mockTransport is a deterministic SPIDriver for tests.
// Every transmitted byte is answered immediately from rxQueue (0xFF once empty).
type mockTransport struct {
	enabled  bool
	config   SPIConfig
	inits    int
	disables int

	sent    []byte
	rxQueue []byte
	rxByte  byte
	rxFull  bool

	status    SPIStatus // injected fault bits, returned by GetStatus
	shifting  bool      // when set IsTransmitFinished reports false
	txBlocked bool      // when set IsTransmitRegisterEmpty reports false

	// syncCallbacks fires the completion callbacks from inside
	// TransmitByte and GetReceivedByte, like a peripheral whose flags are
	// already set when the handler runs
	syncCallbacks bool
	txEmptyFn     func()
	receivedFn    func()
	depth         int
	maxDepth      int

	log *[]string
}

func newMockTransport(log *[]string) *mockTransport {
	return &mockTransport{log: log}
}

func (t *mockTransport) record(s string) {
	if t.log != nil {
		*t.log = append(*t.log, s)
	}
}

func (t *mockTransport) Init(config SPIConfig) error {
	t.config = config
	t.inits++
	return nil
}

func (t *mockTransport) Enable()  { t.enabled = true }
func (t *mockTransport) Disable() { t.enabled = false; t.disables++ }

func (t *mockTransport) TransmitByte(b byte) {
	t.sent = append(t.sent, b)
	t.record(fmt.Sprintf("tx:%02x", b))

	t.rxByte = 0xFF
	if len(t.rxQueue) > 0 {
		t.rxByte = t.rxQueue[0]
		t.rxQueue = t.rxQueue[1:]
	}
	t.rxFull = true

	if t.syncCallbacks && t.receivedFn != nil {
		t.fire(t.receivedFn)
	}
}

func (t *mockTransport) GetReceivedByte() byte {
	t.rxFull = false
	if t.syncCallbacks && t.txEmptyFn != nil {
		t.fire(t.txEmptyFn)
	}
	return t.rxByte
}

func (t *mockTransport) fire(fn func()) {
	t.depth++
	if t.depth > t.maxDepth {
		t.maxDepth = t.depth
	}
	fn()
	t.depth--
}

func (t *mockTransport) IsTransmitRegisterEmpty() bool { return t.enabled && !t.txBlocked }
func (t *mockTransport) IsTransmitFinished() bool      { return !t.shifting }
func (t *mockTransport) IsReceiveRegisterFull() bool   { return t.rxFull }
func (t *mockTransport) GetStatus() SPIStatus          { return t.status }

func (t *mockTransport) SetTransmitRegisterEmptyCallback(fn func()) { t.txEmptyFn = fn }
func (t *mockTransport) SetReceivedDataCallback(fn func())          { t.receivedFn = fn }

// recordingSelect returns a select strategy that logs name:select / name:release
func recordingSelect(log *[]string, name string) SlaveSelectFunc {
	return func(high bool) {
		if high {
			*log = append(*log, name+":release")
		} else {
			*log = append(*log, name+":select")
		}
	}
}

// mockGPIO records pin levels
type mockGPIO struct {
	pins       map[GPIOPin]bool
	configured map[GPIOPin]bool
}

func newMockGPIO() *mockGPIO {
	return &mockGPIO{
		pins:       make(map[GPIOPin]bool),
		configured: make(map[GPIOPin]bool),
	}
}

func (g *mockGPIO) ConfigureOutput(pin GPIOPin) error {
	g.configured[pin] = true
	return nil
}

func (g *mockGPIO) SetPin(pin GPIOPin, value bool) error {
	if !g.configured[pin] {
		return fmt.Errorf("pin %d not configured", pin)
	}
	g.pins[pin] = value
	return nil
}

func (g *mockGPIO) GetPin(pin GPIOPin) (bool, error) {
	return g.pins[pin], nil
}

// runProcess calls Process n times
func runProcess(m *Manager, n int) {
	for i := 0; i < n; i++ {
		m.Process()
	}
}
