package core

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTwoDeviceSerialization(t *testing.T) {
	var log []string
	tr := newMockTransport(&log)
	tr.rxQueue = []byte{0xAA, 0xBB, 0xCC, 0x11, 0x22}
	m := NewManager(tr)

	readB := make([]byte, 2)
	a, err := m.AddDevice([]byte{0x01, 0x02, 0x03}, nil, recordingSelect(&log, "A"))
	if err != nil {
		t.Fatalf("AddDevice A failed: %v", err)
	}
	b, err := m.AddDevice(nil, readB, recordingSelect(&log, "B"))
	if err != nil {
		t.Fatalf("AddDevice B failed: %v", err)
	}

	m.Enable()
	log = log[:0]

	if err := a.BeginTransfer(3, 0); err != nil {
		t.Fatalf("BeginTransfer A failed: %v", err)
	}
	if err := b.BeginTransfer(0, 2); err != nil {
		t.Fatalf("BeginTransfer B failed: %v", err)
	}

	// Three bytes, one step to send and one to receive each
	runProcess(m, 6)
	if !a.IsTransferFinished() {
		t.Fatal("A should be finished after 6 steps")
	}
	if b.IsTransferFinished() || !b.IsPending() {
		t.Fatalf("B should still be pending, state=%v", b.State())
	}

	runProcess(m, 4)
	if !b.IsTransferFinished() {
		t.Fatal("B should be finished after 4 more steps")
	}

	want := []string{
		"A:select", "tx:01", "tx:02", "tx:03", "A:release",
		"B:select", "tx:00", "tx:00", "B:release",
	}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("bus log mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x11, 0x22}, readB); diff != "" {
		t.Errorf("B read buffer mismatch (-want +got):\n%s", diff)
	}
	if m.Busy() || m.Active() != nil {
		t.Error("manager should be idle at the end")
	}
	if a.Err() != nil || b.Err() != nil {
		t.Errorf("unexpected errors: A=%v B=%v", a.Err(), b.Err())
	}
	if got := m.Stats().Transfers; got != 2 {
		t.Errorf("expected 2 completed transfers, got %d", got)
	}
}

func TestByteCountFidelity(t *testing.T) {
	testCases := []struct {
		name    string
		numSend int
		numRead int
	}{
		{"write only", 5, 0},
		{"read only", 0, 5},
		{"full duplex", 4, 4},
		{"write longer", 6, 2},
		{"read longer", 1, 7},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newMockTransport(nil)
			supplied := []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70}
			tr.rxQueue = append([]byte(nil), supplied...)
			m := NewManager(tr)

			writeBuf := []byte{1, 2, 3, 4, 5, 6, 7}
			readBuf := make([]byte, 8)
			d, err := m.AddDevice(writeBuf, readBuf, nil)
			if err != nil {
				t.Fatalf("AddDevice failed: %v", err)
			}
			m.Enable()

			if err := d.BeginTransfer(tc.numSend, tc.numRead); err != nil {
				t.Fatalf("BeginTransfer failed: %v", err)
			}

			total := tc.numSend
			if tc.numRead > total {
				total = tc.numRead
			}
			runProcess(m, 2*total)

			if !d.IsTransferFinished() {
				t.Fatalf("transfer not finished after %d steps", 2*total)
			}
			if len(tr.sent) != total {
				t.Fatalf("expected %d bytes on the wire, got %d", total, len(tr.sent))
			}
			for i := 0; i < total; i++ {
				want := byte(0)
				if i < tc.numSend {
					want = writeBuf[i]
				}
				if tr.sent[i] != want {
					t.Errorf("byte %d: sent 0x%02x, want 0x%02x", i, tr.sent[i], want)
				}
			}
			if diff := cmp.Diff(supplied[:tc.numRead], readBuf[:tc.numRead]); diff != "" {
				t.Errorf("read data mismatch (-want +got):\n%s", diff)
			}
			for i := tc.numRead; i < len(readBuf); i++ {
				if readBuf[i] != 0 {
					t.Errorf("read buffer written past numRead at %d", i)
				}
			}
			if d.Count() != total {
				t.Errorf("Count() = %d, want %d", d.Count(), total)
			}
		})
	}
}

func TestRoundRobinFairness(t *testing.T) {
	tr := newMockTransport(nil)
	m := NewManager(tr)

	a, _ := m.AddDevice(make([]byte, 4), make([]byte, 4), nil)
	b, _ := m.AddDevice(make([]byte, 4), make([]byte, 4), nil)
	m.Enable()

	if err := a.BeginTransfer(4, 4); err != nil {
		t.Fatalf("BeginTransfer A failed: %v", err)
	}
	if err := b.BeginTransfer(4, 4); err != nil {
		t.Fatalf("BeginTransfer B failed: %v", err)
	}

	runProcess(m, 8)
	if !a.IsTransferFinished() || b.IsTransferFinished() {
		t.Fatalf("after 8 steps: A finished=%v B finished=%v", a.IsTransferFinished(), b.IsTransferFinished())
	}

	runProcess(m, 8)
	if !a.IsTransferFinished() || !b.IsTransferFinished() {
		t.Fatalf("after 16 steps both should be finished: A=%v B=%v", a.IsTransferFinished(), b.IsTransferFinished())
	}
}

func TestNoStarvationWithGreedyDevice(t *testing.T) {
	var order []uint8
	tr := newMockTransport(nil)
	m := NewManager(tr)

	greedy, _ := m.AddDevice([]byte{0xA0}, nil, nil)
	b, _ := m.AddDevice([]byte{0xB0}, nil, nil)
	c, _ := m.AddDevice([]byte{0xC0}, nil, nil)

	for _, d := range []*Device{greedy, b, c} {
		d.SetCompletionCallback(func(d *Device) {
			order = append(order, d.Index())
		})
	}
	// The greedy device asks for the bus again as soon as it gets it back
	greedy.SetCompletionCallback(func(d *Device) {
		order = append(order, d.Index())
		_ = d.BeginTransfer(1, 0)
	})
	m.Enable()

	_ = greedy.BeginTransfer(1, 0)
	_ = b.BeginTransfer(1, 0)
	_ = c.BeginTransfer(1, 0)

	runProcess(m, 12)

	if !b.IsTransferFinished() || !c.IsTransferFinished() {
		t.Fatalf("devices starved: B=%v C=%v", b.IsTransferFinished(), c.IsTransferFinished())
	}
	want := []uint8{0, 1, 2, 0, 0, 0}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("service order mismatch (-want +got):\n%s", diff)
	}
}

func TestMutualExclusion(t *testing.T) {
	tr := newMockTransport(nil)
	m := NewManager(tr)

	var devices []*Device
	for i := 0; i < 4; i++ {
		d, err := m.AddDevice(make([]byte, 8), make([]byte, 8), nil)
		if err != nil {
			t.Fatalf("AddDevice %d failed: %v", i, err)
		}
		devices = append(devices, d)
	}
	m.Enable()

	rng := rand.New(rand.NewSource(42))
	for step := 0; step < 5000; step++ {
		if rng.Intn(3) == 0 {
			d := devices[rng.Intn(len(devices))]
			err := d.BeginTransfer(rng.Intn(9), rng.Intn(9))
			if err != nil && !errors.Is(err, ErrDeviceBusy) && !errors.Is(err, ErrZeroLength) {
				t.Fatalf("step %d: unexpected BeginTransfer error: %v", step, err)
			}
		}
		m.Process()

		busy := 0
		for _, d := range devices {
			if d.IsBusy() {
				busy++
				if m.Active() != d {
					t.Fatalf("step %d: busy device %d is not the active one", step, d.Index())
				}
			}
		}
		if busy > 1 {
			t.Fatalf("step %d: %d devices own the bus", step, busy)
		}
		if (busy == 1) != m.Busy() {
			t.Fatalf("step %d: manager busy=%v but %d busy devices", step, m.Busy(), busy)
		}
	}
}

func TestReentrantCallbacksStayBounded(t *testing.T) {
	const n = 1000

	tr := newMockTransport(nil)
	tr.syncCallbacks = true
	supplied := make([]byte, n)
	for i := range supplied {
		supplied[i] = byte(i * 7)
	}
	tr.rxQueue = append([]byte(nil), supplied...)

	m := NewManager(tr)
	readBuf := make([]byte, n)
	d, _ := m.AddDevice(make([]byte, n), readBuf, nil)
	m.Enable()

	if err := d.BeginTransfer(n, n); err != nil {
		t.Fatalf("BeginTransfer failed: %v", err)
	}

	m.Process()
	for i := 0; i < 5*n && !d.IsTransferFinished(); i++ {
		m.PendingEventHandler()
	}

	if !d.IsTransferFinished() {
		t.Fatalf("transfer did not finish, count=%d", d.Count())
	}
	if diff := cmp.Diff(supplied, readBuf); diff != "" {
		t.Errorf("read data mismatch (-want +got):\n%s", diff)
	}

	stats := m.Stats()
	if stats.MaxDepth > 2 {
		t.Errorf("manager nesting depth %d, want <= 2", stats.MaxDepth)
	}
	if tr.maxDepth > 1 {
		t.Errorf("callback nesting depth %d, want <= 1", tr.maxDepth)
	}
	if stats.Deferred < n {
		t.Errorf("expected at least %d deferred events, got %d", n, stats.Deferred)
	}
}

func TestTransportFaultEndsTransfer(t *testing.T) {
	var log []string
	tr := newMockTransport(&log)
	m := NewManager(tr)

	readBuf := make([]byte, 4)
	d, _ := m.AddDevice(nil, readBuf, recordingSelect(&log, "D"))
	other, _ := m.AddDevice([]byte{0x42}, nil, nil)
	m.Enable()

	_ = d.BeginTransfer(0, 4)
	_ = other.BeginTransfer(1, 0)
	runProcess(m, 2)

	tr.status = StatusOverflow
	m.Process()

	if !d.IsTransferFinished() {
		t.Fatal("faulted transfer should be marked finished")
	}
	if !errors.Is(d.Err(), ErrOverflow) {
		t.Errorf("Err() = %v, want ErrOverflow", d.Err())
	}
	if d.State() != StateIdle || m.Busy() {
		t.Errorf("bus not released: state=%v busy=%v", d.State(), m.Busy())
	}
	if log[len(log)-1] != "D:release" {
		t.Errorf("select not released, last log entry %q", log[len(log)-1])
	}
	if got := m.Stats().Faults; got != 1 {
		t.Errorf("Faults = %d, want 1", got)
	}

	// Mode fault wins when both bits are set
	tr.status = StatusModeFault | StatusOverflow
	m.Process()
	if !errors.Is(other.Err(), ErrModeFault) {
		t.Errorf("other Err() = %v, want ErrModeFault", other.Err())
	}

	tr.status = 0
	_ = other.BeginTransfer(1, 0)
	runProcess(m, 2)
	if !other.IsTransferFinished() || other.Err() != nil {
		t.Errorf("bus did not recover: finished=%v err=%v", other.IsTransferFinished(), other.Err())
	}
}

func TestCancelActiveTransfer(t *testing.T) {
	var log []string
	tr := newMockTransport(&log)
	tr.rxQueue = []byte{0x01, 0x02, 0x03, 0x04}
	m := NewManager(tr)

	readBuf := make([]byte, 4)
	d, _ := m.AddDevice(nil, readBuf, recordingSelect(&log, "D"))
	m.Enable()

	var completions int
	d.SetCompletionCallback(func(*Device) { completions++ })

	_ = d.BeginTransfer(0, 4)
	runProcess(m, 3) // tx, rx, tx

	m.Cancel(d)

	if d.State() != StateIdle {
		t.Errorf("state after cancel = %v, want idle", d.State())
	}
	if d.IsTransferFinished() {
		t.Error("canceled transfer must not be marked finished")
	}
	if !errors.Is(d.Err(), ErrCanceled) {
		t.Errorf("Err() = %v, want ErrCanceled", d.Err())
	}
	if d.Count() != 1 || readBuf[0] != 0x01 {
		t.Errorf("partial data: count=%d first=0x%02x", d.Count(), readBuf[0])
	}
	if m.Busy() {
		t.Error("manager still busy after cancel")
	}
	if log[len(log)-1] != "D:release" {
		t.Errorf("select not released, last log entry %q", log[len(log)-1])
	}
	if completions != 1 {
		t.Errorf("completion callback ran %d times, want 1", completions)
	}
	if got := m.Stats().Canceled; got != 1 {
		t.Errorf("Canceled = %d, want 1", got)
	}

	// The device is reusable
	if err := d.BeginTransfer(0, 1); err != nil {
		t.Fatalf("BeginTransfer after cancel failed: %v", err)
	}
}

func TestCancelPendingTransfer(t *testing.T) {
	var log []string
	tr := newMockTransport(&log)
	m := NewManager(tr)

	a, _ := m.AddDevice([]byte{1, 2}, nil, recordingSelect(&log, "A"))
	b, _ := m.AddDevice([]byte{3}, nil, recordingSelect(&log, "B"))
	m.Enable()
	log = log[:0]

	_ = a.BeginTransfer(2, 0)
	_ = b.BeginTransfer(1, 0)
	m.Process()
	m.Cancel(b)

	if b.IsPending() || b.State() != StateIdle {
		t.Errorf("B state after cancel = %v", b.State())
	}
	if !a.IsBusy() {
		t.Error("canceling B must not disturb A")
	}

	runProcess(m, 10)
	want := []string{"A:select", "tx:01", "tx:02", "A:release"}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("bus log mismatch (-want +got):\n%s", diff)
	}
}

func TestDisableDrainsAndAborts(t *testing.T) {
	tr := newMockTransport(nil)
	m := NewManager(tr)

	a, _ := m.AddDevice(make([]byte, 4), nil, nil)
	b, _ := m.AddDevice([]byte{0x55}, nil, nil)
	m.Enable()

	_ = a.BeginTransfer(4, 0)
	_ = b.BeginTransfer(1, 0)
	runProcess(m, 3)

	if err := m.Disable(); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if tr.disables != 1 || tr.enabled {
		t.Error("driver was not disabled")
	}
	if !a.IsTransferFinished() || !errors.Is(a.Err(), ErrBusDisabled) {
		t.Errorf("A: finished=%v err=%v, want ErrBusDisabled", a.IsTransferFinished(), a.Err())
	}
	if !b.IsPending() {
		t.Errorf("B should stay queued, state=%v", b.State())
	}

	sent := len(tr.sent)
	runProcess(m, 5)
	if len(tr.sent) != sent {
		t.Error("bytes sent while disabled")
	}

	m.Enable()
	runProcess(m, 2)
	if !b.IsTransferFinished() || b.Err() != nil {
		t.Errorf("B after re-enable: finished=%v err=%v", b.IsTransferFinished(), b.Err())
	}
}

func TestDisableDrainTimeout(t *testing.T) {
	tr := newMockTransport(nil)
	tr.shifting = true
	m := NewManager(tr)
	m.DrainSpins = 5
	m.Enable()

	err := m.Disable()
	if !errors.Is(err, ErrDrainTimeout) {
		t.Fatalf("Disable() = %v, want ErrDrainTimeout", err)
	}
	if tr.enabled {
		t.Error("driver should be disabled even after a drain timeout")
	}
}

func TestEnableParksSelectLines(t *testing.T) {
	var log []string
	tr := newMockTransport(&log)
	m := NewManager(tr)

	_, _ = m.AddDevice(nil, nil, recordingSelect(&log, "A"))
	_, _ = m.AddDevice(nil, nil, HardwareSelect)
	if len(log) != 0 {
		t.Fatalf("select touched before Enable: %v", log)
	}

	m.Enable()
	if diff := cmp.Diff([]string{"A:release"}, log); diff != "" {
		t.Errorf("Enable select log mismatch (-want +got):\n%s", diff)
	}

	// Devices added to a live bus are parked immediately
	_, _ = m.AddDevice(nil, nil, recordingSelect(&log, "C"))
	if log[len(log)-1] != "C:release" {
		t.Errorf("late device not parked: %v", log)
	}
}

func TestDeviceTableFull(t *testing.T) {
	m := NewManager(newMockTransport(nil))
	for i := 0; i < MaxDevices; i++ {
		if _, err := m.AddDevice(nil, nil, nil); err != nil {
			t.Fatalf("AddDevice %d failed: %v", i, err)
		}
	}
	if _, err := m.AddDevice(nil, nil, nil); !errors.Is(err, ErrTooManyDevices) {
		t.Errorf("AddDevice past capacity = %v, want ErrTooManyDevices", err)
	}
	if m.NumDevices() != MaxDevices {
		t.Errorf("NumDevices() = %d", m.NumDevices())
	}
	if m.Device(MaxDevices) != nil || m.Device(-1) != nil {
		t.Error("Device() out of range should return nil")
	}
}

func TestConfigurePassesToDriver(t *testing.T) {
	tr := newMockTransport(nil)
	m := NewManager(tr)

	cfg := SPIConfig{Role: RoleMaster, Mode: 3, Rate: 4000000, SSControl: SSSoftware}
	if err := m.Configure(cfg); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if tr.inits != 1 || tr.config != cfg {
		t.Errorf("driver config = %+v (inits=%d)", tr.config, tr.inits)
	}
	if m.Config() != cfg {
		t.Errorf("Config() = %+v", m.Config())
	}
}

func TestProcessWaitsForTransportReady(t *testing.T) {
	tr := newMockTransport(nil)
	tr.txBlocked = true
	m := NewManager(tr)

	d, _ := m.AddDevice([]byte{0x99}, nil, nil)
	m.Enable()
	_ = d.BeginTransfer(1, 0)

	runProcess(m, 5)
	if len(tr.sent) != 0 {
		t.Fatal("byte sent while transmit register was full")
	}
	if !d.IsBusy() {
		t.Error("device should own the bus while waiting for the transmitter")
	}

	tr.txBlocked = false
	runProcess(m, 2)
	if !d.IsTransferFinished() {
		t.Error("transfer should finish once the transmitter is ready")
	}
}
