package core

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTraceRecordsTransfer(t *testing.T) {
	tr := newMockTransport(nil)
	tr.rxQueue = []byte{0x5A}
	m := NewManager(tr)
	d, _ := m.AddDevice([]byte{0xC3}, make([]byte, 1), nil)
	m.Enable()

	ClearTrace()
	_ = d.BeginTransfer(1, 1)
	runProcess(m, 2)

	var got []uint8
	for _, evt := range TraceSnapshot() {
		got = append(got, evt.EventType)
	}
	want := []uint8{EvtBegin, EvtSelect, EvtTxByte, EvtRxByte, EvtFinish}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("trace mismatch (-want +got):\n%s", diff)
	}

	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})
	DumpTrace()

	joined := strings.Join(lines, "\n")
	for _, s := range []string{"TX dev=0", "byte=0xc3", "RX dev=0", "byte=0x5a", "FINISH dev=0 clock="} {
		if !strings.Contains(joined, s) {
			t.Errorf("dump missing %q:\n%s", s, joined)
		}
	}
}

func TestTraceRingWraps(t *testing.T) {
	ClearTrace()
	for i := 0; i < TraceRingSize+5; i++ {
		RecordTrace(EvtTxByte, 1, uint32(i), 0)
	}
	events := TraceSnapshot()
	if len(events) != TraceRingSize {
		t.Fatalf("snapshot length %d, want %d", len(events), TraceRingSize)
	}
	if events[0].Value1 != 5 || events[len(events)-1].Value1 != TraceRingSize+4 {
		t.Errorf("oldest=%d newest=%d", events[0].Value1, events[len(events)-1].Value1)
	}

	SetTraceEnabled(false)
	RecordTrace(EvtFault, 1, 0, 0)
	SetTraceEnabled(true)
	if last := TraceSnapshot()[TraceRingSize-1]; last.EventType == EvtFault {
		t.Error("event recorded while tracing was off")
	}
	ClearTrace()
}

func TestDebugPrintlnGated(t *testing.T) {
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})

	SetDebugEnabled(false)
	DebugPrintln("hidden")
	SetDebugEnabled(true)
	DebugPrintln("shown")
	SetDebugEnabled(false)

	if diff := cmp.Diff([]string{"shown"}, lines); diff != "" {
		t.Errorf("debug output mismatch (-want +got):\n%s", diff)
	}
}

func TestStrutil(t *testing.T) {
	if got := utoa(0); got != "0" {
		t.Errorf("utoa(0) = %q", got)
	}
	if got := utoa(4294967295); got != "4294967295" {
		t.Errorf("utoa(max) = %q", got)
	}
	if got := hex8(0x0F); got != "0f" {
		t.Errorf("hex8(0x0F) = %q", got)
	}
	if got := HexBytes([]byte{0xEF, 0x40, 0x18}); got != "ef 40 18" {
		t.Errorf("HexBytes = %q", got)
	}
	if got := HexBytes(nil); got != "" {
		t.Errorf("HexBytes(nil) = %q", got)
	}
}
