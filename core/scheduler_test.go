package core

import "testing"

func resetTimers() {
	timerList = nil
	currentTime = 0
	SetTime(0)
}

func TestScheduleProcessDrivesTransfer(t *testing.T) {
	resetTimers()
	defer resetTimers()

	tr := newMockTransport(nil)
	m := NewManager(tr)
	d, _ := m.AddDevice([]byte{0x01, 0x02}, nil, nil)
	m.Enable()
	_ = d.BeginTransfer(2, 0)

	SetTime(100)
	m.ScheduleProcess(10)

	// Nothing runs before the first wake time
	SetTime(109)
	ProcessTimers()
	if len(tr.sent) != 0 {
		t.Fatal("Process ran before its wake time")
	}

	for now := uint32(110); now <= 140; now += 5 {
		SetTime(now)
		ProcessTimers()
	}
	if !d.IsTransferFinished() {
		t.Fatalf("transfer not finished after 4 ticks, state=%v", d.State())
	}

	m.StopProcess()
	if timerList != nil {
		t.Error("timer still queued after StopProcess")
	}
}

func TestScheduleProcessCatchesUp(t *testing.T) {
	resetTimers()
	defer resetTimers()

	tr := newMockTransport(nil)
	m := NewManager(tr)
	d, _ := m.AddDevice(make([]byte, 3), nil, nil)
	m.Enable()
	_ = d.BeginTransfer(3, 0)

	m.ScheduleProcess(10)

	// One late dispatch runs every missed tick
	SetTime(60)
	ProcessTimers()
	if !d.IsTransferFinished() {
		t.Errorf("expected 6 catch-up steps to finish the transfer, count=%d", d.Count())
	}
	if m.timer.WakeTime != 70 {
		t.Errorf("next wake = %d, want 70", m.timer.WakeTime)
	}
	m.StopProcess()
}

func TestReschedulingReplacesTimer(t *testing.T) {
	resetTimers()
	defer resetTimers()

	m := NewManager(newMockTransport(nil))
	m.ScheduleProcess(10)
	m.ScheduleProcess(50)

	n := 0
	for tm := timerList; tm != nil; tm = tm.Next {
		n++
	}
	if n != 1 {
		t.Fatalf("expected one queued timer, got %d", n)
	}
	if timerList.WakeTime != 50 {
		t.Errorf("WakeTime = %d, want 50", timerList.WakeTime)
	}
	m.StopProcess()
}

func TestTimerListOrdering(t *testing.T) {
	resetTimers()
	defer resetTimers()

	var order []int
	mk := func(id int, wake uint32) *Timer {
		return &Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			order = append(order, id)
			return SF_DONE
		}}
	}

	a, b, c := mk(1, 30), mk(2, 10), mk(3, 20)
	ScheduleTimer(a)
	ScheduleTimer(b)
	ScheduleTimer(c)
	CancelTimer(c)

	SetTime(100)
	ProcessTimers()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("dispatch order = %v, want [2 1]", order)
	}
}

func TestTimerConversion(t *testing.T) {
	if got := TimerFromUS(1000); got != 12000 {
		t.Errorf("TimerFromUS(1000) = %d", got)
	}
	if got := TimerToUS(12000); got != 1000 {
		t.Errorf("TimerToUS(12000) = %d", got)
	}
	// No overflow for long intervals
	if got := TimerToUS(TimerFromUS(300000000)); got != 300000000 {
		t.Errorf("round trip of 300s = %d", got)
	}
}

func TestTimerDispatchAcrossWraparound(t *testing.T) {
	resetTimers()
	defer resetTimers()

	var order []int
	mk := func(id int, wake uint32) *Timer {
		return &Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			order = append(order, id)
			return SF_DONE
		}}
	}

	// 0x10 lies after 0xFFFFFFF0 once the counter wraps
	ScheduleTimer(mk(2, 0x10))
	ScheduleTimer(mk(1, 0xFFFFFFF0))

	SetTime(0xFFFFFFF8)
	ProcessTimers()
	if len(order) != 1 || order[0] != 1 {
		t.Fatalf("before wrap: order = %v, want [1]", order)
	}

	SetTime(0x20)
	ProcessTimers()
	if len(order) != 2 || order[1] != 2 {
		t.Errorf("after wrap: order = %v, want [1 2]", order)
	}
}
