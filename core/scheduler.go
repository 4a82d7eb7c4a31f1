package core

// Timer represents a scheduled event on the sorted timer list
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// ScheduleTimer adds a timer to the schedule
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	insertTimer(t)
}

// CancelTimer removes t from the schedule if it is queued
func CancelTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for cur := timerList; cur != nil; cur = cur.Next {
		if cur.Next == t {
			cur.Next = t.Next
			t.Next = nil
			return
		}
	}
}

// insertTimer inserts a timer in sorted order by WakeTime
func insertTimer(t *Timer) {
	if timerList == nil || before(t.WakeTime, timerList.WakeTime) {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && !before(t.WakeTime, current.Next.WakeTime) {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// before compares clock values across counter wraparound
func before(a, b uint32) bool {
	return int32(a-b) < 0
}

// TimerDispatch runs every timer whose WakeTime has passed
func TimerDispatch() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for timerList != nil && !before(currentTime, timerList.WakeTime) {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil

		if timer.Handler(timer) == SF_RESCHEDULE {
			insertTimer(timer)
		}
	}
}

// ScheduleProcess runs m.Process every period ticks from the timer list.
// Calling it again changes the period.
func (m *Manager) ScheduleProcess(period uint32) {
	if period == 0 {
		period = 1
	}
	CancelTimer(&m.timer)
	m.period = period
	m.timer.WakeTime = GetTime() + period
	m.timer.Handler = m.processTick
	ScheduleTimer(&m.timer)
}

// StopProcess removes the periodic Process timer
func (m *Manager) StopProcess() {
	CancelTimer(&m.timer)
	m.period = 0
}

func (m *Manager) processTick(t *Timer) uint8 {
	if m.period == 0 {
		return SF_DONE
	}
	m.Process()
	t.WakeTime += m.period
	return SF_RESCHEDULE
}
