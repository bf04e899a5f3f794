package core

// Timer is a task run from Service.Poll once the clock passes WakeTime.
// Times are microsecond ticks that wrap around.
type Timer struct {
	WakeTime uint32
	Handler  func(t *Timer, now uint32) uint8
	next     *Timer
}

// Handler results
const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Timers is a list of timers sorted by wake time.
type Timers struct {
	list *Timer
}

// before reports whether a comes before b, allowing for wraparound.
func before(a, b uint32) bool {
	return int32(a-b) < 0
}

// Schedule adds t in wake time order. A timer must not be scheduled twice.
func (ts *Timers) Schedule(t *Timer) {
	if ts.list == nil || before(t.WakeTime, ts.list.WakeTime) {
		t.next = ts.list
		ts.list = t
		return
	}
	cur := ts.list
	for cur.next != nil && !before(t.WakeTime, cur.next.WakeTime) {
		cur = cur.next
	}
	t.next = cur.next
	cur.next = t
}

// Cancel removes t if it is scheduled.
func (ts *Timers) Cancel(t *Timer) {
	for p := &ts.list; *p != nil; p = &(*p).next {
		if *p == t {
			*p = t.next
			t.next = nil
			return
		}
	}
}

// Dispatch runs every timer due at now. A handler returning SF_RESCHEDULE
// must have advanced its WakeTime.
func (ts *Timers) Dispatch(now uint32) int {
	n := 0
	for ts.list != nil && !before(now, ts.list.WakeTime) {
		t := ts.list
		ts.list = t.next
		t.next = nil
		n++
		if t.Handler(t, now) == SF_RESCHEDULE {
			ts.Schedule(t)
		}
	}
	return n
}

// Every returns a timer that calls fn each period microseconds starting
// at first.
func Every(first, period uint32, fn func(now uint32)) *Timer {
	return &Timer{
		WakeTime: first,
		Handler: func(t *Timer, now uint32) uint8 {
			fn(now)
			t.WakeTime += period
			if before(t.WakeTime, now) {
				t.WakeTime = now + period
			}
			return SF_RESCHEDULE
		},
	}
}
