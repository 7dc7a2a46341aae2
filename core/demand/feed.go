package demand

// Feed walks a schedule in simulation-time order. It is owned by the run
// loop and is not safe for concurrent use.
type Feed struct {
	sched *Schedule
	next  int
}

// NewFeed returns a feed positioned at the start of the schedule.
func NewFeed(s *Schedule) *Feed {
	return &Feed{sched: s}
}

// Next returns every arrival due at or before now that has not been
// delivered yet, in schedule order.
func (f *Feed) Next(now float64) []Arrival {
	start := f.next
	for f.next < f.sched.Len() && f.sched.At(f.next).Time <= now {
		f.next++
	}
	if f.next == start {
		return nil
	}
	out := make([]Arrival, f.next-start)
	for i := start; i < f.next; i++ {
		out[i-start] = f.sched.At(i)
	}
	return out
}

// Reset rewinds the feed to the start of the schedule.
func (f *Feed) Reset() { f.next = 0 }

// Delivered returns how many arrivals have been handed out.
func (f *Feed) Delivered() int { return f.next }

// Remaining returns how many arrivals are still pending.
func (f *Feed) Remaining() int { return f.sched.Len() - f.next }
