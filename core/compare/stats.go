package compare

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/smarttraffic/dualsim/core/model"
)

// RunStats accumulates per-tick comparisons for the end-of-run summary. It
// is safe for concurrent use: the run loop records while the status API
// summarises.
type RunStats struct {
	mu           sync.Mutex
	queueDiffs   []float64
	waitDiffs    []float64
	improvements []float64
	adaptiveLead int
	skipped      uint64
	lastFixed    int
	lastAdaptive int
}

// NewRunStats returns an empty accumulator.
func NewRunStats() *RunStats {
	return &RunStats{}
}

// Record adds one merged snapshot.
func (s *RunStats) Record(m model.MergedSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueDiffs = append(s.queueDiffs, float64(m.Comparison.QueueDiff))
	s.waitDiffs = append(s.waitDiffs, m.Comparison.WaitDiff)
	s.improvements = append(s.improvements, m.Comparison.WaitImprovementPct)
	if m.Comparison.WaitDiff < 0 {
		s.adaptiveLead++
	}
	s.lastFixed = m.Fixed.Arrived
	s.lastAdaptive = m.Adaptive.Arrived
}

// AddSkips counts ticks that were skipped because the previous tick was
// still executing.
func (s *RunStats) AddSkips(n uint64) {
	s.mu.Lock()
	s.skipped += n
	s.mu.Unlock()
}

// Summary reduces the accumulated ticks. It is safe to call at any point of
// a run; an empty accumulator yields a zero summary.
func (s *RunStats) Summary() model.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := model.RunSummary{
		Ticks:           uint64(len(s.waitDiffs)),
		SkippedTicks:    s.skipped,
		FixedArrived:    s.lastFixed,
		AdaptiveArrived: s.lastAdaptive,
	}
	if len(s.waitDiffs) == 0 {
		return out
	}

	out.MeanQueueDiff = stat.Mean(s.queueDiffs, nil)
	out.MeanWaitDiff = stat.Mean(s.waitDiffs, nil)
	out.MeanImprovementPct = stat.Mean(s.improvements, nil)
	if len(s.waitDiffs) > 1 {
		out.StdQueueDiff = stat.StdDev(s.queueDiffs, nil)
		out.StdWaitDiff = stat.StdDev(s.waitDiffs, nil)
	}

	out.MinWaitDiff = s.waitDiffs[0]
	out.MaxWaitDiff = s.waitDiffs[0]
	for _, d := range s.waitDiffs[1:] {
		if d < out.MinWaitDiff {
			out.MinWaitDiff = d
		}
		if d > out.MaxWaitDiff {
			out.MaxWaitDiff = d
		}
	}
	out.AdaptiveLeadPct = float64(s.adaptiveLead) / float64(len(s.waitDiffs)) * 100
	return out
}
