package compare

import (
	"math"
	"testing"

	"github.com/smarttraffic/dualsim/core/model"
)

func snap(queue int, wait float64, arrived, count int) model.SessionSnapshot {
	return model.SessionSnapshot{
		QueueLength:  queue,
		WaitingTime:  wait,
		Arrived:      arrived,
		VehicleCount: count,
	}
}

func TestCompare(t *testing.T) {
	fixed := snap(12, 340, 55, 40)
	adaptive := snap(8, 290, 61, 37)

	c := Compare(fixed, adaptive)
	if c.QueueDiff != -4 {
		t.Errorf("queue diff = %d, want -4", c.QueueDiff)
	}
	if c.WaitDiff != -50 {
		t.Errorf("wait diff = %v, want -50", c.WaitDiff)
	}
	if c.ThroughputDiff != 6 {
		t.Errorf("throughput diff = %d, want 6", c.ThroughputDiff)
	}
	if c.VehicleDiff != -3 {
		t.Errorf("vehicle diff = %d, want -3", c.VehicleDiff)
	}
	want := (340.0 - 290.0) / 340.0 * 100
	if math.Abs(c.WaitImprovementPct-want) > 1e-9 {
		t.Errorf("improvement = %v, want %v", c.WaitImprovementPct, want)
	}
}

func TestCompareZeroFixedWait(t *testing.T) {
	c := Compare(snap(0, 0, 0, 0), snap(3, 25, 1, 3))
	if c.WaitImprovementPct != 0 {
		t.Fatalf("improvement with zero fixed wait = %v, want 0", c.WaitImprovementPct)
	}
	if math.IsNaN(c.WaitImprovementPct) || math.IsInf(c.WaitImprovementPct, 0) {
		t.Fatal("improvement is not finite")
	}

	// Both idle: everything zero.
	c = Compare(snap(0, 0, 0, 0), snap(0, 0, 0, 0))
	if c != (model.Comparison{}) {
		t.Fatalf("idle comparison = %+v, want zero value", c)
	}
}
