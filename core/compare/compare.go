// Package compare computes per-tick deltas between the paired sessions and
// aggregates them into a run summary.
package compare

import "github.com/smarttraffic/dualsim/core/model"

// Compare computes adaptive-minus-fixed deltas for one tick. The improvement
// percentage is zero when the fixed session reports no waiting, so the
// result never carries NaN or infinities.
func Compare(fixed, adaptive model.SessionSnapshot) model.Comparison {
	c := model.Comparison{
		QueueDiff:      adaptive.QueueLength - fixed.QueueLength,
		WaitDiff:       adaptive.WaitingTime - fixed.WaitingTime,
		ThroughputDiff: adaptive.Arrived - fixed.Arrived,
		VehicleDiff:    adaptive.VehicleCount - fixed.VehicleCount,
	}
	if fixed.WaitingTime > 0 {
		c.WaitImprovementPct = (fixed.WaitingTime - adaptive.WaitingTime) / fixed.WaitingTime * 100
	}
	return c
}
