package demand

import (
	"testing"

	"github.com/smarttraffic/dualsim/core/model"
)

func tenArrivals() *Schedule {
	arrivals := make([]Arrival, 10)
	for i := range arrivals {
		arrivals[i] = Arrival{
			Time:  float64(i) * 2, // 0s, 2s, ... 18s
			ID:    "veh-" + string(rune('0'+i)),
			Class: model.ClassCar,
			Entry: "north",
			Exit:  "south",
		}
	}
	return FromArrivals("silk_board", Window{StartHour: 8, EndHour: 9}, arrivals)
}

func TestFeedDeliversByTime(t *testing.T) {
	f := NewFeed(tenArrivals())

	batch := f.Next(0)
	if len(batch) != 1 || batch[0].Time != 0 {
		t.Fatalf("first batch = %+v", batch)
	}
	batch = f.Next(5)
	if len(batch) != 2 { // 2s and 4s
		t.Fatalf("second batch has %d arrivals, want 2", len(batch))
	}
	if f.Delivered() != 3 || f.Remaining() != 7 {
		t.Fatalf("delivered=%d remaining=%d", f.Delivered(), f.Remaining())
	}

	if batch := f.Next(4); batch != nil {
		t.Fatalf("re-delivered arrivals: %+v", batch)
	}

	batch = f.Next(1000)
	if len(batch) != 7 {
		t.Fatalf("rest batch has %d arrivals, want 7", len(batch))
	}
	if f.Remaining() != 0 {
		t.Fatalf("remaining=%d after drain", f.Remaining())
	}
	if batch := f.Next(2000); batch != nil {
		t.Fatalf("drained feed returned %+v", batch)
	}
}

func TestFeedReset(t *testing.T) {
	f := NewFeed(tenArrivals())
	f.Next(100)
	if f.Remaining() != 0 {
		t.Fatal("feed not drained")
	}
	f.Reset()
	if f.Delivered() != 0 || f.Remaining() != 10 {
		t.Fatalf("reset did not rewind: delivered=%d remaining=%d", f.Delivered(), f.Remaining())
	}
	if batch := f.Next(0); len(batch) != 1 {
		t.Fatalf("after reset first batch = %+v", batch)
	}
}

func TestBuildPreview(t *testing.T) {
	sched := tenArrivals()
	data := Synthetic("silk_board")
	p := BuildPreview(sched, data, 3)

	if p.Location != "silk_board" || p.Total != 10 || len(p.First) != 3 {
		t.Fatalf("unexpected preview: %+v", p)
	}
	if p.ByClass[string(model.ClassCar)] != 10 {
		t.Fatalf("class counts wrong: %+v", p.ByClass)
	}
	if p.ByApproach["north"] != 10 {
		t.Fatalf("approach counts wrong: %+v", p.ByApproach)
	}
	if p.Intensity != Intensity(p.Expected) {
		t.Fatalf("intensity %q does not match expected %v", p.Intensity, p.Expected)
	}

	// Limit larger than the schedule lists everything.
	p = BuildPreview(sched, data, 99)
	if len(p.First) != 10 {
		t.Fatalf("oversized limit listed %d arrivals", len(p.First))
	}
}
