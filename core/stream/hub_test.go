package stream

import (
	"errors"
	"testing"

	"github.com/smarttraffic/dualsim/core/model"
)

type countingRecorder struct {
	drops int
	subs  int
}

func (r *countingRecorder) RecordStreamDrops(n int) error { r.drops += n; return nil }
func (r *countingRecorder) RecordSubscribers(n int) error { r.subs = n; return nil }

func snap(tick uint64) model.MergedSnapshot {
	return model.MergedSnapshot{RunID: "run-1", Tick: tick}
}

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub(4, nil, nil)
	s := h.Subscribe()
	h.Publish(snap(1))
	ev := <-s.C()
	if ev.Err != nil {
		t.Fatalf("unexpected error event: %v", ev.Err)
	}
	if ev.Snapshot == nil || ev.Snapshot.Tick != 1 {
		t.Fatalf("expected tick 1 got %+v", ev.Snapshot)
	}
	if ev.Snapshot.RunID != "run-1" {
		t.Fatalf("expected run-1 got %q", ev.Snapshot.RunID)
	}
	s.Close()
	if _, ok := <-s.C(); ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
	s.Close()
}

func TestHubDropsOldestWhenFull(t *testing.T) {
	rec := &countingRecorder{}
	h := NewHub(2, nil, rec)
	s := h.Subscribe()
	h.Publish(snap(1))
	h.Publish(snap(2))
	h.Publish(snap(3))
	ev := <-s.C()
	if ev.Snapshot.Tick != 2 {
		t.Fatalf("expected oldest surviving tick 2 got %d", ev.Snapshot.Tick)
	}
	ev = <-s.C()
	if ev.Snapshot.Tick != 3 {
		t.Fatalf("expected tick 3 got %d", ev.Snapshot.Tick)
	}
	if got := s.Dropped(); got != 1 {
		t.Fatalf("expected 1 drop got %d", got)
	}
	if rec.drops != 1 {
		t.Fatalf("expected recorder to see 1 drop got %d", rec.drops)
	}
}

func TestHubTicksStrictlyIncreasing(t *testing.T) {
	h := NewHub(3, nil, nil)
	s := h.Subscribe()
	for i := uint64(1); i <= 10; i++ {
		h.Publish(snap(i))
	}
	h.Unsubscribe(s)
	var last uint64
	var seen int
	for ev := range s.C() {
		if ev.Snapshot.Tick <= last {
			t.Fatalf("tick %d not greater than previous %d", ev.Snapshot.Tick, last)
		}
		last = ev.Snapshot.Tick
		seen++
	}
	if last != 10 {
		t.Fatalf("expected newest tick 10 last, got %d", last)
	}
	if seen != 3 {
		t.Fatalf("expected 3 buffered events got %d", seen)
	}
	if got := s.Dropped(); got != 7 {
		t.Fatalf("expected 7 drops got %d", got)
	}
}

func TestHubTerminalEventNeverDropped(t *testing.T) {
	h := NewHub(1, nil, nil)
	s := h.Subscribe()
	h.Publish(snap(1))
	h.PublishErr(errors.New("engine crashed"))
	ev := <-s.C()
	if ev.Err == nil {
		t.Fatalf("expected terminal error, got snapshot %+v", ev.Snapshot)
	}
	if _, ok := <-s.C(); ok {
		t.Fatalf("expected channel closed after terminal event")
	}
	if got := s.Dropped(); got != 1 {
		t.Fatalf("expected evicted snapshot counted, got %d", got)
	}
}

func TestHubTerminalAfterBufferedSnapshots(t *testing.T) {
	h := NewHub(4, nil, nil)
	s := h.Subscribe()
	h.Publish(snap(1))
	h.Publish(snap(2))
	h.PublishErr(errors.New("stopped"))
	ev := <-s.C()
	if ev.Snapshot == nil || ev.Snapshot.Tick != 1 {
		t.Fatalf("expected buffered tick 1 got %+v", ev)
	}
	ev = <-s.C()
	if ev.Snapshot == nil || ev.Snapshot.Tick != 2 {
		t.Fatalf("expected buffered tick 2 got %+v", ev)
	}
	ev = <-s.C()
	if ev.Err == nil || ev.Err.Error() != "stopped" {
		t.Fatalf("expected terminal error got %+v", ev)
	}
	if _, ok := <-s.C(); ok {
		t.Fatalf("expected channel closed")
	}
}

func TestHubReusableAfterTerminal(t *testing.T) {
	rec := &countingRecorder{}
	h := NewHub(4, nil, rec)
	s1 := h.Subscribe()
	h.PublishErr(errors.New("run ended"))
	<-s1.C()
	if n := h.Subscribers(); n != 0 {
		t.Fatalf("expected 0 subscribers after terminal, got %d", n)
	}
	if rec.subs != 0 {
		t.Fatalf("expected gauge 0 got %d", rec.subs)
	}
	s2 := h.Subscribe()
	h.Publish(snap(1))
	ev := <-s2.C()
	if ev.Snapshot == nil || ev.Snapshot.Tick != 1 {
		t.Fatalf("expected hub usable for next run, got %+v", ev)
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub(4, nil, nil)
	s1 := h.Subscribe()
	s2 := h.Subscribe()
	h.Close()
	if _, ok := <-s1.C(); ok {
		t.Fatalf("expected s1 closed")
	}
	if _, ok := <-s2.C(); ok {
		t.Fatalf("expected s2 closed")
	}
	s3 := h.Subscribe()
	if _, ok := <-s3.C(); ok {
		t.Fatalf("expected subscribe after close to return closed channel")
	}
	h.Publish(snap(1))
	h.PublishErr(errors.New("ignored"))
	h.Close()
}

func TestHubUnsubscribeAfterClose(t *testing.T) {
	h := NewHub(4, nil, nil)
	s := h.Subscribe()
	h.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	h.Unsubscribe(s)
	h.Unsubscribe(s)
}
