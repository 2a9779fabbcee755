package metrics

import (
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"cyclegc/pkg/fatal"
	"cyclegc/pkg/gc"
	"cyclegc/pkg/interp"
	"cyclegc/pkg/object"
)

func newRuntime() *interp.Runtime {
	return interp.New(interp.Config{GC: gc.Config{Logger: log.New(io.Discard, "", 0)}})
}

func TestCollectorLint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewCollector(newRuntime()))
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range problems {
		t.Errorf("lint %s: %s", p.Metric, p.Text)
	}
}

func TestCollectionCounters(t *testing.T) {
	rt := newRuntime()
	c := NewCollector(rt)

	ts := rt.NewThread()
	rt.Acquire(ts)
	l, err := rt.Heap().NewList()
	if err != nil {
		t.Fatal(err)
	}
	l.Append(l)
	object.DecRef(l)
	if _, err := rt.Collect(ts, 2); err != nil {
		t.Fatal(err)
	}
	rt.Release(ts)

	expected := `
# HELP cyclegc_collections_total Number of collections per generation.
# TYPE cyclegc_collections_total counter
cyclegc_collections_total{generation="0"} 0
cyclegc_collections_total{generation="1"} 0
cyclegc_collections_total{generation="2"} 1
# HELP cyclegc_collected_objects_total Unreachable objects freed per generation.
# TYPE cyclegc_collected_objects_total counter
cyclegc_collected_objects_total{generation="0"} 0
cyclegc_collected_objects_total{generation="1"} 0
cyclegc_collected_objects_total{generation="2"} 1
# HELP cyclegc_generation_threshold Collection threshold of each generation.
# TYPE cyclegc_generation_threshold gauge
cyclegc_generation_threshold{generation="0"} 700
cyclegc_generation_threshold{generation="1"} 10
cyclegc_generation_threshold{generation="2"} 10
# HELP cyclegc_heap_bytes Bytes accounted to live objects and free-list caches.
# TYPE cyclegc_heap_bytes gauge
cyclegc_heap_bytes 0
`
	err = testutil.CollectAndCompare(c, strings.NewReader(expected),
		"cyclegc_collections_total", "cyclegc_collected_objects_total",
		"cyclegc_generation_threshold", "cyclegc_heap_bytes")
	if err != nil {
		t.Error(err)
	}
}

func TestFrozenObjects(t *testing.T) {
	rt := newRuntime()
	c := NewCollector(rt)

	ts := rt.NewThread()
	rt.Acquire(ts)
	for i := 0; i < 3; i++ {
		if _, err := rt.Heap().NewList(); err != nil {
			t.Fatal(err)
		}
	}
	rt.GC().Freeze()
	rt.Release(ts)

	expected := `
# HELP cyclegc_frozen_objects Objects in the permanent generation.
# TYPE cyclegc_frozen_objects gauge
cyclegc_frozen_objects 3
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "cyclegc_frozen_objects"); err != nil {
		t.Error(err)
	}
}

func TestFinalizedRuntimeExportsLockStatsOnly(t *testing.T) {
	rt := newRuntime()
	c := NewCollector(rt)
	ts := rt.NewThread()
	rt.Acquire(ts)
	rt.Finalize(ts)

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(c)
	if n := testutil.CollectAndCount(c, "cyclegc_collections_total"); n != 0 {
		t.Errorf("Expected no gc metrics after shutdown, got %d", n)
	}
	if n := testutil.CollectAndCount(c, "cyclegc_gil_acquisitions_total"); n != 1 {
		t.Errorf("Expected lock metrics after shutdown, got %d", n)
	}
}

func TestScrapeRacingFinalize(t *testing.T) {
	rt := interp.New(interp.Config{
		GC:             gc.Config{Logger: log.New(io.Discard, "", 0)},
		SwitchInterval: time.Millisecond,
	})
	c := NewCollector(rt)
	ts := rt.NewThread()
	rt.Acquire(ts)

	type result struct {
		n  int
		fe *fatal.Error
	}
	done := make(chan result)
	go func() {
		var r result
		r.fe = fatal.Catch(func() {
			r.n = testutil.CollectAndCount(c, "cyclegc_collections_total")
		})
		done <- r
	}()

	// the scrape is parked on the lock held by ts
	deadline := time.Now().Add(2 * time.Second)
	for !rt.Lock().DropRequested() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !rt.Lock().DropRequested() {
		t.Fatal("scrape never waited for the lock")
	}
	rt.Finalize(ts)

	select {
	case r := <-done:
		if r.fe != nil {
			t.Fatalf("scrape during shutdown must not abort: %v", r.fe)
		}
		if r.n != 0 {
			t.Errorf("Expected no gc metrics after shutdown, got %d", r.n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scrape did not return after shutdown")
	}
	if rt.Lock().Created() || rt.Lock().Locked() {
		t.Error("scrape must not revive the destroyed lock")
	}
}
