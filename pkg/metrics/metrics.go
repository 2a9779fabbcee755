package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"cyclegc/pkg/gc"
	"cyclegc/pkg/interp"
	"cyclegc/pkg/memory"
	"cyclegc/pkg/tstate"
)

const namespace = "cyclegc"

var (
	collectionsDesc = prometheus.NewDesc(
		namespace+"_collections_total",
		"Number of collections per generation.",
		[]string{"generation"}, nil)
	collectedDesc = prometheus.NewDesc(
		namespace+"_collected_objects_total",
		"Unreachable objects freed per generation.",
		[]string{"generation"}, nil)
	uncollectableDesc = prometheus.NewDesc(
		namespace+"_uncollectable_objects_total",
		"Unreachable objects kept alive by legacy finalizers, per generation.",
		[]string{"generation"}, nil)
	countDesc = prometheus.NewDesc(
		namespace+"_generation_count",
		"Current collection counter of each generation.",
		[]string{"generation"}, nil)
	thresholdDesc = prometheus.NewDesc(
		namespace+"_generation_threshold",
		"Collection threshold of each generation.",
		[]string{"generation"}, nil)
	objectsDesc = prometheus.NewDesc(
		namespace+"_generation_objects",
		"Tracked objects in each generation.",
		[]string{"generation"}, nil)
	frozenDesc = prometheus.NewDesc(
		namespace+"_frozen_objects",
		"Objects in the permanent generation.", nil, nil)
	garbageDesc = prometheus.NewDesc(
		namespace+"_garbage_objects",
		"Objects in the uncollectable garbage list.", nil, nil)
	longLivedPendingDesc = prometheus.NewDesc(
		namespace+"_long_lived_pending_objects",
		"Objects that survived a middle generation collection since the last full collection.", nil, nil)
	longLivedTotalDesc = prometheus.NewDesc(
		namespace+"_long_lived_total_objects",
		"Objects that survived the last full collection.", nil, nil)
	enabledDesc = prometheus.NewDesc(
		namespace+"_enabled",
		"Whether automatic collection is enabled.", nil, nil)

	heapInUseDesc = prometheus.NewDesc(
		namespace+"_heap_bytes",
		"Bytes accounted to live objects and free-list caches.", nil, nil)
	heapPeakDesc = prometheus.NewDesc(
		namespace+"_heap_peak_bytes",
		"Highest number of bytes ever in use.", nil, nil)
	allocFailuresDesc = prometheus.NewDesc(
		namespace+"_heap_alloc_failures_total",
		"Allocations refused for lack of memory.", nil, nil)

	acquisitionsDesc = prometheus.NewDesc(
		namespace+"_gil_acquisitions_total",
		"Execution lock acquisitions.", nil, nil)
	switchesDesc = prometheus.NewDesc(
		namespace+"_gil_switches_total",
		"Times the execution lock changed hands.", nil, nil)
	dropRequestsDesc = prometheus.NewDesc(
		namespace+"_gil_drop_requests_total",
		"Drop requests raised by waiting threads.", nil, nil)
	forcedWaitsDesc = prometheus.NewDesc(
		namespace+"_gil_forced_switch_waits_total",
		"Releases that waited for another thread to take the lock.", nil, nil)
)

type allocStatser interface {
	Stats() memory.AllocStats
}

// Collector exports collector and execution lock statistics of a runtime.
// Collector state may only be read under the execution lock, so every
// scrape acquires it with a thread state of its own.
type Collector struct {
	rt *interp.Runtime
	ts *tstate.ThreadState
}

// NewCollector creates a collector for rt
func NewCollector(rt *interp.Runtime) *Collector {
	return &Collector{rt: rt, ts: rt.NewThread()}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		collectionsDesc, collectedDesc, uncollectableDesc,
		countDesc, thresholdDesc, objectsDesc,
		frozenDesc, garbageDesc, longLivedPendingDesc, longLivedTotalDesc, enabledDesc,
		heapInUseDesc, heapPeakDesc, allocFailuresDesc,
		acquisitionsDesc, switchesDesc, dropRequestsDesc, forcedWaitsDesc,
	} {
		ch <- d
	}
}

type snapshot struct {
	stats     [gc.NumGenerations]gc.GenerationStats
	count     [gc.NumGenerations]int
	threshold [gc.NumGenerations]int
	objects   [gc.NumGenerations]int
	frozen    int
	garbage   int
	llPending int
	llTotal   int
	enabled   bool
}

func (c *Collector) snapshot() (snap snapshot, ok bool) {
	if c.rt.Finalized() {
		return snap, false
	}
	if !c.rt.AcquireIfRunning(c.ts) {
		return snap, false
	}
	defer c.rt.Release(c.ts)
	if c.rt.Finalized() {
		return snap, false
	}

	s := c.rt.GC()
	snap.stats = s.Stats()
	snap.count = s.Count()
	snap.threshold = s.Threshold()
	for i := range snap.objects {
		snap.objects[i] = s.GenerationLen(i)
	}
	snap.frozen = s.FreezeCount()
	snap.garbage = len(s.Garbage())
	snap.llPending, snap.llTotal = s.LongLived()
	snap.enabled = s.IsEnabled()
	return snap, true
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ls := c.rt.Lock().Stats()
	ch <- prometheus.MustNewConstMetric(acquisitionsDesc, prometheus.CounterValue, float64(ls.Acquisitions))
	ch <- prometheus.MustNewConstMetric(switchesDesc, prometheus.CounterValue, float64(ls.Switches))
	ch <- prometheus.MustNewConstMetric(dropRequestsDesc, prometheus.CounterValue, float64(ls.DropRequests))
	ch <- prometheus.MustNewConstMetric(forcedWaitsDesc, prometheus.CounterValue, float64(ls.ForcedWaits))

	if a, ok := c.rt.GC().Allocator().(allocStatser); ok {
		as := a.Stats()
		ch <- prometheus.MustNewConstMetric(heapInUseDesc, prometheus.GaugeValue, float64(as.InUse))
		ch <- prometheus.MustNewConstMetric(heapPeakDesc, prometheus.GaugeValue, float64(as.Peak))
		ch <- prometheus.MustNewConstMetric(allocFailuresDesc, prometheus.CounterValue, float64(as.Failures))
	}

	snap, ok := c.snapshot()
	if !ok {
		return
	}
	for i := 0; i < gc.NumGenerations; i++ {
		gen := strconv.Itoa(i)
		st := snap.stats[i]
		ch <- prometheus.MustNewConstMetric(collectionsDesc, prometheus.CounterValue, float64(st.Collections), gen)
		ch <- prometheus.MustNewConstMetric(collectedDesc, prometheus.CounterValue, float64(st.Collected), gen)
		ch <- prometheus.MustNewConstMetric(uncollectableDesc, prometheus.CounterValue, float64(st.Uncollectable), gen)
		ch <- prometheus.MustNewConstMetric(countDesc, prometheus.GaugeValue, float64(snap.count[i]), gen)
		ch <- prometheus.MustNewConstMetric(thresholdDesc, prometheus.GaugeValue, float64(snap.threshold[i]), gen)
		ch <- prometheus.MustNewConstMetric(objectsDesc, prometheus.GaugeValue, float64(snap.objects[i]), gen)
	}
	ch <- prometheus.MustNewConstMetric(frozenDesc, prometheus.GaugeValue, float64(snap.frozen))
	ch <- prometheus.MustNewConstMetric(garbageDesc, prometheus.GaugeValue, float64(snap.garbage))
	ch <- prometheus.MustNewConstMetric(longLivedPendingDesc, prometheus.GaugeValue, float64(snap.llPending))
	ch <- prometheus.MustNewConstMetric(longLivedTotalDesc, prometheus.GaugeValue, float64(snap.llTotal))
	enabled := 0.0
	if snap.enabled {
		enabled = 1
	}
	ch <- prometheus.MustNewConstMetric(enabledDesc, prometheus.GaugeValue, enabled)
}
