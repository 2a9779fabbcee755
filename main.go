package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cyclegc/pkg/gc"
	"cyclegc/pkg/gil"
	"cyclegc/pkg/interp"
	"cyclegc/pkg/journal"
	"cyclegc/pkg/metrics"
	"cyclegc/pkg/object"
	"cyclegc/pkg/objects"
	"cyclegc/pkg/tstate"
)

var (
	threads     = flag.Int("threads", 4, "Number of mutator threads")
	iterations  = flag.Int("iterations", 10000, "Iterations per thread")
	threshold   = flag.Int("threshold", gc.DefaultThresholds[0], "Generation 0 threshold (0 disables automatic collection)")
	interval    = flag.Duration("interval", gil.DefaultInterval, "Execution lock switch interval")
	forceSwitch = flag.Bool("force-switch", false, "Hand the lock over on every drop request")
	debugFlags  = flag.Int("debug", 0, "Collector debug flags (1 stats, 2 collectable, 4 uncollectable, 32 save all)")
	journalDir  = flag.String("journal", "", "Record every collection pass in this directory")
	history     = flag.Int("history", 0, "Print the last N journal records and exit (requires -journal)")
	metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics on this address and keep running after the workload")
	legacy      = flag.Bool("legacy", false, "Also create cycles holding legacy finalizers")
	freeze      = flag.Bool("freeze", false, "Build long-lived objects and freeze them before the workload")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "cyclegc - reference counting with a generational cycle collector\n\n")
		fmt.Fprintf(os.Stderr, "Runs a multithreaded workload creating cyclic garbage under the execution lock.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -threads 8 -iterations 50000        # Stress the collector\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -legacy -debug 4                    # List uncollectable objects\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -journal ./gcj                      # Record collection history\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -journal ./gcj -history 20          # Show the last 20 passes\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -metrics :9090                      # Export metrics\n", os.Args[0])
	}
	flag.Parse()

	if *history > 0 {
		if *journalDir == "" {
			fmt.Fprintf(os.Stderr, "-history requires -journal\n")
			os.Exit(2)
		}
		if err := printHistory(*journalDir, *history); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	rt := interp.New(interp.Config{
		GC: gc.Config{
			Thresholds: []int{*threshold},
			Debug:      *debugFlags,
			Logger:     log.New(os.Stderr, "", 0),
		},
		SwitchInterval: *interval,
		ForceSwitching: *forceSwitch,
	})

	var j *journal.Journal
	if *journalDir != "" {
		var err error
		if j, err = journal.Open(*journalDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
			os.Exit(1)
		}
		j.Attach(rt.GC())
	}

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(rt), collectors.NewGoCollector())
		go func() {
			err := http.ListenAndServe(*metricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Metrics server: %v\n", err)
			}
		}()
	}

	mainThread := rt.NewThread()
	rt.Acquire(mainThread)

	if *freeze {
		if err := buildLongLived(rt.Heap()); err != nil {
			fmt.Fprintf(os.Stderr, "Error building long-lived objects: %v\n", err)
			os.Exit(1)
		}
		rt.GC().Freeze()
	}

	start := time.Now()
	var done []<-chan error
	rt.AllowThreads(mainThread, func() {
		for i := 0; i < *threads; i++ {
			done = append(done, rt.Start(func(ts *tstate.ThreadState) error {
				return mutate(rt, ts, *iterations, *legacy)
			}))
		}
		for _, ch := range done {
			if err := <-ch; err != nil {
				fmt.Fprintf(os.Stderr, "Thread error: %v\n", err)
			}
		}
	})
	elapsed := time.Since(start)

	report(rt, elapsed)
	rt.Finalize(mainThread)

	if j != nil {
		if err := j.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing journal: %v\n", err)
		}
	}

	if *metricsAddr != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		fmt.Fprintf(os.Stderr, "Serving metrics on %s, interrupt to exit\n", *metricsAddr)
		<-ctx.Done()
	}
}

// mutate creates cyclic garbage the way a program full of parent/child links
// does. ts holds the execution lock on entry.
func mutate(rt *interp.Runtime, ts *tstate.ThreadState, n int, withLegacy bool) error {
	h := rt.Heap()
	node, err := objects.NewClass("Node", objects.ClassOptions{WeakRefs: true})
	if err != nil {
		return err
	}
	old, err := objects.NewClass("Old", objects.ClassOptions{Del: func(*objects.Instance) error { return nil }})
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		if err := makeGarbage(h, node, ts.ID, i); err != nil {
			return err
		}
		if withLegacy && i%500 == 0 {
			in, err := h.NewInstance(old)
			if err != nil {
				return err
			}
			in.SetAttr("self", in)
			object.DecRef(in)
		}
		if i%16 == 0 {
			if err := rt.Checkpoint(ts); err != nil {
				return err
			}
		}
	}
	return nil
}

func makeGarbage(h *objects.Heap, node *objects.Class, tid uint64, i int) error {
	parent, err := h.NewInstance(node)
	if err != nil {
		return err
	}
	defer object.DecRef(parent)
	child, err := h.NewInstance(node)
	if err != nil {
		return err
	}
	defer object.DecRef(child)

	parent.SetAttr("child", child)
	child.SetAttr("parent", parent)

	id, err := h.NewInt(int64(i))
	if err != nil {
		return err
	}
	defer object.DecRef(id)
	name, err := h.NewStr(fmt.Sprintf("t%d-%d", tid, i))
	if err != nil {
		return err
	}
	defer object.DecRef(name)

	key, err := h.NewTuple(id, name)
	if err != nil {
		return err
	}
	defer object.DecRef(key)
	parent.SetAttr("key", key)

	attrs, err := h.NewDict()
	if err != nil {
		return err
	}
	defer object.DecRef(attrs)
	attrs.Set("id", id)
	attrs.Set("owner", parent)
	child.SetAttr("attrs", attrs)

	ref, err := h.NewWeakRef(parent, nil)
	if err != nil {
		return err
	}
	defer object.DecRef(ref)
	child.SetAttr("weak", ref)
	return nil
}

func buildLongLived(h *objects.Heap) error {
	modules, err := h.NewList()
	if err != nil {
		return err
	}
	for i := 0; i < 1000; i++ {
		d, err := h.NewDict()
		if err != nil {
			return err
		}
		d.Set("module", modules)
		modules.Append(d)
		object.DecRef(d)
	}
	return nil
}

func report(rt *interp.Runtime, elapsed time.Duration) {
	s := rt.GC()
	fmt.Printf("workload: %d threads x %d iterations in %v\n", *threads, *iterations, elapsed.Round(time.Millisecond))
	fmt.Printf("%-12s %12s %12s %14s %10s\n", "generation", "collections", "collected", "uncollectable", "tracked")
	for i, st := range s.Stats() {
		fmt.Printf("%-12d %12d %12d %14d %10d\n", i, st.Collections, st.Collected, st.Uncollectable, s.GenerationLen(i))
	}
	fmt.Printf("frozen: %d  garbage: %d in %d cycles\n", s.FreezeCount(), len(s.Garbage()), len(s.GarbageCycles()))
	ls := rt.Lock().Stats()
	fmt.Printf("lock: %d acquisitions, %d switches, %d drop requests, %d forced waits\n",
		ls.Acquisitions, ls.Switches, ls.DropRequests, ls.ForcedWaits)
}

func printHistory(dir string, n int) error {
	j, err := journal.Open(dir)
	if err != nil {
		return err
	}
	defer j.Close()
	records, err := j.Recent(n)
	if err != nil {
		return err
	}
	fmt.Printf("%8s  %-26s %3s %10s %14s %12s\n", "seq", "time", "gen", "collected", "uncollectable", "elapsed")
	for _, r := range records {
		fmt.Printf("%8d  %-26s %3d %10d %14d %12v\n", r.Seq, r.Time.Format(time.RFC3339Nano),
			r.Generation, r.Collected, r.Uncollectable, r.Elapsed)
	}
	return nil
}
