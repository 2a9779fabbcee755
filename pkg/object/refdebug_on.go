//go:build refdebug

package object

import "sync"

// RefDebug is true in builds tagged refdebug
const RefDebug = true

var refTrace struct {
	mu      sync.Mutex
	live    map[*Header]struct{}
	increfs int64
	decrefs int64
}

func traceAlloc(h *Header) {
	refTrace.mu.Lock()
	if refTrace.live == nil {
		refTrace.live = make(map[*Header]struct{})
	}
	refTrace.live[h] = struct{}{}
	refTrace.mu.Unlock()
}

func traceFree(h *Header) {
	refTrace.mu.Lock()
	delete(refTrace.live, h)
	refTrace.mu.Unlock()
}

func traceIncRef(*Header) {
	refTrace.mu.Lock()
	refTrace.increfs++
	refTrace.mu.Unlock()
}

func traceDecRef(*Header) {
	refTrace.mu.Lock()
	refTrace.decrefs++
	refTrace.mu.Unlock()
}

// LiveObjects returns every object allocated and not yet freed
func LiveObjects() []Object {
	refTrace.mu.Lock()
	defer refTrace.mu.Unlock()
	out := make([]Object, 0, len(refTrace.live))
	for h := range refTrace.live {
		out = append(out, h.self)
	}
	return out
}

// RefTotals returns the number of increfs and decrefs performed
func RefTotals() (increfs, decrefs int64) {
	refTrace.mu.Lock()
	defer refTrace.mu.Unlock()
	return refTrace.increfs, refTrace.decrefs
}
