//go:build !refdebug

package object

// RefDebug is true in builds tagged refdebug
const RefDebug = false

func traceAlloc(*Header)  {}
func traceFree(*Header)   {}
func traceIncRef(*Header) {}
func traceDecRef(*Header) {}

// LiveObjects returns nil unless built with the refdebug tag
func LiveObjects() []Object { return nil }

// RefTotals returns zeros unless built with the refdebug tag
func RefTotals() (increfs, decrefs int64) { return 0, 0 }
