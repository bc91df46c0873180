package otel

import (
	"os"
	"sync/atomic"
)

// The trace gate controls per-observer debug events that would dominate
// the event log on every tick. It sits on the coordinator hot path, so
// the flag is atomic rather than mutex-guarded.
var traceOn atomic.Bool

func init() {
	if os.Getenv("CITYSENSE_TRACE") != "" {
		traceOn.Store(true)
	}
}

// TraceEnabled reports whether CITYSENSE_TRACE was set at startup.
// Callers gate KindObserveComplete and KindRecordSkipped emission on it.
func TraceEnabled() bool { return traceOn.Load() }

// setTraceEnabled flips the gate from tests.
func setTraceEnabled(on bool) { traceOn.Store(on) }
