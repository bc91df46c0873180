package otel

import "testing"

func TestTraceToggle(t *testing.T) {
	orig := TraceEnabled()
	t.Cleanup(func() { setTraceEnabled(orig) })

	for _, on := range []bool{true, false, true} {
		setTraceEnabled(on)
		if got := TraceEnabled(); got != on {
			t.Errorf("TraceEnabled() = %v after setTraceEnabled(%v)", got, on)
		}
	}
}

func TestTraceOffSuppressesObserverEvents(t *testing.T) {
	orig := TraceEnabled()
	t.Cleanup(func() { setTraceEnabled(orig) })
	setTraceEnabled(false)

	// Per-observer completions are gated on the trace flag; with it off
	// a tick contributes only its lifecycle pair.
	r := NewRingBuffer(8)
	l := NewNullLogger()
	l.SetRingBuffer(r)

	l.Emit(Event{Kind: KindTickStart, Tick: 1})
	if TraceEnabled() {
		l.Emit(Event{Kind: KindObserveComplete, Tick: 1, Domain: "traffic"})
	}
	l.Emit(Event{Kind: KindTickComplete, Tick: 1})
	l.Close()

	if got := r.Len(); got != 2 {
		t.Errorf("ring holds %d events with tracing off, want 2", got)
	}
}
