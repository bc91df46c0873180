package e2e

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abelbrown/citysense/internal/coord"
	"github.com/abelbrown/citysense/internal/correlate"
	"github.com/abelbrown/citysense/internal/fact"
	"github.com/abelbrown/citysense/internal/observe"
	"github.com/abelbrown/citysense/internal/simulate"
	"github.com/abelbrown/citysense/internal/sink"
)

// baseTime sits inside the morning rush window so traffic and air
// readings exercise their elevated branches.
var baseTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// stepClock hands out baseTime + n*step, advancing once per call. The
// coordinator reads the clock exactly once per tick.
type stepClock struct {
	mu   sync.Mutex
	n    int
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{step: step}
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := baseTime.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// pipeline is one fully wired stack against a throwaway database.
type pipeline struct {
	store *fact.Store
	mem   *sink.MemorySink
	coord *coord.Coordinator
}

// buildPipeline wires simulator, observers, engine and sinks the way
// cmd/citysense does, with a stepping clock and a memory sink appended.
// extra, when non-nil, is attempted before the memory sink.
func buildPipeline(t *testing.T, seed int64, clock *stepClock, extra sink.DecisionSink, opts ...coord.Option) *pipeline {
	t.Helper()

	st, err := fact.Open(filepath.Join(t.TempDir(), "citysense.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	gen := simulate.New(simulate.Config{
		Seed:          seed,
		MalformedRate: 0.05,
		Vehicles:      2,
	})

	engine, err := correlate.New(st, correlate.DefaultRules(),
		correlate.WithWindow(5*time.Minute),
		correlate.WithNeighborhood(simulate.Neighborhood()),
	)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	mem := sink.NewMemory()
	var sinks sink.Multi
	if extra != nil {
		sinks = append(sinks, extra)
	}
	sinks = append(sinks, mem)

	opts = append([]coord.Option{
		coord.WithClock(clock.now),
		coord.WithObserverDeadline(2 * time.Second),
	}, opts...)

	c := coord.New(st, gen, observe.All(), engine, sinks, opts...)
	return &pipeline{store: st, mem: mem, coord: c}
}

// runResult captures everything externally visible about a run.
type runResult struct {
	snapshot  []byte
	decisions []byte
	alerts    []byte
}

// runPipeline executes ticks and serializes the run's visible output.
// The alert view is taken at the instant the next tick would start, so
// identical runs see identical expiry states.
func runPipeline(t *testing.T, seed int64, ticks int) runResult {
	t.Helper()

	step := 30 * time.Second
	clock := newStepClock(step)
	p := buildPipeline(t, seed, clock, nil)

	ctx := context.Background()
	for i := 0; i < ticks; i++ {
		if sum := p.coord.RunTick(ctx); sum.Cancelled {
			t.Fatalf("tick %d cancelled", sum.Tick)
		}
	}

	snap, err := p.store.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	decJSON, err := json.Marshal(p.mem.Batches())
	if err != nil {
		t.Fatalf("marshal decisions: %v", err)
	}

	alertsAt := baseTime.Add(time.Duration(ticks) * step)
	alerts, err := p.store.ActiveAlerts("", alertsAt)
	if err != nil {
		t.Fatalf("active alerts: %v", err)
	}
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		t.Fatalf("marshal alerts: %v", err)
	}

	return runResult{snapshot: snapJSON, decisions: decJSON, alerts: alertsJSON}
}
