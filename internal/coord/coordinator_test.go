package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abelbrown/citysense/internal/correlate"
	"github.com/abelbrown/citysense/internal/fact"
	"github.com/abelbrown/citysense/internal/observe"
	"github.com/abelbrown/citysense/internal/otel"
	"github.com/abelbrown/citysense/internal/sink"
)

var tickTime = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return tickTime }

// stubFeed serves canned readings per domain. fetchFn overrides the
// default behavior when set.
type stubFeed struct {
	mu       sync.Mutex
	fetched  []fact.Domain
	readings map[fact.Domain][]observe.Reading
	fetchFn  func(ctx context.Context, domain fact.Domain, now time.Time) ([]observe.Reading, error)
}

func (f *stubFeed) Fetch(ctx context.Context, domain fact.Domain, now time.Time) ([]observe.Reading, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ctx, domain, now)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, domain)
	return f.readings[domain], nil
}

func (f *stubFeed) fetchedDomains() []fact.Domain {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]fact.Domain, len(f.fetched))
	copy(result, f.fetched)
	return result
}

// stubObserver lets tests control ingestion directly.
type stubObserver struct {
	name   string
	domain fact.Domain
	ingest func(ctx context.Context, readings []observe.Reading) (observe.Contribution, error)
}

func (s *stubObserver) Name() string        { return s.name }
func (s *stubObserver) Domain() fact.Domain { return s.domain }

func (s *stubObserver) Ingest(ctx context.Context, readings []observe.Reading) (observe.Contribution, error) {
	if s.ingest != nil {
		return s.ingest(ctx, readings)
	}
	return observe.Contribution{Domain: s.domain}, nil
}

func flowReading(entity string, speed float64) observe.Reading {
	return observe.Reading{
		Domain:    fact.DomainTraffic,
		SensorID:  "TS-" + entity,
		Entity:    entity,
		Timestamp: tickTime,
		Values: map[string]float64{
			"average_speed": speed,
			"vehicle_count": 45,
			"occupancy":     0.8,
		},
	}
}

func fogReading(entity string) observe.Reading {
	return observe.Reading{
		Domain:    fact.DomainWeather,
		SensorID:  "WS-" + entity,
		Entity:    entity,
		Timestamp: tickTime,
		Values: map[string]float64{
			"temperature":   12,
			"humidity":      85,
			"visibility":    0.4,
			"precipitation": 0,
			"wind_speed":    5,
		},
		Labels: map[string]string{observe.LabelEntityDomain: string(fact.DomainTraffic)},
	}
}

func airReading(entity string) observe.Reading {
	return observe.Reading{
		Domain:    fact.DomainAirQuality,
		SensorID:  "AQ-" + entity,
		Entity:    entity,
		Timestamp: tickTime,
		Values: map[string]float64{
			"pm25": 20,
			"co":   1,
			"no2":  10,
			"o3":   30,
		},
		Labels: map[string]string{observe.LabelEntityDomain: string(fact.DomainTraffic)},
	}
}

func structureReading(entity string, health float64) observe.Reading {
	return observe.Reading{
		Domain:    fact.DomainInfrastructure,
		SensorID:  "SH-" + entity,
		Entity:    entity,
		Timestamp: tickTime,
		Values:    map[string]float64{"structural_health": health},
	}
}

func newStore(t *testing.T) *fact.Store {
	t.Helper()
	s, err := fact.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTickRunsAllObservers(t *testing.T) {
	s := newStore(t)
	feed := &stubFeed{readings: map[fact.Domain][]observe.Reading{
		fact.DomainTraffic:        {flowReading("HWY1", 8)},
		fact.DomainWeather:        {fogReading("HWY1")},
		fact.DomainAirQuality:     {airReading("INT1")},
		fact.DomainInfrastructure: {structureReading("BRG1", 0.95)},
	}}

	c := New(s, feed, observe.All(), nil, nil, WithClock(fixedClock))
	sum := c.RunTick(context.Background())

	if sum.Tick != 1 {
		t.Errorf("tick = %d, want 1", sum.Tick)
	}
	if sum.Records != 4 {
		t.Errorf("records = %d, want 4", sum.Records)
	}
	// 7 weather + 4 traffic + 5 air + 2 structure facts
	if sum.FactsAppended != 18 {
		t.Errorf("facts appended = %d, want 18", sum.FactsAppended)
	}
	if sum.Skipped != 0 || sum.DuplicateKeys != 0 {
		t.Errorf("skipped=%d duplicates=%d, want 0/0", sum.Skipped, sum.DuplicateKeys)
	}
	if sum.AlertsRaised != 1 {
		t.Errorf("alerts raised = %d, want 1 (congestion)", sum.AlertsRaised)
	}
	if sum.Cancelled || sum.SinkFailed {
		t.Errorf("unexpected flags in %+v", sum)
	}

	fetched := feed.fetchedDomains()
	if len(fetched) != 4 {
		t.Fatalf("fetched %d domains, want 4", len(fetched))
	}
	seen := make(map[fact.Domain]bool)
	for _, d := range fetched {
		seen[d] = true
	}
	for _, d := range fact.Domains() {
		if !seen[d] {
			t.Errorf("domain %s was not fetched", d)
		}
	}

	byDomain, err := s.CountByDomain()
	if err != nil {
		t.Fatalf("count by domain: %v", err)
	}
	for _, d := range fact.Domains() {
		if byDomain[d] == 0 {
			t.Errorf("no facts stored for domain %s", d)
		}
	}
}

func TestTickCollectsInParallel(t *testing.T) {
	s := newStore(t)

	// Each fetch signals it started, then waits for permission to
	// continue. All four must be in flight at once.
	started := make(chan struct{}, 4)
	proceed := make(chan struct{})
	feed := &stubFeed{
		fetchFn: func(ctx context.Context, domain fact.Domain, now time.Time) ([]observe.Reading, error) {
			started <- struct{}{}
			<-proceed
			return nil, nil
		},
	}

	c := New(s, feed, observe.All(), nil, nil, WithObserverDeadline(5*time.Second))

	done := make(chan TickSummary, 1)
	go func() { done <- c.RunTick(context.Background()) }()

	for i := 0; i < 4; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for observer %d to start: not collecting in parallel", i+1)
		}
	}
	close(proceed)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tick to complete")
	}
}

func TestCollectRespectsConcurrencyLimit(t *testing.T) {
	s := newStore(t)
	feed := &stubFeed{}

	var current atomic.Int32
	var peak atomic.Int32
	proceed := make(chan struct{})

	observers := make([]observe.Observer, 8)
	for i := range observers {
		observers[i] = &stubObserver{
			name:   fmt.Sprintf("stub-%d", i),
			domain: fact.DomainTraffic,
			ingest: func(ctx context.Context, _ []observe.Reading) (observe.Contribution, error) {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				<-proceed
				current.Add(-1)
				return observe.Contribution{}, nil
			},
		}
	}

	c := New(s, feed, observers, nil, nil, WithObserverDeadline(5*time.Second))

	done := make(chan TickSummary, 1)
	go func() { done <- c.RunTick(context.Background()) }()

	// Let goroutines pile up at the limit.
	time.Sleep(100 * time.Millisecond)
	close(proceed)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tick to complete")
	}

	if p := peak.Load(); p > maxConcurrentObservers {
		t.Errorf("peak concurrency %d exceeds limit %d", p, maxConcurrentObservers)
	}
	if p := peak.Load(); p < 2 {
		t.Errorf("peak concurrency %d, expected at least 2 to prove parallelism", p)
	}
}

func TestStalledObserverTimesOutAlone(t *testing.T) {
	s := newStore(t)

	// The weather fetch ignores its context entirely; the gate is only
	// released at cleanup so the stall outlives the deadline.
	gate := make(chan struct{})
	t.Cleanup(func() { close(gate) })

	readings := map[fact.Domain][]observe.Reading{
		fact.DomainTraffic:        {flowReading("HWY1", 8)},
		fact.DomainAirQuality:     {airReading("INT1")},
		fact.DomainInfrastructure: {structureReading("BRG1", 0.95)},
	}
	feed := &stubFeed{
		fetchFn: func(ctx context.Context, domain fact.Domain, now time.Time) ([]observe.Reading, error) {
			if domain == fact.DomainWeather {
				<-gate
				return nil, nil
			}
			return readings[domain], nil
		},
	}

	c := New(s, feed, observe.All(), nil, nil,
		WithClock(fixedClock),
		WithObserverDeadline(50*time.Millisecond),
	)

	done := make(chan TickSummary, 1)
	go func() { done <- c.RunTick(context.Background()) }()

	var sum TickSummary
	select {
	case sum = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick blocked on stalled observer")
	}

	if len(sum.TimedOut) != 1 || sum.TimedOut[0] != "weather-observer" {
		t.Errorf("timed out = %v, want [weather-observer]", sum.TimedOut)
	}
	if sum.Cancelled {
		t.Error("timeout must not mark the tick cancelled")
	}
	// 4 traffic + 5 air + 2 structure facts from the healthy observers
	if sum.FactsAppended != 11 {
		t.Errorf("facts appended = %d, want 11", sum.FactsAppended)
	}
	if sum.Records != 3 {
		t.Errorf("records = %d, want 3", sum.Records)
	}

	byDomain, err := s.CountByDomain()
	if err != nil {
		t.Fatalf("count by domain: %v", err)
	}
	if byDomain[fact.DomainWeather] != 0 {
		t.Errorf("stalled observer contributed %d facts, want 0", byDomain[fact.DomainWeather])
	}
}

func TestCancelBeforeMergeDiscardsEverything(t *testing.T) {
	s := newStore(t)

	started := make(chan struct{}, 4)
	feed := &stubFeed{
		fetchFn: func(ctx context.Context, domain fact.Domain, now time.Time) ([]observe.Reading, error) {
			started <- struct{}{}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	c := New(s, feed, observe.All(), nil, nil, WithObserverDeadline(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan TickSummary, 1)
	go func() { done <- c.RunTick(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch started")
	}
	cancel()

	var sum TickSummary
	select {
	case sum = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled tick did not return")
	}

	if !sum.Cancelled {
		t.Error("summary not marked cancelled")
	}
	if sum.FactsAppended != 0 || sum.AlertsRaised != 0 || sum.Decisions != 0 {
		t.Errorf("cancelled tick wrote something: %+v", sum)
	}

	facts, entities, err := s.Counts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if facts != 0 || entities != 0 {
		t.Errorf("store has %d facts / %d entities after cancelled tick, want empty", facts, entities)
	}
	alerts, err := s.ActiveAlerts("", time.Now())
	if err != nil {
		t.Fatalf("active alerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("store has %d alerts after cancelled tick", len(alerts))
	}
}

func TestTicksAreStrictlySerialized(t *testing.T) {
	s := newStore(t)
	feed := &stubFeed{}

	started := make(chan struct{}, 4)
	proceed := make(chan struct{})
	obs := &stubObserver{
		name:   "slow-stub",
		domain: fact.DomainTraffic,
		ingest: func(ctx context.Context, _ []observe.Reading) (observe.Contribution, error) {
			started <- struct{}{}
			select {
			case <-proceed:
			case <-ctx.Done():
			}
			return observe.Contribution{}, nil
		},
	}

	c := New(s, feed, []observe.Observer{obs}, nil, nil, WithObserverDeadline(5*time.Second))

	done1 := make(chan TickSummary, 1)
	go func() { done1 <- c.RunTick(context.Background()) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick never reached its observer")
	}
	if got := c.Phase(); got != PhaseCollecting {
		t.Errorf("phase = %v, want collecting", got)
	}

	done2 := make(chan TickSummary, 1)
	go func() { done2 <- c.RunTick(context.Background()) }()

	// The second tick must block while the first holds the pipeline.
	select {
	case <-done2:
		t.Fatal("second tick completed while first was still collecting")
	case <-time.After(100 * time.Millisecond):
	}

	close(proceed)

	var sum1, sum2 TickSummary
	select {
	case sum1 = <-done1:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not complete")
	}
	select {
	case sum2 = <-done2:
	case <-time.After(2 * time.Second):
		t.Fatal("second tick did not complete")
	}

	if sum1.Tick != 1 || sum2.Tick != 2 {
		t.Errorf("tick numbers = %d, %d; want 1, 2", sum1.Tick, sum2.Tick)
	}
	if got := c.Phase(); got != PhaseIdle {
		t.Errorf("phase after ticks = %v, want idle", got)
	}
}

func TestDuplicateFactsCountedNotFatal(t *testing.T) {
	s := newStore(t)
	feed := &stubFeed{readings: map[fact.Domain][]observe.Reading{
		fact.DomainTraffic: {flowReading("HWY1", 8)},
	}}

	c := New(s, feed, observe.All(), nil, nil, WithClock(fixedClock))

	first := c.RunTick(context.Background())
	if first.FactsAppended != 4 || first.DuplicateKeys != 0 {
		t.Fatalf("first tick: appended=%d duplicates=%d, want 4/0", first.FactsAppended, first.DuplicateKeys)
	}
	if first.AlertsRaised != 1 || first.AlertsRefreshed != 0 {
		t.Fatalf("first tick alerts: raised=%d refreshed=%d, want 1/0", first.AlertsRaised, first.AlertsRefreshed)
	}

	// Same readings, same timestamps: every append hits the unique
	// constraint and the congestion alert is refreshed, not duplicated.
	second := c.RunTick(context.Background())
	if second.FactsAppended != 0 || second.DuplicateKeys != 4 {
		t.Errorf("second tick: appended=%d duplicates=%d, want 0/4", second.FactsAppended, second.DuplicateKeys)
	}
	if second.AlertsRaised != 0 || second.AlertsRefreshed != 1 {
		t.Errorf("second tick alerts: raised=%d refreshed=%d, want 0/1", second.AlertsRaised, second.AlertsRefreshed)
	}

	facts, _, err := s.Counts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if facts != 4 {
		t.Errorf("store holds %d facts, want 4", facts)
	}
}

func TestMergeAssignsAlertTTL(t *testing.T) {
	s := newStore(t)
	feed := &stubFeed{readings: map[fact.Domain][]observe.Reading{
		fact.DomainTraffic: {flowReading("HWY1", 8)},
	}}

	ttl := 90 * time.Second
	c := New(s, feed, observe.All(), nil, nil, WithClock(fixedClock), WithAlertTTL(ttl))
	c.RunTick(context.Background())

	alerts, err := s.ActiveAlerts(fact.DomainTraffic, tickTime)
	if err != nil {
		t.Fatalf("active alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if want := tickTime.Add(ttl); !alerts[0].ExpiresAt.Equal(want) {
		t.Errorf("alert expiry = %v, want %v", alerts[0].ExpiresAt, want)
	}
}

// scenarioCoordinator wires a full pipeline: fog over a congested
// segment must produce exactly one reduce-speed-limit decision.
func scenarioCoordinator(t *testing.T, s sink.DecisionSink, opts ...Option) *Coordinator {
	t.Helper()
	store := newStore(t)
	feed := &stubFeed{readings: map[fact.Domain][]observe.Reading{
		fact.DomainTraffic: {flowReading("HWY1", 8)},
		fact.DomainWeather: {fogReading("HWY1")},
	}}
	engine, err := correlate.New(store, correlate.DefaultRules())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	return New(store, feed, observe.All(), engine, s, opts...)
}

func TestTickPublishesCorrelatedDecision(t *testing.T) {
	mem := sink.NewMemory()
	c := scenarioCoordinator(t, mem)

	sum := c.RunTick(context.Background())

	if sum.Decisions != 1 {
		t.Fatalf("decisions = %d, want 1", sum.Decisions)
	}
	if sum.SinkFailed {
		t.Error("sink marked failed")
	}

	batches := mem.Batches()
	if len(batches) != 1 || batches[0].Tick != 1 {
		t.Fatalf("batches = %+v, want one batch for tick 1", batches)
	}
	d := batches[0].Decisions[0]
	if d.Entity.ID != "HWY1" || d.Action != "reduce-speed-limit" || d.Priority != 5 {
		t.Errorf("decision = %s/%s priority %d, want HWY1/reduce-speed-limit priority 5", d.Entity.ID, d.Action, d.Priority)
	}
	if len(d.Rules) != 1 || d.Rules[0] != "fog-congestion" {
		t.Errorf("rules = %v, want [fog-congestion]", d.Rules)
	}
}

type failingSink struct {
	calls atomic.Int32
}

func (f *failingSink) Publish(context.Context, int64, []correlate.Decision) error {
	f.calls.Add(1)
	return &sink.SinkFailure{Sink: "failing", Err: errors.New("disk full")}
}

func TestSinkFailureCompletesTick(t *testing.T) {
	fs := &failingSink{}
	c := scenarioCoordinator(t, fs)

	sum := c.RunTick(context.Background())

	if !sum.SinkFailed {
		t.Error("summary not marked SinkFailed")
	}
	if sum.Decisions != 1 {
		t.Errorf("decisions = %d, want 1", sum.Decisions)
	}
	if sum.Cancelled {
		t.Error("sink failure must not cancel the tick")
	}
	if fs.calls.Load() != 1 {
		t.Errorf("sink called %d times, want 1", fs.calls.Load())
	}
	if got := c.Phase(); got != PhaseIdle {
		t.Errorf("phase = %v, want idle", got)
	}

	// The pipeline keeps ticking after a publish failure.
	next := c.RunTick(context.Background())
	if next.Tick != 2 {
		t.Errorf("next tick = %d, want 2", next.Tick)
	}
}

func TestEmptyWindowPublishesNothing(t *testing.T) {
	store := newStore(t)
	feed := &stubFeed{}
	engine, err := correlate.New(store, correlate.DefaultRules())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	mem := sink.NewMemory()

	c := New(store, feed, observe.All(), engine, mem, WithClock(fixedClock))
	sum := c.RunTick(context.Background())

	if sum.Decisions != 0 {
		t.Errorf("decisions = %d, want 0", sum.Decisions)
	}
	if got := mem.Batches(); len(got) != 0 {
		t.Errorf("sink received %d batches for an empty tick, want 0", len(got))
	}
}

func TestStartAndWait(t *testing.T) {
	s := newStore(t)
	feed := &stubFeed{}

	c := New(s, feed, observe.All(), nil, nil, WithInterval(25*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	time.Sleep(80 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after context cancellation")
	}

	if n := c.Ticks(); n < 2 {
		t.Errorf("ticks = %d, want at least 2 (immediate + interval)", n)
	}
}

func TestTickEmitsLifecycleEvents(t *testing.T) {
	rb := otel.NewRingBuffer(64)
	events := otel.NewNullLogger()
	events.SetRingBuffer(rb)

	mem := sink.NewMemory()
	c := scenarioCoordinator(t, mem, WithEvents(events))

	c.RunTick(context.Background())
	events.Close() // flush the async drain before inspecting

	stats := rb.Stats()
	for _, kind := range []otel.EventKind{
		otel.KindTickStart,
		otel.KindMergeComplete,
		otel.KindCorrelateComplete,
		otel.KindPublishComplete,
		otel.KindTickComplete,
	} {
		if stats[kind] == 0 {
			t.Errorf("no %s event emitted", kind)
		}
	}
	if stats[otel.KindTickCancelled] != 0 {
		t.Error("unexpected tick.cancelled event")
	}
}

func TestObserverTimeoutError(t *testing.T) {
	err := &ObserverTimeout{Observer: "weather-observer", Deadline: 5 * time.Second}
	want := "observer weather-observer exceeded its 5s deadline"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseIdle:        "idle",
		PhaseCollecting:  "collecting",
		PhaseMerging:     "merging",
		PhaseCorrelating: "correlating",
		PhasePublishing:  "publishing",
		Phase(42):        "phase(42)",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int32(p), got, want)
		}
	}
}

func TestObserversImmutable(t *testing.T) {
	s := newStore(t)
	feed := &stubFeed{}

	var calls atomic.Int32
	counting := &stubObserver{
		name:   "counting",
		domain: fact.DomainTraffic,
		ingest: func(ctx context.Context, _ []observe.Reading) (observe.Contribution, error) {
			calls.Add(1)
			return observe.Contribution{}, nil
		},
	}
	observers := []observe.Observer{counting}
	c := New(s, feed, observers, nil, nil)

	// Growing or clobbering the caller's slice must not reach the
	// coordinator.
	observers[0] = &stubObserver{name: "impostor", domain: fact.DomainWeather}
	observers = append(observers, &stubObserver{name: "extra", domain: fact.DomainAirQuality})
	_ = observers

	c.RunTick(context.Background())
	if calls.Load() != 1 {
		t.Errorf("original observer ran %d times, want 1", calls.Load())
	}
}
