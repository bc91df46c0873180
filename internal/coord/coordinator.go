// Package coord runs the citysense tick pipeline.
//
// Each tick moves through five phases: Collecting gathers domain
// contributions in parallel, Merging writes them to the store as the
// sole writer, Correlating evaluates the rule set, Publishing hands
// decisions to the sink, and the coordinator returns to Idle. Ticks
// are strictly serialized.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/citysense/internal/correlate"
	"github.com/abelbrown/citysense/internal/fact"
	"github.com/abelbrown/citysense/internal/logging"
	"github.com/abelbrown/citysense/internal/observe"
	"github.com/abelbrown/citysense/internal/otel"
	"github.com/abelbrown/citysense/internal/sink"
)

// defaultTickInterval is the time between tick starts.
const defaultTickInterval = 15 * time.Second

// defaultObserverDeadline bounds each observer's fetch+ingest within a tick.
const defaultObserverDeadline = 5 * time.Second

// maxConcurrentObservers limits parallel collection.
const maxConcurrentObservers = 4

// defaultAlertTTL is assigned to alerts whose producer left no expiry.
const defaultAlertTTL = 5 * time.Minute

// Phase is the coordinator's position in the tick pipeline.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseCollecting
	PhaseMerging
	PhaseCorrelating
	PhasePublishing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCollecting:
		return "collecting"
	case PhaseMerging:
		return "merging"
	case PhaseCorrelating:
		return "correlating"
	case PhasePublishing:
		return "publishing"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// ObserverTimeout reports an observer that missed the per-tick deadline.
// The tick proceeds with an empty contribution for that domain.
type ObserverTimeout struct {
	Observer string
	Deadline time.Duration
}

func (e *ObserverTimeout) Error() string {
	return fmt.Sprintf("observer %s exceeded its %s deadline", e.Observer, e.Deadline)
}

// Feed supplies the sensor readings for one domain at one instant.
type Feed interface {
	Fetch(ctx context.Context, domain fact.Domain, now time.Time) ([]observe.Reading, error)
}

// TickSummary reports what one tick did. Records counts readings
// handed to observers; Skipped counts malformed readings they dropped.
// TimedOut lists observers that missed the deadline, sorted by name.
type TickSummary struct {
	Tick            int64
	Started         time.Time
	Duration        time.Duration
	Records         int
	FactsAppended   int
	DuplicateKeys   int
	AlertsRaised    int
	AlertsRefreshed int
	Skipped         int
	TimedOut        []string
	Decisions       int
	SinkFailed      bool
	Cancelled       bool
}

// Coordinator drives the tick pipeline.
// Uses context cancellation as the ONLY stop mechanism.
type Coordinator struct {
	store     *fact.Store
	feed      Feed
	observers []observe.Observer // IMMUTABLE: set at construction, never modified
	engine    *correlate.Engine
	sink      sink.DecisionSink
	events    *otel.Logger // optional: nil disables event emission

	interval time.Duration
	deadline time.Duration
	alertTTL time.Duration
	clock    func() time.Time

	tickMu sync.Mutex // serializes ticks end to end
	ticks  atomic.Int64
	phase  atomic.Int32
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInterval sets the time between tick starts.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.interval = d }
}

// WithObserverDeadline sets the per-observer deadline within a tick.
func WithObserverDeadline(d time.Duration) Option {
	return func(c *Coordinator) { c.deadline = d }
}

// WithAlertTTL sets the expiry assigned to alerts that arrive without one.
func WithAlertTTL(d time.Duration) Option {
	return func(c *Coordinator) { c.alertTTL = d }
}

// WithEvents attaches an observability event logger.
func WithEvents(l *otel.Logger) Option {
	return func(c *Coordinator) { c.events = l }
}

// WithClock overrides the tick clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.clock = now }
}

// New creates a Coordinator. The observer slice is copied; the sink and
// event logger may be nil.
func New(store *fact.Store, feed Feed, observers []observe.Observer, engine *correlate.Engine, s sink.DecisionSink, opts ...Option) *Coordinator {
	obs := make([]observe.Observer, len(observers))
	copy(obs, observers)

	c := &Coordinator{
		store:     store,
		feed:      feed,
		observers: obs,
		engine:    engine,
		sink:      s,
		interval:  defaultTickInterval,
		deadline:  defaultObserverDeadline,
		alertTTL:  defaultAlertTTL,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phase reports where the coordinator currently is in the pipeline.
// Safe to call from any goroutine.
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// Ticks returns the number of ticks started so far.
func (c *Coordinator) Ticks() int64 {
	return c.ticks.Load()
}

func (c *Coordinator) setPhase(p Phase) {
	c.phase.Store(int32(p))
}

func (c *Coordinator) emit(e otel.Event) {
	if c.events != nil {
		c.events.Emit(e)
	}
}

// Start begins ticking in the background. The first tick runs
// immediately, later ones on the interval. Call Wait after cancelling
// the context.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.RunTick(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunTick(ctx)
			}
		}
	}()
}

// Wait blocks until the background goroutine exits.
// Call after cancelling the context passed to Start.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// RunTick executes one complete pipeline pass and reports what it did.
// A concurrent caller blocks until the running tick finishes.
func (c *Coordinator) RunTick(ctx context.Context) TickSummary {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	defer c.setPhase(PhaseIdle)

	tick := c.ticks.Add(1)
	now := c.clock()
	sum := TickSummary{Tick: tick, Started: now}

	c.emit(otel.Event{Kind: otel.KindTickStart, Level: otel.LevelInfo, Comp: "coord", Tick: tick})

	c.setPhase(PhaseCollecting)
	col := c.collect(ctx, tick, now)
	sum.Records = col.records
	sum.TimedOut = col.timedOut

	// Cancellation before Merging discards every contribution: nothing
	// reaches the store from a cancelled tick.
	if ctx.Err() != nil {
		sum.Cancelled = true
		sum.Duration = c.clock().Sub(now)
		c.emit(otel.Event{Kind: otel.KindTickCancelled, Level: otel.LevelWarn, Comp: "coord", Tick: tick, Phase: PhaseCollecting.String()})
		logging.Warn("tick cancelled before merge", "tick", tick)
		return sum
	}

	c.setPhase(PhaseMerging)
	c.merge(col.contribs, now, &sum)

	c.setPhase(PhaseCorrelating)
	if c.engine != nil {
		decisions, alerts, err := c.engine.Evaluate(now, tick)
		if err != nil {
			c.emit(otel.Event{Kind: otel.KindStoreError, Level: otel.LevelError, Comp: "coord", Tick: tick, Err: err.Error()})
			logging.Error("correlation failed", "tick", tick, "error", err)
			sum.Duration = c.clock().Sub(now)
			return sum
		}
		for _, a := range alerts {
			c.raise(a, now, &sum)
		}
		sum.Decisions = len(decisions)
		c.emit(otel.Event{Kind: otel.KindCorrelateComplete, Level: otel.LevelInfo, Comp: "coord", Tick: tick, Count: len(decisions)})

		c.setPhase(PhasePublishing)
		if len(decisions) > 0 && c.sink != nil {
			if err := c.sink.Publish(ctx, tick, decisions); err != nil {
				sum.SinkFailed = true
				c.emit(otel.Event{Kind: otel.KindPublishError, Level: otel.LevelError, Comp: "coord", Tick: tick, Err: err.Error()})
				logging.Error("publish failed", "tick", tick, "error", err)
			} else {
				c.emit(otel.Event{Kind: otel.KindPublishComplete, Level: otel.LevelInfo, Comp: "coord", Tick: tick, Count: len(decisions)})
			}
		}
	}

	sum.Duration = c.clock().Sub(now)
	c.emit(otel.Event{Kind: otel.KindTickComplete, Level: otel.LevelInfo, Comp: "coord", Tick: tick, Dur: sum.Duration, Count: sum.FactsAppended})
	logging.Info("tick complete",
		"tick", tick,
		"records", sum.Records,
		"facts", sum.FactsAppended,
		"duplicates", sum.DuplicateKeys,
		"alerts", sum.AlertsRaised,
		"decisions", sum.Decisions,
	)
	return sum
}

// collection is what the Collecting phase hands to Merging.
type collection struct {
	contribs []observe.Contribution // indexed by observer position
	records  int
	timedOut []string
}

// collect runs every observer in parallel under the per-observer
// deadline. Contributions keep declaration-order slots so the merge
// is deterministic regardless of completion order.
func (c *Coordinator) collect(ctx context.Context, tick int64, now time.Time) collection {
	col := collection{contribs: make([]observe.Contribution, len(c.observers))}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(maxConcurrentObservers)

	for i, obs := range c.observers {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			contrib, records, err := c.observe(ctx, obs, now)

			mu.Lock()
			defer mu.Unlock()

			var timeout *ObserverTimeout
			switch {
			case errors.As(err, &timeout):
				col.timedOut = append(col.timedOut, obs.Name())
				c.emit(otel.Event{Kind: otel.KindObserveTimeout, Level: otel.LevelWarn, Comp: "coord", Tick: tick, Domain: string(obs.Domain()), Err: err.Error()})
				logging.Warn("observer timed out", "observer", obs.Name(), "deadline", c.deadline)
			case errors.Is(err, context.Canceled):
				// Shutdown in progress; the tick-level check reports it.
			case err != nil:
				logging.Warn("observer failed", "observer", obs.Name(), "error", err)
			default:
				col.contribs[i] = contrib
				col.records += records
				logging.Debug("observer contributed",
					"observer", obs.Name(), "facts", len(contrib.Facts), "alerts", len(contrib.Alerts))
				if otel.TraceEnabled() {
					c.emit(otel.Event{Kind: otel.KindObserveComplete, Level: otel.LevelDebug, Comp: "coord", Tick: tick, Domain: string(obs.Domain()), Count: len(contrib.Facts)})
				}
			}
			return nil // never fail the group; errors are handled per observer
		})
	}
	_ = g.Wait()

	sort.Strings(col.timedOut)
	return col
}

// observe fetches one domain's readings and runs them through its
// observer. The inner goroutine shields the tick from observers that
// ignore their context: the select returns at the deadline even if
// Fetch or Ingest never does.
func (c *Coordinator) observe(ctx context.Context, obs observe.Observer, now time.Time) (observe.Contribution, int, error) {
	obsCtx, cancel := context.WithTimeout(ctx, c.deadline)
	defer cancel()

	type result struct {
		contrib observe.Contribution
		records int
		err     error
	}
	done := make(chan result, 1)

	go func() {
		readings, err := c.feed.Fetch(obsCtx, obs.Domain(), now)
		if err != nil {
			done <- result{err: err}
			return
		}
		contrib, err := obs.Ingest(obsCtx, readings)
		done <- result{contrib: contrib, records: len(readings), err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return observe.Contribution{}, 0, &ObserverTimeout{Observer: obs.Name(), Deadline: c.deadline}
		}
		return r.contrib, r.records, r.err
	case <-obsCtx.Done():
		if ctx.Err() == nil {
			return observe.Contribution{}, 0, &ObserverTimeout{Observer: obs.Name(), Deadline: c.deadline}
		}
		return observe.Contribution{}, 0, ctx.Err()
	}
}

// merge applies contributions to the store in observer declaration
// order. The tick mutex makes this the sole writer.
func (c *Coordinator) merge(contribs []observe.Contribution, now time.Time, sum *TickSummary) {
	for _, contrib := range contribs {
		sum.Skipped += len(contrib.Skipped)
		if otel.TraceEnabled() {
			for _, skip := range contrib.Skipped {
				c.emit(otel.Event{Kind: otel.KindRecordSkipped, Level: otel.LevelDebug, Comp: "coord", Tick: sum.Tick, Domain: string(contrib.Domain), Msg: skip.Error()})
			}
		}

		for _, f := range contrib.Facts {
			err := c.store.Append(f)
			var dup *fact.DuplicateKeyError
			switch {
			case err == nil:
				sum.FactsAppended++
			case errors.As(err, &dup):
				sum.DuplicateKeys++
			default:
				c.emit(otel.Event{Kind: otel.KindStoreError, Level: otel.LevelError, Comp: "coord", Tick: sum.Tick, Err: err.Error()})
				logging.Error("append failed", "subject", f.Subject.ID, "predicate", f.Predicate, "error", err)
			}
		}

		for _, a := range contrib.Alerts {
			c.raise(a, now, sum)
		}
	}
	c.emit(otel.Event{Kind: otel.KindMergeComplete, Level: otel.LevelInfo, Comp: "coord", Tick: sum.Tick, Count: sum.FactsAppended})
}

// raise stores one alert, assigning the default TTL when the producer
// left no expiry.
func (c *Coordinator) raise(a fact.Alert, now time.Time, sum *TickSummary) {
	if a.RaisedAt.IsZero() {
		a.RaisedAt = now
	}
	if a.ExpiresAt.IsZero() {
		a.ExpiresAt = now.Add(c.alertTTL)
	}
	_, refreshed, err := c.store.RaiseAlert(a, now)
	if err != nil {
		c.emit(otel.Event{Kind: otel.KindStoreError, Level: otel.LevelError, Comp: "coord", Tick: sum.Tick, Err: err.Error()})
		logging.Error("raise alert failed", "entity", a.Entity.ID, "code", a.Code, "error", err)
		return
	}
	if refreshed {
		sum.AlertsRefreshed++
	} else {
		sum.AlertsRaised++
	}
}
