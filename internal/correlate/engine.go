package correlate

import (
	"fmt"
	"time"

	"github.com/abelbrown/citysense/internal/fact"
)

// FactView is the read surface the engine needs; *fact.Store
// satisfies it.
type FactView interface {
	EntitiesInWindow(t0, t1 time.Time) ([]fact.EntityRef, error)
	HasFactInWindow(subject string, domain fact.Domain, t0, t1 time.Time) (bool, error)
	LatestInWindow(subject, predicate string, t0, t1 time.Time) (*fact.Fact, error)
}

const (
	defaultWindow   = 5 * time.Minute
	defaultAlertTTL = 5 * time.Minute
)

// Engine evaluates a fixed rule set against the fact store. It never
// writes: alerts it proposes are returned to the caller to raise.
type Engine struct {
	view         FactView
	rules        []Rule
	window       time.Duration
	neighborhood map[string][]string
	alertTTL     time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithWindow sets the recency window for candidate facts.
func WithWindow(d time.Duration) Option {
	return func(e *Engine) { e.window = d }
}

// WithNeighborhood declares entity adjacency. Facts of a neighbor
// count toward an entity's domain coverage and conditions.
func WithNeighborhood(n map[string][]string) Option {
	return func(e *Engine) {
		e.neighborhood = make(map[string][]string, len(n))
		for id, neighbors := range n {
			e.neighborhood[id] = append([]string(nil), neighbors...)
		}
	}
}

// WithAlertTTL sets the expiry applied to rule-produced alerts.
func WithAlertTTL(d time.Duration) Option {
	return func(e *Engine) { e.alertTTL = d }
}

// New validates the rule set and builds an engine. Duplicate rule
// names are a construction error.
func New(view FactView, rules []Rule, opts ...Option) (*Engine, error) {
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	e := &Engine{
		view:     view,
		rules:    append([]Rule(nil), rules...),
		window:   defaultWindow,
		alertTTL: defaultAlertTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Rules returns a copy of the rule set for inspection.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Window returns the configured recency window.
func (e *Engine) Window() time.Duration { return e.window }

// Evaluate runs every rule over the entities observed inside the
// recency window ending at now. Drafts for the same (entity, action)
// merge; the final slice is ranked. Returned alerts carry an expiry
// of now plus the configured TTL.
func (e *Engine) Evaluate(now time.Time, tick int64) ([]Decision, []fact.Alert, error) {
	t0 := now.Add(-e.window)
	refs, err := e.view.EntitiesInWindow(t0, now)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerate entities: %w", err)
	}

	type draftKey struct {
		entity string
		action string
	}
	drafts := make(map[draftKey]*Decision)
	var order []draftKey
	var alerts []fact.Alert

	for _, rule := range e.rules {
		for _, ref := range refs {
			if rule.TargetDomain != "" && ref.Domain != rule.TargetDomain {
				continue
			}
			evidence, ok, err := e.match(rule, ref, t0, now)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}

			key := draftKey{entity: ref.ID, action: rule.Action}
			d := drafts[key]
			if d == nil {
				d = &Decision{
					ID:        decisionID(tick, ref.ID, rule.Action),
					Tick:      tick,
					Entity:    ref,
					Action:    rule.Action,
					CreatedAt: now,
				}
				drafts[key] = d
				order = append(order, key)
			}
			d.Priority += rule.Weight
			d.Rationale = append(d.Rationale, rule.Rationale)
			d.Rules = append(d.Rules, rule.Name)
			for _, f := range evidence {
				d.Evidence = append(d.Evidence, Evidence{Rule: rule.Name, Fact: f})
			}

			if rule.AlertSeverity != "" {
				alerts = append(alerts, fact.Alert{
					Domain:    ref.Domain,
					Entity:    ref,
					Severity:  rule.AlertSeverity,
					Code:      rule.Name,
					Message:   rule.Rationale,
					RaisedAt:  now,
					ExpiresAt: now.Add(e.alertTTL),
				})
			}
		}
	}

	decisions := make([]Decision, 0, len(order))
	for _, key := range order {
		decisions = append(decisions, *drafts[key])
	}
	rank(decisions)
	return decisions, alerts, nil
}

// match evaluates one rule against one candidate. The candidate's
// closure (itself plus declared neighbors) must carry at least one
// in-window fact per required domain, and every condition must hold
// on the latest in-window fact for its predicate, checked on the
// entity first and then each neighbor.
func (e *Engine) match(rule Rule, ref fact.EntityRef, t0, t1 time.Time) ([]fact.Fact, bool, error) {
	closure := append([]string{ref.ID}, e.neighborhood[ref.ID]...)

	for _, d := range rule.RequiredDomains {
		present := false
		for _, id := range closure {
			ok, err := e.view.HasFactInWindow(id, d, t0, t1)
			if err != nil {
				return nil, false, fmt.Errorf("domain coverage %s/%s: %w", id, d, err)
			}
			if ok {
				present = true
				break
			}
		}
		if !present {
			return nil, false, nil
		}
	}

	evidence := make([]fact.Fact, 0, len(rule.Conditions))
	for _, cond := range rule.Conditions {
		var hit *fact.Fact
		for _, id := range closure {
			f, err := e.view.LatestInWindow(id, cond.Predicate, t0, t1)
			if err != nil {
				return nil, false, fmt.Errorf("latest %s/%s: %w", id, cond.Predicate, err)
			}
			if cond.holds(f) {
				hit = f
				break
			}
		}
		if hit == nil {
			return nil, false, nil
		}
		evidence = append(evidence, *hit)
	}
	return evidence, true, nil
}
