package correlate

import (
	"testing"
	"time"

	"github.com/abelbrown/citysense/internal/fact"
)

func validRule(name string) Rule {
	return Rule{
		Name:            name,
		RequiredDomains: []fact.Domain{fact.DomainTraffic},
		Conditions: []Condition{
			{Predicate: fact.PredCongestionLevel, Op: OpEq, Value: fact.Str("high")},
		},
		Action:    "monitor",
		Weight:    1,
		Rationale: "test",
	}
}

func TestRuleValidate(t *testing.T) {
	if err := validRule("ok").Validate(); err != nil {
		t.Errorf("valid rule rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"empty name", func(r *Rule) { r.Name = "" }},
		{"empty action", func(r *Rule) { r.Action = "" }},
		{"zero weight", func(r *Rule) { r.Weight = 0 }},
		{"negative weight", func(r *Rule) { r.Weight = -2 }},
		{"no domains", func(r *Rule) { r.RequiredDomains = nil }},
		{"no conditions", func(r *Rule) { r.Conditions = nil }},
		{"empty predicate", func(r *Rule) { r.Conditions[0].Predicate = "" }},
		{"unknown op", func(r *Rule) { r.Conditions[0].Op = "~" }},
	}
	for _, tc := range cases {
		r := validRule("bad")
		tc.mutate(&r)
		if err := r.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestNewRejectsDuplicateRuleNames(t *testing.T) {
	st := newStore(t)
	_, err := New(st, []Rule{validRule("twin"), validRule("twin")})
	if err == nil {
		t.Fatal("expected duplicate rule name error")
	}
}

func TestDefaultRulesValid(t *testing.T) {
	if err := validateRules(DefaultRules()); err != nil {
		t.Errorf("default rules invalid: %v", err)
	}
	if len(DefaultRules()) == 0 {
		t.Error("no default rules")
	}
}

func TestConditionHolds(t *testing.T) {
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	mkFact := func(obj fact.Literal) *fact.Fact {
		return &fact.Fact{
			Subject:   fact.EntityRef{ID: "X", Domain: fact.DomainTraffic},
			Predicate: "p",
			Object:    obj,
			Timestamp: at,
			Domain:    fact.DomainTraffic,
		}
	}

	cases := []struct {
		name string
		cond Condition
		f    *fact.Fact
		want bool
	}{
		{"eq string", Condition{Predicate: "p", Op: OpEq, Value: fact.Str("high")}, mkFact(fact.Str("high")), true},
		{"eq string miss", Condition{Predicate: "p", Op: OpEq, Value: fact.Str("high")}, mkFact(fact.Str("low")), false},
		{"ne", Condition{Predicate: "p", Op: OpNe, Value: fact.Str("operational")}, mkFact(fact.Str("degraded")), true},
		{"gt int vs float", Condition{Predicate: "p", Op: OpGt, Value: fact.Float(40)}, mkFact(fact.Int(55)), true},
		{"gte boundary", Condition{Predicate: "p", Op: OpGte, Value: fact.Int(60)}, mkFact(fact.Int(60)), true},
		{"lt", Condition{Predicate: "p", Op: OpLt, Value: fact.Float(0.7)}, mkFact(fact.Float(0.65)), true},
		{"lt miss", Condition{Predicate: "p", Op: OpLt, Value: fact.Float(0.7)}, mkFact(fact.Float(0.8)), false},
		{"ordered mismatch fails closed", Condition{Predicate: "p", Op: OpGt, Value: fact.Float(10)}, mkFact(fact.Str("11")), false},
		{"nil fact", Condition{Predicate: "p", Op: OpEq, Value: fact.Str("x")}, nil, false},
	}
	for _, tc := range cases {
		if got := tc.cond.holds(tc.f); got != tc.want {
			t.Errorf("%s: holds = %v, want %v", tc.name, got, tc.want)
		}
	}
}
