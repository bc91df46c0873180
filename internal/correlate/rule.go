// Package correlate detects cross-domain situations over the fact
// store and turns them into ranked, deduplicated decisions.
//
// Rules are plain data, not code: they can be listed, serialized and
// swapped at runtime. The engine evaluates them in declaration order
// against the latest facts inside a recency window, widened to each
// entity's declared neighborhood (a road segment and the structure
// that carries it see each other's facts).
package correlate

import (
	"fmt"

	"github.com/abelbrown/citysense/internal/fact"
)

// Op compares a fact's object against a condition value.
type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Condition is one predicate test within a rule.
type Condition struct {
	Predicate string       `json:"predicate"`
	Op        Op           `json:"op"`
	Value     fact.Literal `json:"value"`
}

// holds reports whether the fact's object satisfies the condition.
// Ordered comparisons on mismatched kinds fail closed.
func (c Condition) holds(f *fact.Fact) bool {
	if f == nil {
		return false
	}
	switch c.Op {
	case OpEq:
		return f.Object.Equal(c.Value)
	case OpNe:
		return !f.Object.Equal(c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := f.Object.Compare(c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	default:
		return false
	}
}

// Rule describes one cross-domain correlation.
type Rule struct {
	Name string `json:"name"`

	// RequiredDomains must each have at least one in-window fact on
	// the candidate entity or a neighbor before conditions are tried.
	RequiredDomains []fact.Domain `json:"required_domains"`

	// TargetDomain restricts candidates to entities of that home
	// domain. Empty means any entity may be targeted.
	TargetDomain fact.Domain `json:"target_domain,omitempty"`

	Conditions []Condition `json:"conditions"`
	Action     string      `json:"action"`
	Weight     int         `json:"weight"`
	Rationale  string      `json:"rationale"`

	// AlertSeverity, when set, additionally raises an alert (code =
	// rule name) for each entity the rule fires on.
	AlertSeverity fact.Severity `json:"alert_severity,omitempty"`
}

// Validate checks a single rule for structural problems.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule with empty name")
	}
	if r.Action == "" {
		return fmt.Errorf("rule %s: empty action", r.Name)
	}
	if r.Weight <= 0 {
		return fmt.Errorf("rule %s: weight must be positive, got %d", r.Name, r.Weight)
	}
	if len(r.RequiredDomains) == 0 {
		return fmt.Errorf("rule %s: no required domains", r.Name)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule %s: no conditions", r.Name)
	}
	for i, c := range r.Conditions {
		if c.Predicate == "" {
			return fmt.Errorf("rule %s: condition %d has empty predicate", r.Name, i)
		}
		switch c.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		default:
			return fmt.Errorf("rule %s: condition %d has unknown op %q", r.Name, i, c.Op)
		}
	}
	return nil
}

// validateRules checks every rule and rejects duplicate names.
func validateRules(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}
