// Package fact provides the shared knowledge base for citysense: typed
// subject-predicate-object triples, entity references, and TTL-bounded
// alerts, persisted in SQLite.
//
// # Thread Safety
//
// All Store methods are safe for concurrent use via an internal mutex.
// Facts are immutable once appended; alerts are never mutated except for
// expiry refresh on re-raise.
//
// # Consistency
//
// Writes are synchronous and visible to subsequent reads. Superseded
// facts are kept; the latest view is derived per (subject, predicate)
// by highest timestamp.
package fact

import (
	"fmt"
	"time"
)

// Domain tags a fact or alert with the observation domain it came from.
type Domain string

const (
	DomainTraffic        Domain = "traffic"
	DomainWeather        Domain = "weather"
	DomainAirQuality     Domain = "air_quality"
	DomainInfrastructure Domain = "infrastructure"
)

// Domains lists all known domains in a fixed order.
func Domains() []Domain {
	return []Domain{DomainTraffic, DomainWeather, DomainAirQuality, DomainInfrastructure}
}

// EntityRef identifies a stable real-world referent: a road segment, an
// intersection, a bridge, a vehicle, a sensor. The domain tag records
// which domain owns the entity, not which domain observed it.
// Entities are registered on first reference and never deleted mid-run.
type EntityRef struct {
	ID     string `json:"id"`
	Domain Domain `json:"domain"`
}

// Fact is one timestamped, domain-tagged observation about an entity.
// Immutable once written. (Subject, Predicate, Timestamp) is a unique
// key: no two facts may share all three.
type Fact struct {
	Subject   EntityRef `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    Literal   `json:"object"`
	Timestamp time.Time `json:"timestamp"`
	Domain    Domain    `json:"domain"`
	Source    string    `json:"source,omitempty"` // producing observer
}

// Key returns the unique-key string for duplicate detection.
func (f Fact) Key() string {
	return fmt.Sprintf("%s|%s|%d", f.Subject.ID, f.Predicate, f.Timestamp.UnixNano())
}

// Severity indicates alert urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a deduplicated, TTL-bounded warning tied to one entity and
// one domain. Re-raising the same dedup key before expiry refreshes
// ExpiresAt rather than creating a duplicate.
type Alert struct {
	Domain    Domain    `json:"domain"`
	Entity    EntityRef `json:"entity"`
	Severity  Severity  `json:"severity"`
	Code      string    `json:"code"`
	Message   string    `json:"message,omitempty"`
	RaisedAt  time.Time `json:"raised_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DedupKey identifies logically-equal alerts: (domain, entity, code).
func (a Alert) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s", a.Domain, a.Entity.ID, a.Code)
}

// Active reports whether the alert is unexpired at the given instant.
func (a Alert) Active(now time.Time) bool {
	return a.ExpiresAt.After(now)
}
