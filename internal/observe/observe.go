// Package observe turns raw sensor readings into typed facts and alerts.
//
// Each Observer covers one domain and derives facts from one batch of
// readings at a time. Malformed records are skipped and reported via
// RecordSkipped, never fatal: a single bad sensor cannot abort a tick.
// Observers hold no mutable state, so Ingest may be called from
// multiple goroutines at once.
package observe

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/abelbrown/citysense/internal/fact"
)

// Reading is one raw record from a sensor feed.
type Reading struct {
	Domain    fact.Domain        `json:"domain"`
	SensorID  string             `json:"sensor_id"`
	Entity    string             `json:"entity"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
	Labels    map[string]string  `json:"labels,omitempty"`
}

// Well-known label keys.
const (
	// LabelType selects the reading shape when an observer understands
	// more than one (flow vs vehicle, structure vs signal).
	LabelType = "type"

	// LabelEntityDomain names the home domain of the subject entity.
	// Weather and air quality sensors sit at road infrastructure, so
	// their readings carry entity_domain=traffic. Absent means the
	// entity belongs to the observer's own domain.
	LabelEntityDomain = "entity_domain"

	// LabelCondition carries the observed weather condition.
	LabelCondition = "condition"

	// LabelSignalStatus carries the reported traffic light state.
	LabelSignalStatus = "traffic_light_status"
)

// Reading type label values.
const (
	TypeFlow      = "flow"
	TypeVehicle   = "vehicle"
	TypeStructure = "structure"
	TypeSignal    = "signal"
)

// Contribution is everything one observer derived from one batch.
type Contribution struct {
	Domain  fact.Domain
	Facts   []fact.Fact
	Alerts  []fact.Alert
	Skipped []*RecordSkipped
}

func (c *Contribution) skip(observer, sensorID, reason string) {
	c.Skipped = append(c.Skipped, &RecordSkipped{
		Observer: observer,
		SensorID: sensorID,
		Reason:   reason,
	})
}

// RecordSkipped reports a malformed reading an observer dropped.
type RecordSkipped struct {
	Observer string
	SensorID string
	Reason   string
}

func (e *RecordSkipped) Error() string {
	return fmt.Sprintf("%s skipped record from %s: %s", e.Observer, e.SensorID, e.Reason)
}

// Observer ingests raw readings for one domain.
type Observer interface {
	Name() string
	Domain() fact.Domain

	// Ingest derives facts and alerts from a batch. It returns an
	// error only when ctx ends; per-record problems land in Skipped.
	Ingest(ctx context.Context, readings []Reading) (Contribution, error)
}

// All returns the standard observer set in merge order.
func All() []Observer {
	return []Observer{
		NewTraffic(),
		NewWeather(),
		NewAirQuality(),
		NewInfrastructure(),
	}
}

// wellFormed checks the fields every reading must carry.
func wellFormed(r Reading) (string, bool) {
	if r.Entity == "" {
		return "missing entity", false
	}
	if r.Timestamp.IsZero() {
		return "zero timestamp", false
	}
	return "", true
}

// requireValues checks that each key is present and finite.
func requireValues(r Reading, keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := r.Values[k]
		if !ok {
			return "missing " + k, false
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "non-finite " + k, false
		}
	}
	return "", true
}

// subjectRef resolves the subject entity of a reading, honoring the
// entity_domain label for sensors sited at another domain's entity.
func subjectRef(r Reading, fallback fact.Domain) fact.EntityRef {
	d := fallback
	if v := r.Labels[LabelEntityDomain]; v != "" {
		d = fact.Domain(v)
	}
	return fact.EntityRef{ID: r.Entity, Domain: d}
}
