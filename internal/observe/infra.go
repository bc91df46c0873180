package observe

import (
	"context"
	"fmt"

	"github.com/abelbrown/citysense/internal/fact"
)

// Health bands for monitored structures.
const (
	HealthExcellent = "excellent"
	HealthGood      = "good"
	HealthFair      = "fair"
	HealthPoor      = "poor"
	HealthCritical  = "critical"
)

// Signal states reported by intersection controllers.
const (
	SignalOperational = "operational"
	SignalDegraded    = "degraded"
	SignalMalfunction = "malfunction"
)

// CodeMaintenance is raised for weak structures and faulty signals.
const CodeMaintenance = "maintenance-required"

// InfrastructureObserver derives structural health and signal status
// facts. Structure readings carry structural_health in 0..1; signal
// readings (type=signal) carry a traffic_light_status label and are
// sited at traffic intersections.
type InfrastructureObserver struct{}

func NewInfrastructure() *InfrastructureObserver { return &InfrastructureObserver{} }

func (o *InfrastructureObserver) Name() string        { return "infrastructure-observer" }
func (o *InfrastructureObserver) Domain() fact.Domain { return fact.DomainInfrastructure }

func (o *InfrastructureObserver) Ingest(ctx context.Context, readings []Reading) (Contribution, error) {
	c := Contribution{Domain: fact.DomainInfrastructure}
	for _, r := range readings {
		if err := ctx.Err(); err != nil {
			return Contribution{Domain: fact.DomainInfrastructure}, err
		}
		if reason, ok := wellFormed(r); !ok {
			c.skip(o.Name(), r.SensorID, reason)
			continue
		}
		switch r.Labels[LabelType] {
		case "", TypeStructure:
			o.ingestStructure(&c, r)
		case TypeSignal:
			o.ingestSignal(&c, r)
		default:
			c.skip(o.Name(), r.SensorID, "unknown reading type "+r.Labels[LabelType])
		}
	}
	return c, nil
}

func (o *InfrastructureObserver) ingestStructure(c *Contribution, r Reading) {
	if reason, ok := requireValues(r, "structural_health"); !ok {
		c.skip(o.Name(), r.SensorID, reason)
		return
	}
	health := r.Values["structural_health"]
	if health < 0 || health > 1 {
		c.skip(o.Name(), r.SensorID, "measurement out of range")
		return
	}

	subj := subjectRef(r, fact.DomainInfrastructure)
	mk := func(pred string, obj fact.Literal) fact.Fact {
		return fact.Fact{
			Subject:   subj,
			Predicate: pred,
			Object:    obj,
			Timestamp: r.Timestamp,
			Domain:    fact.DomainInfrastructure,
			Source:    o.Name(),
		}
	}
	c.Facts = append(c.Facts,
		mk(fact.PredStructuralHealth, fact.Float(health)),
		mk(fact.PredHealthBand, fact.Str(healthBand(health))),
	)

	if health >= 0.7 {
		return
	}
	sev := fact.SeverityWarning
	if health < 0.5 {
		sev = fact.SeverityCritical
	}
	c.Alerts = append(c.Alerts, fact.Alert{
		Domain:   fact.DomainInfrastructure,
		Entity:   subj,
		Severity: sev,
		Code:     CodeMaintenance,
		Message:  fmt.Sprintf("structural health %.2f on %s", health, r.Entity),
		RaisedAt: r.Timestamp,
	})
}

func (o *InfrastructureObserver) ingestSignal(c *Contribution, r Reading) {
	status := r.Labels[LabelSignalStatus]
	switch status {
	case SignalOperational, SignalDegraded, SignalMalfunction:
	case "":
		c.skip(o.Name(), r.SensorID, "missing "+LabelSignalStatus)
		return
	default:
		c.skip(o.Name(), r.SensorID, "unknown signal status "+status)
		return
	}

	subj := subjectRef(r, fact.DomainInfrastructure)
	c.Facts = append(c.Facts, fact.Fact{
		Subject:   subj,
		Predicate: fact.PredTrafficLightStatus,
		Object:    fact.Str(status),
		Timestamp: r.Timestamp,
		Domain:    fact.DomainInfrastructure,
		Source:    o.Name(),
	})

	if status == SignalOperational {
		return
	}
	sev := fact.SeverityWarning
	if status == SignalMalfunction {
		sev = fact.SeverityCritical
	}
	c.Alerts = append(c.Alerts, fact.Alert{
		Domain:   fact.DomainInfrastructure,
		Entity:   subj,
		Severity: sev,
		Code:     CodeMaintenance,
		Message:  fmt.Sprintf("traffic light %s at %s", status, r.Entity),
		RaisedAt: r.Timestamp,
	})
}

// healthBand: excellent at 0.9 and above, then good, fair, poor in
// 0.1 steps down to critical below 0.5.
func healthBand(health float64) string {
	switch {
	case health >= 0.9:
		return HealthExcellent
	case health >= 0.8:
		return HealthGood
	case health >= 0.7:
		return HealthFair
	case health >= 0.5:
		return HealthPoor
	default:
		return HealthCritical
	}
}
