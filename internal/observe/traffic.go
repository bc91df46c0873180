package observe

import (
	"context"
	"fmt"

	"github.com/abelbrown/citysense/internal/fact"
)

// Congestion bands derived from average speed.
const (
	CongestionHigh     = "high"
	CongestionMedium   = "medium"
	CongestionFreeFlow = "free_flow"
)

// Alert codes raised by the traffic observer.
const (
	CodeCongestion      = "congestion"
	CodeHighRiskVehicle = "high-risk-driving"
)

// TrafficObserver derives flow and per-vehicle risk facts from road
// sensors. Two reading shapes are understood: flow readings carry
// average_speed, vehicle_count and occupancy for a segment or
// intersection; vehicle readings (type=vehicle) carry speed,
// max_acceleration and avg_braking for one tracked vehicle.
type TrafficObserver struct{}

func NewTraffic() *TrafficObserver { return &TrafficObserver{} }

func (o *TrafficObserver) Name() string        { return "traffic-observer" }
func (o *TrafficObserver) Domain() fact.Domain { return fact.DomainTraffic }

func (o *TrafficObserver) Ingest(ctx context.Context, readings []Reading) (Contribution, error) {
	c := Contribution{Domain: fact.DomainTraffic}
	for _, r := range readings {
		if err := ctx.Err(); err != nil {
			return Contribution{Domain: fact.DomainTraffic}, err
		}
		if reason, ok := wellFormed(r); !ok {
			c.skip(o.Name(), r.SensorID, reason)
			continue
		}
		switch r.Labels[LabelType] {
		case "", TypeFlow:
			o.ingestFlow(&c, r)
		case TypeVehicle:
			o.ingestVehicle(&c, r)
		default:
			c.skip(o.Name(), r.SensorID, "unknown reading type "+r.Labels[LabelType])
		}
	}
	return c, nil
}

func (o *TrafficObserver) ingestFlow(c *Contribution, r Reading) {
	if reason, ok := requireValues(r, "average_speed", "vehicle_count", "occupancy"); !ok {
		c.skip(o.Name(), r.SensorID, reason)
		return
	}
	speed := r.Values["average_speed"]
	count := r.Values["vehicle_count"]
	occupancy := r.Values["occupancy"]
	if speed < 0 || count < 0 || occupancy < 0 || occupancy > 1 {
		c.skip(o.Name(), r.SensorID, "measurement out of range")
		return
	}

	subj := subjectRef(r, fact.DomainTraffic)
	mk := func(pred string, obj fact.Literal) fact.Fact {
		return fact.Fact{
			Subject:   subj,
			Predicate: pred,
			Object:    obj,
			Timestamp: r.Timestamp,
			Domain:    fact.DomainTraffic,
			Source:    o.Name(),
		}
	}
	level := congestionBand(speed)
	c.Facts = append(c.Facts,
		mk(fact.PredAverageSpeed, fact.Float(speed)),
		mk(fact.PredVehicleCount, fact.Int(int64(count))),
		mk(fact.PredOccupancy, fact.Float(occupancy)),
		mk(fact.PredCongestionLevel, fact.Str(level)),
	)

	if level == CongestionFreeFlow {
		return
	}
	sev := fact.SeverityWarning
	if level == CongestionHigh {
		sev = fact.SeverityCritical
	}
	c.Alerts = append(c.Alerts, fact.Alert{
		Domain:   fact.DomainTraffic,
		Entity:   subj,
		Severity: sev,
		Code:     CodeCongestion,
		Message:  fmt.Sprintf("%s congestion on %s: average speed %.1f km/h", level, r.Entity, speed),
		RaisedAt: r.Timestamp,
	})
}

func (o *TrafficObserver) ingestVehicle(c *Contribution, r Reading) {
	if reason, ok := requireValues(r, "speed", "max_acceleration", "avg_braking"); !ok {
		c.skip(o.Name(), r.SensorID, reason)
		return
	}
	speed := r.Values["speed"]
	accel := r.Values["max_acceleration"]
	braking := r.Values["avg_braking"]
	if speed < 0 || accel < 0 || braking < 0 {
		c.skip(o.Name(), r.SensorID, "measurement out of range")
		return
	}

	score := riskScore(speed, accel, braking)
	subj := subjectRef(r, fact.DomainTraffic)
	c.Facts = append(c.Facts, fact.Fact{
		Subject:   subj,
		Predicate: fact.PredRiskScore,
		Object:    fact.Int(score),
		Timestamp: r.Timestamp,
		Domain:    fact.DomainTraffic,
		Source:    o.Name(),
	})

	if score > 70 {
		c.Alerts = append(c.Alerts, fact.Alert{
			Domain:   fact.DomainTraffic,
			Entity:   subj,
			Severity: fact.SeverityWarning,
			Code:     CodeHighRiskVehicle,
			Message:  fmt.Sprintf("vehicle %s risk score %d at %.0f km/h", r.Entity, score, speed),
			RaisedAt: r.Timestamp,
		})
	}
}

// congestionBand: high below 10 km/h, medium below 20.
func congestionBand(avgSpeed float64) string {
	switch {
	case avgSpeed < 10:
		return CongestionHigh
	case avgSpeed < 20:
		return CongestionMedium
	default:
		return CongestionFreeFlow
	}
}

// riskScore grades driving behavior 0..100 from top speed, peak
// acceleration and braking intensity.
func riskScore(speed, accel, braking float64) int64 {
	var score int64
	switch {
	case speed > 80:
		score += 40
	case speed > 60:
		score += 20
	case speed > 40:
		score += 10
	}
	switch {
	case accel > 6:
		score += 30
	case accel > 4:
		score += 20
	case accel > 2:
		score += 10
	}
	switch {
	case braking > 8:
		score += 30
	case braking > 5:
		score += 20
	case braking > 2:
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}
