package observe

import (
	"context"
	"fmt"

	"github.com/abelbrown/citysense/internal/fact"
)

// Air quality bands from combined PM2.5 and CO levels.
const (
	AirExcellent = "excellent"
	AirGood      = "good"
	AirModerate  = "moderate"
	AirPoor      = "poor"
	AirVeryPoor  = "very_poor"
)

// CodePoorAirQuality is raised for poor and very_poor readings.
const CodePoorAirQuality = "poor-air-quality"

// AirQualityObserver derives pollutant facts and a quality band from
// roadside monitoring stations. Readings carry pm25 (ug/m3), co (ppm),
// no2 and o3 (ppb).
type AirQualityObserver struct{}

func NewAirQuality() *AirQualityObserver { return &AirQualityObserver{} }

func (o *AirQualityObserver) Name() string        { return "air-quality-observer" }
func (o *AirQualityObserver) Domain() fact.Domain { return fact.DomainAirQuality }

func (o *AirQualityObserver) Ingest(ctx context.Context, readings []Reading) (Contribution, error) {
	c := Contribution{Domain: fact.DomainAirQuality}
	for _, r := range readings {
		if err := ctx.Err(); err != nil {
			return Contribution{Domain: fact.DomainAirQuality}, err
		}
		if reason, ok := wellFormed(r); !ok {
			c.skip(o.Name(), r.SensorID, reason)
			continue
		}
		o.ingestStation(&c, r)
	}
	return c, nil
}

func (o *AirQualityObserver) ingestStation(c *Contribution, r Reading) {
	if reason, ok := requireValues(r, "pm25", "co", "no2", "o3"); !ok {
		c.skip(o.Name(), r.SensorID, reason)
		return
	}
	pm25 := r.Values["pm25"]
	co := r.Values["co"]
	no2 := r.Values["no2"]
	o3 := r.Values["o3"]
	if pm25 < 0 || co < 0 || no2 < 0 || o3 < 0 {
		c.skip(o.Name(), r.SensorID, "measurement out of range")
		return
	}

	subj := subjectRef(r, fact.DomainAirQuality)
	mk := func(pred string, obj fact.Literal) fact.Fact {
		return fact.Fact{
			Subject:   subj,
			Predicate: pred,
			Object:    obj,
			Timestamp: r.Timestamp,
			Domain:    fact.DomainAirQuality,
			Source:    o.Name(),
		}
	}
	level := airBand(pm25, co)
	c.Facts = append(c.Facts,
		mk(fact.PredPM25, fact.Float(pm25)),
		mk(fact.PredCO, fact.Float(co)),
		mk(fact.PredNO2, fact.Float(no2)),
		mk(fact.PredO3, fact.Float(o3)),
		mk(fact.PredAirQualityLevel, fact.Str(level)),
	)

	if level != AirPoor && level != AirVeryPoor && pm25 <= 55 && co <= 6 {
		return
	}
	sev := fact.SeverityWarning
	if level == AirVeryPoor {
		sev = fact.SeverityCritical
	}
	c.Alerts = append(c.Alerts, fact.Alert{
		Domain:   fact.DomainAirQuality,
		Entity:   subj,
		Severity: sev,
		Code:     CodePoorAirQuality,
		Message:  fmt.Sprintf("air quality %s at %s: PM2.5 %.1f ug/m3, CO %.1f ppm", level, r.Entity, pm25, co),
		RaisedAt: r.Timestamp,
	})
}

// airBand requires both pollutants under a band's ceiling; the first
// band that holds wins.
func airBand(pm25, co float64) string {
	switch {
	case pm25 < 12 && co < 2:
		return AirExcellent
	case pm25 < 35 && co < 4:
		return AirGood
	case pm25 < 55 && co < 6:
		return AirModerate
	case pm25 < 150 && co < 9:
		return AirPoor
	default:
		return AirVeryPoor
	}
}
