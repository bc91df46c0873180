package observe

import (
	"context"
	"fmt"

	"github.com/abelbrown/citysense/internal/fact"
)

// Visibility bands derived from visibility in km.
const (
	VisibilityLow     = "low"
	VisibilityReduced = "reduced"
	VisibilityNormal  = "normal"
)

// Weather conditions recognized by the impact model.
const (
	ConditionClear  = "clear"
	ConditionCloudy = "cloudy"
	ConditionRainy  = "rainy"
	ConditionFoggy  = "foggy"
	ConditionSnowy  = "snowy"
)

// CodeSevereWeather is raised when the impact score crosses 50.
const CodeSevereWeather = "severe-weather"

// WeatherObserver derives measurement facts, a visibility band and a
// combined impact score from roadside weather stations. Readings carry
// temperature, humidity, visibility (km), precipitation (mm/h) and
// wind_speed, plus an optional condition label.
type WeatherObserver struct{}

func NewWeather() *WeatherObserver { return &WeatherObserver{} }

func (o *WeatherObserver) Name() string        { return "weather-observer" }
func (o *WeatherObserver) Domain() fact.Domain { return fact.DomainWeather }

func (o *WeatherObserver) Ingest(ctx context.Context, readings []Reading) (Contribution, error) {
	c := Contribution{Domain: fact.DomainWeather}
	for _, r := range readings {
		if err := ctx.Err(); err != nil {
			return Contribution{Domain: fact.DomainWeather}, err
		}
		if reason, ok := wellFormed(r); !ok {
			c.skip(o.Name(), r.SensorID, reason)
			continue
		}
		o.ingestStation(&c, r)
	}
	return c, nil
}

func (o *WeatherObserver) ingestStation(c *Contribution, r Reading) {
	if reason, ok := requireValues(r, "temperature", "humidity", "visibility", "precipitation", "wind_speed"); !ok {
		c.skip(o.Name(), r.SensorID, reason)
		return
	}
	humidity := r.Values["humidity"]
	visibility := r.Values["visibility"]
	precipitation := r.Values["precipitation"]
	wind := r.Values["wind_speed"]
	if humidity < 0 || humidity > 100 || visibility < 0 || precipitation < 0 || wind < 0 {
		c.skip(o.Name(), r.SensorID, "measurement out of range")
		return
	}

	subj := subjectRef(r, fact.DomainWeather)
	mk := func(pred string, obj fact.Literal) fact.Fact {
		return fact.Fact{
			Subject:   subj,
			Predicate: pred,
			Object:    obj,
			Timestamp: r.Timestamp,
			Domain:    fact.DomainWeather,
			Source:    o.Name(),
		}
	}
	condition := r.Labels[LabelCondition]
	impact := weatherImpact(visibility, precipitation, wind, condition)
	c.Facts = append(c.Facts,
		mk(fact.PredTemperature, fact.Float(r.Values["temperature"])),
		mk(fact.PredHumidity, fact.Float(humidity)),
		mk(fact.PredVisibility, fact.Float(visibility)),
		mk(fact.PredPrecipitation, fact.Float(precipitation)),
		mk(fact.PredWindSpeed, fact.Float(wind)),
		mk(fact.PredVisibilityLevel, fact.Str(visibilityBand(visibility))),
		mk(fact.PredWeatherImpact, fact.Int(impact)),
	)
	if condition != "" {
		c.Facts = append(c.Facts, mk(fact.PredCondition, fact.Str(condition)))
	}

	if impact <= 50 {
		return
	}
	sev := fact.SeverityWarning
	if impact > 75 {
		sev = fact.SeverityCritical
	}
	c.Alerts = append(c.Alerts, fact.Alert{
		Domain:   fact.DomainWeather,
		Entity:   subj,
		Severity: sev,
		Code:     CodeSevereWeather,
		Message: fmt.Sprintf("weather impact %d at %s: visibility %.1f km, precipitation %.1f mm/h",
			impact, r.Entity, visibility, precipitation),
		RaisedAt: r.Timestamp,
	})
}

// visibilityBand: low below 0.5 km, reduced below 1.0.
func visibilityBand(km float64) string {
	switch {
	case km < 0.5:
		return VisibilityLow
	case km < 1.0:
		return VisibilityReduced
	default:
		return VisibilityNormal
	}
}

// weatherImpact combines visibility, precipitation, wind and condition
// into a 0..100 driving impact score.
func weatherImpact(visibility, precipitation, wind float64, condition string) int64 {
	var impact int64
	switch {
	case visibility < 0.3:
		impact += 40
	case visibility < 0.6:
		impact += 25
	case visibility < 0.8:
		impact += 15
	}
	switch {
	case precipitation > 5:
		impact += 30
	case precipitation > 2:
		impact += 20
	case precipitation > 0:
		impact += 10
	}
	switch {
	case wind > 20:
		impact += 25
	case wind > 15:
		impact += 15
	}
	switch condition {
	case ConditionSnowy:
		impact += 45
	case ConditionFoggy:
		impact += 35
	case ConditionRainy:
		impact += 25
	}
	if impact > 100 {
		impact = 100
	}
	return impact
}
