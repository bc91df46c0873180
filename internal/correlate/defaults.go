package correlate

import (
	"github.com/abelbrown/citysense/internal/fact"
	"github.com/abelbrown/citysense/internal/observe"
)

// DefaultRules returns the standard cross-domain rule set. Every rule
// targets road entities; structures and roadside stations contribute
// through the neighborhood and the entity_domain convention.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:            "fog-congestion",
			RequiredDomains: []fact.Domain{fact.DomainWeather, fact.DomainTraffic},
			TargetDomain:    fact.DomainTraffic,
			Conditions: []Condition{
				{Predicate: fact.PredVisibilityLevel, Op: OpEq, Value: fact.Str(observe.VisibilityLow)},
				{Predicate: fact.PredCongestionLevel, Op: OpEq, Value: fact.Str(observe.CongestionHigh)},
			},
			Action:    "reduce-speed-limit",
			Weight:    5,
			Rationale: "low visibility over a congested stretch",
		},
		{
			Name:            "storm-slowdown",
			RequiredDomains: []fact.Domain{fact.DomainWeather, fact.DomainTraffic},
			TargetDomain:    fact.DomainTraffic,
			Conditions: []Condition{
				{Predicate: fact.PredWeatherImpact, Op: OpGte, Value: fact.Int(60)},
				{Predicate: fact.PredAverageSpeed, Op: OpLt, Value: fact.Float(40)},
			},
			Action:    "reroute-traffic",
			Weight:    4,
			Rationale: "severe weather is already slowing traffic",
		},
		{
			Name:            "pollution-congestion",
			RequiredDomains: []fact.Domain{fact.DomainAirQuality, fact.DomainTraffic},
			TargetDomain:    fact.DomainTraffic,
			Conditions: []Condition{
				{Predicate: fact.PredPM25, Op: OpGt, Value: fact.Float(55)},
				{Predicate: fact.PredCongestionLevel, Op: OpEq, Value: fact.Str(observe.CongestionHigh)},
			},
			Action:    "restrict-traffic",
			Weight:    4,
			Rationale: "stalled traffic under a pollution spike",
		},
		{
			Name:            "weak-structure-load",
			RequiredDomains: []fact.Domain{fact.DomainInfrastructure, fact.DomainTraffic},
			TargetDomain:    fact.DomainTraffic,
			Conditions: []Condition{
				{Predicate: fact.PredStructuralHealth, Op: OpLt, Value: fact.Float(0.7)},
				{Predicate: fact.PredVehicleCount, Op: OpGt, Value: fact.Int(40)},
			},
			Action:        "restrict-heavy-vehicles",
			Weight:        6,
			Rationale:     "heavy load on a weakened structure",
			AlertSeverity: fact.SeverityCritical,
		},
		{
			Name:            "signal-fault-congestion",
			RequiredDomains: []fact.Domain{fact.DomainInfrastructure, fact.DomainTraffic},
			TargetDomain:    fact.DomainTraffic,
			Conditions: []Condition{
				{Predicate: fact.PredTrafficLightStatus, Op: OpEq, Value: fact.Str(observe.SignalMalfunction)},
				{Predicate: fact.PredCongestionLevel, Op: OpEq, Value: fact.Str(observe.CongestionHigh)},
			},
			Action:    "adjust-signal-timing",
			Weight:    5,
			Rationale: "failed signal blocking a congested junction",
		},
		{
			Name:            "air-quality-advisory",
			RequiredDomains: []fact.Domain{fact.DomainAirQuality},
			TargetDomain:    fact.DomainTraffic,
			Conditions: []Condition{
				{Predicate: fact.PredAirQualityLevel, Op: OpEq, Value: fact.Str(observe.AirVeryPoor)},
			},
			Action:    "issue-air-quality-advisory",
			Weight:    3,
			Rationale: "hazardous air at a monitored junction",
		},
	}
}
