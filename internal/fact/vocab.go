package fact

// Predicate vocabulary produced by the standard observers. Correlation
// rules name predicates from this set rather than free-form strings.
const (
	PredAverageSpeed       = "hasAverageSpeed"
	PredVehicleCount       = "hasVehicleCount"
	PredOccupancy          = "hasOccupancy"
	PredCongestionLevel    = "congestionLevel"
	PredRiskScore          = "hasRiskScore"
	PredTemperature        = "hasTemperature"
	PredHumidity           = "hasHumidity"
	PredVisibility         = "hasVisibility"
	PredPrecipitation      = "hasPrecipitation"
	PredWindSpeed          = "hasWindSpeed"
	PredCondition          = "hasCondition"
	PredVisibilityLevel    = "visibilityLevel"
	PredWeatherImpact      = "weatherImpact"
	PredPM25               = "hasPM25"
	PredCO                 = "hasCO"
	PredNO2                = "hasNO2"
	PredO3                 = "hasO3"
	PredAirQualityLevel    = "airQualityLevel"
	PredStructuralHealth   = "hasStructuralHealth"
	PredTrafficLightStatus = "trafficLightStatus"
	PredHealthBand         = "healthBand"
)
