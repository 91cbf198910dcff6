package pmutils

import "math"

type AQI struct {
	Level   string `json:"level"`
	Label   string `json:"label"`
	Color   string `json:"color"`
	Value   int    `json:"value"`
	Message string `json:"message"`
}

type aqiBand struct {
	pmLow, pmHigh   float64
	aqiLow, aqiHigh float64
	level, label    string
	color, message  string
}

// US EPA PM2.5 breakpoints (24h, µg/m3).
var aqiBands = []aqiBand{
	{0, 12.0, 0, 50, "good", "Good", "#00e400", "Air quality is excellent."},
	{12.1, 35.4, 50, 100, "moderate", "Moderate", "#ffff00", "Air quality is acceptable."},
	{35.5, 55.4, 100, 150, "unhealthy-sensitive", "Unhealthy for sensitive groups", "#ff7e00", "Sensitive groups may be affected."},
	{55.5, 150.4, 150, 200, "unhealthy", "Unhealthy", "#ff0000", "Everyone may be affected. Limit outdoor activity."},
	{150.5, 250.4, 200, 300, "very-unhealthy", "Very unhealthy", "#8f3f97", "Health warning. Avoid outdoor activity."},
	{250.5, 500.4, 300, 500, "hazardous", "Hazardous", "#7e0023", "Health alert. Stay indoors."},
}

// CalculateAQI maps a PM2.5 concentration onto the AQI scale by linear interpolation
// inside its band. Values above the last band keep extrapolating.
func CalculateAQI(pm25 float64) AQI {
	if pm25 < 0 || math.IsNaN(pm25) {
		pm25 = 0
	}

	band := aqiBands[len(aqiBands)-1]
	for _, b := range aqiBands {
		if pm25 <= b.pmHigh {
			band = b
			break
		}
	}

	value := band.aqiLow + (band.aqiHigh-band.aqiLow)/(band.pmHigh-band.pmLow)*(pm25-band.pmLow)
	return AQI{
		Level:   band.level,
		Label:   band.label,
		Color:   band.color,
		Value:   int(math.Round(value)),
		Message: band.message,
	}
}
