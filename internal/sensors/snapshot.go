// Package sensors provides the field context embedded into each voice
// session: local weather from open-meteo and soil telemetry from ThingSpeak.
package sensors

import (
	"fmt"
	"time"
)

// Default location and telemetry channel of the field station.
const (
	DefaultLatitude  = 22.5626
	DefaultLongitude = 88.363
	DefaultChannel   = 2647422
	DefaultResults   = 144
)

// Snapshot is the point-in-time field context. It is immutable once returned.
type Snapshot struct {
	LocationName  string  `json:"locationName"`
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	SoilMoisture  float64 `json:"soilMoisture"`
	NPKNitrogen   float64 `json:"npkNitrogen"`
	NPKPhosphorus float64 `json:"npkPhosphorus"`
	NPKPotassium  float64 `json:"npkPotassium"`
	NPKAverage    float64 `json:"npkAverage"`

	CapturedAt       time.Time `json:"capturedAt"`
	WeatherUpdated   time.Time `json:"weatherUpdated"`
	TelemetryUpdated time.Time `json:"telemetryUpdated"`
}

// HasTelemetry reports whether soil readings were ever received.
func (s Snapshot) HasTelemetry() bool {
	return !s.TelemetryUpdated.IsZero()
}

// LocationLabel returns the display label used when no location name is configured.
func LocationLabel(lat, lon float64) string {
	return fmt.Sprintf("Coordinates: %.6f°, %.6f°", lat, lon)
}

// npkAverage returns the mean of the three nutrient readings.
func npkAverage(n, p, k float64) float64 {
	return (n + p + k) / 3
}
