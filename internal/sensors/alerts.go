package sensors

import (
	"fmt"
	"sync"
	"time"
)

// Default soil moisture thresholds in percent.
const (
	DefaultSoilMoistureHigh = 80.0
	DefaultSoilMoistureLow  = 20.0
)

// AlertKind classifies a soil moisture excursion.
type AlertKind string

// Soil moisture alert kinds.
const (
	AlertNone      AlertKind = ""
	AlertDrowning  AlertKind = "soil_too_wet"
	AlertDry       AlertKind = "soil_too_dry"
	AlertRecovered AlertKind = "soil_recovered"
)

// Alert is a change in soil moisture condition.
type Alert struct {
	Kind         AlertKind `json:"kind"`
	Message      string    `json:"message"`
	SoilMoisture float64   `json:"soilMoisture"`
	Threshold    float64   `json:"threshold"`
	At           time.Time `json:"at"`
}

// AlertMonitor turns telemetry updates into alerts, once per excursion.
// It is safe for concurrent use.
type AlertMonitor struct {
	high float64
	low  float64

	mu     sync.Mutex
	active AlertKind
	last   Alert
	seen   time.Time // TelemetryUpdated of the last evaluated snapshot
}

// NewAlertMonitor returns a monitor for the given thresholds.
func NewAlertMonitor(high, low float64) *AlertMonitor {
	return &AlertMonitor{high: high, low: low}
}

// Observe evaluates a snapshot. It returns an alert when the soil moisture
// enters or leaves an excursion; snapshots without new telemetry are ignored.
func (m *AlertMonitor) Observe(s Snapshot) (Alert, bool) {
	if !s.HasTelemetry() {
		return Alert{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !s.TelemetryUpdated.After(m.seen) {
		return Alert{}, false
	}
	m.seen = s.TelemetryUpdated

	kind, threshold := m.classify(s.SoilMoisture)
	if kind == m.active {
		return Alert{}, false
	}

	prev := m.active
	m.active = kind
	alert := Alert{SoilMoisture: s.SoilMoisture, At: s.TelemetryUpdated}

	switch kind {
	case AlertDrowning:
		alert.Kind, alert.Threshold = kind, threshold
		alert.Message = "Plant is drowning, please remove water"
	case AlertDry:
		alert.Kind, alert.Threshold = kind, threshold
		alert.Message = "Please water the plants"
	default:
		alert.Kind = AlertRecovered
		alert.Message = fmt.Sprintf("Soil moisture back in range at %.1f%% (was %s)", s.SoilMoisture, prev)
	}
	m.last = alert
	return alert, true
}

// Active returns the current excursion, or AlertNone.
func (m *AlertMonitor) Active() AlertKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Current returns the alert of the ongoing excursion, if any.
func (m *AlertMonitor) Current() (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == AlertNone {
		return Alert{}, false
	}
	return m.last, true
}

func (m *AlertMonitor) classify(v float64) (AlertKind, float64) {
	switch {
	case v > m.high:
		return AlertDrowning, m.high
	case v < m.low:
		return AlertDry, m.low
	default:
		return AlertNone, 0
	}
}
