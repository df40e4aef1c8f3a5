package notify

import (
	"fmt"

	"github.com/oszuidwest/zwfm-voiceagent/internal/sensors"
	"github.com/oszuidwest/zwfm-voiceagent/internal/types"
)

// Event is one notification, delivered to every configured channel.
type Event struct {
	Name         string // session_lost, session_restored, soil_too_wet, soil_too_dry, soil_recovered or test
	Station      string
	SessionID    string
	Reconnects   int
	Error        string
	SoilMoisture float64
	Threshold    float64
	Message      string
}

// SessionEvent builds a session_lost or session_restored event.
func SessionEvent(name, station string, st types.SessionStatus) Event {
	e := Event{
		Name:       name,
		Station:    station,
		SessionID:  st.SessionID,
		Reconnects: st.Reconnects,
	}
	switch name {
	case EventSessionLost:
		e.Error = st.LastError
		e.Message = "Connection to the voice service was lost, reconnecting"
	case EventSessionRestored:
		e.Message = fmt.Sprintf("Connection to the voice service restored after %d reconnect(s)", st.Reconnects)
	}
	return e
}

// AlertEvent builds an event from a soil moisture alert.
func AlertEvent(station string, a sensors.Alert) Event {
	return Event{
		Name:         string(a.Kind),
		Station:      station,
		SoilMoisture: a.SoilMoisture,
		Threshold:    a.Threshold,
		Message:      a.Message,
	}
}

// severity returns the subject prefix for the event.
func (e *Event) severity() string {
	switch e.Name {
	case EventSessionRestored, string(sensors.AlertRecovered):
		return "[OK]"
	case EventTest:
		return "[TEST]"
	default:
		return "[ALERT]"
	}
}

// title returns a short human-readable description of the event.
func (e *Event) title() string {
	switch e.Name {
	case EventSessionLost:
		return "Voice Session Lost"
	case EventSessionRestored:
		return "Voice Session Restored"
	case string(sensors.AlertDrowning):
		return "Soil Too Wet"
	case string(sensors.AlertDry):
		return "Soil Too Dry"
	case string(sensors.AlertRecovered):
		return "Soil Moisture Recovered"
	case EventTest:
		return "Test Notification"
	default:
		return e.Name
	}
}
