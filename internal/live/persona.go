package live

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/oszuidwest/zwfm-voiceagent/internal/sensors"
)

// contextPrefix marks the machine-readable part of the instructions.
const contextPrefix = "SENSOR_CONTEXT_JSON: "

// Persona returns the behavioral instructions for the voice agent with the
// field readings of s interpolated.
func Persona(s sensors.Snapshot) string {
	var b strings.Builder
	b.WriteString("You are a warm, witty and confident agriculture expert helping farmers in India. ")
	b.WriteString("Ask what the farmer needs, then answer in depth but a little at a time, never more than 40 words per reply. ")
	b.WriteString("Sound natural, think out loud with the occasional 'ahh' or 'uhh', avoid generic advice, ")
	b.WriteString("do not repeat questions and do not keep repeating the farmer's name. Say no when you have to. ")
	b.WriteString("Always reply in the language the farmer speaks, or the one they ask for. ")
	fmt.Fprintf(&b, "Live field readings: location %s, temperature %.1f degrees Celsius, humidity %.0f%%, "+
		"soil moisture %.0f%%, nitrogen %.0f ppm, phosphorus %.0f ppm, potassium %.0f ppm, average NPK %.0f ppm. ",
		s.LocationName, s.Temperature, s.Humidity, s.SoilMoisture,
		s.NPKNitrogen, s.NPKPhosphorus, s.NPKPotassium, s.NPKAverage)
	b.WriteString("Use these readings, the location and the crop the farmer mentions to give personalized recommendations. ")
	b.WriteString("Always speak numbers as words, for example say twelve hundred instead of 1200.")
	return b.String()
}

// ContextPart returns the serialized snapshot part of the instructions.
func ContextPart(s sensors.Snapshot) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return contextPrefix + string(data), nil
}
