package audio

// InputLevels is the current microphone level measurement.
type InputLevels struct {
	// Level is the RMS level in dBFS.
	Level float64 `json:"level"`
	// Peak is the held peak level in dBFS.
	Peak float64 `json:"peak"`
	// Clip is how many samples clipped in the last measurement window.
	Clip int `json:"clip,omitzero"`
}

// SilentInput is the level reported while no capture is running.
var SilentInput = InputLevels{Level: MinDB, Peak: MinDB}

// Device represents an available audio input device.
type Device struct {
	// ID is the device identifier.
	ID string `json:"id"`
	// Name is the device display name.
	Name string `json:"name"`
}
