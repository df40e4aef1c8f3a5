package live

import (
	"bytes"
	"encoding/json"
)

// Protocol constants of the BidiGenerateContent service.
const (
	// DefaultModel is the model requested in the setup frame.
	DefaultModel = "models/gemini-2.0-flash-exp"
	// AudioMimeType tags inline PCM fragments sent by the service.
	AudioMimeType = "audio/pcm;rate=24000"
	// MediaMimeType tags microphone chunks sent to the service.
	MediaMimeType = "audio/pcm"
	// ResponseModalityAudio requests spoken responses.
	ResponseModalityAudio = "AUDIO"
)

// FrameKind classifies an inbound frame.
type FrameKind int

// Inbound frame kinds.
const (
	FrameUnrecognized FrameKind = iota
	FrameSetupAck
	FrameAudio
	FrameTurnComplete
)

// String returns the kind name used in logs and metrics.
func (k FrameKind) String() string {
	switch k {
	case FrameSetupAck:
		return "setup_ack"
	case FrameAudio:
		return "audio"
	case FrameTurnComplete:
		return "turn_complete"
	default:
		return "unrecognized"
	}
}

// Frame is an inbound frame decoded once at the connection boundary.
// An audio frame may also end the turn, in which case TurnComplete is set
// and must be handled after all of Audio.
type Frame struct {
	Kind         FrameKind
	Audio        []string // Base64 PCM16 fragments in arrival order
	TurnComplete bool
}

type inboundFrame struct {
	SetupComplete json.RawMessage `json:"setupComplete"`
	ServerContent *struct {
		ModelTurn *struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
		TurnComplete bool `json:"turnComplete"`
	} `json:"serverContent"`
}

// DecodeFrame classifies raw frame data. Fields other than the setup
// acknowledgement, audio parts and turn-complete marker are ignored.
func DecodeFrame(data []byte) (Frame, error) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, &MalformedFrameError{Size: len(data), Err: err}
	}

	if truthy(in.SetupComplete) {
		return Frame{Kind: FrameSetupAck}, nil
	}

	sc := in.ServerContent
	if sc == nil {
		return Frame{Kind: FrameUnrecognized}, nil
	}

	var f Frame
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.MimeType == AudioMimeType {
				f.Audio = append(f.Audio, p.InlineData.Data)
			}
		}
	}
	f.TurnComplete = sc.TurnComplete

	switch {
	case len(f.Audio) > 0:
		f.Kind = FrameAudio
	case f.TurnComplete:
		f.Kind = FrameTurnComplete
	default:
		f.Kind = FrameUnrecognized
	}
	return f, nil
}

// truthy reports whether a raw JSON value is present and not
// null, false, zero or an empty string.
func truthy(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false", `""`:
		return false
	}
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return n != 0
	}
	return true
}

// Outbound frames.

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generation_config"`
	SystemInstruction content          `json:"system_instruction"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"response_modalities"`
	SpeechConfig       *speechConfig `json:"speech_config,omitempty"`
}

type speechConfig struct {
	LanguageCode string `json:"language_code"`
}

type content struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"media_chunks"`
}

type mediaChunk struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// newSetupMessage builds the setup frame with the persona and context parts.
func newSetupMessage(model, languageCode, persona, context string) setupMessage {
	msg := setupMessage{Setup: setupConfig{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{ResponseModalityAudio},
		},
		SystemInstruction: content{Parts: []textPart{
			{Text: persona},
			{Text: context},
		}},
	}}
	if languageCode != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{LanguageCode: languageCode}
	}
	return msg
}

// newMediaMessage wraps one base64 chunk as a realtime-input frame.
func newMediaMessage(data, mimeType string) realtimeInputMessage {
	if mimeType == "" {
		mimeType = MediaMimeType
	}
	return realtimeInputMessage{RealtimeInput: realtimeInput{
		MediaChunks: []mediaChunk{{MimeType: mimeType, Data: data}},
	}}
}
