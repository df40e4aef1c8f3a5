package live

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Frame
	}{
		{"setup ack object", `{"setupComplete":{}}`, Frame{Kind: FrameSetupAck}},
		{"setup ack true", `{"setupComplete":true}`, Frame{Kind: FrameSetupAck}},
		{"setup ack false", `{"setupComplete":false}`, Frame{Kind: FrameUnrecognized}},
		{"setup ack null", `{"setupComplete":null}`, Frame{Kind: FrameUnrecognized}},
		{"setup ack zero", `{"setupComplete":0}`, Frame{Kind: FrameUnrecognized}},
		{
			"audio",
			`{"serverContent":{"modelTurn":{"parts":[
				{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AQI="}},
				{"text":"ignored"},
				{"inlineData":{"mimeType":"image/png","data":"xx"}},
				{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AwQ="}}
			]}}}`,
			Frame{Kind: FrameAudio, Audio: []string{"AQI=", "AwQ="}},
		},
		{"turn complete", `{"serverContent":{"turnComplete":true}}`, Frame{Kind: FrameTurnComplete, TurnComplete: true}},
		{"turn not complete", `{"serverContent":{"turnComplete":false}}`, Frame{Kind: FrameUnrecognized}},
		{"unknown", `{"toolCall":{}}`, Frame{Kind: FrameUnrecognized}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"setupComplete":`))
	var ferr *MalformedFrameError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 17, ferr.Size)
}

func TestSetupMessageShape(t *testing.T) {
	data, err := json.Marshal(newSetupMessage(DefaultModel, "", "persona", "ctx"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"setup":{
		"model":"models/gemini-2.0-flash-exp",
		"generation_config":{"response_modalities":["AUDIO"]},
		"system_instruction":{"parts":[{"text":"persona"},{"text":"ctx"}]}
	}}`, string(data))
}

func TestMediaMessageShape(t *testing.T) {
	data, err := json.Marshal(newMediaMessage("AAAA", ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"realtime_input":{"media_chunks":[{"mime_type":"audio/pcm","data":"AAAA"}]}}`, string(data))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_setup", StateAwaitingSetup.String())
	assert.True(t, StateReady.Active())
	assert.False(t, StateReconnecting.Active())
	assert.Len(t, stateNames, 5)
}
