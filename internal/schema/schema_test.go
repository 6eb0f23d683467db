package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/index-tts-go/index-tts-go/internal/ttserr"
)

func TestSynthesisRequestValidate(t *testing.T) {
	tests := []struct {
		name          string
		req           SynthesisRequest
		source        VoiceSource
		maxTextLength int
		expectedError string
	}{
		{
			name:   "character accepted",
			req:    SynthesisRequest{Text: "hello", Character: "alice"},
			source: VoiceAny,
		},
		{
			name:   "paths accepted",
			req:    SynthesisRequest{Text: "hello", AudioPaths: []string{"/a.wav"}},
			source: VoiceAny,
		},
		{
			name:          "blank text",
			req:           SynthesisRequest{Text: "   ", Character: "alice"},
			expectedError: "text is required",
		},
		{
			name:          "neither voice",
			req:           SynthesisRequest{Text: "hello"},
			expectedError: "exactly one of character or audio_paths",
		},
		{
			name:          "both voices",
			req:           SynthesisRequest{Text: "hello", Character: "alice", AudioPaths: []string{"/a.wav"}},
			expectedError: "exactly one of character or audio_paths",
		},
		{
			name:          "empty path list on references endpoint",
			req:           SynthesisRequest{Text: "hello", AudioPaths: []string{}},
			source:        VoiceReferences,
			expectedError: "at least one locator",
		},
		{
			name:          "empty locator",
			req:           SynthesisRequest{Text: "hello", AudioPaths: []string{"/a.wav", " "}},
			expectedError: "empty locators",
		},
		{
			name:          "character endpoint requires character",
			req:           SynthesisRequest{Text: "hello", AudioPaths: []string{"/a.wav"}},
			source:        VoiceCharacter,
			expectedError: "character is required",
		},
		{
			name:          "text over limit counted in runes",
			req:           SynthesisRequest{Text: strings.Repeat("你", 6), Character: "alice"},
			maxTextLength: 5,
			expectedError: "max length is 5",
		},
		{
			name:          "text at limit",
			req:           SynthesisRequest{Text: strings.Repeat("你", 5), Character: "alice"},
			maxTextLength: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(tt.maxTextLength, tt.source)
			if tt.expectedError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ttserr.ErrValidation)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestSynthesisRequestDecodesBothEncodings(t *testing.T) {
	want := SynthesisRequest{Text: "hi", AudioPaths: []string{"https://example.com/a.wav"}}

	raw, err := json.Marshal(want)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi","audio_paths":["https://example.com/a.wav"]}`, string(raw))

	packed, err := msgpack.Marshal(want)
	require.NoError(t, err)

	var got SynthesisRequest
	require.NoError(t, msgpack.Unmarshal(packed, &got))
	assert.Equal(t, want, got)
}

func TestRegisterVoiceRequestValidate(t *testing.T) {
	assert.NoError(t, (&RegisterVoiceRequest{Name: "alice", AudioPaths: []string{"/a.wav"}}).Validate())
	assert.ErrorIs(t, (&RegisterVoiceRequest{AudioPaths: []string{"/a.wav"}}).Validate(), ttserr.ErrValidation)
	assert.ErrorIs(t, (&RegisterVoiceRequest{Name: "alice"}).Validate(), ttserr.ErrValidation)
}

func TestErrorResponseShape(t *testing.T) {
	raw, err := json.Marshal(NewErrorResponse("voice not found"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","error":"voice not found"}`, string(raw))
}
