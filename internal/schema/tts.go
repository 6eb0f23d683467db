package schema

import (
	"strings"
	"unicode/utf8"

	"github.com/index-tts-go/index-tts-go/internal/ttserr"
)

// VoiceSource restricts which voice mechanisms an endpoint accepts.
type VoiceSource int

const (
	// VoiceAny accepts either a registered character or inline audio paths.
	VoiceAny VoiceSource = iota
	// VoiceCharacter requires a registered character.
	VoiceCharacter
	// VoiceReferences requires inline audio paths.
	VoiceReferences
)

// SynthesisRequest is the body of /tts, /tts_url and /tts_live_stream.
type SynthesisRequest struct {
	Text       string   `json:"text" msgpack:"text"`
	Character  string   `json:"character,omitempty" msgpack:"character,omitempty"`
	AudioPaths []string `json:"audio_paths,omitempty" msgpack:"audio_paths,omitempty"`
}

// UsesCharacter reports whether the request names a registered voice.
func (r *SynthesisRequest) UsesCharacter() bool {
	return strings.TrimSpace(r.Character) != ""
}

// Validate checks the request without touching the filesystem or network.
// maxTextLength counts runes; zero disables the limit.
func (r *SynthesisRequest) Validate(maxTextLength int, source VoiceSource) error {
	if strings.TrimSpace(r.Text) == "" {
		return fieldError("text is required")
	}
	if maxTextLength > 0 && utf8.RuneCountInString(r.Text) > maxTextLength {
		return ttserr.Validation("request", "text is too long, max length is %d", maxTextLength)
	}

	hasCharacter := strings.TrimSpace(r.Character) != ""
	hasPaths := len(r.AudioPaths) > 0

	switch source {
	case VoiceCharacter:
		if !hasCharacter {
			return fieldError("character is required")
		}
		if hasPaths {
			return fieldError("audio_paths is not accepted on this endpoint")
		}
	case VoiceReferences:
		if !hasPaths {
			return fieldError("audio_paths must contain at least one locator")
		}
		if hasCharacter {
			return fieldError("character is not accepted on this endpoint")
		}
	default:
		if hasCharacter == hasPaths {
			return fieldError("exactly one of character or audio_paths is required")
		}
	}

	for _, p := range r.AudioPaths {
		if strings.TrimSpace(p) == "" {
			return fieldError("audio_paths must not contain empty locators")
		}
	}
	return nil
}

func fieldError(msg string) error {
	return ttserr.Validation("request", "%s", msg)
}
