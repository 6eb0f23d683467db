package schema

import (
	"strings"
	"time"
)

// RegisterVoiceRequest registers or replaces a named voice.
type RegisterVoiceRequest struct {
	Name       string   `json:"name" msgpack:"name"`
	AudioPaths []string `json:"audio_paths" msgpack:"audio_paths"`
}

// Validate checks the request shape. Locator resolution happens later.
func (r *RegisterVoiceRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fieldError("name is required")
	}
	if len(r.AudioPaths) == 0 {
		return fieldError("audio_paths must contain at least one locator")
	}
	for _, p := range r.AudioPaths {
		if strings.TrimSpace(p) == "" {
			return fieldError("audio_paths must not contain empty locators")
		}
	}
	return nil
}

// VoiceInfo describes a registered voice.
type VoiceInfo struct {
	Name         string    `json:"name" msgpack:"name"`
	AudioPaths   []string  `json:"audio_paths" msgpack:"audio_paths"`
	EngineSynced bool      `json:"engine_synced" msgpack:"engine_synced"`
	UpdatedAt    time.Time `json:"updated_at" msgpack:"updated_at"`
}

// ListVoicesResponse lists registered voices sorted by name.
type ListVoicesResponse struct {
	Voices []VoiceInfo `json:"voices" msgpack:"voices"`
}
