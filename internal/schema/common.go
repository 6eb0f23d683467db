package schema

import "time"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status string `json:"status" msgpack:"status"`
	Error  string `json:"error" msgpack:"error"`
}

// NewErrorResponse builds an ErrorResponse with the "error" status.
func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Status: "error", Error: message}
}

// HealthResponse represents the health check response payload.
type HealthResponse struct {
	Status string         `json:"status" msgpack:"status"`
	Engine *EngineHealth  `json:"engine,omitempty" msgpack:"engine,omitempty"`
	Voices *int           `json:"voices,omitempty" msgpack:"voices,omitempty"`
	Uptime *time.Duration `json:"uptime_ns,omitempty" msgpack:"uptime_ns,omitempty"`
}

// EngineHealth is the detailed engine section of HealthResponse.
type EngineHealth struct {
	Kind      string `json:"kind" msgpack:"kind"`
	Status    string `json:"status" msgpack:"status"`
	LatencyMS int64  `json:"latency_ms" msgpack:"latency_ms"`
	Error     string `json:"error,omitempty" msgpack:"error,omitempty"`
}
