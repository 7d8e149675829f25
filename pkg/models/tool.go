package models

import "encoding/json"

// ToolCallPayload is produced whenever a specialist invokes a tool.
// Output is the projection declared by the tool's contract and is the only
// part other agents may read; Raw is kept for diagnostics.
type ToolCallPayload struct {
	Tool     string          `json:"tool"`
	Input    json.RawMessage `json:"input,omitempty"`
	Contract string          `json:"contract"`
	Output   json.RawMessage `json:"output"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

// BrokerEvent is one observability record for a provider API attempt.
// Events are appended to a bounded in-process ring and asynchronously
// persisted.
type BrokerEvent struct {
	Timestamp string `json:"timestamp"`
	Provider  string `json:"provider"`
	App       string `json:"app"`
	Endpoint  string `json:"endpoint"`
	Method    string `json:"method"`
	Status    int    `json:"status"`
	Attempt   int    `json:"attempt"`
	LatencyMS int64  `json:"latency_ms"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id"`
}
