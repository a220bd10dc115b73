package session

import (
	"encoding/json"

	"collaboration-client/pkg/op"
)

// Message type discriminators. Outbound messages carry operation, presence
// or cursor payloads; everything else arrives from the server.
const (
	msgOperation       = "operation"
	msgPresence        = "presence"
	msgCursor          = "cursor"
	msgOperationResult = "operation_result"
	msgPresenceUpdate  = "presence_update"
	msgCursorUpdate    = "cursor_update"
	msgConflict        = "conflict"
	msgError           = "error"
)

// envelope is the minimal parse of any inbound frame, enough to route it.
type envelope struct {
	Type string `json:"type"`
}

// operationMessage is the live, best-effort fan-out of a local edit.
type operationMessage struct {
	Type      string       `json:"type"`
	Operation op.Operation `json:"operation"`
}

// presenceMessage broadcasts an application-defined activity payload.
type presenceMessage struct {
	Type     string      `json:"type"`
	Activity interface{} `json:"activity"`
}

// cursorMessage is the high-frequency, WebSocket-only cursor signal.
type cursorMessage struct {
	Type      string `json:"type"`
	Position  int    `json:"position"`
	Timestamp string `json:"timestamp"` // RFC3339
}

// operationResultMessage acknowledges a durably applied operation.
type operationResultMessage struct {
	Result    json.RawMessage `json:"result"`
	Timestamp string          `json:"timestamp"`
}

// presenceUpdateMessage is the server's authoritative presence snapshot.
type presenceUpdateMessage struct {
	Presence      json.RawMessage `json:"presence"`
	Collaborators json.RawMessage `json:"collaborators"`
}

// cursorUpdateMessage is a single user's cursor delta.
type cursorUpdateMessage struct {
	UserID    string `json:"user_id"`
	Position  int    `json:"position"`
	Timestamp string `json:"timestamp"`
}

// errorMessage is a server-pushed protocol error.
type errorMessage struct {
	Message string `json:"message"`
}
