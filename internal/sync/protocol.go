// Package sync implements the Master/Satellite roles of the fleet-sync
// engine: a long-lived WebSocket channel carrying request/response/event
// frames, full and delta pulls, pushes with Master-assigned versions, and
// at-least-once delta delivery with idempotent replay.
package sync

import "encoding/json"

// FrameKind discriminates the three shapes carried over the WebSocket channel.
type FrameKind string

const (
	FrameRequest  FrameKind = "request"
	FrameResponse FrameKind = "response"
	FrameEvent    FrameKind = "event"
)

// Request correlates with exactly one Response via ID. Overlapping requests
// on the same connection may complete out of order; ID is the only sequencer.
type Request struct {
	Kind      FrameKind       `json:"kind"`
	ID        uint64          `json:"id"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	Token     string          `json:"token,omitempty"`
	Timestamp int64           `json:"timestamp"` // ms since epoch
}

// ResponseError carries a stable code plus a human message.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response answers a Request with the same ID.
type Response struct {
	Kind    FrameKind       `json:"kind"`
	ID      uint64          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// Event is uncorrelated and lossy for disconnected peers.
type Event struct {
	Kind      FrameKind       `json:"kind"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	EmittedAt int64           `json:"emitted_at"`
}

// Error codes used across the protocol; stable strings, never retried by the core.
const (
	ErrCodeInvalidPayload = "invalid_payload"
	ErrCodeNotFound       = "not_found"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeTimeout        = "timeout"
	ErrCodeInternal       = "internal_error"
)

// Actions dispatched by the Master.
const (
	ActionSyncFull        = "sync.full"
	ActionSyncDelta       = "sync.delta"
	ActionSyncPush        = "sync.push"
	ActionSaleRemoteCreate = "sale.remote_create"
)

// Outbound event names.
const (
	EventStockLow         = "stock.low"
	EventStockZero        = "stock.zero"
	EventExpirationWarning = "expiration.warning"
	EventSyncRequired     = "sync.required"
	EventSessionExpired   = "session.expired"
	EventEntityChanged    = "entity.changed"
)

// FullRequest is the payload of a sync.full request: the table/kind list to
// read in full, used for cold start.
type FullRequest struct {
	Kinds []string `json:"kinds"`
}

// FullResponse carries every row for the requested kinds.
type FullResponse struct {
	Entities   []EntityRecord `json:"entities"`
	MaxVersion int64          `json:"max_version"`
}

// DeltaRequest carries the satellite's hardware_id and per-kind cursors so
// the Master can read rows with version greater than each cursor, and
// advance its own cursor once the satellite ACKs a previous delta.
type DeltaRequest struct {
	HardwareID string           `json:"hardware_id"`
	Cursors    map[string]int64 `json:"cursors"`
	Ack        map[string]int64 `json:"ack,omitempty"`
}

// DeltaResponse carries the rows newer than each requested cursor.
type DeltaResponse struct {
	Entities    []EntityRecord   `json:"entities"`
	MaxVersions map[string]int64 `json:"max_versions"`
}

// PushRequest proposes a single upsert; the Master assigns the version.
type PushRequest struct {
	Kind      string          `json:"kind"`
	EntityID  string          `json:"entity_id"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
	OriginID  string          `json:"origin_id"` // local-originated UUID, for idempotent replay
}

// PushResponse echoes the assigned version.
type PushResponse struct {
	Version int64 `json:"version"`
}

// EntityRecord is the wire shape of one models.SyncEntity row.
type EntityRecord struct {
	Kind      string          `json:"kind"`
	EntityID  string          `json:"entity_id"`
	Operation string          `json:"operation"`
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
}

// RemoteSaleRequest carries a sale record that the Master stores as a new
// service_order sync entity. No stock quantity is decremented.
type RemoteSaleRequest struct {
	OriginID string          `json:"origin_id"`
	Sale     json.RawMessage `json:"sale"`
}
