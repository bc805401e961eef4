package syncengine

import (
	"encoding/json"
	"fmt"
)

// MessageKind identifies the payload carried in an Envelope, matching
// §4.6.1's taxonomy one for one.
type MessageKind string

const (
	KindStateChange             MessageKind = "state_change"
	KindStateBatch              MessageKind = "state_batch"
	KindStateRequest            MessageKind = "state_request"
	KindStateResponse           MessageKind = "state_response"
	KindSharedChange            MessageKind = "shared_change"
	KindSharedChangeBatch       MessageKind = "shared_change_batch"
	KindSharedChangeRequest     MessageKind = "shared_change_request"
	KindSharedChangeResponse    MessageKind = "shared_change_response"
	KindAckSharedChanges        MessageKind = "ack_shared_changes"
	KindWatermarkExchangeRequest  MessageKind = "watermark_exchange_request"
	KindWatermarkExchangeResponse MessageKind = "watermark_exchange_response"
	KindHeartbeat               MessageKind = "heartbeat"
	KindError                   MessageKind = "error"
	KindEventLogRequest         MessageKind = "event_log_request"
	KindEventLogResponse        MessageKind = "event_log_response"
)

// Envelope is the one wire shape every sync message takes: a kind tag
// plus a raw JSON body, so Stream.Send/Recv only ever move one type and
// dispatch happens on Kind rather than on a type switch over the wire.
type Envelope struct {
	Kind MessageKind     `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Encode marshals body under kind into an Envelope ready for
// transport.Stream.Send.
func Encode(kind MessageKind, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("syncengine: encode %s body: %w", kind, err)
	}

	return json.Marshal(Envelope{Kind: kind, Body: raw})
}

// Decode parses a frame into its Envelope, leaving Body for the caller to
// unmarshal once it has switched on Kind.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("syncengine: decode envelope: %w", err)
	}

	return env, nil
}

// StateChange pushes one device-owned record update (§4.6.1).
type StateChange struct {
	ModelType string          `json:"model_type"`
	RecordUUID string         `json:"record_uuid"`
	Data      json.RawMessage `json:"data"`
}

// StateBatch pushes many StateChanges in one message, the common case
// during backfill or after a burst of local writes.
type StateBatch struct {
	Changes []StateChange `json:"changes"`
}

// StateRequest pulls missing device-owned state, paged by the composite
// cursor `(indexed_at, uuid)` (§4.6.1, §4.6.5 "paged by the composite
// cursor").
type StateRequest struct {
	ModelType   string `json:"model_type"`
	SinceCursor string `json:"since_cursor"` // "" for initial backfill
	Limit       int    `json:"limit"`
}

// StateResponse answers a StateRequest with a page of changes plus the
// cursor the requester should resume from next time.
type StateResponse struct {
	Changes    []StateChange `json:"changes"`
	NextCursor string        `json:"next_cursor"`
	Exhausted  bool          `json:"exhausted"`
}

// SharedChange pushes one appended shared-change-log entry.
type SharedChange struct {
	HLC        string          `json:"hlc"`
	ModelType  string          `json:"model_type"`
	RecordUUID string          `json:"record_uuid"`
	ChangeType string          `json:"change_type"` // Insert, Update, Delete
	Data       json.RawMessage `json:"data"`
}

// SharedChangeBatch pushes many SharedChanges in one message.
type SharedChangeBatch struct {
	Changes []SharedChange `json:"changes"`
}

// SharedChangeRequest pulls log entries since_hlc, optionally requesting
// a full-state snapshot for initial backfill (§4.6.1, §4.6.5).
type SharedChangeRequest struct {
	SinceHLC       string `json:"since_hlc"` // "" requests a snapshot + tail
	IncludeSnapshot bool  `json:"include_snapshot"`
	Limit          int    `json:"limit"`
}

// SnapshotRecord is one row of a polymorphic full-state snapshot, grouped
// by model_type (§4.6.5 "a snapshot of current shared state grouped by
// model_type").
type SnapshotRecord struct {
	ModelType  string          `json:"model_type"`
	RecordUUID string          `json:"record_uuid"`
	Data       json.RawMessage `json:"data"`
}

// SharedChangeResponse answers a SharedChangeRequest.
type SharedChangeResponse struct {
	Snapshot  []SnapshotRecord `json:"snapshot,omitempty"`
	Changes   []SharedChange   `json:"changes"`
	NextHLC   string           `json:"next_hlc"`
	Exhausted bool             `json:"exhausted"`
}

// AckSharedChanges tells the peer every shared-change entry up to
// UpToHLC has been durably applied, permitting log compaction on their
// side (§4.6.1).
type AckSharedChanges struct {
	UpToHLC string `json:"up_to_hlc"`
}

// Watermarks is the (state_watermark, shared_watermark) pair two peers
// exchange at the top of every sync cycle (§4.6.2 step 1).
type Watermarks struct {
	StateWatermark  string `json:"state_watermark"`
	SharedWatermark string `json:"shared_watermark"`
}

// WatermarkExchangeRequest/Response carry a Watermarks pair each way.
type WatermarkExchangeRequest struct{ Watermarks Watermarks `json:"watermarks"` }
type WatermarkExchangeResponse struct{ Watermarks Watermarks `json:"watermarks"` }

// Heartbeat keeps an idle peer connection alive and detects half-open
// sockets before a full RPC timeout would.
type Heartbeat struct {
	SentAtUnixMS int64 `json:"sent_at_unix_ms"`
}

// ErrorMessage reports a sync-level failure the peer should be informed
// of (distinct from a transport error — the connection stays up).
type ErrorMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// EventLogRequest/Response expose the append-only audit log to a peer
// inspecting this library remotely (read-only, never replicated state).
type EventLogRequest struct {
	SinceID int64 `json:"since_id"`
	Limit   int   `json:"limit"`
}

type EventLogResponse struct {
	Entries []json.RawMessage `json:"entries"`
	NextID  int64              `json:"next_id"`
}
