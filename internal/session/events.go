// Package session implements the live-classroom synchronization protocol:
// the event tagged union carried by the real-time channel and the client-side
// reconciler that derives authoritative view state from an unreliable,
// at-least-once, unordered event stream.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind tags the session event union.
type EventKind string

const (
	EventSegmentSync       EventKind = "segmentSync"
	EventQuestionBroadcast EventKind = "questionBroadcast"
	EventQuestionResults   EventKind = "questionResults"
	EventSessionStatus     EventKind = "sessionStatus"
	EventJoined            EventKind = "joined"
)

// Status is the enumerated session lifecycle.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusEnded      Status = "ended"
)

// Envelope is the wire frame shared by every session event. The transport
// delivers envelopes at least once and in no guaranteed order.
type Envelope struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Kind      EventKind       `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SegmentSyncPayload tells clients which segment index is active and whether
// it is playing. Fire-and-forget; clients never acknowledge it.
type SegmentSyncPayload struct {
	SegmentIndex    int       `json:"segmentIndex"`
	IsPlaying       bool      `json:"isPlaying"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
}

// QuestionBroadcastPayload opens a live question to all participants.
type QuestionBroadcastPayload struct {
	QuestionID  string   `json:"questionId"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	DurationSec int      `json:"durationSec,omitempty"`
}

// QuestionResultsPayload closes a question and carries the aggregated answers.
type QuestionResultsPayload struct {
	QuestionID string         `json:"questionId"`
	Counts     map[string]int `json:"counts"`
}

// SessionStatusPayload announces a session lifecycle change.
type SessionStatusPayload struct {
	Status Status `json:"status"`
}

// CachedSegmentState is the transport layer's last-known playback position,
// attached to the joined event. The reconciler deliberately ignores it to
// avoid rendering a stale frame before the presenter's live position is known.
type CachedSegmentState struct {
	SegmentIndex int  `json:"segmentIndex"`
	IsPlaying    bool `json:"isPlaying"`
}

// JoinedPayload confirms a client's admission into a session.
type JoinedPayload struct {
	Status      Status              `json:"status"`
	CachedState *CachedSegmentState `json:"cachedState,omitempty"`
}

// ParseEventPayload decodes the payload matching the envelope's kind.
func ParseEventPayload(env *Envelope) (interface{}, error) {
	switch env.Kind {
	case EventSegmentSync:
		var p SegmentSyncPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("parse segmentSync payload: %w", err)
		}
		return p, nil

	case EventQuestionBroadcast:
		var p QuestionBroadcastPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("parse questionBroadcast payload: %w", err)
		}
		return p, nil

	case EventQuestionResults:
		var p QuestionResultsPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("parse questionResults payload: %w", err)
		}
		return p, nil

	case EventSessionStatus:
		var p SessionStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("parse sessionStatus payload: %w", err)
		}
		return p, nil

	case EventJoined:
		var p JoinedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("parse joined payload: %w", err)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown event kind: %s", env.Kind)
	}
}
