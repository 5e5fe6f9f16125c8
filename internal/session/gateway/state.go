// Package gateway bridges the presenter's event stream to participant
// clients: a JetStream consumer fans session events out over WebSocket
// connections pooled per session, and an in-memory state manager tracks the
// last-known position served to late joiners.
package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Pi2608/storymap-live/internal/session"
)

// SessionState is the gateway's last-known view of one live session, derived
// from the event stream. It is advisory: clients deliberately ignore the
// cached playback position and wait for a live sync.
type SessionState struct {
	SessionID      string                            `json:"session_id"`
	Status         session.Status                    `json:"status"`
	SegmentIndex   int                               `json:"segment_index"`
	IsPlaying      bool                              `json:"is_playing"`
	ActiveQuestion *session.QuestionBroadcastPayload `json:"active_question,omitempty"`
	UpdatedAt      time.Time                         `json:"updated_at"`
}

// SessionStateManager tracks per-session state in memory.
type SessionStateManager struct {
	mu     sync.RWMutex
	states map[uuid.UUID]*SessionState
}

// NewSessionStateManager creates an empty state manager.
func NewSessionStateManager() *SessionStateManager {
	return &SessionStateManager{states: make(map[uuid.UUID]*SessionState)}
}

// GetState returns a copy of the state for a session, or nil when unknown.
func (m *SessionStateManager) GetState(sessionID uuid.UUID) *SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[sessionID]
	if !ok {
		return nil
	}
	copied := *state
	return &copied
}

// RemoveState drops a session (e.g. when it ends and the last client leaves).
func (m *SessionStateManager) RemoveState(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
}

// ProcessEvent folds an incoming event into the session's state.
func (m *SessionStateManager) ProcessEvent(env *session.Envelope) error {
	sessionID, err := uuid.Parse(env.SessionID)
	if err != nil {
		return err
	}
	payload, err := session.ParseEventPayload(env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[sessionID]
	if !ok {
		state = &SessionState{
			SessionID:    env.SessionID,
			Status:       session.StatusNotStarted,
			SegmentIndex: session.NoSegment,
		}
		m.states[sessionID] = state
	}

	switch p := payload.(type) {
	case session.SegmentSyncPayload:
		state.SegmentIndex = p.SegmentIndex
		state.IsPlaying = p.IsPlaying
	case session.SessionStatusPayload:
		state.Status = p.Status
		if p.Status == session.StatusEnded {
			state.IsPlaying = false
			state.ActiveQuestion = nil
		}
	case session.QuestionBroadcastPayload:
		state.ActiveQuestion = &p
	case session.QuestionResultsPayload:
		state.ActiveQuestion = nil
	}
	state.UpdatedAt = env.Timestamp

	return nil
}

// CachedState builds the joined-event payload for a connecting client.
func (m *SessionStateManager) CachedState(sessionID uuid.UUID) session.JoinedPayload {
	state := m.GetState(sessionID)
	if state == nil {
		return session.JoinedPayload{Status: session.StatusNotStarted}
	}
	return session.JoinedPayload{
		Status: state.Status,
		CachedState: &session.CachedSegmentState{
			SegmentIndex: state.SegmentIndex,
			IsPlaying:    state.IsPlaying,
		},
	}
}
