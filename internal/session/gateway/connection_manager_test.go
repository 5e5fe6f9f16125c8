package gateway

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Pi2608/storymap-live/internal/session"
)

func newLocalConnection(cm *ConnectionManager, sessionID uuid.UUID) *Connection {
	return &Connection{
		ID:            uuid.New().String(),
		ParticipantID: "participant",
		SessionID:     sessionID,
		Send:          make(chan []byte, 8),
		done:          make(chan struct{}),
		Manager:       cm,
		ConnectedAt:   time.Now(),
	}
}

func TestUnregisterLeavesSendOpen(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), NewSessionStateManager())
	sessionID := uuid.New()

	conn := newLocalConnection(cm, sessionID)
	cm.registerConnection(conn)
	cm.unregisterConnection(conn)

	select {
	case <-conn.done:
	default:
		t.Fatal("done should be closed after unregister")
	}

	// A broadcast racing the unregister may still select-send on Send.
	// It must stay open.
	select {
	case conn.Send <- []byte("late broadcast"):
	default:
		t.Fatal("send buffer unexpectedly full")
	}

	// Both pumps unregister on exit; the second call is a no-op.
	cm.unregisterConnection(conn)
}

func TestBroadcastAfterDisconnect(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig(), NewSessionStateManager())
	sessionID := uuid.New()

	gone := newLocalConnection(cm, sessionID)
	stays := newLocalConnection(cm, sessionID)
	cm.registerConnection(gone)
	cm.registerConnection(stays)
	cm.unregisterConnection(gone)

	env := envelope(t, sessionID, session.EventSegmentSync, session.SegmentSyncPayload{
		SegmentIndex: 1,
		IsPlaying:    true,
	})
	cm.handleBroadcast(broadcastMessage{SessionID: sessionID, Event: env})

	select {
	case <-stays.Send:
	default:
		t.Fatal("remaining connection should receive the broadcast")
	}
	select {
	case <-gone.Send:
		t.Fatal("disconnected connection should not receive the broadcast")
	default:
	}
}
