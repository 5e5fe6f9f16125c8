package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Pi2608/storymap-live/internal/session"
)

// Handler exposes the gateway's HTTP surface: the participant WebSocket
// endpoint and the presenter's control endpoints.
type Handler struct {
	connectionManager *ConnectionManager
	publisher         *JetStreamPublisher
}

// NewHandler creates the HTTP handler. publisher may be nil when the gateway
// runs fan-out only, in which case the presenter endpoints return 503.
func NewHandler(cm *ConnectionManager, publisher *JetStreamPublisher) *Handler {
	return &Handler{
		connectionManager: cm,
		publisher:         publisher,
	}
}

// HandleSessionConnection upgrades a participant to WebSocket.
func (h *Handler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	// In production the participant identity would come from an auth token.
	participantID := r.URL.Query().Get("participant_id")
	if participantID == "" {
		participantID = "anonymous"
	}

	if err := h.connectionManager.UpgradeConnection(w, r, participantID, sessionID); err != nil {
		log.Error().
			Err(err).
			Str("session_id", sessionID.String()).
			Str("participant_id", participantID).
			Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}
}

// HandleSegmentSync publishes a presenter segment change.
func (h *Handler) HandleSegmentSync(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.presenterRequest(w, r)
	if !ok {
		return
	}

	var body session.SegmentSyncPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.publisher.PublishSegmentSync(r.Context(), sessionID, body.SegmentIndex, body.IsPlaying); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to publish segment sync")
		http.Error(w, "failed to publish event", http.StatusInternalServerError)
		return
	}
	writeAccepted(w)
}

// HandleQuestionBroadcast publishes a live question.
func (h *Handler) HandleQuestionBroadcast(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.presenterRequest(w, r)
	if !ok {
		return
	}

	var body session.QuestionBroadcastPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.QuestionID == "" {
		http.Error(w, "questionId is required", http.StatusBadRequest)
		return
	}

	if err := h.publisher.PublishQuestion(r.Context(), sessionID, body); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to publish question")
		http.Error(w, "failed to publish event", http.StatusInternalServerError)
		return
	}
	writeAccepted(w)
}

// HandleQuestionResults publishes aggregated answers, closing the question.
func (h *Handler) HandleQuestionResults(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.presenterRequest(w, r)
	if !ok {
		return
	}

	var body session.QuestionResultsPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.QuestionID == "" {
		http.Error(w, "questionId is required", http.StatusBadRequest)
		return
	}

	if err := h.publisher.PublishQuestionResults(r.Context(), sessionID, body); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to publish question results")
		http.Error(w, "failed to publish event", http.StatusInternalServerError)
		return
	}
	writeAccepted(w)
}

// HandleSessionStatus publishes a session lifecycle change.
func (h *Handler) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.presenterRequest(w, r)
	if !ok {
		return
	}

	var body session.SessionStatusPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch body.Status {
	case session.StatusNotStarted, session.StatusRunning, session.StatusPaused, session.StatusEnded:
	default:
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}

	if err := h.publisher.PublishStatus(r.Context(), sessionID, body.Status); err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to publish session status")
		http.Error(w, "failed to publish event", http.StatusInternalServerError)
		return
	}
	writeAccepted(w)
}

// HandleConnectionStats returns active connection statistics.
func (h *Handler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.connectionManager.GetStats())
}

// HandleHealth is a liveness probe.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// RegisterRoutes mounts all gateway routes onto mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleSessionConnection)
	mux.HandleFunc("/api/session/segment-sync", h.HandleSegmentSync)
	mux.HandleFunc("/api/session/question", h.HandleQuestionBroadcast)
	mux.HandleFunc("/api/session/question-results", h.HandleQuestionResults)
	mux.HandleFunc("/api/session/status", h.HandleSessionStatus)
	mux.HandleFunc("/stats", h.HandleConnectionStats)
	mux.HandleFunc("/healthz", h.HandleHealth)
}

// presenterRequest validates method, publisher availability, and session ID
// for the presenter control endpoints.
func (h *Handler) presenterRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return uuid.Nil, false
	}
	if h.publisher == nil {
		http.Error(w, "publishing not enabled on this gateway", http.StatusServiceUnavailable)
		return uuid.Nil, false
	}
	return h.sessionID(w, r)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sessionIDStr := r.URL.Query().Get("session_id")
	if sessionIDStr == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return uuid.Nil, false
	}
	sessionID, err := uuid.Parse(sessionIDStr)
	if err != nil {
		http.Error(w, "invalid session_id format", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return sessionID, true
}

func writeAccepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"accepted":true}`))
}
