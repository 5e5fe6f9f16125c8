package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ConnState is the connection lifecycle of a participant client.
type ConnState int

const (
	Disconnected ConnState = iota
	Joining
	Synced
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Joining:
		return "joining"
	case Synced:
		return "synced"
	}
	return "unknown"
}

// NoSegment is the sentinel index meaning "do not render until a live sync
// arrives".
const NoSegment = -1

// SegmentPlaybackState is the single source of truth a client renders from.
type SegmentPlaybackState struct {
	ActiveSegmentIndex int
	IsPlaying          bool
}

// Snapshot is the derived view state the presentation surface reads.
type Snapshot struct {
	Conn           ConnState
	Status         Status
	Playback       SegmentPlaybackState
	HasLiveSync    bool
	ActiveQuestion *QuestionBroadcastPayload
	LastResults    *QuestionResultsPayload
}

// WaitingForPresenter reports whether the surface should show the explicit
// waiting state instead of a map. Gated on having received at least one live
// sync, not merely on a non-negative index.
func (s Snapshot) WaitingForPresenter() bool {
	return s.Conn != Synced || !s.HasLiveSync
}

// ReconcilerConfig tunes the event filtering windows.
type ReconcilerConfig struct {
	// AntiFlickerWindow is how long after a start signal a spurious stop for
	// the same segment is discarded. The upstream channel is known to follow
	// a start with an immediate bogus stop.
	AntiFlickerWindow time.Duration
	// SegmentStartDelay is the pause between announcing a new segment and
	// letting it play, giving the new segment's resources time to mount.
	SegmentStartDelay time.Duration
}

// DefaultReconcilerConfig returns the production windows.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		AntiFlickerWindow: 1000 * time.Millisecond,
		SegmentStartDelay: 500 * time.Millisecond,
	}
}

// Reconciler ingests the session event stream and derives the authoritative
// local view state, absorbing duplicate, out-of-order and spurious events.
// Connection lifecycle: Disconnected → Joining → Synced, with the nested
// playback state once Synced.
type Reconciler struct {
	clock clockwork.Clock
	cfg   ReconcilerConfig

	mu          sync.Mutex
	conn        ConnState
	status      Status
	playback    SegmentPlaybackState
	hasLiveSync bool
	ended       bool

	// Last processed segment-sync event, for dedup and the anti-flicker
	// guard. Discarded events are not recorded.
	haveLast      bool
	lastIndex     int
	lastPlaying   bool
	lastPlayingAt time.Time

	pendingStart chan struct{}

	questionActive bool
	activeQuestion *QuestionBroadcastPayload
	lastResults    *QuestionResultsPayload
	heldPlayback   *SegmentPlaybackState

	onPlayback func(SegmentPlaybackState)
	onStatus   func(Status)
	onQuestion func(*QuestionBroadcastPayload, *QuestionResultsPayload)
}

// NewReconciler creates a reconciler in the Disconnected state.
func NewReconciler(clock clockwork.Clock, cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		clock:    clock,
		cfg:      cfg,
		conn:     Disconnected,
		status:   StatusNotStarted,
		playback: SegmentPlaybackState{ActiveSegmentIndex: NoSegment},
	}
}

// SetOnPlayback registers the playback state listener. It is invoked once per
// genuine transition; filtered events cause no invocation.
func (r *Reconciler) SetOnPlayback(fn func(SegmentPlaybackState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPlayback = fn
}

// SetOnStatus registers the session status listener.
func (r *Reconciler) SetOnStatus(fn func(Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatus = fn
}

// SetOnQuestion registers the question sub-state listener; results is nil
// while the question is open.
func (r *Reconciler) SetOnQuestion(fn func(*QuestionBroadcastPayload, *QuestionResultsPayload)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onQuestion = fn
}

// Snapshot returns the current derived view state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Conn:           r.conn,
		Status:         r.status,
		Playback:       r.playback,
		HasLiveSync:    r.hasLiveSync,
		ActiveQuestion: r.activeQuestion,
		LastResults:    r.lastResults,
	}
}

// Connecting marks the transport dial in progress.
func (r *Reconciler) Connecting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = Joining
}

// Disconnect tears the reconciler down to Disconnected, canceling any
// scheduled delayed start. A rejoin re-derives everything from a fresh
// joined event.
func (r *Reconciler) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelPendingStartLocked()
	r.conn = Disconnected
	r.hasLiveSync = false
	r.haveLast = false
	r.playback = SegmentPlaybackState{ActiveSegmentIndex: NoSegment}
}

// Close stops all timers. The reconciler must not be used afterwards.
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelPendingStartLocked()
}

// HandleEvent ingests one envelope from the transport.
func (r *Reconciler) HandleEvent(env *Envelope) error {
	payload, err := ParseEventPayload(env)
	if err != nil {
		return err
	}

	switch p := payload.(type) {
	case JoinedPayload:
		r.handleJoined(p)
	case SegmentSyncPayload:
		r.handleSegmentSync(p)
	case SessionStatusPayload:
		r.handleSessionStatus(p)
	case QuestionBroadcastPayload:
		r.handleQuestionBroadcast(p)
	case QuestionResultsPayload:
		r.handleQuestionResults(p)
	}
	return nil
}

// handleJoined completes the join handshake. Any cached playback state from
// the transport is ignored: rendering waits for the presenter's live
// position instead of showing a stale frame.
func (r *Reconciler) handleJoined(p JoinedPayload) {
	r.mu.Lock()
	r.cancelPendingStartLocked()
	r.conn = Synced
	r.status = p.Status
	r.ended = p.Status == StatusEnded
	r.hasLiveSync = false
	r.haveLast = false
	r.questionActive = false
	r.activeQuestion = nil
	r.heldPlayback = nil
	r.playback = SegmentPlaybackState{ActiveSegmentIndex: NoSegment}
	emit := r.onPlayback
	state := r.playback
	onStatus := r.onStatus
	status := r.status
	r.mu.Unlock()

	log.Info().Str("status", string(p.Status)).Bool("cached_state_ignored", p.CachedState != nil).Msg("joined session")
	if emit != nil {
		emit(state)
	}
	if onStatus != nil {
		onStatus(status)
	}
}

// handleSegmentSync applies dedup, the anti-flicker guard, and the
// stop-then-delayed-start sequence for genuine index changes.
func (r *Reconciler) handleSegmentSync(p SegmentSyncPayload) {
	r.mu.Lock()
	if r.ended || r.conn != Synced {
		r.mu.Unlock()
		return
	}
	now := r.clock.Now()

	// Duplicate of the immediately preceding processed event: no state
	// change, no re-render.
	if r.haveLast && r.lastIndex == p.SegmentIndex && r.lastPlaying == p.IsPlaying {
		r.mu.Unlock()
		log.Debug().Int("segment", p.SegmentIndex).Bool("playing", p.IsPlaying).Msg("duplicate segment sync discarded")
		return
	}

	// Anti-flicker: a stop right after a start for the same index is the
	// known upstream quirk, not a real pause. Does not apply across a
	// genuine index change.
	if r.haveLast && r.lastPlaying && !p.IsPlaying && r.lastIndex == p.SegmentIndex &&
		now.Sub(r.lastPlayingAt) < r.cfg.AntiFlickerWindow {
		r.mu.Unlock()
		log.Debug().Int("segment", p.SegmentIndex).Msg("spurious stop discarded within anti-flicker window")
		return
	}

	r.haveLast = true
	r.lastIndex = p.SegmentIndex
	r.lastPlaying = p.IsPlaying
	if p.IsPlaying {
		r.lastPlayingAt = now
	}
	r.hasLiveSync = true

	cur := r.targetPlaybackLocked()
	if p.SegmentIndex != cur.ActiveSegmentIndex {
		// Stop first so the outgoing segment resets, then give the incoming
		// segment's resources time to mount before animating.
		r.cancelPendingStartLocked()
		emit := r.applyPlaybackLocked(SegmentPlaybackState{ActiveSegmentIndex: p.SegmentIndex, IsPlaying: false})
		if p.IsPlaying {
			r.schedulePlayLocked(p.SegmentIndex)
		}
		r.mu.Unlock()
		emit()
		return
	}

	r.cancelPendingStartLocked()
	emit := r.applyPlaybackLocked(SegmentPlaybackState{ActiveSegmentIndex: p.SegmentIndex, IsPlaying: p.IsPlaying})
	r.mu.Unlock()
	emit()
}

// handleSessionStatus maps the status space onto the local view mode. An
// ended session stops all timers and freezes final state.
func (r *Reconciler) handleSessionStatus(p SessionStatusPayload) {
	r.mu.Lock()
	if r.status == p.Status {
		r.mu.Unlock()
		return
	}
	r.status = p.Status
	onStatus := r.onStatus
	var emit func()
	if p.Status == StatusEnded {
		r.ended = true
		r.cancelPendingStartLocked()
		r.heldPlayback = nil
		r.questionActive = false
		if r.playback.IsPlaying {
			frozen := r.playback
			frozen.IsPlaying = false
			emit = r.applyPlaybackLocked(frozen)
		}
	}
	r.mu.Unlock()

	log.Info().Str("status", string(p.Status)).Msg("session status change")
	if emit != nil {
		emit()
	}
	if onStatus != nil {
		onStatus(p.Status)
	}
}

// handleQuestionBroadcast opens the question sub-state and suspends
// segment-sync-driven rendering changes until results arrive.
func (r *Reconciler) handleQuestionBroadcast(p QuestionBroadcastPayload) {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	if r.activeQuestion != nil && r.activeQuestion.QuestionID == p.QuestionID {
		r.mu.Unlock()
		return // duplicate broadcast
	}
	r.questionActive = true
	r.activeQuestion = &p
	r.lastResults = nil
	onQuestion := r.onQuestion
	r.mu.Unlock()

	log.Info().Str("question_id", p.QuestionID).Msg("question broadcast")
	if onQuestion != nil {
		onQuestion(&p, nil)
	}
}

// handleQuestionResults closes the question and resumes segment-driven
// rendering, applying any playback change held back while the question was
// active.
func (r *Reconciler) handleQuestionResults(p QuestionResultsPayload) {
	r.mu.Lock()
	if r.activeQuestion == nil || r.activeQuestion.QuestionID != p.QuestionID {
		r.mu.Unlock()
		return // results for an unknown or already-closed question
	}
	r.questionActive = false
	r.lastResults = &p
	question := r.activeQuestion
	onQuestion := r.onQuestion

	var emit func()
	if r.heldPlayback != nil {
		held := *r.heldPlayback
		r.heldPlayback = nil
		emit = r.applyPlaybackLocked(held)
	}
	r.mu.Unlock()

	if onQuestion != nil {
		onQuestion(question, &p)
	}
	if emit != nil {
		emit()
	}
}

// applyPlaybackLocked applies a new playback state and prepares the listener
// notification. While a question is active the change is held back instead —
// consumers keep rendering the pre-question frame — and the returned func is
// a no-op; the held state is applied when the question closes.
func (r *Reconciler) applyPlaybackLocked(state SegmentPlaybackState) func() {
	if r.questionActive {
		held := state
		r.heldPlayback = &held
		return func() {}
	}
	r.playback = state
	fn := r.onPlayback
	if fn == nil {
		return func() {}
	}
	return func() { fn(state) }
}

// targetPlaybackLocked is the authoritative target state: the held state when
// a question suspends rendering, the visible state otherwise.
func (r *Reconciler) targetPlaybackLocked() SegmentPlaybackState {
	if r.heldPlayback != nil {
		return *r.heldPlayback
	}
	return r.playback
}

// schedulePlayLocked arms the delayed start after an index change. The timer
// is canceled by any newer segment sync, a disconnect, or session end; a
// canceled timer never fires into torn-down state.
func (r *Reconciler) schedulePlayLocked(index int) {
	cancel := make(chan struct{})
	r.pendingStart = cancel
	timer := r.clock.NewTimer(r.cfg.SegmentStartDelay)

	go func() {
		select {
		case <-timer.Chan():
			r.mu.Lock()
			if r.pendingStart != cancel || r.ended || r.targetPlaybackLocked().ActiveSegmentIndex != index {
				r.mu.Unlock()
				return
			}
			r.pendingStart = nil
			emit := r.applyPlaybackLocked(SegmentPlaybackState{ActiveSegmentIndex: index, IsPlaying: true})
			r.mu.Unlock()
			emit()
		case <-cancel:
			stopAndDrainTimer(timer)
		}
	}()
}

func (r *Reconciler) cancelPendingStartLocked() {
	if r.pendingStart != nil {
		close(r.pendingStart)
		r.pendingStart = nil
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel so the
// waiting goroutine never leaks.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
