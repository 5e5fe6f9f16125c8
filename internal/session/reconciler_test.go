package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []SegmentPlaybackState
}

func (rec *stateRecorder) record(s SegmentPlaybackState) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.states = append(rec.states, s)
}

func (rec *stateRecorder) all() []SegmentPlaybackState {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]SegmentPlaybackState, len(rec.states))
	copy(out, rec.states)
	return out
}

func (rec *stateRecorder) len() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.states)
}

func newTestReconciler(t *testing.T) (*Reconciler, *stateRecorder, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	r := NewReconciler(clock, DefaultReconcilerConfig())
	rec := &stateRecorder{}
	r.SetOnPlayback(rec.record)
	join(t, r, StatusRunning)
	return r, rec, clock
}

func join(t *testing.T, r *Reconciler, status Status) {
	t.Helper()
	if err := r.HandleEvent(event(t, EventJoined, JoinedPayload{Status: status})); err != nil {
		t.Fatalf("joined event: %v", err)
	}
}

func event(t *testing.T, kind EventKind, payload interface{}) *Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &Envelope{
		ID:        "evt",
		SessionID: "sess",
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   data,
	}
}

func segSync(t *testing.T, idx int, playing bool) *Envelope {
	return event(t, EventSegmentSync, SegmentSyncPayload{SegmentIndex: idx, IsPlaying: playing})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestJoinedResetsToNoSegmentIgnoringCachedState(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewReconciler(clock, DefaultReconcilerConfig())
	rec := &stateRecorder{}
	r.SetOnPlayback(rec.record)

	cached := &CachedSegmentState{SegmentIndex: 3, IsPlaying: true}
	if err := r.HandleEvent(event(t, EventJoined, JoinedPayload{Status: StatusRunning, CachedState: cached})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := r.Snapshot()
	if snap.Conn != Synced {
		t.Errorf("conn = %s, want synced", snap.Conn)
	}
	if snap.Playback.ActiveSegmentIndex != NoSegment {
		t.Errorf("index = %d, want %d (cached state must be ignored)", snap.Playback.ActiveSegmentIndex, NoSegment)
	}
	if !snap.WaitingForPresenter() {
		t.Error("should be waiting for presenter until a live sync arrives")
	}
}

func TestSegmentSyncDeduplication(t *testing.T) {
	r, rec, _ := newTestReconciler(t)
	before := rec.len()

	// Same index on join: the first sync is an index change (-1 → 0) that
	// schedules a delayed play; the duplicate must add nothing.
	if err := r.HandleEvent(segSync(t, 0, true)); err != nil {
		t.Fatal(err)
	}
	afterFirst := rec.len()
	if err := r.HandleEvent(segSync(t, 0, true)); err != nil {
		t.Fatal(err)
	}
	if rec.len() != afterFirst {
		t.Errorf("duplicate event caused %d extra transitions", rec.len()-afterFirst)
	}
	if afterFirst-before != 1 {
		t.Errorf("first sync caused %d transitions, want 1", afterFirst-before)
	}
}

func TestAntiFlickerGuardDiscardsSpuriousStop(t *testing.T) {
	r, _, clock := newTestReconciler(t)

	if err := r.HandleEvent(segSync(t, 0, true)); err != nil {
		t.Fatal(err)
	}
	// Spurious stop immediately after the start signal.
	if err := r.HandleEvent(segSync(t, 0, false)); err != nil {
		t.Fatal(err)
	}

	// Let the delayed start fire: the stop was discarded, so play proceeds.
	clock.BlockUntil(1)
	clock.Advance(DefaultReconcilerConfig().SegmentStartDelay)
	waitFor(t, func() bool {
		snap := r.Snapshot()
		return snap.Playback.ActiveSegmentIndex == 0 && snap.Playback.IsPlaying
	})
}

func TestStopAfterGuardWindowIsHonored(t *testing.T) {
	r, _, clock := newTestReconciler(t)

	if err := r.HandleEvent(segSync(t, 0, true)); err != nil {
		t.Fatal(err)
	}
	clock.BlockUntil(1)
	clock.Advance(DefaultReconcilerConfig().SegmentStartDelay)
	waitFor(t, func() bool { return r.Snapshot().Playback.IsPlaying })

	clock.Advance(DefaultReconcilerConfig().AntiFlickerWindow)
	if err := r.HandleEvent(segSync(t, 0, false)); err != nil {
		t.Fatal(err)
	}
	if snap := r.Snapshot(); snap.Playback.IsPlaying {
		t.Error("genuine stop after the guard window was not applied")
	}
}

func TestIndexChangeStopsBeforeDelayedPlay(t *testing.T) {
	r, rec, clock := newTestReconciler(t)

	if err := r.HandleEvent(segSync(t, 0, true)); err != nil {
		t.Fatal(err)
	}
	clock.BlockUntil(1)
	clock.Advance(DefaultReconcilerConfig().SegmentStartDelay)
	waitFor(t, func() bool { return r.Snapshot().Playback.IsPlaying })

	// Index change while playing: first transition must be a stop for the
	// incoming index, then the delayed play.
	countBefore := rec.len()
	if err := r.HandleEvent(segSync(t, 1, true)); err != nil {
		t.Fatal(err)
	}
	states := rec.all()
	got := states[countBefore]
	if got.ActiveSegmentIndex != 1 || got.IsPlaying {
		t.Fatalf("first transition after index change = %+v, want {1 false}", got)
	}

	clock.BlockUntil(1)
	clock.Advance(DefaultReconcilerConfig().SegmentStartDelay)
	waitFor(t, func() bool {
		snap := r.Snapshot()
		return snap.Playback.ActiveSegmentIndex == 1 && snap.Playback.IsPlaying
	})
}

func TestSessionEndFreezesStateAndCancelsTimers(t *testing.T) {
	r, _, clock := newTestReconciler(t)

	// Arm a delayed start, then end the session before it fires.
	if err := r.HandleEvent(segSync(t, 0, true)); err != nil {
		t.Fatal(err)
	}
	clock.BlockUntil(1)
	if err := r.HandleEvent(event(t, EventSessionStatus, SessionStatusPayload{Status: StatusEnded})); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Second)

	snap := r.Snapshot()
	if snap.Status != StatusEnded {
		t.Errorf("status = %s, want ended", snap.Status)
	}
	if snap.Playback.IsPlaying {
		t.Error("canceled delayed start fired after session end")
	}

	// Further syncs are ignored after end.
	if err := r.HandleEvent(segSync(t, 2, true)); err != nil {
		t.Fatal(err)
	}
	if got := r.Snapshot().Playback.ActiveSegmentIndex; got == 2 {
		t.Error("segment sync applied after session end")
	}
}

func TestQuestionSuspendsSegmentSyncUntilResults(t *testing.T) {
	r, rec, clock := newTestReconciler(t)

	if err := r.HandleEvent(segSync(t, 0, true)); err != nil {
		t.Fatal(err)
	}
	clock.BlockUntil(1)
	clock.Advance(DefaultReconcilerConfig().SegmentStartDelay)
	waitFor(t, func() bool { return r.Snapshot().Playback.IsPlaying })

	q := QuestionBroadcastPayload{QuestionID: "q-1", Prompt: "Which sea?", Options: []string{"Cantabrian", "Mediterranean"}}
	if err := r.HandleEvent(event(t, EventQuestionBroadcast, q)); err != nil {
		t.Fatal(err)
	}

	// A pause arriving mid-question is held, not rendered.
	clock.Advance(DefaultReconcilerConfig().AntiFlickerWindow)
	countBefore := rec.len()
	if err := r.HandleEvent(segSync(t, 0, false)); err != nil {
		t.Fatal(err)
	}
	if rec.len() != countBefore {
		t.Error("segment sync rendered during active question")
	}
	if !r.Snapshot().Playback.IsPlaying {
		t.Error("visible state changed during active question")
	}

	// Results close the question and apply the held state.
	results := QuestionResultsPayload{QuestionID: "q-1", Counts: map[string]int{"Cantabrian": 7}}
	if err := r.HandleEvent(event(t, EventQuestionResults, results)); err != nil {
		t.Fatal(err)
	}
	if r.Snapshot().Playback.IsPlaying {
		t.Error("held pause not applied after question closed")
	}
	if rec.len() != countBefore+1 {
		t.Errorf("transitions after question close = %d, want %d", rec.len(), countBefore+1)
	}
}

func TestDisconnectRequiresFreshJoin(t *testing.T) {
	r, _, clock := newTestReconciler(t)

	if err := r.HandleEvent(segSync(t, 0, true)); err != nil {
		t.Fatal(err)
	}
	clock.BlockUntil(1)
	r.Disconnect()
	clock.Advance(time.Second)

	snap := r.Snapshot()
	if snap.Conn != Disconnected {
		t.Errorf("conn = %s, want disconnected", snap.Conn)
	}
	if snap.Playback.ActiveSegmentIndex != NoSegment {
		t.Error("playback state survived disconnect")
	}

	// Syncs are ignored until a fresh join.
	if err := r.HandleEvent(segSync(t, 1, true)); err != nil {
		t.Fatal(err)
	}
	if r.Snapshot().Playback.ActiveSegmentIndex != NoSegment {
		t.Error("segment sync applied while disconnected")
	}

	join(t, r, StatusRunning)
	if err := r.HandleEvent(segSync(t, 1, false)); err != nil {
		t.Fatal(err)
	}
	if got := r.Snapshot().Playback.ActiveSegmentIndex; got != 1 {
		t.Errorf("index after rejoin = %d, want 1", got)
	}
}

func TestUnknownEventKindIsAnError(t *testing.T) {
	r, _, _ := newTestReconciler(t)
	env := &Envelope{ID: "evt", Kind: EventKind("mystery"), Payload: json.RawMessage(`{}`)}
	if err := r.HandleEvent(env); err == nil {
		t.Error("expected error for unknown event kind")
	}
}
