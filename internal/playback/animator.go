package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Pi2608/storymap-live/internal/geo"
	"github.com/Pi2608/storymap-live/internal/storymap"
)

// AnimatorState is the lifecycle state of a RouteAnimator.
type AnimatorState int

const (
	StateIdle AnimatorState = iota
	StateRunning
	StateCompleted
)

func (s AnimatorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// PlaybackProgress is the per-tick derived state of one route. It is
// recomputed every frame and never persisted.
type PlaybackProgress struct {
	RouteID     string
	Elapsed     time.Duration
	Progress    float64
	Position    geo.GeoPoint
	BearingDeg  *float64
	VisitedPath geo.Path
}

// RouteAnimator owns one route's animation: it advances a normalized progress
// value on every frame, derives position, bearing and the visited trail, and
// paints them onto its overlay.
//
// State machine: Idle → Running → Completed, with a reset back to Idle when
// playback stops before completion or the route identity changes. Pausing is
// a hard reset to the route start, not a freeze in place; toggling playback
// restarts the preview from the beginning.
type RouteAnimator struct {
	scheduler FrameScheduler
	surface   RenderSurface

	mu             sync.Mutex
	route          storymap.RouteSpec
	pathLength     float64
	state          AnimatorState
	playing        bool
	startTime      time.Time
	tick           TickHandle
	tickPending    bool
	overlay        RouteOverlayHandle
	overlayRetried bool
	completedFired bool
	progress       PlaybackProgress

	onProgress func(PlaybackProgress)
	onComplete func(routeID string)
}

// NewRouteAnimator creates an animator for route. The overlay is acquired
// lazily on first start so that a not-yet-mounted surface does not fail
// construction.
func NewRouteAnimator(scheduler FrameScheduler, surface RenderSurface, route storymap.RouteSpec) *RouteAnimator {
	return &RouteAnimator{
		scheduler:  scheduler,
		surface:    surface,
		route:      route,
		pathLength: geo.PathLength(route.Path),
		state:      StateIdle,
	}
}

// SetOnProgress registers the per-tick progress consumer (the camera follow
// controller). Geometry is fully computed before the callback runs.
func (a *RouteAnimator) SetOnProgress(fn func(PlaybackProgress)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onProgress = fn
}

// SetOnComplete registers the completion callback. It fires exactly once per
// run, even if the host re-issues playing=true after completion.
func (a *RouteAnimator) SetOnComplete(fn func(routeID string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onComplete = fn
}

// State returns the current lifecycle state.
func (a *RouteAnimator) State() AnimatorState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Progress returns the most recently computed playback progress.
func (a *RouteAnimator) Progress() PlaybackProgress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

// Route returns the route spec this animator currently owns.
func (a *RouteAnimator) Route() storymap.RouteSpec {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.route
}

// SetRoute replaces the owned route. A change of route identity resets the
// animator to Idle and repaints the idle appearance.
func (a *RouteAnimator) SetRoute(route storymap.RouteSpec) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.route.ID == route.ID && pathsEqual(a.route.Path, route.Path) {
		a.route = route
		return
	}
	a.resetLocked()
	a.route = route
	a.pathLength = geo.PathLength(route.Path)
	a.paintIdleLocked()
}

// SetPlaying drives the Idle↔Running transitions. A false→true transition
// while Idle starts the animation on the next frame tick, aligning the start
// timestamp with the host frame clock. A true→false transition while Running
// snaps the marker back to the route start and clears the trail.
func (a *RouteAnimator) SetPlaying(playing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if playing == a.playing && a.state != StateCompleted {
		return
	}

	if playing {
		if a.state == StateCompleted {
			// Re-issued start after completion must not replay or re-fire.
			log.Debug().Str("route_id", a.route.ID).Msg("ignoring play for completed route")
			return
		}
		a.playing = true
		a.ensureOverlayLocked()
		a.scheduleTickLocked()
		return
	}

	a.playing = false
	if a.state == StateRunning || a.tickPending {
		a.resetLocked()
		a.paintIdleLocked()
	}
}

// Reset forces the animator back to Idle regardless of state, clearing any
// pending frame and repainting the idle appearance.
func (a *RouteAnimator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
	a.paintIdleLocked()
}

// Close cancels pending frames and releases the overlay. The animator must
// not be used afterwards.
func (a *RouteAnimator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelTickLocked()
	if a.overlay != nil {
		a.overlay.Release()
		a.overlay = nil
	}
}

// resetLocked returns to Idle: cancels the pending frame and clears derived
// state back to the route start. The host must issue a fresh play to restart.
func (a *RouteAnimator) resetLocked() {
	a.cancelTickLocked()
	a.playing = false
	a.state = StateIdle
	a.startTime = time.Time{}
	a.completedFired = false
	a.overlayRetried = false
	a.progress = PlaybackProgress{
		RouteID:     a.route.ID,
		Position:    a.route.From,
		VisitedPath: nil,
	}
}

func (a *RouteAnimator) scheduleTickLocked() {
	if a.tickPending {
		return
	}
	a.tick = a.scheduler.RequestTick(a.onTick)
	a.tickPending = true
}

func (a *RouteAnimator) cancelTickLocked() {
	if a.tickPending {
		a.scheduler.CancelTick(a.tick)
		a.tickPending = false
	}
}

// ensureOverlayLocked acquires the overlay, tolerating a surface that is not
// ready yet. One deferred retry happens on the next tick; after that the
// route does not render until the next input change.
func (a *RouteAnimator) ensureOverlayLocked() {
	if a.overlay != nil {
		return
	}
	handle, err := a.surface.AcquireOverlay(a.route.ID)
	if err != nil {
		if errors.Is(err, ErrSurfaceNotReady) && !a.overlayRetried {
			a.overlayRetried = true
			return
		}
		log.Warn().Err(err).Str("route_id", a.route.ID).Msg("route overlay unavailable, animating without rendering")
		return
	}
	a.overlay = handle
	a.overlay.SetFullPath(a.route.Path, a.route.Unvisited)
}

// onTick advances the animation one frame. Within the tick, geometry is
// computed first, then the overlay is painted, then the progress consumer
// runs, so camera and draw consumers always read a consistent frame.
func (a *RouteAnimator) onTick(now time.Time) {
	a.mu.Lock()
	a.tickPending = false

	if !a.playing || a.state == StateCompleted {
		a.mu.Unlock()
		return
	}

	if a.state == StateIdle {
		a.state = StateRunning
		a.startTime = now
		if a.overlay == nil && a.overlayRetried {
			a.ensureOverlayLocked()
		}
	}

	elapsed := now.Sub(a.startTime)
	progress := 1.0
	if a.route.Duration > 0 && a.pathLength > 0 {
		progress = float64(elapsed) / float64(a.route.Duration)
		if progress > 1 {
			progress = 1
		}
	}
	// Zero-length paths complete immediately on the first tick.

	p := a.computeProgressLocked(elapsed, progress)
	a.progress = p

	if a.overlay != nil {
		a.overlay.SetVisitedPath(p.VisitedPath, a.route.Visited)
		a.overlay.SetMarker(p.Position, p.BearingDeg, a.route.Icon)
	}

	done := progress >= 1
	var fireComplete func(routeID string)
	if done {
		a.state = StateCompleted
		if !a.completedFired {
			a.completedFired = true
			fireComplete = a.onComplete
		}
	} else {
		a.scheduleTickLocked()
	}
	onProgress := a.onProgress
	routeID := a.route.ID
	a.mu.Unlock()

	// Callbacks run outside the lock: the camera controller and the
	// coordinator's chaining logic both call back into animators.
	if onProgress != nil {
		onProgress(p)
	}
	if fireComplete != nil {
		log.Debug().Str("route_id", routeID).Msg("route animation completed")
		fireComplete(routeID)
	}
}

// computeProgressLocked derives position, bearing and trail for the given
// normalized progress.
func (a *RouteAnimator) computeProgressLocked(elapsed time.Duration, progress float64) PlaybackProgress {
	p := PlaybackProgress{
		RouteID:  a.route.ID,
		Elapsed:  elapsed,
		Progress: progress,
	}

	if a.pathLength <= 0 {
		p.Position = a.route.To
		if progress < 1 {
			p.Position = a.route.From
		}
		return p
	}

	dist := progress * a.pathLength
	pos, err := geo.PositionAtDistance(a.route.Path, dist)
	if err != nil {
		// No valid geometry left; fall back to the declared endpoint.
		pos = a.route.From
	}
	p.Position = pos

	if deg, ok := geo.BearingAtDistance(a.route.Path, dist); ok {
		p.BearingDeg = &deg
	}
	p.VisitedPath = geo.VisitedSubPath(a.route.Path, progress)
	return p
}

// paintIdleLocked restores the idle appearance on the overlay.
func (a *RouteAnimator) paintIdleLocked() {
	if a.overlay == nil {
		return
	}
	a.overlay.Reset()
	a.overlay.SetFullPath(a.route.Path, a.route.Unvisited)
	a.overlay.SetMarker(a.route.From, nil, a.route.Icon)
}

func pathsEqual(a, b geo.Path) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
