package playback

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Pi2608/storymap-live/internal/storymap"
)

// CoordinatorConfig tunes the sequential playback coordinator.
type CoordinatorConfig struct {
	// FollowByDefault applies camera follow to routes without an explicit
	// per-route override.
	FollowByDefault bool
}

// Coordinator decides which routes of the active segment are playing at any
// moment. Routes are independent by default and play concurrently with the
// segment; a route may instead declare a start offset or chain behind its
// predecessor's completion. Animators are keyed by stable route ID so a
// re-delivered route list with identical contents never discards Running
// state.
type Coordinator struct {
	scheduler FrameScheduler
	surface   RenderSurface
	clock     clockwork.Clock
	camera    *CameraFollowController
	cfg       CoordinatorConfig

	mu            sync.Mutex
	segmentIndex  int
	playing       bool
	order         []string
	animators     map[string]*RouteAnimator
	pendingStarts map[string]chan struct{}
}

// NewCoordinator creates a coordinator with no segment selected.
func NewCoordinator(scheduler FrameScheduler, surface RenderSurface, clock clockwork.Clock, camera *CameraFollowController, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		scheduler:     scheduler,
		surface:       surface,
		clock:         clock,
		camera:        camera,
		cfg:           cfg,
		segmentIndex:  -1,
		animators:     make(map[string]*RouteAnimator),
		pendingStarts: make(map[string]chan struct{}),
	}
}

// ActiveSegment returns the current segment index (-1 when none).
func (c *Coordinator) ActiveSegment() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.segmentIndex
}

// IsPlaying reports the segment-level playing flag.
func (c *Coordinator) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Animator returns the animator owning routeID, or nil.
func (c *Coordinator) Animator(routeID string) *RouteAnimator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.animators[routeID]
}

// SetSegment mounts the routes of segment index. On a genuine index change
// every route is reset to Idle before the new segment's routes begin, even if
// the playing flag stays true across the boundary; stale animated state never
// bleeds into the new segment. When the index is unchanged and the route IDs
// match, existing animators keep their state and only the specs are refreshed.
func (c *Coordinator) SetSegment(index int, seg *storymap.Segment) {
	c.mu.Lock()
	var routes []storymap.RouteSpec
	if seg != nil {
		routes = seg.Routes
	}

	if index == c.segmentIndex && c.sameRoutesLocked(routes) {
		for _, r := range routes {
			c.animators[r.ID].SetRoute(r)
		}
		c.mu.Unlock()
		return
	}

	log.Debug().Int("from", c.segmentIndex).Int("to", index).Int("routes", len(routes)).Msg("segment change")
	c.cancelPendingStartsLocked()
	c.segmentIndex = index

	// Reset outgoing animators and drop the ones whose routes are gone.
	keep := make(map[string]bool, len(routes))
	for _, r := range routes {
		keep[r.ID] = true
	}
	for id, anim := range c.animators {
		anim.Reset()
		if !keep[id] {
			anim.Close()
			delete(c.animators, id)
		}
	}

	c.order = c.order[:0]
	for _, r := range routes {
		c.order = append(c.order, r.ID)
		anim, ok := c.animators[r.ID]
		if !ok {
			anim = NewRouteAnimator(c.scheduler, c.surface, r)
			anim.SetOnComplete(c.routeCompleted)
			c.animators[r.ID] = anim
		} else {
			anim.SetRoute(r)
		}
		if c.followEnabled(r) && c.camera != nil {
			anim.SetOnProgress(c.camera.OnProgress)
		} else {
			anim.SetOnProgress(nil)
		}
	}

	if c.playing {
		c.startEligibleLocked()
	}
	cam := c.camera
	c.mu.Unlock()

	// The initial camera cut runs concurrently with animation start; neither
	// blocks the other.
	if cam != nil && seg != nil {
		cam.SetFollow(c.segmentHasFollow(routes))
		cam.BeginSegment(seg.Camera)
	}
}

// SetPlaying propagates the segment-level playing flag to the per-route
// animators according to each route's start policy.
func (c *Coordinator) SetPlaying(playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if playing == c.playing {
		return
	}
	c.playing = playing

	if !playing {
		c.cancelPendingStartsLocked()
		for _, anim := range c.animators {
			anim.SetPlaying(false)
		}
		return
	}
	c.startEligibleLocked()
}

// Close cancels pending delayed starts and releases every animator.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelPendingStartsLocked()
	for id, anim := range c.animators {
		anim.Close()
		delete(c.animators, id)
	}
}

// startEligibleLocked starts every route whose start condition is already
// met: independent routes immediately, offset routes via a timer, chained
// routes when their predecessor completes.
func (c *Coordinator) startEligibleLocked() {
	for i, id := range c.order {
		anim := c.animators[id]
		route := anim.Route()
		if route.AwaitPrevious && i > 0 {
			prev := c.animators[c.order[i-1]]
			if prev.State() != StateCompleted {
				continue
			}
		}
		c.startRouteLocked(id, route)
	}
}

// startRouteLocked starts one route now or after its declared offset.
func (c *Coordinator) startRouteLocked(id string, route storymap.RouteSpec) {
	if route.StartOffset > 0 {
		c.schedulePendingStartLocked(id, route.StartOffset)
		return
	}
	c.applyZoomOverrideLocked(route)
	c.animators[id].SetPlaying(true)
}

func (c *Coordinator) applyZoomOverrideLocked(route storymap.RouteSpec) {
	if c.camera != nil && route.Follow != nil && route.Follow.Enabled && route.Follow.Zoom != nil {
		c.camera.ApplyZoomOverride(*route.Follow.Zoom)
	}
}

// schedulePendingStartLocked arms a one-shot clock timer for a delayed route
// start. The start is dropped, never fired late, when playback stops or the
// segment changes first.
func (c *Coordinator) schedulePendingStartLocked(id string, delay time.Duration) {
	if cancel, ok := c.pendingStarts[id]; ok {
		close(cancel)
	}
	cancel := make(chan struct{})
	c.pendingStarts[id] = cancel
	timer := c.clock.NewTimer(delay)

	go func() {
		select {
		case <-timer.Chan():
			c.mu.Lock()
			// The cancel channel doubles as a generation check: a segment
			// change or stop replaces or removes it.
			if c.pendingStarts[id] == cancel && c.playing {
				delete(c.pendingStarts, id)
				if anim, ok := c.animators[id]; ok {
					c.applyZoomOverrideLocked(anim.Route())
					anim.SetPlaying(true)
				}
			}
			c.mu.Unlock()
		case <-cancel:
			stopAndDrainTimer(timer)
		}
	}()
}

func (c *Coordinator) cancelPendingStartsLocked() {
	for id, cancel := range c.pendingStarts {
		close(cancel)
		delete(c.pendingStarts, id)
	}
}

// routeCompleted is the animator completion callback; it starts the chained
// successor, if any.
func (c *Coordinator) routeCompleted(routeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return
	}
	for i, id := range c.order {
		if id != routeID || i+1 >= len(c.order) {
			continue
		}
		nextID := c.order[i+1]
		next := c.animators[nextID]
		route := next.Route()
		if route.AwaitPrevious && next.State() == StateIdle {
			log.Debug().Str("route_id", nextID).Str("after", routeID).Msg("starting chained route")
			c.startRouteLocked(nextID, route)
		}
		return
	}
}

func (c *Coordinator) sameRoutesLocked(routes []storymap.RouteSpec) bool {
	if len(routes) != len(c.order) {
		return false
	}
	for i, r := range routes {
		if c.order[i] != r.ID {
			return false
		}
	}
	return true
}

func (c *Coordinator) followEnabled(route storymap.RouteSpec) bool {
	if route.Follow != nil {
		return route.Follow.Enabled
	}
	return c.cfg.FollowByDefault
}

func (c *Coordinator) segmentHasFollow(routes []storymap.RouteSpec) bool {
	for _, r := range routes {
		if c.followEnabled(r) {
			return true
		}
	}
	return false
}

// stopAndDrainTimer safely stops a timer and drains its channel so the
// goroutine waiting on it never leaks.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
