package playback

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Pi2608/storymap-live/internal/geo"
)

// CameraConfig tunes the follow controller.
type CameraConfig struct {
	// EaseDuration is the length of the initial per-segment camera cut and of
	// explicit zoom overrides.
	EaseDuration time.Duration
	// PanDuration is the length of each follow re-center; short and heavily
	// damped so successive pans feel continuous.
	PanDuration time.Duration
	// MinPanInterval rate-limits follow updates.
	MinPanInterval time.Duration
	// ZoomThreshold is the minimum zoom delta that makes an override worth an
	// eased transition.
	ZoomThreshold float64
}

// DefaultCameraConfig returns the follow tuning used in production.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		EaseDuration:   1200 * time.Millisecond,
		PanDuration:    100 * time.Millisecond,
		MinPanInterval: 16 * time.Millisecond, // ~60 updates/sec
		ZoomThreshold:  0.1,
	}
}

// CameraFollowController reconciles the mandatory initial camera state of a
// segment with optional continuous following of the moving icon. Follow only
// pans; zoom is owned by the initial camera state and explicit overrides.
type CameraFollowController struct {
	viewport Viewport
	clock    clockwork.Clock
	cfg      CameraConfig

	mu         sync.Mutex
	follow     bool
	guardUntil time.Time
	lastPan    time.Time
}

// NewCameraFollowController creates a controller over viewport.
func NewCameraFollowController(viewport Viewport, clock clockwork.Clock, cfg CameraConfig) *CameraFollowController {
	return &CameraFollowController{viewport: viewport, clock: clock, cfg: cfg}
}

// BeginSegment applies the segment's captured camera state as a single eased
// transition and opens the guard window during which follow updates are
// suppressed, so follow never fights the initial cut. The call returns
// immediately; route animation is never blocked on the transition.
func (c *CameraFollowController) BeginSegment(state *geo.CameraState) {
	if state == nil {
		return
	}
	c.mu.Lock()
	c.guardUntil = c.clock.Now().Add(c.cfg.EaseDuration)
	c.mu.Unlock()

	c.viewport.EaseTo(*state, c.cfg.EaseDuration)
	log.Debug().
		Float64("lng", state.Center.Lng).
		Float64("lat", state.Center.Lat).
		Float64("zoom", state.Zoom).
		Msg("initial camera cut")
}

// SetFollow enables or disables continuous re-centering.
func (c *CameraFollowController) SetFollow(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.follow = enabled
}

// ApplyZoomOverride applies an explicit zoom as one eased transition,
// decoupled from per-tick pans. Deltas under the threshold are ignored.
func (c *CameraFollowController) ApplyZoomOverride(zoom float64) {
	if math.Abs(zoom-c.viewport.Zoom()) <= c.cfg.ZoomThreshold {
		return
	}
	c.viewport.SetZoom(zoom, c.cfg.EaseDuration)
}

// OnProgress re-centers the viewport on the route position. Updates are
// suppressed while the initial cut is still animating and are rate-limited to
// the configured interval. Zoom is never touched here.
func (c *CameraFollowController) OnProgress(p PlaybackProgress) {
	c.mu.Lock()
	if !c.follow {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	if now.Before(c.guardUntil) {
		c.mu.Unlock()
		return
	}
	if !c.lastPan.IsZero() && now.Sub(c.lastPan) < c.cfg.MinPanInterval {
		c.mu.Unlock()
		return
	}
	c.lastPan = now
	c.mu.Unlock()

	c.viewport.PanTo(p.Position, c.cfg.PanDuration)
}
