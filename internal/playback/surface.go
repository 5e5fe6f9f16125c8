package playback

import (
	"errors"
	"time"

	"github.com/Pi2608/storymap-live/internal/geo"
	"github.com/Pi2608/storymap-live/internal/storymap"
)

// ErrSurfaceNotReady is returned by AcquireOverlay before the host surface is
// mounted. The animator retries once on the next frame; after that the route
// silently does not render until the next input change.
var ErrSurfaceNotReady = errors.New("playback: render surface not ready")

// RouteOverlayHandle is the rendering handle for one route: the full-route
// polyline, the visited trail, and the moving marker. Each handle is owned by
// exactly one RouteAnimator for its lifetime; two routes never share overlay
// objects.
type RouteOverlayHandle interface {
	SetFullPath(path geo.Path, style storymap.LineStyle)
	SetVisitedPath(path geo.Path, style storymap.LineStyle)
	SetMarker(position geo.GeoPoint, bearingDeg *float64, icon string)
	// Reset restores the idle appearance: full path drawn, empty trail,
	// marker at the route start.
	Reset()
	Release()
}

// Viewport is the camera surface the follow controller drives. EaseTo, PanTo
// and SetZoom are fire-and-forget: they start a transition and return
// immediately.
type Viewport interface {
	Center() geo.GeoPoint
	Zoom() float64
	EaseTo(state geo.CameraState, duration time.Duration)
	PanTo(center geo.GeoPoint, duration time.Duration)
	SetZoom(zoom float64, duration time.Duration)
}

// RenderSurface is everything the playback engine needs from a host renderer.
type RenderSurface interface {
	AcquireOverlay(routeID string) (RouteOverlayHandle, error)
	Viewport() Viewport
}
