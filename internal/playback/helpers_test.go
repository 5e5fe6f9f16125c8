package playback

import (
	"sync"
	"time"

	"github.com/Pi2608/storymap-live/internal/geo"
	"github.com/Pi2608/storymap-live/internal/storymap"
)

// manualScheduler lets tests fire frames at chosen timestamps.
type manualScheduler struct {
	mu      sync.Mutex
	nextID  TickHandle
	pending map[TickHandle]func(now time.Time)
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{pending: make(map[TickHandle]func(now time.Time))}
}

func (s *manualScheduler) RequestTick(cb func(now time.Time)) TickHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.pending[s.nextID] = cb
	return s.nextID
}

func (s *manualScheduler) CancelTick(h TickHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
}

// Step fires every callback pending at call time as one frame.
func (s *manualScheduler) Step(now time.Time) {
	s.mu.Lock()
	batch := make([]func(now time.Time), 0, len(s.pending))
	for h, cb := range s.pending {
		batch = append(batch, cb)
		delete(s.pending, h)
	}
	s.mu.Unlock()
	for _, cb := range batch {
		cb(now)
	}
}

func (s *manualScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// stubOverlay records overlay mutations.
type stubOverlay struct {
	mu           sync.Mutex
	routeID      string
	fullPath     geo.Path
	visitedPath  geo.Path
	markerPos    geo.GeoPoint
	markerCalls  int
	resetCalls   int
	releaseCalls int
}

func (o *stubOverlay) SetFullPath(path geo.Path, style storymap.LineStyle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fullPath = path
}

func (o *stubOverlay) SetVisitedPath(path geo.Path, style storymap.LineStyle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.visitedPath = path
}

func (o *stubOverlay) SetMarker(position geo.GeoPoint, bearingDeg *float64, icon string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.markerPos = position
	o.markerCalls++
}

func (o *stubOverlay) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetCalls = o.resetCalls + 1
	o.visitedPath = nil
}

func (o *stubOverlay) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releaseCalls++
}

// stubSurface hands out stubOverlays, optionally failing the first N
// acquisitions to simulate a not-yet-mounted host surface.
type stubSurface struct {
	mu        sync.Mutex
	overlays  map[string]*stubOverlay
	failNext  int
	viewport  *stubViewport
	acquiries int
}

func newStubSurface() *stubSurface {
	return &stubSurface{
		overlays: make(map[string]*stubOverlay),
		viewport: &stubViewport{zoom: 10},
	}
}

func (s *stubSurface) AcquireOverlay(routeID string) (RouteOverlayHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquiries++
	if s.failNext > 0 {
		s.failNext--
		return nil, ErrSurfaceNotReady
	}
	o := &stubOverlay{routeID: routeID}
	s.overlays[routeID] = o
	return o, nil
}

func (s *stubSurface) Viewport() Viewport { return s.viewport }

func (s *stubSurface) overlay(routeID string) *stubOverlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlays[routeID]
}

// stubViewport records camera commands.
type stubViewport struct {
	mu        sync.Mutex
	center    geo.GeoPoint
	zoom      float64
	easeCalls []geo.CameraState
	panCalls  []geo.GeoPoint
	zoomCalls []float64
}

func (v *stubViewport) Center() geo.GeoPoint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.center
}

func (v *stubViewport) Zoom() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom
}

func (v *stubViewport) EaseTo(state geo.CameraState, duration time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.easeCalls = append(v.easeCalls, state)
	v.center = state.Center
	v.zoom = state.Zoom
}

func (v *stubViewport) PanTo(center geo.GeoPoint, duration time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.panCalls = append(v.panCalls, center)
	v.center = center
}

func (v *stubViewport) SetZoom(zoom float64, duration time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.zoomCalls = append(v.zoomCalls, zoom)
	v.zoom = zoom
}

func (v *stubViewport) panCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.panCalls)
}

func testRoute(id string, duration time.Duration) storymap.RouteSpec {
	return storymap.RouteSpec{
		ID:        id,
		Path:      geo.Path{{Lng: 0, Lat: 0}, {Lng: 0, Lat: 1}, {Lng: 0, Lat: 2}},
		From:      geo.GeoPoint{Lng: 0, Lat: 0},
		To:        geo.GeoPoint{Lng: 0, Lat: 2},
		Duration:  duration,
		Unvisited: storymap.LineStyle{Color: "#ccc", Width: 3},
		Visited:   storymap.LineStyle{Color: "#e63946", Width: 4},
	}
}
