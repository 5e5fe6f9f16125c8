package main

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Pi2608/storymap-live/internal/geo"
	"github.com/Pi2608/storymap-live/internal/playback"
	"github.com/Pi2608/storymap-live/internal/storymap"
)

// logSurface is a render surface that logs what a map renderer would draw.
type logSurface struct {
	viewport *logViewport
}

func newLogSurface() *logSurface {
	return &logSurface{viewport: &logViewport{zoom: 10}}
}

func (s *logSurface) AcquireOverlay(routeID string) (playback.RouteOverlayHandle, error) {
	return &logOverlay{routeID: routeID}, nil
}

func (s *logSurface) Viewport() playback.Viewport {
	return s.viewport
}

type logOverlay struct {
	routeID string
}

func (o *logOverlay) SetFullPath(path geo.Path, style storymap.LineStyle) {
	log.Debug().Str("route_id", o.routeID).Int("points", len(path)).Msg("full path set")
}

func (o *logOverlay) SetVisitedPath(path geo.Path, style storymap.LineStyle) {
	log.Debug().Str("route_id", o.routeID).Int("points", len(path)).Msg("visited path updated")
}

func (o *logOverlay) SetMarker(position geo.GeoPoint, bearingDeg *float64, icon string) {
	evt := log.Debug().
		Str("route_id", o.routeID).
		Float64("lng", position.Lng).
		Float64("lat", position.Lat)
	if bearingDeg != nil {
		evt = evt.Float64("bearing", *bearingDeg)
	}
	evt.Msg("marker moved")
}

func (o *logOverlay) Reset() {
	log.Debug().Str("route_id", o.routeID).Msg("overlay reset")
}

func (o *logOverlay) Release() {
	log.Debug().Str("route_id", o.routeID).Msg("overlay released")
}

type logViewport struct {
	mu     sync.Mutex
	center geo.GeoPoint
	zoom   float64
}

func (v *logViewport) Center() geo.GeoPoint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.center
}

func (v *logViewport) Zoom() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom
}

func (v *logViewport) EaseTo(state geo.CameraState, duration time.Duration) {
	v.mu.Lock()
	v.center = state.Center
	v.zoom = state.Zoom
	v.mu.Unlock()
	log.Info().
		Float64("lng", state.Center.Lng).
		Float64("lat", state.Center.Lat).
		Float64("zoom", state.Zoom).
		Dur("duration", duration).
		Msg("camera ease")
}

func (v *logViewport) PanTo(center geo.GeoPoint, duration time.Duration) {
	v.mu.Lock()
	v.center = center
	v.mu.Unlock()
	log.Debug().
		Float64("lng", center.Lng).
		Float64("lat", center.Lat).
		Dur("duration", duration).
		Msg("camera pan")
}

func (v *logViewport) SetZoom(zoom float64, duration time.Duration) {
	v.mu.Lock()
	v.zoom = zoom
	v.mu.Unlock()
	log.Info().Float64("zoom", zoom).Dur("duration", duration).Msg("camera zoom")
}
