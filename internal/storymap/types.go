// Package storymap holds the authored domain model a playback session renders
// from: a storymap of ordered segments, each with a captured camera view and
// animated routes.
package storymap

import (
	"fmt"
	"time"

	"github.com/Pi2608/storymap-live/internal/geo"
)

// LineStyle describes how a route polyline is drawn.
type LineStyle struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// FollowOverride is an optional per-route camera-follow override.
type FollowOverride struct {
	Enabled bool     `json:"enabled"`
	Zoom    *float64 `json:"zoom,omitempty"`
}

// RouteSpec is the immutable configuration of one animated route. It is owned
// by the segment that declares it and is replaced, never mutated.
type RouteSpec struct {
	ID       string
	Path     geo.Path
	From     geo.GeoPoint
	To       geo.GeoPoint
	Duration time.Duration

	Unvisited LineStyle
	Visited   LineStyle
	Icon      string

	// StartOffset delays this route's start past segment start.
	// AwaitPrevious chains it behind the preceding route's completion instead.
	StartOffset   time.Duration
	AwaitPrevious bool

	Follow *FollowOverride
}

// Validate checks the invariants a route must satisfy before playback.
func (r RouteSpec) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("route: missing id")
	}
	if r.Duration <= 0 {
		return fmt.Errorf("route %s: duration must be positive, got %s", r.ID, r.Duration)
	}
	for i, pt := range r.Path {
		if !pt.Valid() {
			return fmt.Errorf("route %s: path point %d out of range: %+v", r.ID, i, pt)
		}
	}
	if !r.From.Valid() {
		return fmt.Errorf("route %s: invalid from endpoint: %+v", r.ID, r.From)
	}
	if !r.To.Valid() {
		return fmt.Errorf("route %s: invalid to endpoint: %+v", r.ID, r.To)
	}
	return nil
}

// Segment is one authored unit of a storymap.
type Segment struct {
	ID     string
	Name   string
	Camera *geo.CameraState
	Routes []RouteSpec
}

// Validate checks the segment and every route it declares.
func (s Segment) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("segment: missing id")
	}
	seen := make(map[string]bool, len(s.Routes))
	for _, r := range s.Routes {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("segment %s: %w", s.ID, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("segment %s: duplicate route id %s", s.ID, r.ID)
		}
		seen[r.ID] = true
	}
	if s.Camera != nil && !s.Camera.Center.Valid() {
		return fmt.Errorf("segment %s: invalid camera center: %+v", s.ID, s.Camera.Center)
	}
	return nil
}

// Storymap is an ordered list of segments presented as one story.
type Storymap struct {
	ID       string
	Title    string
	Segments []Segment
}

// Validate checks the whole storymap.
func (m Storymap) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("storymap: missing id")
	}
	for _, seg := range m.Segments {
		if err := seg.Validate(); err != nil {
			return fmt.Errorf("storymap %s: %w", m.ID, err)
		}
	}
	return nil
}

// SegmentAt returns the segment at index, or nil when index is out of range
// (including the -1 "no segment selected" sentinel).
func (m Storymap) SegmentAt(index int) *Segment {
	if index < 0 || index >= len(m.Segments) {
		return nil
	}
	return &m.Segments[index]
}
