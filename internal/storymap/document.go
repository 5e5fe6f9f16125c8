package storymap

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Pi2608/storymap-live/internal/geo"
)

// Wire document shapes. Route paths arrive as GeoJSON LineStrings and
// durations as milliseconds; the domain types use geo.Path and time.Duration.

type routeDoc struct {
	ID         string          `json:"id"`
	Path       json.RawMessage `json:"path"`
	From       []float64       `json:"from"`
	To         []float64       `json:"to"`
	DurationMs int64           `json:"durationMs"`
	Unvisited  LineStyle       `json:"unvisited"`
	Visited    LineStyle       `json:"visited"`
	Icon       string          `json:"icon,omitempty"`
	OffsetMs   int64           `json:"startOffsetMs,omitempty"`
	AwaitPrev  bool            `json:"awaitPrevious,omitempty"`
	Follow     *FollowOverride `json:"follow,omitempty"`
}

type segmentDoc struct {
	ID     string           `json:"id"`
	Name   string           `json:"name,omitempty"`
	Camera *geo.CameraState `json:"camera,omitempty"`
	Routes []routeDoc       `json:"routes"`
}

type storymapDoc struct {
	ID       string       `json:"id"`
	Title    string       `json:"title,omitempty"`
	Segments []segmentDoc `json:"segments"`
}

// ParseDocument decodes a storymap document from its JSON wire form and
// validates it.
func ParseDocument(data []byte) (*Storymap, error) {
	var doc storymapDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse storymap document: %w", err)
	}

	m := &Storymap{ID: doc.ID, Title: doc.Title}
	for _, segDoc := range doc.Segments {
		seg := Segment{ID: segDoc.ID, Name: segDoc.Name, Camera: segDoc.Camera}
		for _, rd := range segDoc.Routes {
			route, err := rd.toRoute()
			if err != nil {
				return nil, fmt.Errorf("segment %s: %w", segDoc.ID, err)
			}
			seg.Routes = append(seg.Routes, route)
		}
		m.Segments = append(m.Segments, seg)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadDocument reads and parses a storymap document from disk.
func LoadDocument(path string) (*Storymap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read storymap document: %w", err)
	}
	return ParseDocument(data)
}

func (rd routeDoc) toRoute() (RouteSpec, error) {
	route := RouteSpec{
		ID:            rd.ID,
		Duration:      time.Duration(rd.DurationMs) * time.Millisecond,
		Unvisited:     rd.Unvisited,
		Visited:       rd.Visited,
		Icon:          rd.Icon,
		StartOffset:   time.Duration(rd.OffsetMs) * time.Millisecond,
		AwaitPrevious: rd.AwaitPrev,
		Follow:        rd.Follow,
	}

	// A malformed or non-LineString path is a zero-length route, not a fatal
	// document error; the route id and duration must still parse.
	if len(rd.Path) > 0 {
		path, err := geo.DecodeLineString(rd.Path)
		if err == nil {
			route.Path = path
		}
	}

	from, err := decodePoint(rd.From, "from")
	if err != nil {
		return RouteSpec{}, fmt.Errorf("route %s: %w", rd.ID, err)
	}
	to, err := decodePoint(rd.To, "to")
	if err != nil {
		return RouteSpec{}, fmt.Errorf("route %s: %w", rd.ID, err)
	}
	route.From, route.To = from, to
	return route, nil
}

func decodePoint(coord []float64, field string) (geo.GeoPoint, error) {
	if len(coord) < 2 {
		return geo.GeoPoint{}, fmt.Errorf("%s: want [lng, lat], got %d values", field, len(coord))
	}
	return geo.GeoPoint{Lng: coord[0], Lat: coord[1]}, nil
}
