package geo

import (
	"encoding/json"
	"fmt"
)

// LineString is the GeoJSON-shaped wire format for a route path.
type LineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"` // [lng, lat]
}

// DecodeLineString parses a LineString wire object into a Path. Malformed
// input or a non-LineString geometry is an error; callers treat that as "no
// path" (a zero-length route).
func DecodeLineString(data []byte) (Path, error) {
	var ls LineString
	if err := json.Unmarshal(data, &ls); err != nil {
		return nil, fmt.Errorf("decode line string: %w", err)
	}
	return PathFromLineString(ls)
}

// PathFromLineString converts a decoded LineString into a Path.
func PathFromLineString(ls LineString) (Path, error) {
	if ls.Type != "LineString" {
		return nil, fmt.Errorf("unexpected geometry type %q", ls.Type)
	}
	path := make(Path, 0, len(ls.Coordinates))
	for i, coord := range ls.Coordinates {
		if len(coord) < 2 {
			return nil, fmt.Errorf("coordinate %d: want [lng, lat], got %d values", i, len(coord))
		}
		path = append(path, GeoPoint{Lng: coord[0], Lat: coord[1]})
	}
	return path, nil
}

// ToLineString converts p back to its wire representation.
func (p Path) ToLineString() LineString {
	coords := make([][]float64, len(p))
	for i, pt := range p {
		coords[i] = []float64{pt.Lng, pt.Lat}
	}
	return LineString{Type: "LineString", Coordinates: coords}
}

// CameraState is a captured viewport: center, zoom, and optional bearing and
// pitch. Wire format: {"center": [lng, lat], "zoom": n, "bearing": n, "pitch": n}.
type CameraState struct {
	Center  GeoPoint
	Zoom    float64
	Bearing *float64
	Pitch   *float64
}

type cameraStateWire struct {
	Center  []float64 `json:"center"`
	Zoom    float64   `json:"zoom"`
	Bearing *float64  `json:"bearing,omitempty"`
	Pitch   *float64  `json:"pitch,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c CameraState) MarshalJSON() ([]byte, error) {
	return json.Marshal(cameraStateWire{
		Center:  []float64{c.Center.Lng, c.Center.Lat},
		Zoom:    c.Zoom,
		Bearing: c.Bearing,
		Pitch:   c.Pitch,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CameraState) UnmarshalJSON(data []byte) error {
	var w cameraStateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode camera state: %w", err)
	}
	if len(w.Center) < 2 {
		return fmt.Errorf("camera state center: want [lng, lat], got %d values", len(w.Center))
	}
	c.Center = GeoPoint{Lng: w.Center[0], Lat: w.Center[1]}
	c.Zoom = w.Zoom
	c.Bearing = w.Bearing
	c.Pitch = w.Pitch
	return nil
}
