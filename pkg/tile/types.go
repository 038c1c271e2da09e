package tile

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxZoom is the deepest zoom level accepted anywhere in the pipeline.
const MaxZoom = 30

// DefaultSize is the edge length of a tile at scale 1.
const DefaultSize = 256

// Coord addresses a single tile in the XYZ (slippy map) scheme.
type Coord struct {
	Z, X, Y int
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// ParseCoord reads a "z/x/y" string and checks it against the tile grid.
func ParseCoord(s string) (Coord, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return Coord{}, fmt.Errorf("tile %q must be z/x/y", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Coord{}, fmt.Errorf("tile %q: %w", s, err)
		}
		v[i] = n
	}
	c := Coord{Z: v[0], X: v[1], Y: v[2]}
	if !c.Valid() {
		return Coord{}, fmt.Errorf("tile %s is outside the grid", c)
	}
	return c, nil
}

// Valid reports whether c is inside the tile grid for its zoom level.
func (c Coord) Valid() bool {
	if c.Z < 0 || c.Z > MaxZoom {
		return false
	}
	n := 1 << uint(c.Z)
	return c.X >= 0 && c.Y >= 0 && c.X < n && c.Y < n
}

// FlipY returns the row index in the TMS scheme (origin bottom-left).
func (c Coord) FlipY() int {
	return (1 << uint(c.Z)) - 1 - c.Y
}

// Bounds represents geographic bounds in degrees.
type Bounds struct {
	West, South, East, North float64
}

// WorldBounds is the full web-mercator extent, used when a source declares none.
var WorldBounds = Bounds{West: -180, South: -85.0511, East: 180, North: 85.0511}

// BoundsFromSlice reads a [west, south, east, north] array as used by TileJSON.
func BoundsFromSlice(v []float64) (Bounds, error) {
	if len(v) != 4 {
		return Bounds{}, fmt.Errorf("bounds must have 4 values, got %d", len(v))
	}
	b := Bounds{West: v[0], South: v[1], East: v[2], North: v[3]}
	if b.West > b.East || b.South > b.North {
		return Bounds{}, fmt.Errorf("invalid bounds %v", v)
	}
	return b, nil
}

// Slice returns b as a [west, south, east, north] array.
func (b Bounds) Slice() []float64 {
	return []float64{b.West, b.South, b.East, b.North}
}

// Range is an inclusive rectangle of tile indices at one zoom level.
type Range struct {
	Z                      int
	MinX, MinY, MaxX, MaxY int
}

// Contains reports whether the tile column/row falls inside r.
func (r Range) Contains(x, y int) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// Count returns the number of tiles covered by r.
func (r Range) Count() int64 {
	return int64(r.MaxX-r.MinX+1) * int64(r.MaxY-r.MinY+1)
}
