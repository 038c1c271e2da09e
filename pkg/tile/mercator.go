package tile

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

const (
	maxLat  = 85.0511287798
	poleLat = 85.0511
)

// edgeEpsilon is one pixel of a 256px tile. East and south edges are
// exclusive: a bound lying on a tile boundary does not reach into the next
// tile. roundEpsilon absorbs float error on the west and north edges.
const (
	edgeEpsilon  = 1.0 / 256
	roundEpsilon = 1e-9
)

// TileRange converts b to the inclusive tile rectangle it covers at zoom z.
// Coordinates outside the web-mercator extent are snapped to the edge tiles.
func (b Bounds) TileRange(z int) Range {
	n := 1 << uint(z)
	nw := maptile.Fraction(orb.Point{clampLon(b.West), clampLat(b.North)}, maptile.Zoom(z))
	se := maptile.Fraction(orb.Point{clampLon(b.East), clampLat(b.South)}, maptile.Zoom(z))
	// Fraction snaps latitudes beyond +-85.0511 to whole tiles
	if b.North >= poleLat {
		nw[1] = 0
	}
	if b.South <= -poleLat {
		se[1] = float64(n)
	}

	r := Range{
		Z:    z,
		MinX: clampIndex(int(math.Floor(nw[0]+roundEpsilon)), n),
		MinY: clampIndex(int(math.Floor(nw[1]+roundEpsilon)), n),
		MaxX: clampIndex(int(math.Floor(se[0]-edgeEpsilon)), n),
		MaxY: clampIndex(int(math.Floor(se[1]-edgeEpsilon)), n),
	}
	r.MaxX = max(r.MaxX, r.MinX)
	r.MaxY = max(r.MaxY, r.MinY)
	return r
}

// Contains reports whether tile c intersects b.
func (b Bounds) Contains(c Coord) bool {
	return b.TileRange(c.Z).Contains(c.X, c.Y)
}

// Bound returns the geographic extent of the tile.
func (c Coord) Bound() Bounds {
	bound := maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Z)).Bound()
	return Bounds{
		West:  bound.Min.Lon(),
		South: bound.Min.Lat(),
		East:  bound.Max.Lon(),
		North: bound.Max.Lat(),
	}
}

// ProjectLatLon converts lat/lon in WGS84 to XY in Spherical Mercator (EPSG:900913/3857)
func ProjectLatLon(lat, lon float64) (float64, float64) {
	const originshift = 20037508.342789244 // 2 * pi * 6378137 / 2
	x := lon * originshift / 180.0
	y := math.Log(math.Tan((90+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	y = y * originshift / 180.0

	return x, y
}

func clampLon(lon float64) float64 {
	return math.Max(-180, math.Min(180, lon))
}

func clampLat(lat float64) float64 {
	return math.Max(-maxLat, math.Min(maxLat, lat))
}

func clampIndex(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
