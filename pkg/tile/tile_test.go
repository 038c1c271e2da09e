package tile

import (
	"bytes"
	"strings"
	"testing"
)

func TestBuildURL(t *testing.T) {
	testCases := []struct {
		name     string
		template string
		coord    Coord
		expected string
	}{
		{"xyz", "http://example.com/{z}/{x}/{y}.png", Coord{12, 656, 1430}, "http://example.com/12/656/1430.png"},
		{"tms", "http://example.com/{z}/{x}/{-y}.png", Coord{2, 1, 0}, "http://example.com/2/1/3.png"},
		{"subdomain", "http://{s}.example.com/{z}/{x}/{y}.png", Coord{1, 1, 1}, "http://c.example.com/1/1/1.png"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildURL(tc.template, tc.coord); got != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestIsTemplate(t *testing.T) {
	if !IsTemplate("http://a/{z}/{x}/{y}.png") {
		t.Error("Expected xyz template to be recognized")
	}
	if !IsTemplate("http://a/{z}/{x}/{-y}.png") {
		t.Error("Expected tms template to be recognized")
	}
	if IsTemplate("http://a/tile.png") {
		t.Error("Expected plain URL to be rejected")
	}
}

func TestCoordValid(t *testing.T) {
	testCases := []struct {
		coord Coord
		valid bool
	}{
		{Coord{0, 0, 0}, true},
		{Coord{0, 1, 0}, false},
		{Coord{3, 7, 7}, true},
		{Coord{3, 8, 0}, false},
		{Coord{-1, 0, 0}, false},
		{Coord{MaxZoom + 1, 0, 0}, false},
		{Coord{2, -1, 0}, false},
	}

	for _, tc := range testCases {
		if got := tc.coord.Valid(); got != tc.valid {
			t.Errorf("%v: expected valid=%v, got %v", tc.coord, tc.valid, got)
		}
	}
}

func TestWorldBoundsCoverEveryTile(t *testing.T) {
	for z := 0; z <= 6; z++ {
		r := WorldBounds.TileRange(z)
		n := 1 << uint(z)
		if r.MinX != 0 || r.MinY != 0 || r.MaxX != n-1 || r.MaxY != n-1 {
			t.Errorf("zoom %d: expected full range 0..%d, got %+v", z, n-1, r)
		}
		if r.Count() != int64(n*n) {
			t.Errorf("zoom %d: expected %d tiles, got %d", z, n*n, r.Count())
		}
	}
}

func TestTileRangeQuadrant(t *testing.T) {
	// north-east quadrant only
	b := Bounds{West: 1, South: 1, East: 179, North: 84}
	r := b.TileRange(1)

	if !r.Contains(1, 0) {
		t.Errorf("Expected tile 1/1/0 inside %+v", r)
	}
	for _, c := range []Coord{{1, 0, 0}, {1, 0, 1}, {1, 1, 1}} {
		if b.Contains(c) {
			t.Errorf("Expected tile %v outside bounds", c)
		}
	}
}

func TestTileRangeEdges(t *testing.T) {
	tests := []struct {
		name   string
		bounds Bounds
		z      int
		want   Range
	}{
		{"west half", Bounds{West: -180, South: -85.0511, East: 0, North: 85.0511}, 1, Range{Z: 1, MinX: 0, MinY: 0, MaxX: 0, MaxY: 1}},
		{"north half", Bounds{West: -180, South: 0, East: 180, North: 85.0511}, 1, Range{Z: 1, MinX: 0, MinY: 0, MaxX: 1, MaxY: 0}},
		{"north-east quadrant", Bounds{West: 0, South: 0, East: 180, North: 85.0511}, 2, Range{Z: 2, MinX: 2, MinY: 0, MaxX: 3, MaxY: 1}},
		{"single tile", Coord{Z: 3, X: 2, Y: 5}.Bound(), 3, Range{Z: 3, MinX: 2, MinY: 5, MaxX: 2, MaxY: 5}},
		{"single tile deeper", Coord{Z: 3, X: 2, Y: 5}.Bound(), 4, Range{Z: 4, MinX: 4, MinY: 10, MaxX: 5, MaxY: 11}},
		{"point", Bounds{West: 10, South: 10, East: 10, North: 10}, 2, Range{Z: 2, MinX: 2, MinY: 1, MaxX: 2, MaxY: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bounds.TileRange(tt.z); got != tt.want {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
		})
	}

	westHalf := Bounds{West: -180, South: -85.0511, East: 0, North: 85.0511}
	if westHalf.Contains(Coord{Z: 1, X: 1, Y: 0}) {
		t.Error("Expected tile 1/1/0 outside the west half")
	}
	northHalf := Bounds{West: -180, South: 0, East: 180, North: 85.0511}
	if northHalf.Contains(Coord{Z: 1, X: 0, Y: 1}) {
		t.Error("Expected tile 1/0/1 outside the north half")
	}
}

func TestWorldBoundsHighZoom(t *testing.T) {
	for _, z := range []int{18, 22, 26} {
		r := WorldBounds.TileRange(z)
		n := 1 << uint(z)
		if r.MaxX != n-1 || r.MaxY != n-1 {
			t.Errorf("zoom %d: expected max %d, got %+v", z, n-1, r)
		}
	}
}

func TestBoundsFromSlice(t *testing.T) {
	b, err := BoundsFromSlice([]float64{-10, -20, 30, 40})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.West != -10 || b.South != -20 || b.East != 30 || b.North != 40 {
		t.Errorf("unexpected bounds %+v", b)
	}

	if _, err := BoundsFromSlice([]float64{1, 2, 3}); err == nil {
		t.Error("Expected error for short slice")
	}
	if _, err := BoundsFromSlice([]float64{10, 0, -10, 5}); err == nil {
		t.Error("Expected error for inverted bounds")
	}
}

func TestCoordBound(t *testing.T) {
	b := Coord{1, 0, 0}.Bound()
	if b.West != -180 || b.East != 0 {
		t.Errorf("unexpected longitudes %+v", b)
	}
	if b.South > 0.0001 || b.South < -0.0001 {
		t.Errorf("Expected south edge at equator, got %f", b.South)
	}
}

func TestWorldFile(t *testing.T) {
	data := WorldFile(Coord{0, 0, 0}, 256)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 6 {
		t.Fatalf("Expected 6 lines, got %d", len(lines))
	}
	// 2 * originshift / 256
	if !bytes.Contains([]byte(lines[0]), []byte("156543.03")) {
		t.Errorf("unexpected pixel size line %q", lines[0])
	}
	if WorldFileExt(".png") != ".pgw" {
		t.Errorf("unexpected world file extension for png")
	}
}

func TestParseCoord(t *testing.T) {
	c, err := ParseCoord(" 3/4/2 ")
	if err != nil {
		t.Fatalf("ParseCoord failed: %v", err)
	}
	if c != (Coord{Z: 3, X: 4, Y: 2}) {
		t.Errorf("Expected 3/4/2, got %s", c)
	}

	for _, bad := range []string{"3/4", "a/1/1", "1/2/0", "3/4/2/1"} {
		if _, err := ParseCoord(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}
