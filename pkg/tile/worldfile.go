package tile

import (
	"bytes"
	"fmt"
	"math"
)

// WorldFile generates world file data for a rendered tile of size pixels.
func WorldFile(c Coord, size int) []byte {
	b := c.Bound()
	minx, miny := ProjectLatLon(b.South, b.West)
	maxx, maxy := ProjectLatLon(b.North, b.East)

	px := (maxx - minx) / float64(size)
	py := math.Abs(maxy-miny) / float64(size)

	// pixel size x, rotation, rotation, pixel size y (negative), top left x, top left y
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%24.10f\n", px)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", 0.0)
	fmt.Fprintf(&buf, "%24.10f\n", -py)
	fmt.Fprintf(&buf, "%24.10f\n", minx)
	fmt.Fprintf(&buf, "%24.10f\n", maxy)
	return buf.Bytes()
}

// WorldFileExt returns the world file extension matching an image extension.
func WorldFileExt(imageExt string) string {
	switch imageExt {
	case ".png":
		return ".pgw"
	case ".jpg", ".jpeg":
		return ".jgw"
	case ".tif", ".tiff":
		return ".tfw"
	case ".gif":
		return ".gfw"
	}
	return ".wld"
}
