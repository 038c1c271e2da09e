// Package source resolves tile source descriptors into fetch handles.
//
// A descriptor is a URI whose scheme selects a protocol registered with a
// Registry. The built-in protocols are http(s) URL templates, TileJSON
// documents, MBTiles files and z/x/y directories; other packages may
// register more.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiesman99/tileblend/pkg/tile"
)

// ErrNotFound reports that a source has no tile at the requested
// coordinate. It is not a failure of the source.
var ErrNotFound = errors.New("tile not found")

// Source is an opened tile source.
type Source interface {
	Info(ctx context.Context) (Info, error)
	Tile(ctx context.Context, z, x, y int) ([]byte, http.Header, error)
	Close() error
}

// Info describes a source. Zero MaxZoom and nil Bounds mean unrestricted.
type Info struct {
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Attribution string                 `json:"attribution,omitempty"`
	Format      string                 `json:"format,omitempty"`
	MinZoom     int                    `json:"minzoom"`
	MaxZoom     int                    `json:"maxzoom"`
	Bounds      *tile.Bounds           `json:"-"`
	Tiles       []string               `json:"tiles,omitempty"`
	Extra       map[string]interface{} `json:"-"`
}

// ZoomRange returns the min and max zoom with defaults applied.
func (i Info) ZoomRange() (int, int) {
	maxZoom := i.MaxZoom
	if maxZoom <= 0 {
		maxZoom = tile.MaxZoom
	}
	return max(i.MinZoom, 0), maxZoom
}

// Extent returns the declared bounds or the whole world.
func (i Info) Extent() tile.Bounds {
	if i.Bounds == nil {
		return tile.WorldBounds
	}
	return *i.Bounds
}

// Descriptor identifies a source. Scale and TileSize are optional explicit
// overrides of the ambient values.
type Descriptor struct {
	URI      string  `yaml:"uri" json:"uri"`
	Scale    float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	TileSize int     `yaml:"tileSize,omitempty" json:"tileSize,omitempty"`
}

func (d Descriptor) String() string {
	s := d.URI
	if d.Scale != 0 {
		s += fmt.Sprintf(" scale=%g", d.Scale)
	}
	if d.TileSize != 0 {
		s += fmt.Sprintf(" tileSize=%d", d.TileSize)
	}
	return s
}

// Scheme returns the lower-cased protocol of the descriptor URI.
func (d Descriptor) Scheme() string {
	scheme, _, ok := strings.Cut(d.URI, ":")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// Options are the effective resolution parameters handed to a protocol.
type Options struct {
	Scale    float64
	TileSize int
}

// Factory opens a source for uri. The registry is passed so protocols can
// share its HTTP client and caches or resolve nested descriptors.
type Factory func(ctx context.Context, uri string, opts Options, reg *Registry) (Source, error)
