package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiesman99/tileblend/pkg/tile"
)

// tileJSON is the subset of the TileJSON document that a source needs.
type tileJSON struct {
	TileJSON    string    `json:"tilejson"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Attribution string    `json:"attribution"`
	Scheme      string    `json:"scheme"`
	Format      string    `json:"format"`
	Tiles       []string  `json:"tiles"`
	MinZoom     *int      `json:"minzoom"`
	MaxZoom     *int      `json:"maxzoom"`
	Bounds      []float64 `json:"bounds"`
}

func openTileJSON(ctx context.Context, uri string, opts Options, reg *Registry) (Source, error) {
	_, docURL, _ := strings.Cut(uri, "+")
	docURL = stripQuery(docURL, "scale", "tileSize")

	doc, err := reg.tileJSON(ctx, docURL)
	if err != nil {
		return nil, err
	}
	if len(doc.Tiles) == 0 {
		return nil, fmt.Errorf("TileJSON %s lists no tiles", docURL)
	}

	info := Info{
		Name:        doc.Name,
		Description: doc.Description,
		Attribution: doc.Attribution,
		Format:      doc.Format,
		Tiles:       doc.Tiles,
	}
	if doc.MinZoom != nil {
		info.MinZoom = *doc.MinZoom
	}
	if doc.MaxZoom != nil {
		info.MaxZoom = *doc.MaxZoom
	}
	if doc.Bounds != nil {
		b, err := tile.BoundsFromSlice(doc.Bounds)
		if err != nil {
			return nil, fmt.Errorf("TileJSON %s: %w", docURL, err)
		}
		info.Bounds = &b
	}

	return &httpSource{
		templates: doc.Tiles,
		reg:       reg,
		info:      info,
		tms:       doc.Scheme == "tms",
	}, nil
}

// tileJSON fetches and decodes a TileJSON document, memoized per URL.
func (r *Registry) tileJSON(ctx context.Context, url string) (*tileJSON, error) {
	if v, ok := r.docs.Get(url); ok {
		return v.(*tileJSON), nil
	}

	data, _, err := r.download(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch TileJSON: %w", err)
	}

	var doc tileJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode TileJSON %s: %w", url, err)
	}
	r.docs.Add(url, &doc)
	return &doc, nil
}
