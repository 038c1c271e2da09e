package blend

import (
	"github.com/kiesman99/tileblend/internal/raster"
)

// composite folds the layer canvases onto a transparent accumulator in
// declared order. Filters touch only the layer's own canvas.
func (s *Source) composite(results []layerResult) (*raster.Canvas, error) {
	acc := raster.NewCanvas(s.cfg.TileSize, s.cfg.TileSize)

	for i, r := range results {
		l := s.layers[i]

		if len(l.filters) > 0 {
			if err := r.canvas.ApplyFilters(l.filters); err != nil {
				return nil, &CodecError{Stage: "filter", Layer: i, Err: err}
			}
		}

		err := r.canvas.CompositeOnto(acc, raster.CompositeOptions{
			Op:      l.op,
			Opacity: l.spec.Opacity,
			Dx:      l.spec.Offset[0],
			Dy:      l.spec.Offset[1],
		})
		if err != nil {
			return nil, &CodecError{Stage: "composite", Layer: i, Err: err}
		}
	}
	return acc, nil
}
