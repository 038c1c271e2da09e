package blend

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/tileblend/internal/raster"
	"github.com/kiesman99/tileblend/internal/source"
	"github.com/kiesman99/tileblend/pkg/tile"
)

type outcomeKind int

const (
	outcomeHit outcomeKind = iota
	outcomeMiss
	outcomeOutOfRange
	outcomeFault
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeHit:
		return "hit"
	case outcomeMiss:
		return "miss"
	case outcomeOutOfRange:
		return "out-of-range"
	}
	return "fault"
}

// fetchOutcome is the result of fetching one layer for one request.
type fetchOutcome struct {
	kind   outcomeKind
	data   []byte
	header http.Header
	err    error
}

// layerResult pairs a layer's outcome with its premultiplied canvas.
type layerResult struct {
	outcome fetchOutcome
	canvas  *raster.Canvas
}

// gather fetches and normalizes every layer concurrently. Each task writes
// only its own slot; the call returns once all tasks have finished. A layer
// fault never fails the request; decode and lazy resolution errors do.
func (s *Source) gather(ctx context.Context, c tile.Coord) ([]layerResult, error) {
	results := make([]layerResult, len(s.layers))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range s.layers {
		i := i
		g.Go(func() error {
			h, release, err := s.handle(ctx, i)
			if err != nil {
				return err
			}
			defer release()

			out := s.fetch(ctx, i, h, c)
			canvas, err := s.normalize(i, out)
			if err != nil {
				return err
			}
			results[i] = layerResult{outcome: out, canvas: canvas}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// fetch clips c against the layer's declared zoom range and bounds, then
// fetches the tile. Out-of-range coordinates are never requested.
func (s *Source) fetch(ctx context.Context, i int, h source.Source, c tile.Coord) fetchOutcome {
	log := s.log.WithFields(logrus.Fields{
		"layer":  i,
		"source": s.layers[i].spec.Source.URI,
		"tile":   c.String(),
	})

	info, err := h.Info(ctx)
	if err != nil {
		log.WithError(err).Warn("Layer info failed, using blank tile")
		return fetchOutcome{kind: outcomeFault, err: err}
	}

	minZoom, maxZoom := info.ZoomRange()
	if c.Z < minZoom || c.Z > maxZoom || !info.Extent().Contains(c) {
		return fetchOutcome{kind: outcomeOutOfRange}
	}

	data, header, err := h.Tile(ctx, c.Z, c.X, c.Y)
	switch {
	case errors.Is(err, source.ErrNotFound):
		return fetchOutcome{kind: outcomeMiss}
	case err != nil:
		log.WithError(err).Warn("Layer fetch failed, using blank tile")
		return fetchOutcome{kind: outcomeFault, err: err}
	}
	return fetchOutcome{kind: outcomeHit, data: data, header: header}
}

// normalize turns an outcome into a premultiplied canvas. Anything but a
// hit becomes a transparent tile-sized canvas.
func (s *Source) normalize(i int, out fetchOutcome) (*raster.Canvas, error) {
	if out.kind != outcomeHit {
		return raster.NewCanvas(s.cfg.TileSize, s.cfg.TileSize), nil
	}

	canvas, err := raster.Decode(out.data)
	if err != nil {
		return nil, &CodecError{Stage: "decode", Layer: i, Err: err}
	}
	if err := canvas.Premultiply(); err != nil {
		return nil, &CodecError{Stage: "premultiply", Layer: i, Err: err}
	}
	return canvas, nil
}
