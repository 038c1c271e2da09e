package blend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/tileblend/internal/raster"
	"github.com/kiesman99/tileblend/internal/source"
	"github.com/kiesman99/tileblend/pkg/tile"
)

// DefaultConcurrency bounds the number of layer tasks in flight per tile.
const DefaultConcurrency = 10

// Resolver opens layer sources. *source.Registry implements it.
type Resolver interface {
	Resolve(ctx context.Context, desc source.Descriptor, opts source.Options) (source.Source, error)
}

// layer is a LayerSpec with its operator and filter chain parsed.
type layer struct {
	spec    LayerSpec
	op      raster.Op
	filters raster.Filters
}

// Source composites the configured layers into single tiles. It is safe for
// concurrent use.
type Source struct {
	cfg      Config
	layers   []layer
	format   raster.Format
	ambient  source.Options
	resolver Resolver

	// handles is nil in lazy mode and read-only otherwise
	handles []source.Source

	lazy        bool
	concurrency int
	log         logrus.FieldLogger

	closeOnce sync.Once
}

// Option configures a Source.
type Option func(*Source)

// WithLazyResolve resolves layers on every Tile call instead of once in New.
// Each request then pays a resolution round-trip per layer.
func WithLazyResolve() Option {
	return func(s *Source) { s.lazy = true }
}

// WithConcurrency bounds the layer tasks in flight per request.
func WithConcurrency(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithLogger sets the logger for layer faults.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Source) { s.log = l }
}

// New validates cfg and, unless WithLazyResolve is given, resolves every
// layer. A resolution failure closes the layers already opened and returns
// a *ConfigError.
func New(ctx context.Context, cfg *Config, resolver Resolver, opts ...Option) (*Source, error) {
	c := *cfg
	c.Layers = append([]LayerSpec(nil), cfg.Layers...)
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s := &Source{
		cfg:         c,
		ambient:     source.Options{Scale: c.Scale, TileSize: c.TileSize},
		resolver:    resolver,
		concurrency: DefaultConcurrency,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.format, _ = raster.ParseFormat(c.Format)
	for i, spec := range c.Layers {
		op, ok := raster.LookupOp(spec.Operation)
		if !ok {
			s.log.WithFields(logrus.Fields{
				"layer":     i,
				"operation": spec.Operation,
			}).Warn("Unknown compositing operation, using src-over")
		}
		filters, _ := raster.ParseFilters(spec.Filters)
		s.layers = append(s.layers, layer{spec: spec, op: op, filters: filters})
	}

	if !s.lazy {
		handles, err := s.resolveAll(ctx)
		if err != nil {
			return nil, err
		}
		s.handles = handles
	}
	return s, nil
}

// resolveAll opens every layer concurrently.
func (s *Source) resolveAll(ctx context.Context) ([]source.Source, error) {
	handles := make([]source.Source, len(s.layers))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, l := range s.layers {
		i, l := i, l
		g.Go(func() error {
			h, err := s.resolver.Resolve(ctx, l.spec.Source, s.ambient)
			if err != nil {
				return &ConfigError{Field: fmt.Sprintf("layers[%d].source", i), Err: err}
			}
			handles[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, h := range handles {
			if h != nil {
				h.Close()
			}
		}
		return nil, err
	}
	return handles, nil
}

// handle returns the fetch handle of layer i and a release func.
func (s *Source) handle(ctx context.Context, i int) (source.Source, func(), error) {
	if !s.lazy {
		return s.handles[i], func() {}, nil
	}
	h, err := s.resolver.Resolve(ctx, s.layers[i].spec.Source, s.ambient)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve layer %d (%s): %w", i, s.layers[i].spec.Source.URI, err)
	}
	return h, func() { h.Close() }, nil
}

// Tile renders the composite tile at z/x/y.
func (s *Source) Tile(ctx context.Context, z, x, y int) ([]byte, http.Header, error) {
	c := tile.Coord{Z: z, X: x, Y: y}
	if !c.Valid() {
		return nil, nil, fmt.Errorf("invalid tile coordinate %s", c)
	}

	results, err := s.gather(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	acc, err := s.composite(results)
	if err != nil {
		return nil, nil, err
	}

	if err := acc.Demultiply(); err != nil {
		return nil, nil, &CodecError{Stage: "demultiply", Layer: -1, Err: err}
	}
	data, err := raster.Encode(acc, s.format)
	if err != nil {
		return nil, nil, &CodecError{Stage: "encode", Layer: -1, Err: err}
	}

	header := raster.Headers(data)
	if cc, ok := mergeCacheControl(results); ok {
		header.Set("Cache-Control", cc)
	}
	return data, header, nil
}

// Info describes the blend. Name, attribution, zoom range and bounds are read
// from the configured info blob, which is also returned verbatim in Extra.
func (s *Source) Info(ctx context.Context) (source.Info, error) {
	blob := s.cfg.Info
	info := source.Info{
		Format: s.format.Ext(),
		Extra:  blob,
	}
	info.Name, _ = blob["name"].(string)
	info.Description, _ = blob["description"].(string)
	info.Attribution, _ = blob["attribution"].(string)
	if v, ok := numberOf(blob["minzoom"]); ok {
		info.MinZoom = int(v)
	}
	if v, ok := numberOf(blob["maxzoom"]); ok {
		info.MaxZoom = int(v)
	}
	if raw, ok := blob["bounds"].([]interface{}); ok {
		v := make([]float64, 0, len(raw))
		for _, r := range raw {
			if f, ok := numberOf(r); ok {
				v = append(v, f)
			}
		}
		if b, err := tile.BoundsFromSlice(v); err == nil {
			info.Bounds = &b
		}
	}
	return info, nil
}

// Config returns a copy of the resolved configuration.
func (s *Source) Config() Config {
	c := s.cfg
	c.Layers = append([]LayerSpec(nil), s.cfg.Layers...)
	return c
}

// Format returns the parsed output format.
func (s *Source) Format() raster.Format {
	return s.format
}

// Warm resolves every layer and reads its info so the registry caches are
// primed before the first tile request.
func (s *Source) Warm(ctx context.Context) error {
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
			if _, err := h.Info(ctx); err != nil {
				return fmt.Errorf("layer %d info: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close releases the layer handles. Calls after the first return nil.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		var errs []error
		for _, h := range s.handles {
			if h == nil {
				continue
			}
			if cerr := h.Close(); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}

func numberOf(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
