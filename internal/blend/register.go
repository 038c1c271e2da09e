package blend

import (
	"context"

	"github.com/kiesman99/tileblend/internal/source"
)

// Register adds the blend: (query form) and blend+file: (YAML file)
// protocols to reg so blends can be nested as layers. Nested blends take
// scale and tile size from the enclosing resolution.
func Register(reg *source.Registry, opts ...Option) {
	reg.Register("blend", func(ctx context.Context, uri string, o source.Options, r *source.Registry) (source.Source, error) {
		cfg, err := ParseURI(uri)
		if err != nil {
			return nil, err
		}
		return New(ctx, inherit(cfg, o), r, opts...)
	})

	reg.Register("blend+file", func(ctx context.Context, uri string, o source.Options, r *source.Registry) (source.Source, error) {
		path, err := source.PathOf(uri)
		if err != nil {
			return nil, err
		}
		cfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		return New(ctx, inherit(cfg, o), r, opts...)
	})
}

func inherit(cfg *Config, o source.Options) *Config {
	if o.Scale > 0 {
		cfg.Scale = o.Scale
	}
	if o.TileSize > 0 {
		cfg.TileSize = o.TileSize
	}
	return cfg
}
