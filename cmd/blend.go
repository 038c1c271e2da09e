package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/kiesman99/tileblend/internal/blend"
	"github.com/kiesman99/tileblend/internal/source"
)

// openBlend builds the source registry and the blend from the blend.* and
// source.* settings.
func openBlend(ctx context.Context) (*blend.Source, error) {
	log := logrus.StandardLogger()

	reg := source.NewRegistry(
		source.WithHTTPClient(&http.Client{Timeout: viper.GetDuration("source.timeout")}),
		source.WithUserAgent(viper.GetString("source.user-agent")),
		source.WithTileCache(viper.GetInt("source.cache-size")),
		source.WithLogger(log),
	)

	opts := []blend.Option{
		blend.WithLogger(log),
		blend.WithConcurrency(viper.GetInt("blend.concurrency")),
	}
	if viper.GetBool("blend.lazy") {
		opts = append(opts, blend.WithLazyResolve())
	}
	blend.Register(reg, opts...)

	cfg, err := loadBlendConfig()
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"layers":   len(cfg.Layers),
		"format":   cfg.Format,
		"tileSize": cfg.TileSize,
	}).Info("Opening blend")
	return blend.New(ctx, cfg, reg, opts...)
}

func loadBlendConfig() (*blend.Config, error) {
	path := viper.GetString("blend.config")
	uri := viper.GetString("blend.uri")

	switch {
	case path != "" && uri != "":
		return nil, errors.New("use either --blend or --uri, not both")
	case path != "":
		return blend.LoadFile(path)
	case uri != "":
		return blend.ParseURI(uri)
	}
	return nil, errors.New("a blend is required (use --blend or --uri)")
}
