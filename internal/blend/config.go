// Package blend implements a tile source that composites an ordered list of
// upstream layers into one tile.
package blend

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/oapi-codegen/runtime"
	"gopkg.in/yaml.v2"

	"github.com/kiesman99/tileblend/internal/raster"
	"github.com/kiesman99/tileblend/internal/source"
	"github.com/kiesman99/tileblend/pkg/tile"
)

const (
	DefaultFormat    = "png32"
	DefaultOperation = "over"
)

// LayerSpec is one entry of the ordered layer list. Build it with Layer and
// adjust fields from there: the zero value has Opacity 0, which is kept
// as given and hides the layer. An empty Operation is filled with DefaultOperation.
type LayerSpec struct {
	Source    source.Descriptor `json:"source"`
	Operation string            `json:"operation"`
	Opacity   float64           `json:"opacity"`
	Filters   string            `json:"filters,omitempty"`
	Offset    [2]int            `json:"offset"`
}

// Layer returns a LayerSpec for uri with default blend parameters.
func Layer(uri string) LayerSpec {
	return LayerSpec{
		Source:    source.Descriptor{URI: uri},
		Operation: DefaultOperation,
		Opacity:   1,
	}
}

// Config is a parsed blend configuration. Layer order is compositing order.
type Config struct {
	Layers   []LayerSpec            `json:"layers"`
	Format   string                 `json:"format"`
	Scale    float64                `json:"scale"`
	TileSize int                    `json:"tileSize"`
	Info     map[string]interface{} `json:"info,omitempty"`
}

// normalize fills unset top-level and per-layer defaults.
func (c *Config) normalize() {
	if c.Format == "" {
		c.Format = DefaultFormat
	}
	if c.Scale == 0 {
		c.Scale = 1
	}
	if c.TileSize == 0 {
		c.TileSize = int(math.Floor(tile.DefaultSize * c.Scale))
	}
	if c.Info == nil {
		c.Info = map[string]interface{}{}
	}
	for i := range c.Layers {
		if c.Layers[i].Operation == "" {
			c.Layers[i].Operation = DefaultOperation
		}
	}
}

// Validate checks the configuration. Errors are *ConfigError.
func (c *Config) Validate() error {
	if len(c.Layers) == 0 {
		return configErrorf("layers", "at least one layer is required")
	}
	for i, l := range c.Layers {
		if strings.TrimSpace(l.Source.URI) == "" {
			return configErrorf(fmt.Sprintf("layers[%d].source", i), "source is empty")
		}
		if _, err := raster.ParseFilters(l.Filters); err != nil {
			return &ConfigError{Field: fmt.Sprintf("layers[%d].filters", i), Err: err}
		}
	}
	if c.Scale <= 0 || math.IsNaN(c.Scale) || math.IsInf(c.Scale, 0) {
		return configErrorf("scale", "must be positive, got %v", c.Scale)
	}
	if c.TileSize <= 0 {
		return configErrorf("tileSize", "must be positive, got %d", c.TileSize)
	}
	if _, err := raster.ParseFormat(c.Format); err != nil {
		return &ConfigError{Field: "format", Err: err}
	}
	return nil
}

// ParseURI parses the query form of a blend configuration:
//
//	blend:?layer=SRC&layer=SRC&operations=multiply,over&opacities=0.5,1
//	      &filter=F1&filter=F2&offsets=5:-5,0:0&format=png&scale=2&tileSize=512
//
// Every per-layer array must match the layer count when present.
func ParseURI(uri string) (*Config, error) {
	_, raw, _ := strings.Cut(uri, "?")
	query, err := url.ParseQuery(raw)
	if err != nil {
		return nil, &ConfigError{Field: "uri", Err: err}
	}

	var (
		layers     []string
		operations []string
		opacities  []float64
		filters    []string
		offsets    []string
		format     *string
		scale      *float64
		tileSize   *int
		info       *string
	)
	bindings := []struct {
		name    string
		explode bool
		dest    interface{}
	}{
		{"layer", true, &layers},
		{"operations", false, &operations},
		{"opacities", false, &opacities},
		{"filter", true, &filters},
		{"offsets", false, &offsets},
		{"format", true, &format},
		{"scale", true, &scale},
		{"tileSize", true, &tileSize},
		{"info", true, &info},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", b.explode, false, b.name, query, b.dest); err != nil {
			return nil, &ConfigError{Field: b.name, Err: err}
		}
	}

	cfg := &Config{}
	for _, l := range layers {
		cfg.Layers = append(cfg.Layers, Layer(l))
	}
	if format != nil {
		cfg.Format = *format
	}
	if scale != nil {
		cfg.Scale = *scale
	}
	if tileSize != nil {
		cfg.TileSize = *tileSize
	}
	if info != nil {
		if err := json.Unmarshal([]byte(*info), &cfg.Info); err != nil {
			return nil, &ConfigError{Field: "info", Err: err}
		}
	}

	offsetPairs := make([][]int, len(offsets))
	for i, o := range offsets {
		dx, dy, ok := strings.Cut(o, ":")
		x, errX := strconv.Atoi(dx)
		y, errY := strconv.Atoi(dy)
		if !ok || errX != nil || errY != nil {
			return nil, configErrorf("offsets", "invalid offset %q, expected dx:dy", o)
		}
		offsetPairs[i] = []int{x, y}
	}

	arrays := parallelArrays{Operations: operations, Opacities: opacities, Filters: filters}
	if offsets != nil {
		arrays.Offsets = offsetPairs
	}
	if err := arrays.apply(cfg.Layers); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parallelArrays are per-layer values supplied index-aligned with the layer
// list instead of inside each layer.
type parallelArrays struct {
	Operations []string  `yaml:"operations"`
	Opacities  []float64 `yaml:"opacities"`
	Filters    []string  `yaml:"filters"`
	Offsets    [][]int   `yaml:"offsets"`
}

func (p parallelArrays) apply(layers []LayerSpec) error {
	n := len(layers)
	check := func(field string, length int, present bool) error {
		if present && length != n {
			return configErrorf(field, "has %d entries for %d layers", length, n)
		}
		return nil
	}
	for _, err := range []error{
		check("operations", len(p.Operations), p.Operations != nil),
		check("opacities", len(p.Opacities), p.Opacities != nil),
		check("filters", len(p.Filters), p.Filters != nil),
		check("offsets", len(p.Offsets), p.Offsets != nil),
	} {
		if err != nil {
			return err
		}
	}

	for i := range layers {
		if p.Operations != nil {
			layers[i].Operation = p.Operations[i]
		}
		if p.Opacities != nil {
			layers[i].Opacity = p.Opacities[i]
		}
		if p.Filters != nil {
			layers[i].Filters = p.Filters[i]
		}
		if p.Offsets != nil {
			off, err := offsetOf(p.Offsets[i])
			if err != nil {
				return &ConfigError{Field: fmt.Sprintf("offsets[%d]", i), Err: err}
			}
			layers[i].Offset = off
		}
	}
	return nil
}

func offsetOf(v []int) ([2]int, error) {
	switch len(v) {
	case 0:
		return [2]int{}, nil
	case 1:
		return [2]int{v[0], 0}, nil
	case 2:
		return [2]int{v[0], v[1]}, nil
	}
	return [2]int{}, fmt.Errorf("offset needs at most 2 values, got %d", len(v))
}

// descriptorDoc accepts a source as a plain URI or as {uri, scale, tileSize}.
type descriptorDoc struct {
	source.Descriptor
}

func (d *descriptorDoc) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var uri string
	if err := unmarshal(&uri); err == nil {
		d.URI = uri
		return nil
	}
	return unmarshal(&d.Descriptor)
}

// layerDoc accepts a layer as a plain source or as a map of blend settings.
type layerDoc struct {
	Source    descriptorDoc `yaml:"source"`
	Operation string        `yaml:"operation"`
	CompOp    string        `yaml:"comp-op"`
	Opacity   *float64      `yaml:"opacity"`
	Filters   string        `yaml:"filters"`
	Offset    []int         `yaml:"offset"`
}

func (l *layerDoc) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var uri string
	if err := unmarshal(&uri); err == nil {
		l.Source.URI = uri
		return nil
	}
	type plain layerDoc
	return unmarshal((*plain)(l))
}

type configDoc struct {
	Layers   []layerDoc             `yaml:"layers"`
	Format   string                 `yaml:"format"`
	Scale    float64                `yaml:"scale"`
	TileSize int                    `yaml:"tileSize"`
	Info     map[string]interface{} `yaml:"info"`

	parallelArrays `yaml:",inline"`
}

// ParseYAML parses the structured form of a blend configuration. JSON is
// accepted as well.
func ParseYAML(data []byte) (*Config, error) {
	var doc configDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Err: err}
	}

	cfg := &Config{
		Format:   doc.Format,
		Scale:    doc.Scale,
		TileSize: doc.TileSize,
	}
	if doc.Info != nil {
		cfg.Info = stringKeys(doc.Info).(map[string]interface{})
	}

	for i, l := range doc.Layers {
		spec := LayerSpec{
			Source:    l.Source.Descriptor,
			Operation: l.Operation,
			Opacity:   1,
			Filters:   l.Filters,
		}
		if spec.Operation == "" {
			spec.Operation = l.CompOp
		}
		if l.Opacity != nil {
			spec.Opacity = *l.Opacity
		}
		off, err := offsetOf(l.Offset)
		if err != nil {
			return nil, &ConfigError{Field: fmt.Sprintf("layers[%d].offset", i), Err: err}
		}
		spec.Offset = off
		cfg.Layers = append(cfg.Layers, spec)
	}

	if err := doc.parallelArrays.apply(cfg.Layers); err != nil {
		return nil, err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML or JSON blend configuration from path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Field: "file", Err: err}
	}
	return ParseYAML(data)
}

// stringKeys converts the map[interface{}]interface{} values produced by
// yaml.v2 into JSON-compatible maps.
func stringKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = stringKeys(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = stringKeys(val)
		}
		return out
	}
	return v
}
