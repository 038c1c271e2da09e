package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kiesman99/tileblend/internal/raster"
	"github.com/kiesman99/tileblend/pkg/tile"
)

// fileSource reads tiles laid out as <dir>/<z>/<x>/<y>.<ext>. An optional
// metadata.json in the same TileJSON shape describes the set.
type fileSource struct {
	dir string
	ext string
}

func openFile(ctx context.Context, uri string, opts Options, reg *Registry) (Source, error) {
	dir, err := PathOf(uri)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open tile directory: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	ext := strings.TrimPrefix(queryOf(uri).Get("ext"), ".")
	if ext == "" {
		ext = "png"
	}
	return &fileSource{dir: dir, ext: ext}, nil
}

func (s *fileSource) Info(ctx context.Context) (Info, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "metadata.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return Info{Format: s.ext}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("read tile directory metadata: %w", err)
	}

	var doc tileJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return Info{}, fmt.Errorf("decode %s/metadata.json: %w", s.dir, err)
	}
	info := Info{Name: doc.Name, Description: doc.Description, Attribution: doc.Attribution, Format: s.ext}
	if doc.MinZoom != nil {
		info.MinZoom = *doc.MinZoom
	}
	if doc.MaxZoom != nil {
		info.MaxZoom = *doc.MaxZoom
	}
	if doc.Bounds != nil {
		b, err := tile.BoundsFromSlice(doc.Bounds)
		if err != nil {
			return Info{}, fmt.Errorf("%s/metadata.json: %w", s.dir, err)
		}
		info.Bounds = &b
	}
	return info, nil
}

func (s *fileSource) Tile(ctx context.Context, z, x, y int) ([]byte, http.Header, error) {
	name := filepath.Join(s.dir, strconv.Itoa(z), strconv.Itoa(x), strconv.Itoa(y)+"."+s.ext)
	data, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read tile: %w", err)
	}
	return data, raster.Headers(data), nil
}

func (s *fileSource) Close() error {
	return nil
}

// WriteTile stores data under dir in the layout the file protocol reads.
func WriteTile(dir string, c tile.Coord, ext string, data []byte) (string, error) {
	sub := filepath.Join(dir, strconv.Itoa(c.Z), strconv.Itoa(c.X))
	if err := os.MkdirAll(sub, os.ModePerm); err != nil {
		return "", err
	}
	name := filepath.Join(sub, strconv.Itoa(c.Y)+"."+ext)
	return name, os.WriteFile(name, data, 0o644)
}
