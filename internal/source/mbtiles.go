package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kiesman99/tileblend/internal/raster"
	"github.com/kiesman99/tileblend/pkg/tile"
)

// mbtilesSource reads an MBTiles SQLite file. Rows are stored in TMS order.
type mbtilesSource struct {
	db   *sql.DB
	path string
}

func openMBTiles(ctx context.Context, uri string, opts Options, reg *Registry) (Source, error) {
	path, err := PathOf(uri)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open mbtiles: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open mbtiles %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open mbtiles %s: %w", path, err)
	}
	return &mbtilesSource{db: db, path: path}, nil
}

func (s *mbtilesSource) Info(ctx context.Context) (Info, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM metadata")
	if err != nil {
		return Info{}, fmt.Errorf("read mbtiles metadata: %w", err)
	}
	defer rows.Close()

	info := Info{Extra: map[string]interface{}{}}
	var haveMin, haveMax bool
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Info{}, fmt.Errorf("read mbtiles metadata: %w", err)
		}
		switch name {
		case "name":
			info.Name = value
		case "description":
			info.Description = value
		case "attribution":
			info.Attribution = value
		case "format":
			info.Format = value
		case "minzoom":
			info.MinZoom, err = strconv.Atoi(value)
			haveMin = err == nil
		case "maxzoom":
			info.MaxZoom, err = strconv.Atoi(value)
			haveMax = err == nil
		case "bounds":
			b, err := parseBounds(value)
			if err != nil {
				return Info{}, fmt.Errorf("mbtiles %s: %w", s.path, err)
			}
			info.Bounds = &b
		default:
			info.Extra[name] = value
		}
	}
	if err := rows.Err(); err != nil {
		return Info{}, fmt.Errorf("read mbtiles metadata: %w", err)
	}

	if !haveMin || !haveMax {
		var lo, hi sql.NullInt64
		err := s.db.QueryRowContext(ctx, "SELECT MIN(zoom_level), MAX(zoom_level) FROM tiles").Scan(&lo, &hi)
		if err != nil {
			return Info{}, fmt.Errorf("read mbtiles zoom range: %w", err)
		}
		if !haveMin && lo.Valid {
			info.MinZoom = int(lo.Int64)
		}
		if !haveMax && hi.Valid {
			info.MaxZoom = int(hi.Int64)
		}
	}
	return info, nil
}

func (s *mbtilesSource) Tile(ctx context.Context, z, x, y int) ([]byte, http.Header, error) {
	row := tile.Coord{Z: z, X: x, Y: y}.FlipY()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		z, x, row,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(data) == 0) {
		return nil, nil, fmt.Errorf("mbtiles %d/%d/%d: %w", z, x, y, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read mbtiles tile %d/%d/%d: %w", z, x, y, err)
	}
	return data, raster.Headers(data), nil
}

func (s *mbtilesSource) Close() error {
	return s.db.Close()
}

// PathOf extracts a filesystem path from scheme:///abs, scheme://./rel or
// scheme:path, dropping any query.
func PathOf(uri string) (string, error) {
	_, rest, _ := strings.Cut(uri, ":")
	rest = strings.TrimPrefix(rest, "//")
	rest, _, _ = strings.Cut(rest, "?")
	path, err := url.PathUnescape(rest)
	if err != nil {
		return "", fmt.Errorf("invalid path in %q: %w", uri, err)
	}
	if path == "" {
		return "", fmt.Errorf("missing path in %q", uri)
	}
	return path, nil
}

func parseBounds(s string) (tile.Bounds, error) {
	parts := strings.Split(s, ",")
	v := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return tile.Bounds{}, fmt.Errorf("invalid bounds %q", s)
		}
		v = append(v, f)
	}
	return tile.BoundsFromSlice(v)
}
