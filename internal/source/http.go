package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/sirupsen/logrus"

	"github.com/kiesman99/tileblend/pkg/tile"
)

// httpSource fetches tiles from one or more URL templates.
type httpSource struct {
	templates []string
	reg       *Registry
	info      Info
	tms       bool
}

func openHTTP(ctx context.Context, uri string, opts Options, reg *Registry) (Source, error) {
	query := queryOf(uri)
	template := stripQuery(uri, "minzoom", "maxzoom", "scale", "tileSize")
	if !tile.IsTemplate(template) {
		return nil, fmt.Errorf("URL %q has no {z}/{x}/{y} placeholders", template)
	}

	info := Info{Tiles: []string{template}}
	for key, dst := range map[string]*int{"minzoom": &info.MinZoom, "maxzoom": &info.MaxZoom} {
		v := query.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > tile.MaxZoom {
			return nil, fmt.Errorf("invalid %s %q", key, v)
		}
		*dst = n
	}

	return &httpSource{templates: []string{template}, reg: reg, info: info}, nil
}

func (s *httpSource) Info(ctx context.Context) (Info, error) {
	return s.info, nil
}

func (s *httpSource) Tile(ctx context.Context, z, x, y int) ([]byte, http.Header, error) {
	c := tile.Coord{Z: z, X: x, Y: y}
	if s.tms {
		c.Y = c.FlipY()
	}
	template := s.templates[(x+y)%len(s.templates)]
	return s.reg.download(ctx, tile.BuildURL(template, c))
}

func (s *httpSource) Close() error {
	return nil
}

// download fetches url with the registry client. 404 and 204 map to
// ErrNotFound; compressed bodies are decoded.
func (r *Registry) download(ctx context.Context, url string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, nil, err
	}

	req.Header.Set("User-Agent", r.userAgent)
	// set explicitly, so the transport leaves bodies compressed
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	default:
		return nil, nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body := io.Reader(resp.Body)
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: gzip body: %w", url, err)
		}
		defer zr.Close()
		body = zr
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: deflate body: %w", url, err)
		}
		defer zr.Close()
		body = zr
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read body: %w", url, err)
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%s: empty body: %w", url, ErrNotFound)
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	r.log.WithFields(logrus.Fields{
		"url":   url,
		"bytes": len(data),
	}).Debug("Fetched tile")
	return data, header, nil
}
