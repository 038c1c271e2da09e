package source

import (
	"context"
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru"
)

type cachedTile struct {
	data   []byte
	header http.Header
}

// cachedSource serves repeated tile reads from a shared LRU. Only found
// tiles are cached.
type cachedSource struct {
	Source
	key   string
	cache *lru.Cache
}

func (c *cachedSource) Tile(ctx context.Context, z, x, y int) ([]byte, http.Header, error) {
	key := fmt.Sprintf("%s|%d/%d/%d", c.key, z, x, y)
	if v, ok := c.cache.Get(key); ok {
		t := v.(cachedTile)
		return t.data, t.header.Clone(), nil
	}

	data, header, err := c.Source.Tile(ctx, z, x, y)
	if err != nil {
		return nil, nil, err
	}
	c.cache.Add(key, cachedTile{data: data, header: header.Clone()})
	return data, header, nil
}
