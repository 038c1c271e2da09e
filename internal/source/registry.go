package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

const (
	defaultUserAgent = "tileblend/1.0.0"
	defaultDocCache  = 64
)

// Registry maps URI schemes to protocol factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory

	client    *http.Client
	userAgent string
	log       logrus.FieldLogger
	tiles     *lru.Cache
	docs      *lru.Cache
}

// Option configures a Registry.
type Option func(*Registry)

// WithHTTPClient sets the client used by network protocols.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.client = c }
}

// WithUserAgent sets the User-Agent sent upstream.
func WithUserAgent(ua string) Option {
	return func(r *Registry) {
		if ua != "" {
			r.userAgent = ua
		}
	}
}

// WithLogger sets the logger handed to protocols.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Registry) { r.log = l }
}

// WithTileCache keeps up to n fetched tiles in memory, keyed by descriptor
// and coordinate. n <= 0 disables the cache.
func WithTileCache(n int) Option {
	return func(r *Registry) {
		if n <= 0 {
			r.tiles = nil
			return
		}
		r.tiles, _ = lru.New(n)
	}
}

// NewRegistry returns a registry with the built-in protocols registered.
func NewRegistry(opts ...Option) *Registry {
	docs, _ := lru.New(defaultDocCache)
	r := &Registry{
		factories: make(map[string]Factory),
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: defaultUserAgent,
		log:       logrus.StandardLogger(),
		docs:      docs,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Register("http", openHTTP)
	r.Register("https", openHTTP)
	r.Register("tilejson+http", openTileJSON)
	r.Register("tilejson+https", openTileJSON)
	r.Register("mbtiles", openMBTiles)
	r.Register("file", openFile)
	return r
}

// Register installs f for scheme, replacing any previous factory.
func (r *Registry) Register(scheme string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(scheme)] = f
}

// Schemes lists the registered protocols.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for s := range r.factories {
		out = append(out, s)
	}
	return out
}

// Resolve opens the source named by desc. Scale and tile size come from the
// URI query first, then the descriptor fields, then opts.
func (r *Registry) Resolve(ctx context.Context, desc Descriptor, opts Options) (Source, error) {
	scheme := desc.Scheme()
	if scheme == "" {
		return nil, fmt.Errorf("source %q: missing protocol", desc.URI)
	}

	r.mu.RLock()
	factory, ok := r.factories[scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source %q: unsupported protocol %q", desc.URI, scheme)
	}

	effective, err := effectiveOptions(desc, opts)
	if err != nil {
		return nil, err
	}

	src, err := factory(ctx, desc.URI, effective, r)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", desc.URI, err)
	}

	if r.tiles != nil {
		key := fmt.Sprintf("%s|%g|%d", desc.URI, effective.Scale, effective.TileSize)
		src = &cachedSource{Source: src, key: key, cache: r.tiles}
	}
	return src, nil
}

func effectiveOptions(desc Descriptor, opts Options) (Options, error) {
	if desc.Scale != 0 {
		opts.Scale = desc.Scale
	}
	if desc.TileSize != 0 {
		opts.TileSize = desc.TileSize
	}

	query := queryOf(desc.URI)
	if v := query.Get("scale"); v != "" {
		scale, err := strconv.ParseFloat(v, 64)
		if err != nil || scale <= 0 {
			return Options{}, fmt.Errorf("source %q: invalid scale %q", desc.URI, v)
		}
		opts.Scale = scale
	}
	if v := query.Get("tileSize"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			return Options{}, fmt.Errorf("source %q: invalid tileSize %q", desc.URI, v)
		}
		opts.TileSize = size
	}
	return opts, nil
}

// queryOf parses the query part of uri without parsing the rest, since URL
// templates are not valid URLs.
func queryOf(uri string) url.Values {
	_, raw, ok := strings.Cut(uri, "?")
	if !ok {
		return url.Values{}
	}
	values, _ := url.ParseQuery(raw)
	return values
}

// stripQuery removes the named parameters from uri, keeping the remaining
// query text untouched.
func stripQuery(uri string, names ...string) string {
	base, raw, ok := strings.Cut(uri, "?")
	if !ok {
		return uri
	}
	var kept []string
	for _, part := range strings.Split(raw, "&") {
		key, _, _ := strings.Cut(part, "=")
		drop := part == ""
		for _, n := range names {
			if key == n {
				drop = true
			}
		}
		if !drop {
			kept = append(kept, part)
		}
	}
	if len(kept) == 0 {
		return base
	}
	return base + "?" + strings.Join(kept, "&")
}

// HTTPClient returns the shared client for network protocols.
func (r *Registry) HTTPClient() *http.Client {
	return r.client
}

// UserAgent returns the User-Agent sent upstream.
func (r *Registry) UserAgent() string {
	return r.userAgent
}

// Logger returns the registry logger.
func (r *Registry) Logger() logrus.FieldLogger {
	return r.log
}
