package blend

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiesman99/tileblend/internal/source"
	"github.com/kiesman99/tileblend/pkg/tile"
)

// inflight counts Tile calls running at the same time across layers.
type inflight struct {
	current int32
	peak    int32
	// started is closed once want calls have begun, when want > 0.
	want    int32
	begun   int32
	started chan struct{}
	hold    time.Duration
}

func newInflight(want int, hold time.Duration) *inflight {
	return &inflight{want: int32(want), started: make(chan struct{}), hold: hold}
}

func (f *inflight) enter() {
	n := atomic.AddInt32(&f.current, 1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.want > 0 && atomic.AddInt32(&f.begun, 1) == f.want {
		close(f.started)
	}
}

func (f *inflight) leave() {
	atomic.AddInt32(&f.current, -1)
}

type gatedSource struct {
	data    []byte
	tracker *inflight
}

func (g *gatedSource) Info(ctx context.Context) (source.Info, error) {
	return source.Info{}, nil
}

func (g *gatedSource) Tile(ctx context.Context, z, x, y int) ([]byte, http.Header, error) {
	g.tracker.enter()
	defer g.tracker.leave()

	if g.tracker.want > 0 {
		select {
		case <-g.tracker.started:
		case <-time.After(2 * time.Second):
			return nil, nil, fmt.Errorf("layers were not fetched together")
		}
	}
	time.Sleep(g.tracker.hold)
	return g.data, http.Header{"Cache-Control": []string{"max-age=60"}}, nil
}

func (g *gatedSource) Close() error { return nil }

type mapResolver map[string]source.Source

func (m mapResolver) Resolve(ctx context.Context, desc source.Descriptor, opts source.Options) (source.Source, error) {
	src, ok := m[desc.URI]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", desc.URI)
	}
	return src, nil
}

func gatedBlend(t *testing.T, layers int, tracker *inflight, opts ...Option) *Source {
	t.Helper()
	data := solidPNG(t, testSize, red)
	r := mapResolver{}
	cfg := &Config{TileSize: testSize}
	for i := 0; i < layers; i++ {
		name := fmt.Sprintf("layer%d", i)
		r[name] = &gatedSource{data: data, tracker: tracker}
		cfg.Layers = append(cfg.Layers, Layer(name))
	}
	s, err := New(context.Background(), cfg, r, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLayersFetchedTogether(t *testing.T) {
	const layers = 4
	tracker := newInflight(layers, 0)
	s := gatedBlend(t, layers, tracker)

	_, header, err := s.Tile(context.Background(), 1, 0, 0)
	if err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	if got := atomic.LoadInt32(&tracker.peak); got != layers {
		t.Errorf("Expected %d concurrent fetches, got %d", layers, got)
	}
	// a layer that gave up waiting would have faulted
	if cc := header.Get("Cache-Control"); cc != "public, max-age=60" {
		t.Errorf("Expected every layer to hit, got Cache-Control %q", cc)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	tests := []struct {
		name   string
		layers int
		limit  int
	}{
		{"limit 1", 5, 1},
		{"limit 2", 6, 2},
		{"limit 3", 12, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newInflight(0, 10*time.Millisecond)
			s := gatedBlend(t, tt.layers, tracker, WithConcurrency(tt.limit))

			if _, _, err := s.Tile(context.Background(), 1, 0, 0); err != nil {
				t.Fatalf("Tile failed: %v", err)
			}
			if got := atomic.LoadInt32(&tracker.peak); got > int32(tt.limit) || got < 1 {
				t.Errorf("Expected at most %d concurrent fetches, got %d", tt.limit, got)
			}
		})
	}
}

func TestConcurrencyLimitAcrossRequests(t *testing.T) {
	tracker := newInflight(0, 5*time.Millisecond)
	s := gatedBlend(t, 3, tracker, WithConcurrency(2))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.Tile(context.Background(), 1, 0, 0); err != nil {
				t.Errorf("Tile failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// the limit is per request
	if got := atomic.LoadInt32(&tracker.peak); got > 8 {
		t.Errorf("Expected at most 8 concurrent fetches for 4 requests, got %d", got)
	}
}

func TestEdgeTouchingLayerNotFetched(t *testing.T) {
	west := hit(solidPNG(t, testSize, red), "")
	west.info = source.Info{Bounds: &tile.Bounds{West: -180, South: -85.0511, East: 0, North: 85.0511}}
	r := &fakeResolver{sources: map[string]*fakeSource{"west": west}}
	s := newTestSource(t, &Config{Layers: []LayerSpec{Layer("west")}}, r)

	if _, _, err := s.Tile(context.Background(), 1, 1, 0); err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	if calls := atomic.LoadInt32(&west.calls); calls != 0 {
		t.Errorf("Expected no fetch for a tile east of the layer, got %d", calls)
	}

	if _, _, err := s.Tile(context.Background(), 1, 0, 1); err != nil {
		t.Fatalf("Tile failed: %v", err)
	}
	if calls := atomic.LoadInt32(&west.calls); calls != 1 {
		t.Errorf("Expected the tile inside the layer fetched once, got %d", calls)
	}
}
