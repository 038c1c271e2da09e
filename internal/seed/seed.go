// Package seed pre-renders a tile source over a region into a z/x/y
// directory.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/kiesman99/tileblend/internal/source"
	"github.com/kiesman99/tileblend/pkg/tile"
)

// Options describes a seeding run.
type Options struct {
	Bounds  tile.Bounds
	MinZoom int
	MaxZoom int

	// Dir receives tiles as Dir/z/x/y.Ext.
	Dir string
	Ext string

	// Workers bounds the tiles rendered concurrently.
	Workers int

	// Progress, when set, receives a progress bar per zoom level.
	Progress io.Writer
}

// FailedTile records a tile that could not be rendered or written.
type FailedTile struct {
	Tile  string
	Error string
}

// SeedError represents seeding failures
type SeedError struct {
	Message         string
	FailedTiles     []FailedTile
	SuccessfulTiles int
	TotalTiles      int64
}

func (e *SeedError) Error() string {
	return e.Message
}

// Result summarizes a seeding run.
type Result struct {
	ID      string
	Written int
	Skipped int
	Total   int64
	Elapsed time.Duration
}

// Seeder renders tiles from a source into a directory.
type Seeder struct {
	src source.Source
	log logrus.FieldLogger
}

// New creates a seeder for src.
func New(src source.Source, log logrus.FieldLogger) *Seeder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Seeder{src: src, log: log}
}

// Run renders every tile of opts.Bounds between MinZoom and MaxZoom. Tiles
// the source reports as missing are skipped. Render or write failures do
// not stop the run; they are returned together as a *SeedError.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.MinZoom < 0 || opts.MaxZoom > tile.MaxZoom || opts.MinZoom > opts.MaxZoom {
		return nil, fmt.Errorf("invalid zoom range %d..%d", opts.MinZoom, opts.MaxZoom)
	}
	if opts.Dir == "" {
		return nil, errors.New("output directory is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	id, err := shortid.Generate()
	if err != nil {
		id = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	log := s.log.WithField("seed", id)

	r := &run{
		seeder:  s,
		opts:    opts,
		log:     log,
		workers: make(chan struct{}, opts.Workers),
	}
	result := &Result{ID: id}
	start := time.Now()

	for z := opts.MinZoom; z <= opts.MaxZoom; z++ {
		rng := opts.Bounds.TileRange(z)
		result.Total += rng.Count()
		log.WithFields(logrus.Fields{"zoom": z, "tiles": rng.Count()}).Info("Seeding zoom level")

		if err := r.zoom(ctx, rng); err != nil {
			return nil, err
		}
	}

	result.Written = r.written
	result.Skipped = r.skipped
	result.Elapsed = time.Since(start)

	if len(r.failed) > 0 {
		return result, &SeedError{
			Message:         fmt.Sprintf("%d/%d tiles failed", len(r.failed), result.Total),
			FailedTiles:     r.failed,
			SuccessfulTiles: r.written,
			TotalTiles:      result.Total,
		}
	}
	return result, nil
}

// run holds the counters of one Run call.
type run struct {
	seeder  *Seeder
	opts    Options
	log     logrus.FieldLogger
	workers chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	written int
	skipped int
	failed  []FailedTile
}

func (r *run) zoom(ctx context.Context, rng tile.Range) error {
	bar := pb.New64(rng.Count()).Prefix(fmt.Sprintf("Zoom %d : ", rng.Z))
	if r.opts.Progress != nil {
		bar.Output = r.opts.Progress
		bar.SetRefreshRate(time.Second)
		bar.Start()
	}

	var cancelled bool
loop:
	for y := rng.MinY; y <= rng.MaxY; y++ {
		for x := rng.MinX; x <= rng.MaxX; x++ {
			if ctx.Err() != nil {
				cancelled = true
				break loop
			}
			c := tile.Coord{Z: rng.Z, X: x, Y: y}
			select {
			case r.workers <- struct{}{}:
				r.wg.Add(1)
				go r.render(ctx, c, bar)
			case <-ctx.Done():
				cancelled = true
				break loop
			}
		}
	}
	r.wg.Wait()

	if r.opts.Progress != nil {
		bar.FinishPrint(fmt.Sprintf("Zoom %d finished", rng.Z))
	}
	if cancelled {
		return ctx.Err()
	}
	return nil
}

func (r *run) render(ctx context.Context, c tile.Coord, bar *pb.ProgressBar) {
	defer func() {
		bar.Increment()
		r.wg.Done()
		<-r.workers
	}()

	data, _, err := r.seeder.src.Tile(ctx, c.Z, c.X, c.Y)
	if errors.Is(err, source.ErrNotFound) {
		r.mu.Lock()
		r.skipped++
		r.mu.Unlock()
		return
	}
	if err == nil {
		_, err = source.WriteTile(r.opts.Dir, c, r.opts.Ext, data)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.log.WithError(err).WithField("tile", c.String()).Warn("Tile failed")
		r.failed = append(r.failed, FailedTile{Tile: c.String(), Error: err.Error()})
		return
	}
	r.written++
}
