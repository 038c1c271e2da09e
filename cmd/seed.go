package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/tileblend/internal/seed"
	"github.com/kiesman99/tileblend/pkg/tile"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Pre-render blended tiles for a region into a directory",
	Long: `Render every tile of a bounding box over a zoom range and store them as
<out>/z/x/y.<ext>. The output directory can be served again as a file:// layer.

Examples:
  # Seed zoom 0-5 for the whole world
  tileblend seed --blend blend.yml --max-zoom 5 --out ./tiles

  # Seed a region with 16 workers
  tileblend seed --uri 'blend:?layer=...' --bbox 5.8,47.2,15.1,55.1 --min-zoom 6 --max-zoom 10 --workers 16 --out ./tiles`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().String("bbox", "", "bounding box as 'west,south,east,north' (default: world)")
	seedCmd.Flags().Int("min-zoom", 0, "first zoom level")
	seedCmd.Flags().Int("max-zoom", 5, "last zoom level")
	seedCmd.Flags().String("out", "", "output directory (required)")
	seedCmd.Flags().Int("workers", 8, "tiles rendered concurrently")
	seedCmd.Flags().Bool("progress", true, "show a progress bar per zoom level")

	viper.BindPFlag("seed.bbox", seedCmd.Flags().Lookup("bbox"))
	viper.BindPFlag("seed.min-zoom", seedCmd.Flags().Lookup("min-zoom"))
	viper.BindPFlag("seed.max-zoom", seedCmd.Flags().Lookup("max-zoom"))
	viper.BindPFlag("seed.out", seedCmd.Flags().Lookup("out"))
	viper.BindPFlag("seed.workers", seedCmd.Flags().Lookup("workers"))
	viper.BindPFlag("seed.progress", seedCmd.Flags().Lookup("progress"))
}

func runSeed(cmd *cobra.Command, args []string) error {
	bounds := tile.WorldBounds
	if s := viper.GetString("seed.bbox"); s != "" {
		b, err := parseBBox(s)
		if err != nil {
			return err
		}
		bounds = b
	}

	out := viper.GetString("seed.out")
	if out == "" {
		return errors.New("output directory is required (use --out)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := openBlend(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	opts := seed.Options{
		Bounds:  bounds,
		MinZoom: viper.GetInt("seed.min-zoom"),
		MaxZoom: viper.GetInt("seed.max-zoom"),
		Dir:     out,
		Ext:     src.Format().Ext(),
		Workers: viper.GetInt("seed.workers"),
	}
	if viper.GetBool("seed.progress") {
		opts.Progress = cmd.ErrOrStderr()
	}

	result, err := seed.New(src, logrus.StandardLogger()).Run(ctx, opts)
	var seedErr *seed.SeedError
	if errors.As(err, &seedErr) {
		for _, ft := range seedErr.FailedTiles {
			logrus.WithField("tile", ft.Tile).Error(ft.Error)
		}
	}
	if result != nil {
		logrus.WithFields(logrus.Fields{
			"seed":    result.ID,
			"written": result.Written,
			"skipped": result.Skipped,
			"total":   result.Total,
			"elapsed": result.Elapsed.String(),
		}).Info("Seeding finished")
	}
	return err
}

// parseBBox reads "west,south,east,north".
func parseBBox(s string) (tile.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return tile.Bounds{}, fmt.Errorf("bbox must be in format 'west,south,east,north'")
	}

	v := make([]float64, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return tile.Bounds{}, fmt.Errorf("invalid bbox value %q: %v", p, err)
		}
		v[i] = f
	}
	return tile.BoundsFromSlice(v)
}
