package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/tileblend/pkg/tile"
)

// version is reported by the health endpoint and the User-Agent default.
var version = "1.0.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tileblend",
	Short: "Composite map tiles from several sources into one",
	Long: `tileblend renders map tiles by blending an ordered list of layer sources.

Layers are fetched concurrently from HTTP tile servers, TileJSON endpoints,
MBTiles files, tile directories or other blends, then composited in order with
per-layer operators, opacity, filters and pixel offsets.

A blend is described either by a YAML file (--blend) or a blend URI (--uri).

Examples:
  # Render one tile from a YAML blend to a file, with a world file
  tileblend --blend hillshade.yml --tile 12/2093/1360 -o tile.png -w

  # Render from a blend URI to stdout
  tileblend --uri 'blend:?layer=https://tile.openstreetmap.org/{z}/{x}/{y}.png&layer=mbtiles:///data/hills.mbtiles&operations=over,multiply' --tile 3/4/2 > tile.png

  # Serve tiles over HTTP
  tileblend serve --blend hillshade.yml --port 8080

  # Pre-render a region into a z/x/y directory
  tileblend seed --blend hillshade.yml --bbox 5.8,47.2,15.1,55.1 --min-zoom 4 --max-zoom 8 --out ./tiles`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("tile") == "" {
			return cmd.Help()
		}
		return runRender(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tileblend.yaml)")
	flags.String("blend", "", "blend configuration file (YAML or JSON)")
	flags.String("uri", "", "blend URI, e.g. blend:?layer=...&layer=...")
	flags.Bool("lazy", false, "resolve layer sources on every request")
	flags.Int("concurrency", 10, "layer fetches in flight per tile")
	flags.String("user-agent", "tileblend/"+version, "HTTP User-Agent header for upstream requests")
	flags.Duration("source-timeout", 30*time.Second, "timeout for upstream tile requests")
	flags.Int("cache-size", 0, "number of upstream tiles kept in memory (0 disables)")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", "text", "log format (text|json)")

	viper.BindPFlag("blend.config", flags.Lookup("blend"))
	viper.BindPFlag("blend.uri", flags.Lookup("uri"))
	viper.BindPFlag("blend.lazy", flags.Lookup("lazy"))
	viper.BindPFlag("blend.concurrency", flags.Lookup("concurrency"))
	viper.BindPFlag("source.user-agent", flags.Lookup("user-agent"))
	viper.BindPFlag("source.timeout", flags.Lookup("source-timeout"))
	viper.BindPFlag("source.cache-size", flags.Lookup("cache-size"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))

	// Render options for the default command
	rootCmd.Flags().String("tile", "", "tile to render as z/x/y")
	rootCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	rootCmd.Flags().BoolP("worldfile", "w", false, "write world file next to the output")

	viper.BindPFlag("tile", rootCmd.Flags().Lookup("tile"))
	viper.BindPFlag("output", rootCmd.Flags().Lookup("output"))
	viper.BindPFlag("worldfile", rootCmd.Flags().Lookup("worldfile"))
}

// initConfig reads in .env, the config file and ENV variables if set.
func initConfig() {
	// .env is optional
	_ = godotenv.Load()

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".tileblend" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tileblend")
	}

	viper.SetEnvPrefix("TILEBLEND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func runRender(cmd *cobra.Command) error {
	c, err := tile.ParseCoord(viper.GetString("tile"))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	src, err := openBlend(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	data, header, err := src.Tile(ctx, c.Z, c.X, c.Y)
	if err != nil {
		return fmt.Errorf("render %s: %w", c, err)
	}
	logrus.WithFields(logrus.Fields{
		"tile":          c.String(),
		"bytes":         len(data),
		"content_type":  header.Get("Content-Type"),
		"cache_control": header.Get("Cache-Control"),
	}).Debug("Tile rendered")

	output := viper.GetString("output")
	if output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}

	if viper.GetBool("worldfile") {
		ext := filepath.Ext(output)
		wf := strings.TrimSuffix(output, ext) + tile.WorldFileExt(ext)
		if err := os.WriteFile(wf, tile.WorldFile(c, src.Config().TileSize), 0o644); err != nil {
			return fmt.Errorf("write world file: %w", err)
		}
	}
	return nil
}
