package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/tileblend/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for blended tiles",
	Long: `Start an HTTP server that renders blended tiles on demand.

Endpoints:
  GET /api/v1/health             service health
  GET /api/v1/tiles.json         TileJSON description of the blend
  GET /api/v1/tiles/{z}/{x}/{y}  composite tile

Examples:
  # Start server on default port 8080
  tileblend serve --blend blend.yml

  # Start server on custom port
  tileblend serve --blend blend.yml --port 3000

  # Start server with custom bind address, priming layer metadata first
  tileblend serve --blend blend.yml --bind 0.0.0.0 --port 8080 --warm`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")
	serveCmd.Flags().String("public-url", "", "base URL advertised in tiles.json (default: derived from the request)")
	serveCmd.Flags().Bool("warm", false, "read every layer's metadata before accepting requests")

	// Bind flags to viper
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))
	viper.BindPFlag("server.public-url", serveCmd.Flags().Lookup("public-url"))
	viper.BindPFlag("server.warm", serveCmd.Flags().Lookup("warm"))
}

func runServe(cmd *cobra.Command, args []string) error {
	bind := viper.GetString("server.bind")
	port := viper.GetInt("server.port")
	timeout := viper.GetDuration("server.timeout")
	log := logrus.StandardLogger()

	addr := fmt.Sprintf("%s:%d", bind, port)

	ctx := context.Background()
	src, err := openBlend(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	if viper.GetBool("server.warm") {
		if err := src.Warm(ctx); err != nil {
			log.WithError(err).Warn("Warm-up incomplete, affected layers will fall back to blank tiles")
		}
	}

	apiServer := server.NewServer(version, src,
		server.WithLogger(log),
		server.WithPublicURL(viper.GetString("server.public-url")),
	)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.NewRouter(apiServer, timeout),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	log.WithFields(logrus.Fields{
		"addr":     addr,
		"health":   fmt.Sprintf("http://%s/api/v1/health", addr),
		"tiles":    fmt.Sprintf("http://%s/api/v1/tiles/{z}/{x}/{y}", addr),
		"tilejson": fmt.Sprintf("http://%s/api/v1/tiles.json", addr),
	}).Info("Starting tileblend server")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %v", err)
	}

	return nil
}
