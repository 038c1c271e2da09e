package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"github.com/kiesman99/tileblend/internal/api"
	"github.com/kiesman99/tileblend/internal/blend"
	"github.com/kiesman99/tileblend/internal/source"
	"github.com/kiesman99/tileblend/pkg/tile"
)

// TileJSONVersion is the TileJSON spec version served by GetTileJSON.
const TileJSONVersion = "2.2.0"

// Blend is the composite source the server renders from. *blend.Source
// implements it.
type Blend interface {
	Tile(ctx context.Context, z, x, y int) ([]byte, http.Header, error)
	Info(ctx context.Context) (source.Info, error)
	Config() blend.Config
}

// Server implements the ServerInterface from the generated API
type Server struct {
	startTime time.Time
	version   string
	blend     Blend
	log       logrus.FieldLogger
	publicURL string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for render failures and access logs.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithPublicURL sets the base URL advertised in tiles.json, e.g.
// https://tiles.example.com. By default it is derived from the request.
func WithPublicURL(u string) Option {
	return func(s *Server) { s.publicURL = u }
}

// NewServer creates a new server instance
func NewServer(version string, b Blend, opts ...Option) *Server {
	s := &Server{
		startTime: time.Now(),
		version:   version,
		blend:     b,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())
	layers := len(s.blend.Config().Layers)

	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
		Layers:    &layers,
	}

	s.writeJSON(w, http.StatusOK, response)
}

// GetTile renders one composite tile
func (s *Server) GetTile(w http.ResponseWriter, r *http.Request, z int, x int, y int) {
	requestID := generateRequestID()
	w.Header().Set("X-Request-ID", requestID)

	c := tile.Coord{Z: z, X: x, Y: y}
	if !c.Valid() {
		s.writeErrorResponse(w, http.StatusBadRequest, api.VALIDATIONERROR,
			fmt.Sprintf("invalid tile coordinate %s", c), &requestID, nil)
		return
	}

	data, header, err := s.blend.Tile(r.Context(), z, x, y)
	if err == nil && errors.Is(r.Context().Err(), context.DeadlineExceeded) {
		err = r.Context().Err()
	}
	if err != nil {
		s.handleRenderError(w, err, c, &requestID)
		return
	}

	for k, v := range header {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.WithError(err).WithField("request_id", requestID).Warn("Error writing tile response")
	}
}

// GetTileJSON describes the blend as a TileJSON document
func (s *Server) GetTileJSON(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	info, err := s.blend.Info(r.Context())
	if err != nil {
		s.log.WithError(err).WithField("request_id", requestID).Error("Blend info failed")
		s.writeErrorResponse(w, http.StatusInternalServerError, api.INTERNALERROR,
			"Blend info unavailable", &requestID, nil)
		return
	}
	cfg := s.blend.Config()

	minZoom, maxZoom := info.ZoomRange()
	bounds := info.Extent().Slice()
	response := api.TileJSON{
		Tilejson: TileJSONVersion,
		Tiles:    []string{s.baseURL(r) + "/api/v1/tiles/{z}/{x}/{y}"},
		Minzoom:  minZoom,
		Maxzoom:  maxZoom,
		Bounds:   &bounds,
		Format:   info.Format,
		Scale:    &cfg.Scale,
		TileSize: &cfg.TileSize,
	}
	response.Name = optional(info.Name)
	response.Description = optional(info.Description)
	response.Attribution = optional(info.Attribution)
	if len(cfg.Info) > 0 {
		response.Info = &cfg.Info
	}

	layers := make([]api.LayerInfo, len(cfg.Layers))
	for i, l := range cfg.Layers {
		offset := []int{l.Offset[0], l.Offset[1]}
		layers[i] = api.LayerInfo{
			Source:    l.Source.URI,
			Operation: l.Operation,
			Opacity:   l.Opacity,
			Filters:   optional(l.Filters),
			Offset:    &offset,
		}
	}
	response.Layers = &layers

	s.writeJSON(w, http.StatusOK, response)
}

// HandleParamError reports malformed path parameters as validation errors.
func (s *Server) HandleParamError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := generateRequestID()
	s.writeErrorResponse(w, http.StatusBadRequest, api.VALIDATIONERROR, err.Error(), &requestID, nil)
}

// handleRenderError handles errors from the blend pipeline
func (s *Server) handleRenderError(w http.ResponseWriter, err error, c tile.Coord, requestID *string) {
	log := s.log.WithError(err).WithFields(logrus.Fields{
		"request_id": *requestID,
		"tile":       c.String(),
	})

	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("Tile render timed out")
		s.writeErrorResponse(w, http.StatusGatewayTimeout, api.TILESERVERTIMEOUT,
			"Layer sources timed out", requestID, nil)
		return
	}

	var codecErr *blend.CodecError
	if errors.As(err, &codecErr) {
		log.Error("Tile render failed")
		details := map[string]interface{}{"stage": codecErr.Stage}
		if codecErr.Layer >= 0 {
			details["layer"] = codecErr.Layer
		}
		s.writeErrorResponse(w, http.StatusInternalServerError, api.RENDERERROR,
			codecErr.Error(), requestID, details)
		return
	}

	log.Error("Tile request failed")
	s.writeErrorResponse(w, http.StatusInternalServerError, api.INTERNALERROR,
		"Internal server error", requestID, nil)
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode api.ErrorResponseError, message string, requestID *string, details map[string]interface{}) {
	response := api.ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
	}

	if details != nil {
		response.Details = &details
	}

	s.writeJSON(w, statusCode, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("Error encoding response")
	}
}

func (s *Server) baseURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	id, err := shortid.Generate()
	if err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + id
}
