package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kiesman99/tileblend/internal/api"
	"github.com/kiesman99/tileblend/internal/blend"
	"github.com/kiesman99/tileblend/internal/source"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func solidPNG(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 256, 256))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// tileHandler serves the same body for every tile path.
func tileHandler(body []byte, cacheControl string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cacheControl != "" {
			w.Header().Set("Cache-Control", cacheControl)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}
}

// Test server setup
func setupTestServer(t *testing.T, timeout time.Duration, upstreams ...http.Handler) *httptest.Server {
	t.Helper()
	log := quietLogger()

	cfg := &blend.Config{Info: map[string]interface{}{"name": "test blend", "maxzoom": 18}}
	for _, h := range upstreams {
		up := httptest.NewServer(h)
		t.Cleanup(up.Close)
		cfg.Layers = append(cfg.Layers, blend.Layer(up.URL+"/{z}/{x}/{y}.png"))
	}

	reg := source.NewRegistry(source.WithLogger(log))
	src, err := blend.New(context.Background(), cfg, reg, blend.WithLogger(log))
	if err != nil {
		t.Fatalf("Failed to create blend: %v", err)
	}
	t.Cleanup(func() { src.Close() })

	apiServer := NewServer("2.0.0-test", src, WithLogger(log))
	server := httptest.NewServer(NewRouter(apiServer, timeout))
	t.Cleanup(server.Close)
	return server
}

func TestHealthEndpoint(t *testing.T) {
	server := setupTestServer(t, 30*time.Second, tileHandler(solidPNG(t, color.NRGBA{255, 0, 0, 255}), ""))

	resp, err := http.Get(server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	var healthResp api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if healthResp.Status != api.Healthy {
		t.Errorf("Expected status 'healthy', got %s", healthResp.Status)
	}

	if healthResp.Version == nil || *healthResp.Version != "2.0.0-test" {
		t.Errorf("Expected version '2.0.0-test', got %v", healthResp.Version)
	}

	if healthResp.Layers == nil || *healthResp.Layers != 1 {
		t.Errorf("Expected 1 layer, got %v", healthResp.Layers)
	}

	if time.Since(healthResp.Timestamp) > time.Minute {
		t.Errorf("Timestamp seems too old: %v", healthResp.Timestamp)
	}
}

func TestLegacyHealthRedirect(t *testing.T) {
	server := setupTestServer(t, 30*time.Second, tileHandler(solidPNG(t, color.NRGBA{255, 0, 0, 255}), ""))

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("Expected status 301, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/api/v1/health" {
		t.Errorf("Expected redirect to /api/v1/health, got %s", loc)
	}
}

func TestTileEndpoint_Success(t *testing.T) {
	server := setupTestServer(t, 30*time.Second,
		tileHandler(solidPNG(t, color.NRGBA{255, 0, 0, 255}), "public, max-age=300"),
		tileHandler(solidPNG(t, color.NRGBA{0, 0, 255, 128}), "max-age=600"),
	)

	resp, err := http.Get(server.URL + "/api/v1/tiles/3/2/1")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, string(body))
	}

	if contentType := resp.Header.Get("Content-Type"); contentType != "image/png" {
		t.Errorf("Expected Content-Type image/png, got %s", contentType)
	}

	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("Expected shortest max-age, got %q", cc)
	}

	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}

	imageData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	if len(imageData) < 8 || !bytes.Equal(imageData[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		t.Fatal("Response does not appear to be a valid PNG file")
	}

	img, err := png.Decode(bytes.NewReader(imageData))
	if err != nil {
		t.Fatalf("Failed to decode tile: %v", err)
	}
	r, g, b, a := img.At(10, 10).RGBA()
	if r>>8 != 127 || g>>8 != 0 || b>>8 != 128 || a>>8 != 255 {
		t.Errorf("Expected half blue over red, got %d %d %d %d", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestTileEndpoint_UpstreamFailure(t *testing.T) {
	broken := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})
	server := setupTestServer(t, 30*time.Second,
		tileHandler(solidPNG(t, color.NRGBA{0, 255, 0, 255}), "max-age=300"),
		broken,
	)

	resp, err := http.Get(server.URL + "/api/v1/tiles/1/0/0")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, string(body))
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "public, max-age=0" {
		t.Errorf("Expected public, max-age=0 after layer fault, got %q", cc)
	}
}

func TestTileEndpoint_ValidationErrors(t *testing.T) {
	server := setupTestServer(t, 30*time.Second, tileHandler(solidPNG(t, color.NRGBA{255, 0, 0, 255}), ""))

	testCases := []struct {
		name           string
		path           string
		expectedStatus int
		expectedError  string
	}{
		{"x outside grid", "/api/v1/tiles/1/2/0", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"y outside grid", "/api/v1/tiles/0/0/1", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"zoom too deep", "/api/v1/tiles/31/0/0", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"negative zoom", "/api/v1/tiles/-1/0/0", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"non-numeric zoom", "/api/v1/tiles/a/0/0", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"non-numeric y", "/api/v1/tiles/1/0/0.png", http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + tc.path)
			if err != nil {
				t.Fatalf("Failed to make request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.expectedStatus {
				responseBody, _ := io.ReadAll(resp.Body)
				t.Fatalf("Expected status %d, got %d. Body: %s", tc.expectedStatus, resp.StatusCode, string(responseBody))
			}

			var errorResp map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}

			if errorCode, ok := errorResp["error"].(string); !ok || errorCode != tc.expectedError {
				t.Errorf("Expected error code %s, got %v", tc.expectedError, errorResp["error"])
			}
			if _, ok := errorResp["request_id"].(string); !ok {
				t.Error("Expected request_id in error response")
			}
		})
	}
}

func TestTileEndpoint_RenderError(t *testing.T) {
	corrupt := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not an image"))
	})
	server := setupTestServer(t, 30*time.Second, corrupt)

	resp, err := http.Get(server.URL + "/api/v1/tiles/1/0/0")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 500, got %d. Body: %s", resp.StatusCode, string(body))
	}

	var errorResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}

	if errorResp.Error != api.RENDERERROR {
		t.Errorf("Expected error code RENDER_ERROR, got %s", errorResp.Error)
	}
	if errorResp.Details == nil || (*errorResp.Details)["stage"] != "decode" {
		t.Errorf("Expected decode stage in details, got %v", errorResp.Details)
	}
}

func TestTileEndpoint_Timeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	server := setupTestServer(t, 100*time.Millisecond, slow)

	resp, err := http.Get(server.URL + "/api/v1/tiles/1/0/0")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusGatewayTimeout {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 504, got %d. Body: %s", resp.StatusCode, string(body))
	}

	var errorResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errorResp.Error != api.TILESERVERTIMEOUT {
		t.Errorf("Expected error code TILE_SERVER_TIMEOUT, got %s", errorResp.Error)
	}
}

func TestTileJSONEndpoint(t *testing.T) {
	server := setupTestServer(t, 30*time.Second,
		tileHandler(solidPNG(t, color.NRGBA{255, 0, 0, 255}), ""),
		tileHandler(solidPNG(t, color.NRGBA{0, 255, 0, 255}), ""),
	)

	resp, err := http.Get(server.URL + "/api/v1/tiles.json")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d. Body: %s", resp.StatusCode, string(body))
	}

	var doc api.TileJSON
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("Failed to decode TileJSON: %v", err)
	}

	if doc.Tilejson != TileJSONVersion {
		t.Errorf("Expected tilejson %s, got %s", TileJSONVersion, doc.Tilejson)
	}
	if len(doc.Tiles) != 1 || doc.Tiles[0] != server.URL+"/api/v1/tiles/{z}/{x}/{y}" {
		t.Errorf("Unexpected tiles %v", doc.Tiles)
	}
	if doc.Minzoom != 0 || doc.Maxzoom != 18 {
		t.Errorf("Expected zoom range 0..18, got %d..%d", doc.Minzoom, doc.Maxzoom)
	}
	if doc.Format != "png" {
		t.Errorf("Expected format png, got %s", doc.Format)
	}
	if doc.Name == nil || *doc.Name != "test blend" {
		t.Errorf("Expected name from info blob, got %v", doc.Name)
	}
	if doc.TileSize == nil || *doc.TileSize != 256 {
		t.Errorf("Expected tileSize 256, got %v", doc.TileSize)
	}
	if doc.Layers == nil || len(*doc.Layers) != 2 {
		t.Fatalf("Expected 2 layers, got %v", doc.Layers)
	}
	if first := (*doc.Layers)[0]; first.Operation != "over" || first.Opacity != 1 {
		t.Errorf("Unexpected layer echo %+v", first)
	}
}

func TestCORSHeaders(t *testing.T) {
	server := setupTestServer(t, 30*time.Second, tileHandler(solidPNG(t, color.NRGBA{255, 0, 0, 255}), ""))

	req, err := http.NewRequest("OPTIONS", server.URL+"/api/v1/tiles/0/0/0", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected Access-Control-Allow-Origin: *")
	}

	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "GET") {
		t.Error("Expected Access-Control-Allow-Methods to include GET")
	}

	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "Content-Type") {
		t.Error("Expected Access-Control-Allow-Headers to include Content-Type")
	}
}
