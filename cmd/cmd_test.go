package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestParseBBox(t *testing.T) {
	b, err := parseBBox("5.8, 47.2, 15.1, 55.1")
	if err != nil {
		t.Fatalf("parseBBox failed: %v", err)
	}
	if b.West != 5.8 || b.South != 47.2 || b.East != 15.1 || b.North != 55.1 {
		t.Errorf("Unexpected bounds %+v", b)
	}

	for _, bad := range []string{"1,2,3", "a,2,3,4"} {
		if _, err := parseBBox(bad); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestLoadBlendConfig(t *testing.T) {
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), "blend.yml")
	if err := os.WriteFile(path, []byte("layers: [a, b]\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	testCases := []struct {
		name    string
		file    string
		uri     string
		layers  int
		wantErr bool
	}{
		{"file", path, "", 2, false},
		{"uri", "", "blend:?layer=a", 1, false},
		{"both", path, "blend:?layer=a", 0, true},
		{"neither", "", "", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			viper.Set("blend.config", tc.file)
			viper.Set("blend.uri", tc.uri)

			cfg, err := loadBlendConfig()
			if tc.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("loadBlendConfig failed: %v", err)
			}
			if len(cfg.Layers) != tc.layers {
				t.Errorf("Expected %d layers, got %d", tc.layers, len(cfg.Layers))
			}
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer viper.Reset()

	viper.Set("log.level", "debug")
	viper.Set("log.format", "json")
	if err := setupLogging(); err != nil {
		t.Errorf("Expected json/debug to be accepted, got %v", err)
	}

	viper.Set("log.format", "xml")
	if err := setupLogging(); err == nil {
		t.Error("Expected error for unknown log format")
	}

	viper.Set("log.format", "text")
	viper.Set("log.level", "loud")
	if err := setupLogging(); err == nil {
		t.Error("Expected error for unknown log level")
	}
}
