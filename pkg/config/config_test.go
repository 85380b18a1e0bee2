package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "terraind.yaml")

	tests := []struct {
		name          string
		setup         func()
		validate      func(*testing.T, *Config)
		checkFile     func(*testing.T)
		expectedError bool
	}{
		{
			name:  "NewFile_Defaults",
			setup: func() {}, // No file
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Terrain.Mode != "offline" {
					t.Errorf("expected default terrain mode 'offline', got '%s'", cfg.Terrain.Mode)
				}
				if cfg.Request.Retries != 5 {
					t.Errorf("expected default retries 5, got %d", cfg.Request.Retries)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "mode: offline") {
					t.Error("config file missing default terrain mode")
				}
				if !strings.Contains(string(content), "retries: 5") {
					t.Error("config file missing default retries")
				}
			},
		},
		{
			name: "ExistingFile_Override",
			setup: func() {
				err := os.WriteFile(configPath, []byte("terrain:\n  mode: online\n  sample_spacing: \"90m\"\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Terrain.Mode != "online" {
					t.Errorf("expected terrain mode 'online', got '%s'", cfg.Terrain.Mode)
				}
				if cfg.Terrain.SampleSpacing != Distance(90) {
					t.Errorf("expected sample spacing 90m, got %v", cfg.Terrain.SampleSpacing)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "mode: online") {
					t.Error("config file should persist custom value")
				}
			},
		},
		{
			name: "NewField_Persistence",
			setup: func() {
				err := os.WriteFile(configPath, []byte("terrain:\n  tile_directory: /data/custom\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Terrain.TileDirectory != "/data/custom" {
					t.Errorf("expected tile directory '/data/custom', got '%s'", cfg.Terrain.TileDirectory)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "/data/custom") {
					t.Error("config file should persist tile_directory")
				}
			},
		},
		{
			name: "HTTPProvider_Env_Override",
			setup: func() {
				t.Setenv("TERRAIN_API_KEY", "env_secret_key")
				err := os.WriteFile(configPath, []byte("terrain:\n  http_provider:\n    api_key_env: TERRAIN_API_KEY\n"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Terrain.HTTPProvider.Key != "env_secret_key" {
					t.Errorf("expected Key 'env_secret_key', got '%s'", cfg.Terrain.HTTPProvider.Key)
				}
			},
			checkFile: func(t *testing.T) {
				content, err := os.ReadFile(configPath)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if strings.Contains(string(content), "env_secret_key") {
					t.Error("environment secret should NOT be persisted to config file")
				}
			},
		},
		{
			name: "Invalid_YAML",
			setup: func() {
				err := os.WriteFile(configPath, []byte("terrain: [not a map]"), 0o644)
				if err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Remove(configPath)
			tt.setup()

			cfg, err := Load(configPath)
			if (err != nil) != tt.expectedError {
				t.Fatalf("Load() error = %v, expectedError %v", err, tt.expectedError)
			}
			if err == nil {
				tt.validate(t, cfg)
				tt.checkFile(t)
			}
		})
	}
}

func TestGenerateDefault(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "default_config.yaml")

	err := GenerateDefault(configPath)
	if err != nil {
		t.Fatalf("GenerateDefault() error = %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("GenerateDefault() did not create file")
	}

	err = GenerateDefault(configPath)
	if err != nil {
		t.Errorf("GenerateDefault() error on second run = %v", err)
	}
}
