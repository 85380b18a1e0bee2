package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Request RequestConfig `yaml:"request"`
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Terrain TerrainConfig `yaml:"terrain"`
}

// RequestConfig holds HTTP request settings for the tile provider client.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// HTTPProviderConfig holds settings for the online tile provider.
type HTTPProviderConfig struct {
	MapType     string `yaml:"map_type"`
	URLTemplate string `yaml:"url_template"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Key         string `yaml:"-"` // loaded from the env var named by APIKeyEnv
}

// TerrainConfig holds terrain elevation and line-of-sight settings.
type TerrainConfig struct {
	// Mode selects the elevation source: "offline" (TileDirectory of .DAT
	// files) or "online" (HTTPProvider).
	Mode              string             `yaml:"mode"`
	TileDirectory     string             `yaml:"tile_directory"`
	HTTPProvider      HTTPProviderConfig `yaml:"http_provider"`
	BatchIdleInterval Duration           `yaml:"batch_idle_interval"`
	SampleSpacing     Distance           `yaml:"sample_spacing"`
	LineOfSight       bool               `yaml:"line_of_sight"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Request: RequestConfig{
			Retries: 5,
			Timeout: Duration(30 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(60 * time.Second),
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		Server: ServerConfig{
			Address: "localhost:1920",
		},
		Terrain: TerrainConfig{
			Mode:          "offline",
			TileDirectory: "./data/terrain",
			HTTPProvider: HTTPProviderConfig{
				MapType:     "terrarium",
				URLTemplate: "https://tile.example/terrain/%d/%d/%d.png",
				APIKeyEnv:   "TERRAIN_API_KEY",
			},
			BatchIdleInterval: Duration(50 * time.Millisecond),
			SampleSpacing:     Distance(30), // meters
			LineOfSight:       true,
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save back to disk (to preserve user formatting and comments).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		// Load .env files (local first, then default). Errors are ignored
		// because it's valid to rely solely on system env vars.
		_ = godotenv.Load(".env.local", ".env")
		loadSecretsFromEnv(cfg)

		return cfg, nil
	}

	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# terraind Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)

`)
	data = append(header, data...)

	// Mode options comment, injected by struct-tag position the same way the
	// teacher annotates its own enum-like fields.
	reMode := regexp.MustCompile(`(?m)^(\s+)mode:`)
	data = reMode.ReplaceAll(data, []byte("${1}# Options: offline, online\n${1}mode:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}

func loadSecretsFromEnv(cfg *Config) {
	if cfg.Terrain.HTTPProvider.APIKeyEnv == "" {
		return
	}
	if key := os.Getenv(cfg.Terrain.HTTPProvider.APIKeyEnv); key != "" {
		cfg.Terrain.HTTPProvider.Key = key
	}
}
