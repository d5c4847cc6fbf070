package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingAPIURL    = errors.New("API_URL is not set")
	ErrMissingSocketURL = errors.New("SOCKET_URL is not set")
)

type Config struct {
	AppEnv        string
	APIURL        string
	SocketURL     string
	AuthToken     string
	RestaurantID  string
	StorageDriver string
	StorageDSN    string
	APIRateLimit  float64
	APIRateBurst  int
	PacingFile    string

	Pacing Pacing
}

// Pacing holds the kitchen's course pacing settings, loaded from PACING_FILE.
type Pacing struct {
	Mode                 string         `yaml:"mode"`
	DefaultPrepMinutes   int            `yaml:"default_prep_minutes"`
	AutoFireDelaySeconds int            `yaml:"auto_fire_delay_seconds"`
	PrepTimeFiring       bool           `yaml:"prep_time_firing"`
	PrepTimes            map[string]int `yaml:"prep_times"`
}

func defaultPacing() Pacing {
	return Pacing{
		Mode:                 "disabled",
		DefaultPrepMinutes:   10,
		AutoFireDelaySeconds: 300,
		PrepTimes:            map[string]int{},
	}
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:        os.Getenv("APP_ENV"),
		APIURL:        os.Getenv("API_URL"),
		SocketURL:     os.Getenv("SOCKET_URL"),
		AuthToken:     os.Getenv("AUTH_TOKEN"),
		RestaurantID:  os.Getenv("RESTAURANT_ID"),
		StorageDriver: envOr("STORAGE_DRIVER", "sqlite3"),
		StorageDSN:    envOr("STORAGE_DSN", "kds.db"),
		PacingFile:    os.Getenv("PACING_FILE"),
		Pacing:        defaultPacing(),
	}

	var err error
	if cfg.APIRateLimit, err = strconv.ParseFloat(envOr("API_RATE_LIMIT", "10"), 64); err != nil {
		return nil, fmt.Errorf("invalid API_RATE_LIMIT: %w", err)
	}
	if cfg.APIRateBurst, err = strconv.Atoi(envOr("API_RATE_BURST", "20")); err != nil {
		return nil, fmt.Errorf("invalid API_RATE_BURST: %w", err)
	}

	if cfg.APIURL == "" {
		return nil, ErrMissingAPIURL
	}
	if cfg.SocketURL == "" {
		return nil, ErrMissingSocketURL
	}

	if cfg.PacingFile != "" {
		p, err := LoadPacing(cfg.PacingFile)
		if err != nil {
			return nil, err
		}
		cfg.Pacing = *p
	}

	return cfg, nil
}

// LoadPacing reads a YAML pacing file, filling unset fields with defaults.
func LoadPacing(path string) (*Pacing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pacing file: %w", err)
	}

	p := defaultPacing()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pacing file: %w", err)
	}
	if p.PrepTimes == nil {
		p.PrepTimes = map[string]int{}
	}
	return &p, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
