// Package config loads the client configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"charthub/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the charthub client.
type Config struct {
	ClientID   string   `yaml:"client_id"`
	Instrument string   `yaml:"instrument"`
	Timeframes []string `yaml:"timeframes"`
	VenueTZ    string   `yaml:"venue_tz"`

	Backend Backend `yaml:"backend"`
	Forward Forward `yaml:"forward"`
	Storage Storage `yaml:"storage"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Levels  Levels  `yaml:"levels"`
	Logging Logging `yaml:"logging"`
}

// Backend holds the data backend connection settings.
type Backend struct {
	URL          string `yaml:"url"`
	HistoryDays  int    `yaml:"history_days"`
	RecordClosed bool   `yaml:"record_closed"`
}

// Forward configures the local closed-candle forwarding service.
type Forward struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Storage holds paths for local persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	PaperMode bool   `yaml:"paper_mode"`
}

// Levels toggles the derived-level calculators.
type Levels struct {
	PrevDay      bool `yaml:"prev_day"`
	PreMarket    bool `yaml:"pre_market"`
	OpeningRange bool `yaml:"opening_range"`
	Killzones    bool `yaml:"killzones"`
	PriceLines   bool `yaml:"price_lines"`
	OpeningGaps  bool `yaml:"opening_gaps"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ClientID:   "local",
		Instrument: "ES",
		Timeframes: []string{"1m", "5m", "15m", "1h"},
		VenueTZ:    "America/New_York",
		Backend: Backend{
			URL:          "ws://localhost:8900/ws",
			HistoryDays:  5,
			RecordClosed: true,
		},
		Forward: Forward{Enabled: true, Addr: "127.0.0.1:8901"},
		Storage: Storage{DataDir: "data", SQLitePath: "data/charthub.db"},
		Alpaca:  Alpaca{BaseURL: "https://paper-api.alpaca.markets", PaperMode: true},
		Levels: Levels{
			PrevDay: true, PreMarket: true, OpeningRange: true,
			Killzones: true, PriceLines: true, OpeningGaps: true,
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the client cannot start with.
func (c *Config) Validate() error {
	if c.Instrument == "" {
		return fmt.Errorf("config: instrument is required")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("config: backend.url is required")
	}
	if len(c.Timeframes) == 0 {
		return fmt.Errorf("config: at least one timeframe is required")
	}
	for _, tf := range c.Timeframes {
		if !domain.Timeframe(tf).Valid() {
			return fmt.Errorf("config: unknown timeframe %q", tf)
		}
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHARTHUB_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("CHARTHUB_INSTRUMENT"); v != "" {
		cfg.Instrument = v
	}
	if v := os.Getenv("CHARTHUB_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("CHARTHUB_FORWARD_ADDR"); v != "" {
		cfg.Forward.Addr = v
	}
	if v := os.Getenv("CHARTHUB_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("CHARTHUB_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("CHARTHUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
