package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for nsefeed
type Config struct {
	Cache     CacheConfig     `toml:"cache"`
	Session   SessionConfig   `toml:"session"`
	Endpoints EndpointsConfig `toml:"endpoints"`
	Logging   LoggingConfig   `toml:"logging"`
}

// CacheConfig holds local cache configuration
type CacheConfig struct {
	Dir      string `toml:"dir"`      // directory for the cache database
	Filename string `toml:"filename"` // database filename inside Dir
	Enabled  bool   `toml:"enabled"`
}

// Path returns the full path of the cache database file.
func (c *CacheConfig) Path() string {
	return filepath.Join(c.Dir, c.Filename)
}

// SessionConfig holds HTTP session tuning
type SessionConfig struct {
	MinRequestDelay   string   `toml:"min_request_delay"`
	MaxRetries        int      `toml:"max_retries"`
	BackoffFactor     float64  `toml:"backoff_factor"`
	InitialRetryDelay string   `toml:"initial_retry_delay"`
	RequestTimeout    string   `toml:"request_timeout"`
	RefreshInterval   string   `toml:"refresh_interval"`
	UserAgents        []string `toml:"user_agents"` // optional override of the built-in rotation
}

// GetMinRequestDelay parses and returns the minimum inter-request delay
func (c *SessionConfig) GetMinRequestDelay() time.Duration {
	return parseDuration(c.MinRequestDelay, 350*time.Millisecond)
}

// GetInitialRetryDelay parses and returns the first backoff delay
func (c *SessionConfig) GetInitialRetryDelay() time.Duration {
	return parseDuration(c.InitialRetryDelay, time.Second)
}

// GetRequestTimeout parses and returns the per-request timeout
func (c *SessionConfig) GetRequestTimeout() time.Duration {
	return parseDuration(c.RequestTimeout, 30*time.Second)
}

// GetRefreshInterval parses and returns the cookie handshake lifetime
func (c *SessionConfig) GetRefreshInterval() time.Duration {
	return parseDuration(c.RefreshInterval, 5*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d == 0 {
		return fallback
	}
	return d
}

// EndpointsConfig holds NSE URL shapes. These change on NSE's side from
// time to time, so they are configuration rather than code.
type EndpointsConfig struct {
	BaseURL        string `toml:"base_url"`
	ArchivesURL    string `toml:"archives_url"`
	NewArchivesURL string `toml:"new_archives_url"`

	// Bhav copy archive templates. The new template takes the date as
	// 20060102; the old one takes {year}, {month} (JAN..DEC) and the
	// date as 02JAN2006.
	BhavCopyNewURL string `toml:"bhav_copy_new_url"`
	BhavCopyOldURL string `toml:"bhav_copy_old_url"`

	// Daily all-index close CSV, date as 02012006.
	IndexHistoricalURL string `toml:"index_historical_url"`

	// Security-wise historical CSV API and the report page whose visit
	// plants the cookies that API expects.
	SecurityWiseURL    string `toml:"security_wise_url"`
	SecurityWiseOrigin string `toml:"security_wise_origin"`
}

// HomeURL returns the handshake target.
func (c *EndpointsConfig) HomeURL() string {
	return c.BaseURL + "/"
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Cache TTL defaults for metadata entries, by data class.
const (
	TTLHistoricalData = 7 * 24 * time.Hour
	TTLCompanyInfo    = 24 * time.Hour
	TTLIndexList      = 7 * 24 * time.Hour
	TTLMarketStatus   = time.Minute
)

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	cacheDir := ".nsefeed"
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".nsefeed")
	}

	return &Config{
		Cache: CacheConfig{
			Dir:      cacheDir,
			Filename: "cache.db",
			Enabled:  true,
		},
		Session: SessionConfig{
			MinRequestDelay:   "350ms",
			MaxRetries:        3,
			BackoffFactor:     1.5,
			InitialRetryDelay: "1s",
			RequestTimeout:    "30s",
			RefreshInterval:   "5m",
		},
		Endpoints: EndpointsConfig{
			BaseURL:            "https://www.nseindia.com",
			ArchivesURL:        "https://archives.nseindia.com",
			NewArchivesURL:     "https://nsearchives.nseindia.com",
			BhavCopyNewURL:     "https://nsearchives.nseindia.com/content/cm/BhavCopy_NSE_CM_0_0_0_{date}_F_0000.csv.zip",
			BhavCopyOldURL:     "https://archives.nseindia.com/content/historical/EQUITIES/{year}/{month}/cm{date}bhav.csv.zip",
			IndexHistoricalURL: "https://archives.nseindia.com/content/indices/ind_close_all_{date}.csv",
			SecurityWiseURL:    "https://www.nseindia.com/api/historicalOR/generateSecurityWiseHistoricalData",
			SecurityWiseOrigin: "https://www.nseindia.com/report-detail/eq_security",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if dir := os.Getenv("NSEFEED_CACHE_DIR"); dir != "" {
		config.Cache.Dir = dir
	}

	if v := os.Getenv("NSEFEED_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Cache.Enabled = b
		}
	}

	if level := os.Getenv("NSEFEED_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if base := os.Getenv("NSEFEED_BASE_URL"); base != "" {
		config.Endpoints.BaseURL = strings.TrimSuffix(base, "/")
	}

	if v := os.Getenv("NSEFEED_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			config.Session.MaxRetries = n
		}
	}

	if v := os.Getenv("NSEFEED_MIN_REQUEST_DELAY"); v != "" {
		config.Session.MinRequestDelay = v
	}
}
