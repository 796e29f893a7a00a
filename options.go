package nsefeed

import (
	"net/http"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/interfaces"
)

// clientParams collects construction-time settings
type clientParams struct {
	config       *common.Config
	logger       *common.Logger
	httpClient   *http.Client
	session      interfaces.Session
	store        interfaces.Store
	disableCache bool
}

// Option configures the Client
type Option func(*clientParams)

// WithConfig replaces the default configuration
func WithConfig(config *Config) Option {
	return func(p *clientParams) {
		if config != nil {
			p.config = config
		}
	}
}

// WithLogLevel enables console logging at the given level ("trace",
// "debug", "info", "warn", "error"). The client is silent by default.
func WithLogLevel(level string) Option {
	return func(p *clientParams) {
		p.logger = common.NewLogger(level)
	}
}

// WithCacheDir overrides the cache directory
func WithCacheDir(dir string) Option {
	return func(p *clientParams) {
		p.config.Cache.Dir = dir
	}
}

// WithoutCache disables the local cache; every request hits the network
func WithoutCache() Option {
	return func(p *clientParams) {
		p.disableCache = true
	}
}

// WithHTTPClient sets a custom HTTP client for the session
func WithHTTPClient(client *http.Client) Option {
	return func(p *clientParams) {
		p.httpClient = client
	}
}

// WithSession injects a pre-built session, mainly for tests
func WithSession(s interfaces.Session) Option {
	return func(p *clientParams) {
		p.session = s
	}
}

// WithStore injects a pre-built cache store, mainly for tests
func WithStore(s interfaces.Store) Option {
	return func(p *clientParams) {
		p.store = s
	}
}
