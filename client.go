package nsefeed

import (
	"context"
	"time"

	"github.com/bobmcallan/nsefeed/internal/cache"
	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/dateutil"
	"github.com/bobmcallan/nsefeed/internal/history"
	"github.com/bobmcallan/nsefeed/internal/interfaces"
	"github.com/bobmcallan/nsefeed/internal/scrapers"
	"github.com/bobmcallan/nsefeed/internal/session"
)

// Client is the entry point for all NSE data access. It is safe for
// concurrent use; all requests share one session and one rate limiter.
type Client struct {
	config    *common.Config
	logger    *common.Logger
	session   interfaces.Session
	store     interfaces.Store
	scraper   *scrapers.Scraper
	security  interfaces.SecuritySource
	assembler interfaces.HistoryService
}

// New creates a Client
func New(opts ...Option) (*Client, error) {
	params := clientParams{
		config: common.NewDefaultConfig(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	logger := params.logger
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	c := &Client{
		config: params.config,
		logger: logger,
	}

	if params.session != nil {
		c.session = params.session
	} else {
		sessionOpts := []session.Option{session.WithLogger(logger)}
		if params.httpClient != nil {
			sessionOpts = append(sessionOpts, session.WithHTTPClient(params.httpClient))
		}
		mgr, err := session.NewManager(params.config, sessionOpts...)
		if err != nil {
			return nil, err
		}
		c.session = mgr
	}

	if params.store != nil {
		c.store = params.store
	} else if params.config.Cache.Enabled && !params.disableCache {
		store, err := cache.Open(params.config.Cache.Path(), cache.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		c.store = store
	}

	c.scraper = scrapers.New(c.session, params.config.Endpoints, scrapers.WithLogger(logger))
	c.security = scrapers.NewSecurityWise(c.session, params.config.Endpoints, scrapers.WithLogger(logger))
	c.assembler = history.New(c.scraper, c.store, history.WithLogger(logger))

	return c, nil
}

// Close releases the client's resources
func (c *Client) Close() error {
	var firstErr error
	if err := c.session.Close(); err != nil {
		firstErr = err
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FetchSnapshot returns the full equity bhav copy for one trading day
func (c *Client) FetchSnapshot(ctx context.Context, date time.Time) (*Snapshot, error) {
	return c.scraper.FetchSnapshot(ctx, date)
}

// SymbolHistory returns one symbol's series over [start, end]
func (c *Client) SymbolHistory(ctx context.Context, symbol string, start, end time.Time) (*SymbolHistory, error) {
	return c.assembler.GetSymbolHistory(ctx, symbol, start, end)
}

// BulkHistory returns several symbols' series over [start, end],
// downloading each trading day's snapshot at most once. Symbols with no
// data in the range are absent from the result.
func (c *Client) BulkHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string]*SymbolHistory, error) {
	return c.assembler.GetBulkHistory(ctx, symbols, start, end)
}

// IndexHistory returns an index's series over [start, end]. Index names
// are NSE's, e.g. "Nifty 50".
func (c *Client) IndexHistory(ctx context.Context, index string, start, end time.Time) ([]IndexPoint, error) {
	return c.assembler.GetIndexHistory(ctx, index, start, end)
}

// SecurityHistory returns a symbol's price, volume and deliverable
// series from the security-wise API. Unlike SymbolHistory this needs
// one request per 365-day chunk rather than one per day, but carries
// delivery figures and is not cached.
func (c *Client) SecurityHistory(ctx context.Context, symbol string, start, end time.Time) ([]SeriesPoint, error) {
	return c.security.FetchSecurityHistory(ctx, symbol, start, end)
}

// PreviousTradingDay returns the last weekday strictly before d
func (c *Client) PreviousTradingDay(d time.Time) time.Time {
	return dateutil.PreviousTradingDay(d)
}

// ClearSymbol removes one symbol's rows from the cache
func (c *Client) ClearSymbol(ctx context.Context, symbol string) error {
	if c.store == nil {
		return nil
	}
	return c.store.ClearSymbol(ctx, symbol)
}

// ClearAll empties the cache
func (c *Client) ClearAll(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	return c.store.ClearAll(ctx)
}

// ClearExpired removes expired cache metadata entries and returns how
// many were removed
func (c *Client) ClearExpired(ctx context.Context) (int64, error) {
	if c.store == nil {
		return 0, nil
	}
	return c.store.ClearExpired(ctx)
}

// CacheStats reports cache contents and size. Returns nil when caching
// is disabled.
func (c *Client) CacheStats(ctx context.Context) (*CacheStats, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.Stats(ctx)
}
