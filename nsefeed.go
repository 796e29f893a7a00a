// Package nsefeed fetches end-of-day market data from the National
// Stock Exchange of India.
//
// NSE publishes a daily "bhav copy" snapshot of every listed security
// and a daily all-index close file, but offers no bulk history API.
// nsefeed walks those per-day files to assemble symbol and index
// history, behind a session layer that handles NSE's cookie handshake,
// rate limiting and retries, and a local SQLite cache so each trading
// day is downloaded at most once.
//
// Basic use:
//
//	client, err := nsefeed.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	history, err := client.Ticker("RELIANCE").History(ctx, nsefeed.WithPeriod("1mo"))
package nsefeed

import (
	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/models"
)

// Data types returned by the client.
type (
	Snapshot      = models.Snapshot
	SnapshotRow   = models.SnapshotRow
	SeriesPoint   = models.SeriesPoint
	SymbolHistory = models.SymbolHistory
	IndexPoint    = models.IndexPoint
	CacheStats    = models.CacheStats
)

// Error types callers can match with errors.As.
type (
	ConnectionError    = common.ConnectionError
	SessionError       = common.SessionError
	RateLimitError     = common.RateLimitError
	DataNotFoundError  = common.DataNotFoundError
	InvalidSymbolError = common.InvalidSymbolError
	InvalidDateError   = common.InvalidDateError
	CacheError         = common.CacheError
	ParseError         = common.ParseError
)

// Error classification helpers.
var (
	IsDataNotFound    = common.IsDataNotFound
	IsConnectionError = common.IsConnectionError
	IsRateLimited     = common.IsRateLimited
	IsSessionError    = common.IsSessionError
)

// Config is the full client configuration.
type Config = common.Config

// NewDefaultConfig returns the configuration New uses when no overrides
// are given.
var NewDefaultConfig = common.NewDefaultConfig

// LoadConfig reads configuration from TOML files with NSEFEED_*
// environment overrides applied on top.
var LoadConfig = common.LoadConfig
