// Package interfaces defines service contracts for nsefeed
package interfaces

import (
	"context"
	"net/http"
	"time"

	"github.com/bobmcallan/nsefeed/internal/models"
)

// Session performs authenticated HTTP against NSE endpoints. All calls
// are rate-limited and retried; the cookie handshake happens lazily on
// first use and again whenever NSE invalidates the cookies.
type Session interface {
	// Get performs a GET and returns the response body
	Get(ctx context.Context, url string, opts ...RequestOption) ([]byte, error)

	// GetJSON performs a GET and decodes the JSON body into v
	GetJSON(ctx context.Context, url string, v any, opts ...RequestOption) error

	// GetCSV performs a GET against a CSV endpoint, visits the owning
	// report page first so the endpoint's cookies exist, and returns
	// the body decoded to UTF-8
	GetCSV(ctx context.Context, url string, origin string, opts ...RequestOption) ([]byte, error)

	// Post performs a POST with a JSON payload and returns the
	// response body
	Post(ctx context.Context, url string, payload []byte, opts ...RequestOption) ([]byte, error)

	// DownloadFile fetches an archive file with a longer timeout and
	// archive-appropriate headers
	DownloadFile(ctx context.Context, url string) ([]byte, error)

	// Reset drops cookies so the next request performs a fresh handshake
	Reset()

	// Close releases the session's resources
	Close() error
}

// RequestOption adjusts a single request
type RequestOption func(*RequestParams)

// RequestParams holds per-request overrides
type RequestParams struct {
	Headers http.Header
	Referer string
	Timeout time.Duration
}

// SnapshotSource fetches daily market-wide files from NSE archives
type SnapshotSource interface {
	// FetchSnapshot downloads and parses the equity bhav copy for a
	// single trading day
	FetchSnapshot(ctx context.Context, date time.Time) (*models.Snapshot, error)

	// FetchIndexDay downloads the all-index close file for a single
	// trading day
	FetchIndexDay(ctx context.Context, date time.Time) ([]models.IndexPoint, error)
}

// SecuritySource fetches per-symbol history from the security-wise API
type SecuritySource interface {
	// FetchSecurityHistory retrieves a symbol's price, volume and
	// deliverable series for a date range
	FetchSecurityHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.SeriesPoint, error)
}
