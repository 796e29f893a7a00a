package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/nsefeed/internal/models"
)

// Store is the local cache of previously fetched NSE data
type Store interface {
	// SetOHLC upserts a batch of per-symbol daily rows
	SetOHLC(ctx context.Context, rows []models.SnapshotRow) error

	// GetOHLC returns a symbol's cached rows in [start, end], ascending
	GetOHLC(ctx context.Context, symbol string, start, end time.Time) ([]models.SeriesPoint, error)

	// CachedDates returns the distinct dates cached for symbol within
	// [start, end], ascending
	CachedDates(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error)

	// SetIndexData upserts a batch of index rows
	SetIndexData(ctx context.Context, points []models.IndexPoint) error

	// GetIndexData returns an index's cached rows in [start, end], ascending
	GetIndexData(ctx context.Context, index string, start, end time.Time) ([]models.IndexPoint, error)

	// SetMetadata stores an opaque value under key expiring at now+ttl.
	// A non-positive TTL stores an entry that is already expired.
	SetMetadata(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetMetadata returns the value for key, or ok=false when absent or
	// expired. Expired entries are removed on read.
	GetMetadata(ctx context.Context, key string) (value []byte, ok bool, err error)

	// DeleteMetadata removes a metadata entry
	DeleteMetadata(ctx context.Context, key string) error

	// ClearExpired removes all expired metadata entries
	ClearExpired(ctx context.Context) (int64, error)

	// ClearSymbol removes all cached rows for one symbol
	ClearSymbol(ctx context.Context, symbol string) error

	// ClearAll empties the cache
	ClearAll(ctx context.Context) error

	// Stats reports cache contents and size
	Stats(ctx context.Context) (*models.CacheStats, error)

	// Close closes the underlying database
	Close() error
}
