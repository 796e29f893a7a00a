package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/nsefeed/internal/models"
)

// HistoryService assembles multi-day history from daily snapshots,
// reading the cache first and fetching only the missing days.
type HistoryService interface {
	// GetSymbolHistory returns one symbol's series over [start, end]
	GetSymbolHistory(ctx context.Context, symbol string, start, end time.Time) (*models.SymbolHistory, error)

	// GetBulkHistory returns several symbols' series over [start, end],
	// downloading each day's snapshot at most once. Symbols with no
	// data in the range are absent from the result.
	GetBulkHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string]*models.SymbolHistory, error)

	// GetIndexHistory returns an index's series over [start, end]
	GetIndexHistory(ctx context.Context, index string, start, end time.Time) ([]models.IndexPoint, error)
}
