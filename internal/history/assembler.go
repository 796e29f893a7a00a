// Package history assembles multi-day series from NSE's per-day files.
//
// NSE has no bulk download: a symbol's history is built by walking the
// trading days in the requested range and extracting the symbol's row
// from each day's bhav copy. The assembler consults the local cache
// before the network, fetches only the missing days, and records
// per-day outcomes so one bad day does not sink a whole range.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/dateutil"
	"github.com/bobmcallan/nsefeed/internal/interfaces"
	"github.com/bobmcallan/nsefeed/internal/models"
)

// Day status markers kept in the metadata table. A day marked absent
// was requested before and NSE had nothing for it (a market holiday),
// so the walk can skip the network for it.
const (
	bhavDayKeyPrefix  = "bhav_day:"
	indexDayKeyPrefix = "index_day:"
	dayStatusOK       = "ok"
	dayStatusAbsent   = "absent"
)

// Assembler builds symbol and index history from daily snapshots
type Assembler struct {
	source interfaces.SnapshotSource
	store  interfaces.Store
	logger *common.Logger
}

var _ interfaces.HistoryService = (*Assembler)(nil)

// Option configures the Assembler
type Option func(*Assembler)

// WithLogger sets a custom logger
func WithLogger(logger *common.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// New creates an Assembler. store may be nil, in which case every day
// is fetched from the network.
func New(source interfaces.SnapshotSource, store interfaces.Store, opts ...Option) *Assembler {
	a := &Assembler{
		source: source,
		store:  store,
		logger: common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// dayOutcome records what happened for one trading day of a walk
type dayOutcome struct {
	date     time.Time
	snapshot *models.Snapshot // nil when the day produced no data
	err      error            // non-nil on a genuine failure
}

// GetSymbolHistory returns one symbol's series over [start, end]
func (a *Assembler) GetSymbolHistory(ctx context.Context, symbol string, start, end time.Time) (*models.SymbolHistory, error) {
	result, err := a.GetBulkHistory(ctx, []string{symbol}, start, end)
	if err != nil {
		return nil, err
	}

	history, ok := result[models.NormalizeSymbol(symbol)]
	if !ok {
		start, end, _ = dateutil.ValidateRange(start, end)
		return nil, &common.DataNotFoundError{
			Message: "no data for symbol in range",
			Symbol:  models.NormalizeSymbol(symbol),
			Start:   start,
			End:     end,
		}
	}
	return history, nil
}

// GetBulkHistory returns several symbols' series over [start, end],
// downloading each day's snapshot at most once. Symbols with no data in
// the range are absent from the result; an empty result is not an
// error.
func (a *Assembler) GetBulkHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string]*models.SymbolHistory, error) {
	normalized, err := normalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}

	start, end, err = dateutil.ValidateRange(start, end)
	if err != nil {
		return nil, err
	}

	tradingDays := dateutil.TradingDaysBetween(start, end)
	if len(tradingDays) == 0 {
		return map[string]*models.SymbolHistory{}, nil
	}

	// Pull whatever the cache already holds and work out which days
	// still need the network.
	cached := a.loadCached(ctx, normalized, start, end)
	missing := a.missingDays(ctx, normalized, cached, tradingDays)

	var (
		fetched  = make(map[string][]models.SeriesPoint)
		failures int
		lastErr  error
	)
	for _, day := range missing {
		outcome := a.fetchDay(ctx, day)
		switch {
		case outcome.err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			lastErr = outcome.err
			a.logger.Warn().Err(outcome.err).Time("date", day).Msg("Failed to fetch bhav copy day")
		case outcome.snapshot != nil:
			bySymbol := outcome.snapshot.RowsBySymbol()
			var toCache []models.SnapshotRow
			for _, symbol := range normalized {
				if row, ok := bySymbol[symbol]; ok {
					fetched[symbol] = append(fetched[symbol], models.PointFromRow(row))
					toCache = append(toCache, row)
				}
			}
			a.cacheDay(ctx, day, toCache)
		default:
			// Holiday or unpublished day; remember so the next walk
			// skips it.
			a.markDay(ctx, bhavDayKeyPrefix, day, dayStatusAbsent)
		}
	}

	// Per-day failures are swallowed while anything at all was
	// retrieved; only a walk that yields nothing fails, and it fails
	// as missing data with the symbols and range attached.
	if failures == len(missing) && failures > 0 && len(cached) == 0 {
		return nil, &common.DataNotFoundError{
			Message: fmt.Sprintf("no data retrieved, all %d fetched days failed (last: %v)", failures, lastErr),
			Symbol:  strings.Join(normalized, ","),
			Start:   start,
			End:     end,
		}
	}

	result := make(map[string]*models.SymbolHistory)
	for _, symbol := range normalized {
		points := append(cached[symbol], fetched[symbol]...)
		if len(points) == 0 {
			continue
		}
		sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
		result[symbol] = &models.SymbolHistory{
			Symbol:        symbol,
			Points:        points,
			DaysRequested: len(tradingDays),
			DaysFetched:   len(points),
		}
	}

	return result, nil
}

func normalizeSymbols(symbols []string) ([]string, error) {
	seen := make(map[string]bool, len(symbols))
	var out []string
	for _, raw := range symbols {
		symbol := models.NormalizeSymbol(raw)
		if !models.ValidSymbol(symbol) {
			return nil, &common.InvalidSymbolError{Symbol: raw, Reason: "not a valid NSE symbol"}
		}
		if !seen[symbol] {
			seen[symbol] = true
			out = append(out, symbol)
		}
	}
	if len(out) == 0 {
		return nil, &common.InvalidSymbolError{Reason: "no symbols given"}
	}
	return out, nil
}

// loadCached returns each symbol's cached points within [start, end]
func (a *Assembler) loadCached(ctx context.Context, symbols []string, start, end time.Time) map[string][]models.SeriesPoint {
	cached := make(map[string][]models.SeriesPoint)
	if a.store == nil {
		return cached
	}

	for _, symbol := range symbols {
		points, err := a.store.GetOHLC(ctx, symbol, start, end)
		if err != nil {
			a.logger.Warn().Err(err).Str("symbol", symbol).Msg("Cache read failed")
			continue
		}
		if len(points) > 0 {
			cached[symbol] = points
		}
	}
	return cached
}

// missingDays returns the trading days that need a network fetch: days
// not satisfied by cache for every symbol and not marked as fetched or
// absent.
func (a *Assembler) missingDays(ctx context.Context, symbols []string, cached map[string][]models.SeriesPoint, tradingDays []time.Time) []time.Time {
	haveAll := make(map[time.Time]int)
	for _, points := range cached {
		for _, p := range points {
			haveAll[dateutil.Midnight(p.Date)]++
		}
	}

	var missing []time.Time
	for _, day := range tradingDays {
		if haveAll[day] == len(symbols) {
			continue
		}
		if status := a.dayStatus(ctx, bhavDayKeyPrefix, day); status == dayStatusAbsent {
			continue
		} else if status == dayStatusOK && haveAll[day] > 0 {
			// The day was fetched before; symbols without a cached row
			// simply did not trade. Nothing more to download.
			continue
		}
		missing = append(missing, day)
	}
	return missing
}

func (a *Assembler) fetchDay(ctx context.Context, day time.Time) dayOutcome {
	snapshot, err := a.source.FetchSnapshot(ctx, day)
	if err != nil {
		if common.IsDataNotFound(err) {
			return dayOutcome{date: day}
		}
		return dayOutcome{date: day, err: err}
	}
	return dayOutcome{date: day, snapshot: snapshot}
}

// cacheDay writes a day's extracted rows and marks the day fetched.
// Cache writes are best effort; data already in hand is returned to the
// caller regardless.
func (a *Assembler) cacheDay(ctx context.Context, day time.Time, rows []models.SnapshotRow) {
	if a.store == nil {
		return
	}
	if len(rows) > 0 {
		if err := a.store.SetOHLC(ctx, rows); err != nil {
			a.logger.Warn().Err(err).Time("date", day).Msg("Cache write failed")
		}
	}
	a.markDay(ctx, bhavDayKeyPrefix, day, dayStatusOK)
}

func (a *Assembler) markDay(ctx context.Context, prefix string, day time.Time, status string) {
	if a.store == nil {
		return
	}
	key := prefix + day.Format("2006-01-02")
	if err := a.store.SetMetadata(ctx, key, []byte(status), common.TTLHistoricalData); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("Failed to mark day status")
	}
}

func (a *Assembler) dayStatus(ctx context.Context, prefix string, day time.Time) string {
	if a.store == nil {
		return ""
	}
	key := prefix + day.Format("2006-01-02")
	value, ok, err := a.store.GetMetadata(ctx, key)
	if err != nil || !ok {
		return ""
	}
	return string(value)
}

// GetIndexHistory returns an index's series over [start, end]
func (a *Assembler) GetIndexHistory(ctx context.Context, index string, start, end time.Time) ([]models.IndexPoint, error) {
	start, end, err := dateutil.ValidateRange(start, end)
	if err != nil {
		return nil, err
	}

	tradingDays := dateutil.TradingDaysBetween(start, end)
	if len(tradingDays) == 0 {
		return nil, &common.DataNotFoundError{Message: "no trading days in range", Start: start, End: end}
	}

	cachedDates := make(map[time.Time]bool)
	var points []models.IndexPoint
	if a.store != nil {
		cachedPoints, err := a.store.GetIndexData(ctx, index, start, end)
		if err != nil {
			a.logger.Warn().Err(err).Str("index", index).Msg("Cache read failed")
		}
		for _, p := range cachedPoints {
			cachedDates[dateutil.Midnight(p.Date)] = true
		}
		points = cachedPoints
	}

	var failures int
	var lastErr error
	for _, day := range tradingDays {
		if cachedDates[day] {
			continue
		}
		if a.dayStatus(ctx, indexDayKeyPrefix, day) == dayStatusAbsent {
			continue
		}

		dayPoints, err := a.source.FetchIndexDay(ctx, day)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if common.IsDataNotFound(err) {
				a.markDay(ctx, indexDayKeyPrefix, day, dayStatusAbsent)
				continue
			}
			failures++
			lastErr = err
			a.logger.Warn().Err(err).Time("date", day).Msg("Failed to fetch index day")
			continue
		}

		for _, p := range dayPoints {
			if p.Index == index {
				points = append(points, p)
			}
		}
		if a.store != nil {
			if err := a.store.SetIndexData(ctx, dayPoints); err != nil {
				a.logger.Warn().Err(err).Time("date", day).Msg("Cache write failed")
			}
		}
	}

	if len(points) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("all %d fetched days failed: %w", failures, lastErr)
		}
		return nil, &common.DataNotFoundError{Message: "no data for index in range", Symbol: index, Start: start, End: end}
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}
