// Package cache implements the local SQLite cache of fetched NSE data.
//
// The cache is a single database file holding three tables: per-symbol
// daily OHLC rows, per-index daily rows and a keyed metadata table with
// per-entry TTLs. OHLC and index rows never expire; once a trading day
// has been published it does not change.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/interfaces"
	"github.com/bobmcallan/nsefeed/internal/models"
)

const dateLayout = "2006-01-02"

// Store is the SQLite-backed cache
type Store struct {
	db     *sql.DB
	path   string
	logger *common.Logger
}

var _ interfaces.Store = (*Store)(nil)

// Option configures the Store
type Option func(*Store)

// WithLogger sets a custom logger
func WithLogger(logger *common.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if needed) the cache database at path
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &common.CacheError{Op: "open", Err: err}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &common.CacheError{Op: "open", Err: err}
	}

	// modernc sqlite serializes writes itself; a single connection
	// avoids table-lock churn between writers.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		path:   path,
		logger: common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return &common.CacheError{Op: "migrate", Err: err}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return &common.CacheError{Op: "migrate", Err: err}
	}
	return nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error or panic
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SetOHLC upserts a batch of per-symbol daily rows
func (s *Store) SetOHLC(ctx context.Context, rows []models.SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO ohlc_data
				(symbol, series, date, open, high, low, close, last, prev_close,
				 volume, value, trades, isin, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol, date) DO UPDATE SET
				series = excluded.series,
				open = excluded.open, high = excluded.high,
				low = excluded.low, close = excluded.close,
				last = excluded.last, prev_close = excluded.prev_close,
				volume = excluded.volume, value = excluded.value,
				trades = excluded.trades, isin = excluded.isin,
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC().Format(time.RFC3339)
		for _, row := range rows {
			_, err := stmt.ExecContext(ctx,
				row.Symbol, row.Series, row.Date.Format(dateLayout),
				row.Open.String(), row.High.String(), row.Low.String(),
				row.Close.String(), row.Last.String(), row.PrevClose.String(),
				row.Volume, row.Value.String(), row.Trades, row.ISIN, now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &common.CacheError{Op: "set_ohlc", Err: err}
	}
	return nil
}

// GetOHLC returns a symbol's cached rows in [start, end], ascending
func (s *Store) GetOHLC(ctx context.Context, symbol string, start, end time.Time) ([]models.SeriesPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, last, prev_close,
		       volume, value, trades, delivery_qty, delivery_pct
		FROM ohlc_data
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		symbol, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, &common.CacheError{Op: "get_ohlc", Err: err}
	}
	defer rows.Close()

	var points []models.SeriesPoint
	for rows.Next() {
		var (
			p                                               models.SeriesPoint
			date                                            string
			open, high, low, closep, last, prev, value, pct string
		)
		if err := rows.Scan(&date, &open, &high, &low, &closep, &last, &prev,
			&p.Volume, &value, &p.Trades, &p.DeliveryQty, &pct); err != nil {
			return nil, &common.CacheError{Op: "get_ohlc", Err: err}
		}
		p.Date, _ = time.Parse(dateLayout, date)
		p.Open = parseDecimal(open)
		p.High = parseDecimal(high)
		p.Low = parseDecimal(low)
		p.Close = parseDecimal(closep)
		p.Last = parseDecimal(last)
		p.PrevClose = parseDecimal(prev)
		p.Value = parseDecimal(value)
		p.DeliveryPct = parseDecimal(pct)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &common.CacheError{Op: "get_ohlc", Err: err}
	}
	return points, nil
}

// CachedDates returns the distinct dates cached for symbol within
// [start, end], ascending
func (s *Store) CachedDates(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT date FROM ohlc_data
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		symbol, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, &common.CacheError{Op: "cached_dates", Err: err}
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, &common.CacheError{Op: "cached_dates", Err: err}
		}
		if d, err := time.Parse(dateLayout, raw); err == nil {
			dates = append(dates, d)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &common.CacheError{Op: "cached_dates", Err: err}
	}
	return dates, nil
}

// SetIndexData upserts a batch of index rows
func (s *Store) SetIndexData(ctx context.Context, points []models.IndexPoint) error {
	if len(points) == 0 {
		return nil
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO index_data
				(index_name, date, open, high, low, close, volume, turnover,
				 pe, pb, div_yield, change_pct, point_change, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(index_name, date) DO UPDATE SET
				open = excluded.open, high = excluded.high,
				low = excluded.low, close = excluded.close,
				volume = excluded.volume, turnover = excluded.turnover,
				pe = excluded.pe, pb = excluded.pb,
				div_yield = excluded.div_yield,
				change_pct = excluded.change_pct,
				point_change = excluded.point_change,
				updated_at = excluded.updated_at`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC().Format(time.RFC3339)
		for _, p := range points {
			_, err := stmt.ExecContext(ctx,
				p.Index, p.Date.Format(dateLayout),
				p.Open.String(), p.High.String(), p.Low.String(), p.Close.String(),
				p.Volume, p.Turnover.String(), p.PE.String(), p.PB.String(),
				p.DivYield.String(), p.ChangePct.String(), p.PointChange.String(), now)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &common.CacheError{Op: "set_index", Err: err}
	}
	return nil
}

// GetIndexData returns an index's cached rows in [start, end], ascending
func (s *Store) GetIndexData(ctx context.Context, index string, start, end time.Time) ([]models.IndexPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT index_name, date, open, high, low, close, volume, turnover,
		       pe, pb, div_yield, change_pct, point_change
		FROM index_data
		WHERE index_name = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`,
		index, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, &common.CacheError{Op: "get_index", Err: err}
	}
	defer rows.Close()

	var points []models.IndexPoint
	for rows.Next() {
		var (
			p                                        models.IndexPoint
			date                                     string
			open, high, low, closep, turnover        string
			pe, pb, divYield, changePct, pointChange string
		)
		if err := rows.Scan(&p.Index, &date, &open, &high, &low, &closep,
			&p.Volume, &turnover, &pe, &pb, &divYield, &changePct, &pointChange); err != nil {
			return nil, &common.CacheError{Op: "get_index", Err: err}
		}
		p.Date, _ = time.Parse(dateLayout, date)
		p.Open = parseDecimal(open)
		p.High = parseDecimal(high)
		p.Low = parseDecimal(low)
		p.Close = parseDecimal(closep)
		p.Turnover = parseDecimal(turnover)
		p.PE = parseDecimal(pe)
		p.PB = parseDecimal(pb)
		p.DivYield = parseDecimal(divYield)
		p.ChangePct = parseDecimal(changePct)
		p.PointChange = parseDecimal(pointChange)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &common.CacheError{Op: "get_index", Err: err}
	}
	return points, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
