// Package models defines data structures for nsefeed
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotRow is a single security's row in a daily bhav copy
type SnapshotRow struct {
	Symbol    string          `json:"symbol"`
	Series    string          `json:"series"`
	Date      time.Time       `json:"date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Last      decimal.Decimal `json:"last"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Volume    int64           `json:"volume"`
	Value     decimal.Decimal `json:"value"`  // traded value in INR
	Trades    int64           `json:"trades"` // trade count, 0 when the source omits it
	ISIN      string          `json:"isin,omitempty"`
}

// Snapshot is a full day's equity bhav copy
type Snapshot struct {
	Date time.Time     `json:"date"`
	Rows []SnapshotRow `json:"rows"`
}

// RowsBySymbol indexes the snapshot's rows by symbol. Symbols listed in
// more than one series keep only the first row in bhav copy order.
func (s *Snapshot) RowsBySymbol() map[string]SnapshotRow {
	out := make(map[string]SnapshotRow, len(s.Rows))
	for _, row := range s.Rows {
		if _, ok := out[row.Symbol]; !ok {
			out[row.Symbol] = row
		}
	}
	return out
}

// SeriesPoint is one trading day of a single symbol's history
type SeriesPoint struct {
	Date      time.Time       `json:"date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Last      decimal.Decimal `json:"last"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Volume    int64           `json:"volume"`
	Value     decimal.Decimal `json:"value"`
	Trades    int64           `json:"trades"`

	// Delivery fields are only populated by the security-wise source.
	DeliveryQty int64           `json:"delivery_qty,omitempty"`
	DeliveryPct decimal.Decimal `json:"delivery_pct,omitempty"`
}

// PointFromRow converts a snapshot row to a history point
func PointFromRow(row SnapshotRow) SeriesPoint {
	return SeriesPoint{
		Date:      row.Date,
		Open:      row.Open,
		High:      row.High,
		Low:       row.Low,
		Close:     row.Close,
		Last:      row.Last,
		PrevClose: row.PrevClose,
		Volume:    row.Volume,
		Value:     row.Value,
		Trades:    row.Trades,
	}
}

// SymbolHistory is a symbol's date-ascending OHLCV series
type SymbolHistory struct {
	Symbol string        `json:"symbol"`
	Points []SeriesPoint `json:"points"`
	// Days requested vs days that actually produced data. A trading day
	// can be missing because NSE never published it or the symbol did
	// not trade that day.
	DaysRequested int `json:"days_requested"`
	DaysFetched   int `json:"days_fetched"`
}

// IndexPoint is one trading day of an index's history
type IndexPoint struct {
	Index       string          `json:"index"`
	Date        time.Time       `json:"date"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      int64           `json:"volume"`
	Turnover    decimal.Decimal `json:"turnover"`
	PE          decimal.Decimal `json:"pe,omitempty"`
	PB          decimal.Decimal `json:"pb,omitempty"`
	DivYield    decimal.Decimal `json:"div_yield,omitempty"`
	ChangePct   decimal.Decimal `json:"change_pct,omitempty"`
	PointChange decimal.Decimal `json:"point_change,omitempty"`
}

// CacheStats summarises the local cache contents
type CacheStats struct {
	Path          string    `json:"path"`
	SizeBytes     int64     `json:"size_bytes"`
	OHLCRows      int64     `json:"ohlc_rows"`
	IndexRows     int64     `json:"index_rows"`
	MetadataRows  int64     `json:"metadata_rows"`
	Symbols       int64     `json:"symbols"`
	OldestDate    time.Time `json:"oldest_date"`
	NewestDate    time.Time `json:"newest_date"`
	JournalMode   string    `json:"journal_mode"`
	SchemaVersion int       `json:"schema_version"`
}
