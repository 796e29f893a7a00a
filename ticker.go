package nsefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/dateutil"
	"github.com/bobmcallan/nsefeed/internal/models"
)

// Ticker is a symbol-bound view of the client, for callers working
// with one security at a time.
type Ticker struct {
	client *Client
	symbol string
}

// Ticker returns a symbol-bound view of the client
func (c *Client) Ticker(symbol string) *Ticker {
	return &Ticker{
		client: c,
		symbol: models.NormalizeSymbol(symbol),
	}
}

// Symbol returns the normalized symbol this ticker is bound to
func (t *Ticker) Symbol() string {
	return t.symbol
}

// Interval selects the bar size of a history request.
type Interval string

const (
	IntervalDaily   Interval = "1d"
	IntervalWeekly  Interval = "1wk"
	IntervalMonthly Interval = "1mo"
)

// historyParams holds a history request's settings
type historyParams struct {
	period   string
	start    time.Time
	end      time.Time
	interval Interval
}

// HistoryOption configures a history request
type HistoryOption func(*historyParams)

// WithPeriod selects a relative period ending today: "1d", "5d", "1mo",
// "3mo", "6mo", "1y", "2y", "5y", "10y", "ytd" or "max". Mutually
// exclusive with WithRange.
func WithPeriod(period string) HistoryOption {
	return func(p *historyParams) {
		p.period = period
	}
}

// WithRange selects an explicit [start, end] date range
func WithRange(start, end time.Time) HistoryOption {
	return func(p *historyParams) {
		p.start = start
		p.end = end
	}
}

// WithInterval selects the bar size; daily is the default. Weekly and
// monthly bars are aggregated from daily data.
func WithInterval(interval Interval) HistoryOption {
	return func(p *historyParams) {
		p.interval = interval
	}
}

// History returns the ticker's OHLCV series. With no options it returns
// the last month of daily bars.
func (t *Ticker) History(ctx context.Context, opts ...HistoryOption) (*SymbolHistory, error) {
	params := historyParams{interval: IntervalDaily}
	for _, opt := range opts {
		opt(&params)
	}

	start, end := params.start, params.end
	if start.IsZero() && end.IsZero() {
		period := params.period
		if period == "" {
			period = "1mo"
		}
		var err error
		start, end, err = dateutil.PeriodRange(period)
		if err != nil {
			return nil, err
		}
	} else if params.period != "" {
		return nil, &common.InvalidDateError{
			Message: "period and explicit range are mutually exclusive",
			Input:   params.period,
		}
	}

	history, err := t.client.SymbolHistory(ctx, t.symbol, start, end)
	if err != nil {
		return nil, err
	}

	switch params.interval {
	case IntervalDaily, "":
		return history, nil
	case IntervalWeekly:
		history.Points = resample(history.Points, weekKey)
		return history, nil
	case IntervalMonthly:
		history.Points = resample(history.Points, monthKey)
		return history, nil
	default:
		return nil, &common.InvalidDateError{
			Message: "unknown interval (expected 1d, 1wk or 1mo)",
			Input:   string(params.interval),
		}
	}
}

// Deliverables returns the ticker's price, volume and deliverable
// series from the security-wise API
func (t *Ticker) Deliverables(ctx context.Context, start, end time.Time) ([]SeriesPoint, error) {
	return t.client.SecurityHistory(ctx, t.symbol, start, end)
}

func weekKey(d time.Time) string {
	year, week := d.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func monthKey(d time.Time) string {
	return d.Format("2006-01")
}

// resample aggregates daily points into buckets keyed by keyFn: open
// from the first day, close and date from the last, high/low extremes,
// volumes and values summed. Input must be date-ascending, which
// History guarantees.
func resample(points []SeriesPoint, keyFn func(time.Time) string) []SeriesPoint {
	if len(points) == 0 {
		return points
	}

	var (
		out     []SeriesPoint
		current SeriesPoint
		key     string
	)
	for i, p := range points {
		if i == 0 || keyFn(p.Date) != key {
			if i > 0 {
				out = append(out, current)
			}
			key = keyFn(p.Date)
			current = p
			continue
		}

		if p.High.GreaterThan(current.High) {
			current.High = p.High
		}
		if p.Low.LessThan(current.Low) {
			current.Low = p.Low
		}
		current.Close = p.Close
		current.Last = p.Last
		current.Date = p.Date
		current.Volume += p.Volume
		current.Trades += p.Trades
		current.Value = current.Value.Add(p.Value)
		current.DeliveryQty += p.DeliveryQty
	}
	out = append(out, current)
	return out
}
