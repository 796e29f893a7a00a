package scrapers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/dateutil"
	"github.com/bobmcallan/nsefeed/internal/interfaces"
	"github.com/bobmcallan/nsefeed/internal/models"
)

// securityWiseMaxDays is the largest span the security-wise API answers
// in one request.
const securityWiseMaxDays = 365

// securityWiseColumns maps the price/volume/deliverable CSV headers to
// canonical names. Headers are matched after trimming whitespace and
// non-breaking spaces, which NSE sprinkles into this file.
var securityWiseColumns = map[string]string{
	"Symbol":                 colSymbol,
	"Series":                 colSeries,
	"Date":                   colDate,
	"Prev Close":             colPrevClose,
	"Open Price":             colOpen,
	"High Price":             colHigh,
	"Low Price":              colLow,
	"Last Price":             colLast,
	"Close Price":            colClose,
	"Total Traded Quantity":  colVolume,
	"Turnover":               colValue,
	"Turnover ₹":             colValue,
	"No. of Trades":          colTrades,
	"Deliverable Qty":        "delivery_qty",
	"% Dly Qt to Traded Qty": "delivery_pct",
}

// SecurityWise fetches per-symbol history from the security-wise
// historical data API, which includes delivery figures the bhav copy
// lacks.
type SecurityWise struct {
	session   interfaces.Session
	endpoints common.EndpointsConfig
	logger    *common.Logger
}

var _ interfaces.SecuritySource = (*SecurityWise)(nil)

// NewSecurityWise creates a SecurityWise source
func NewSecurityWise(session interfaces.Session, endpoints common.EndpointsConfig, opts ...Option) *SecurityWise {
	scraper := New(session, endpoints, opts...)
	return &SecurityWise{
		session:   session,
		endpoints: endpoints,
		logger:    scraper.logger,
	}
}

// FetchSecurityHistory retrieves a symbol's price, volume and
// deliverable series over [start, end], chunked to the API's maximum
// span per request.
func (s *SecurityWise) FetchSecurityHistory(ctx context.Context, symbol string, start, end time.Time) ([]models.SeriesPoint, error) {
	symbol = models.NormalizeSymbol(symbol)
	if !models.ValidSymbol(symbol) {
		return nil, &common.InvalidSymbolError{Symbol: symbol, Reason: "not a valid NSE symbol"}
	}

	start, end, err := dateutil.ValidateRange(start, end)
	if err != nil {
		return nil, err
	}

	var points []models.SeriesPoint
	for _, chunk := range dateutil.ChunkRange(start, end, securityWiseMaxDays) {
		chunkPoints, err := s.fetchChunk(ctx, symbol, chunk.Start, chunk.End)
		if err != nil {
			var cerr *common.ConnectionError
			if common.IsDataNotFound(err) || (errors.As(err, &cerr) && cerr.NotFound()) {
				continue
			}
			return nil, err
		}
		points = append(points, chunkPoints...)
	}

	if len(points) == 0 {
		return nil, &common.DataNotFoundError{
			Message: "no security-wise data for symbol in range",
			Symbol:  symbol,
			Start:   start,
			End:     end,
		}
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

func (s *SecurityWise) fetchChunk(ctx context.Context, symbol string, start, end time.Time) ([]models.SeriesPoint, error) {
	query := url.Values{}
	query.Set("from", start.Format("02-01-2006"))
	query.Set("to", end.Format("02-01-2006"))
	query.Set("symbol", symbol)
	query.Set("type", "priceVolumeDeliverable")
	query.Set("series", "ALL")
	query.Set("csv", "true")

	endpoint := fmt.Sprintf("%s?%s", s.endpoints.SecurityWiseURL, query.Encode())
	body, err := s.session.GetCSV(ctx, endpoint, s.endpoints.SecurityWiseOrigin)
	if err != nil {
		return nil, err
	}

	return s.parseSecurityCSV(bytes.NewReader(body), symbol, start, end)
}

func (s *SecurityWise) parseSecurityCSV(r io.Reader, symbol string, start, end time.Time) ([]models.SeriesPoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &common.DataNotFoundError{Message: "empty security-wise response", Symbol: symbol, Start: start, End: end}
	}

	index := make(map[string]int, len(securityWiseColumns))
	for i, raw := range header {
		if canonical, ok := securityWiseColumns[cleanHeader(raw)]; ok {
			index[canonical] = i
		}
	}
	if _, ok := index[colDate]; !ok {
		return nil, &common.ParseError{
			Message: fmt.Sprintf("unrecognized security-wise header: %s", strings.Join(header, ",")),
		}
	}

	var points []models.SeriesPoint
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		// The ALL series response interleaves series; keep equities.
		if series := strings.ToUpper(field(colSeries)); series != "" && !models.EquitySeries[series] {
			continue
		}

		date, perr := dateutil.ParseDate(field(colDate))
		if perr != nil {
			continue
		}

		p := models.SeriesPoint{Date: date}
		var ok bool
		if p.Close, ok = parsePrice(field(colClose)); !ok {
			continue
		}
		p.Open, _ = parsePrice(field(colOpen))
		p.High, _ = parsePrice(field(colHigh))
		p.Low, _ = parsePrice(field(colLow))
		p.Last, _ = parsePrice(field(colLast))
		p.PrevClose, _ = parsePrice(field(colPrevClose))
		p.Value, _ = parsePrice(field(colValue))
		p.DeliveryPct, _ = parsePrice(field("delivery_pct"))
		p.Volume = parseCount(field(colVolume))
		p.Trades = parseCount(field(colTrades))
		p.DeliveryQty = parseCount(field("delivery_qty"))

		points = append(points, p)
	}

	return points, nil
}

// cleanHeader strips whitespace, non-breaking spaces and byte order
// marks from a header
func cleanHeader(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\u00A0' || r == '\uFEFF' {
			return ' '
		}
		return r
	}, raw)
	return strings.Join(strings.Fields(cleaned), " ")
}
