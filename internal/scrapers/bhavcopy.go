// Package scrapers fetches and parses NSE's published end-of-day files.
package scrapers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/dateutil"
	"github.com/bobmcallan/nsefeed/internal/interfaces"
	"github.com/bobmcallan/nsefeed/internal/models"
)

// Scraper fetches daily archive files through an NSE session
type Scraper struct {
	session   interfaces.Session
	endpoints common.EndpointsConfig
	logger    *common.Logger

	// filterSeries restricts snapshot rows to equity series when true
	filterSeries bool
}

var _ interfaces.SnapshotSource = (*Scraper)(nil)

// Option configures the Scraper
type Option func(*Scraper)

// WithLogger sets a custom logger
func WithLogger(logger *common.Logger) Option {
	return func(s *Scraper) {
		s.logger = logger
	}
}

// WithAllSeries disables the equity series filter so snapshots include
// every series NSE publishes (government securities, bonds, etc.)
func WithAllSeries() Option {
	return func(s *Scraper) {
		s.filterSeries = false
	}
}

// New creates a Scraper
func New(session interfaces.Session, endpoints common.EndpointsConfig, opts ...Option) *Scraper {
	s := &Scraper{
		session:      session,
		endpoints:    endpoints,
		logger:       common.NewSilentLogger(),
		filterSeries: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchSnapshot downloads and parses the equity bhav copy for one
// trading day. The UDiFF archive is tried first and the legacy archive
// second, since NSE backfilled old dates into the new format but the
// cutover date is not documented.
func (s *Scraper) FetchSnapshot(ctx context.Context, date time.Time) (*models.Snapshot, error) {
	date = dateutil.Midnight(date)

	if date.After(dateutil.Today()) {
		return nil, &common.DataNotFoundError{
			Message: "bhav copy date is in the future",
			Date:    date,
		}
	}
	if !dateutil.IsTradingDay(date) {
		return nil, &common.DataNotFoundError{
			Message: "no bhav copy on weekends",
			Date:    date,
		}
	}

	// Any failure on the UDiFF archive, a bad download or a bad ZIP
	// alike, falls through to the legacy archive. Only when both
	// formats fail is the day reported as unavailable.
	snapshot, err := s.fetchFormat(ctx, s.buildNewURL(date), date)
	if err == nil {
		return snapshot, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.logger.Debug().Err(err).Msg("UDiFF bhav copy unavailable, trying legacy archive")

	snapshot, err = s.fetchFormat(ctx, s.buildOldURL(date), date)
	if err == nil {
		return snapshot, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.logger.Debug().Err(err).Time("date", date).Msg("Bhav copy unavailable in both formats")

	return nil, &common.DataNotFoundError{
		Message: "bhav copy not published for this date (holiday or not yet available)",
		Date:    date,
	}
}

// fetchFormat downloads one archive URL and parses its contents
func (s *Scraper) fetchFormat(ctx context.Context, url string, date time.Time) (*models.Snapshot, error) {
	data, err := s.session.DownloadFile(ctx, url)
	if err != nil {
		return nil, err
	}
	rows, err := s.parseBhavZip(data, date)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &common.DataNotFoundError{Message: "bhav copy contained no usable rows", Date: date}
	}
	return &models.Snapshot{Date: date, Rows: rows}, nil
}

// buildNewURL renders the UDiFF archive URL for a date
func (s *Scraper) buildNewURL(date time.Time) string {
	return strings.ReplaceAll(s.endpoints.BhavCopyNewURL, "{date}", date.Format("20060102"))
}

// buildOldURL renders the legacy archive URL for a date
func (s *Scraper) buildOldURL(date time.Time) string {
	url := s.endpoints.BhavCopyOldURL
	url = strings.ReplaceAll(url, "{year}", date.Format("2006"))
	url = strings.ReplaceAll(url, "{month}", strings.ToUpper(date.Format("Jan")))
	url = strings.ReplaceAll(url, "{date}", strings.ToUpper(date.Format("02Jan2006")))
	return url
}

// parseBhavZip extracts the CSV inside a bhav copy ZIP and parses it
func (s *Scraper) parseBhavZip(data []byte, date time.Time) ([]models.SnapshotRow, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &common.ParseError{Message: "bhav copy is not a valid ZIP archive", Err: err}
	}

	var csvFile *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			csvFile = f
			break
		}
	}
	if csvFile == nil {
		return nil, &common.ParseError{Message: "bhav copy ZIP contains no CSV file"}
	}

	rc, err := csvFile.Open()
	if err != nil {
		return nil, &common.ParseError{Message: "failed to open CSV inside ZIP", Err: err}
	}
	defer rc.Close()

	return s.parseBhavCSV(rc, date)
}

func (s *Scraper) parseBhavCSV(r io.Reader, date time.Time) ([]models.SnapshotRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &common.ParseError{Message: "failed to read bhav copy header", Err: err}
	}

	index, ok := NormalizeColumns(header)
	if !ok {
		return nil, &common.ParseError{
			Message: fmt.Sprintf("unrecognized bhav copy header: %s", strings.Join(header, ",")),
		}
	}

	var (
		rows    []models.SnapshotRow
		skipped int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Archives occasionally contain ragged trailer lines.
			skipped++
			continue
		}

		row, ok := s.parseRecord(record, index, date)
		if !ok {
			skipped++
			continue
		}
		if s.filterSeries && !models.EquitySeries[row.Series] {
			continue
		}
		rows = append(rows, row)
	}

	if skipped > 0 {
		s.logger.Debug().Int("skipped", skipped).Time("date", date).Msg("Skipped malformed bhav copy rows")
	}
	return rows, nil
}

func (s *Scraper) parseRecord(record []string, index map[string]int, fallbackDate time.Time) (models.SnapshotRow, bool) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	symbol := models.NormalizeSymbol(field(colSymbol))
	if symbol == "" {
		return models.SnapshotRow{}, false
	}

	row := models.SnapshotRow{
		Symbol: symbol,
		Series: strings.ToUpper(field(colSeries)),
		ISIN:   field(colISIN),
	}

	row.Date = fallbackDate
	if raw := field(colDate); raw != "" {
		if d, err := dateutil.ParseDate(raw); err == nil {
			row.Date = d
		}
	}

	var ok bool
	if row.Open, ok = parsePrice(field(colOpen)); !ok {
		return models.SnapshotRow{}, false
	}
	if row.High, ok = parsePrice(field(colHigh)); !ok {
		return models.SnapshotRow{}, false
	}
	if row.Low, ok = parsePrice(field(colLow)); !ok {
		return models.SnapshotRow{}, false
	}
	if row.Close, ok = parsePrice(field(colClose)); !ok {
		return models.SnapshotRow{}, false
	}
	row.Last, _ = parsePrice(field(colLast))
	row.PrevClose, _ = parsePrice(field(colPrevClose))
	row.Value, _ = parsePrice(field(colValue))
	row.Volume = parseCount(field(colVolume))
	row.Trades = parseCount(field(colTrades))

	return row, true
}

// parsePrice parses a numeric field, tolerating thousands separators
// and the '-' placeholder NSE uses for absent values
func parsePrice(raw string) (decimal.Decimal, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" || cleaned == "-" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func parseCount(raw string) int64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if cleaned == "" || cleaned == "-" {
		return 0
	}
	// Counts sometimes come through as "123.0".
	if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return int64(f)
	}
	return 0
}
