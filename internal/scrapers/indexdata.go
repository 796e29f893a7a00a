package scrapers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/dateutil"
	"github.com/bobmcallan/nsefeed/internal/models"
)

// indexColumns maps ind_close_all headers to canonical names. NSE's
// headers here carry embedded spaces and punctuation.
var indexColumns = map[string]string{
	"Index Name":          "index",
	"Index Date":          "date",
	"Open Index Value":    "open",
	"High Index Value":    "high",
	"Low Index Value":     "low",
	"Closing Index Value": "close",
	"Points Change":       "point_change",
	"Change(%)":           "change_pct",
	"Volume":              "volume",
	"Turnover (Rs. Cr.)":  "turnover",
	"P/E":                 "pe",
	"P/B":                 "pb",
	"Div Yield":           "div_yield",
}

// FetchIndexDay downloads the all-index close file for one trading day
func (s *Scraper) FetchIndexDay(ctx context.Context, date time.Time) ([]models.IndexPoint, error) {
	date = dateutil.Midnight(date)

	if date.After(dateutil.Today()) {
		return nil, &common.DataNotFoundError{Message: "index file date is in the future", Date: date}
	}
	if !dateutil.IsTradingDay(date) {
		return nil, &common.DataNotFoundError{Message: "no index data on weekends", Date: date}
	}

	url := strings.ReplaceAll(s.endpoints.IndexHistoricalURL, "{date}", date.Format("02012006"))
	data, err := s.session.DownloadFile(ctx, url)
	if err != nil {
		var cerr *common.ConnectionError
		if errors.As(err, &cerr) && cerr.NotFound() {
			return nil, &common.DataNotFoundError{Message: "index file not published for this date", Date: date}
		}
		return nil, err
	}

	points, err := s.parseIndexCSV(bytes.NewReader(data), date)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, &common.DataNotFoundError{Message: "index file contained no usable rows", Date: date}
	}
	return points, nil
}

func (s *Scraper) parseIndexCSV(r io.Reader, date time.Time) ([]models.IndexPoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, &common.ParseError{Message: "failed to read index file header", Err: err}
	}

	index := make(map[string]int, len(indexColumns))
	for i, raw := range header {
		if canonical, ok := indexColumns[strings.TrimSpace(raw)]; ok {
			index[canonical] = i
		}
	}
	if _, ok := index["index"]; !ok {
		return nil, &common.ParseError{Message: "unrecognized index file header"}
	}

	var points []models.IndexPoint
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

		name := field("index")
		if name == "" {
			continue
		}

		p := models.IndexPoint{Index: name, Date: date}
		if raw := field("date"); raw != "" {
			if d, perr := dateutil.ParseDate(raw); perr == nil {
				p.Date = d
			}
		}

		var ok bool
		if p.Close, ok = parsePrice(field("close")); !ok {
			continue
		}
		p.Open, _ = parsePrice(field("open"))
		p.High, _ = parsePrice(field("high"))
		p.Low, _ = parsePrice(field("low"))
		p.Turnover, _ = parsePrice(field("turnover"))
		p.PE, _ = parsePrice(field("pe"))
		p.PB, _ = parsePrice(field("pb"))
		p.DivYield, _ = parsePrice(field("div_yield"))
		p.ChangePct, _ = parsePrice(field("change_pct"))
		p.PointChange, _ = parsePrice(field("point_change"))
		p.Volume = parseCount(field("volume"))

		points = append(points, p)
	}

	return points, nil
}
