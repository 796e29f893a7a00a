package scrapers

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/interfaces"
)

// fakeSession serves canned responses by URL and records every request.
type fakeSession struct {
	responses map[string][]byte
	requests  []string
}

func (f *fakeSession) lookup(url string) ([]byte, error) {
	f.requests = append(f.requests, url)
	if body, ok := f.responses[url]; ok {
		return body, nil
	}
	return nil, &common.ConnectionError{Message: "resource not found", URL: url, StatusCode: http.StatusNotFound}
}

func (f *fakeSession) Get(ctx context.Context, url string, opts ...interfaces.RequestOption) ([]byte, error) {
	return f.lookup(url)
}

func (f *fakeSession) GetJSON(ctx context.Context, url string, v any, opts ...interfaces.RequestOption) error {
	_, err := f.lookup(url)
	return err
}

func (f *fakeSession) GetCSV(ctx context.Context, url string, origin string, opts ...interfaces.RequestOption) ([]byte, error) {
	return f.lookup(url)
}

func (f *fakeSession) Post(ctx context.Context, url string, payload []byte, opts ...interfaces.RequestOption) ([]byte, error) {
	return f.lookup(url)
}

func (f *fakeSession) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	return f.lookup(url)
}

func (f *fakeSession) Reset()       {}
func (f *fakeSession) Close() error { return nil }

func zipWithCSV(t *testing.T, name, csvBody string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(csvBody)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

const newFormatCSV = `TradDt,BizDt,Sgmt,Src,FinInstrmTp,FinInstrmId,ISIN,TckrSymb,SctySrs,OpnPric,HghPric,LwPric,ClsPric,LastPric,PrvsClsgPric,TtlTradgVol,TtlTrfVal,TtlNbOfTxsExctd
2024-01-02,2024-01-02,CM,NSE,STK,2885,INE002A01018,RELIANCE,EQ,2500.00,2520.00,2495.00,2515.50,2515.00,2498.00,5000000,12577500000.00,150000
2024-01-02,2024-01-02,CM,NSE,STK,11536,INE467B01029,TCS,EQ,3600.00,3650.00,3590.00,3640.00,3641.00,3605.00,2000000,7280000000.00,80000
2024-01-02,2024-01-02,CM,NSE,STK,99999,INE000000000,SOMEBOND,GS,100.00,100.00,100.00,100.00,100.00,100.00,10,1000.00,2
`

const oldFormatCSV = `SYMBOL,SERIES,OPEN,HIGH,LOW,CLOSE,LAST,PREVCLOSE,TOTTRDQTY,TOTTRDVAL,TIMESTAMP,TOTALTRADES,ISIN
RELIANCE,EQ,2500.00,2520.00,2495.00,2515.50,2515.00,2498.00,5000000,12577500000.00,02-JAN-2024,150000,INE002A01018
SBIN,BE,600.00,610.00,598.00,605.00,604.50,601.00,3000000,1815000000.00,02-JAN-2024,90000,INE062A01020
`

func testEndpoints() common.EndpointsConfig {
	return common.NewDefaultConfig().Endpoints
}

func jan2() time.Time {
	return time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
}

func TestBuildURLs(t *testing.T) {
	s := New(&fakeSession{}, testEndpoints())
	date := jan2()

	wantNew := "https://nsearchives.nseindia.com/content/cm/BhavCopy_NSE_CM_0_0_0_20240102_F_0000.csv.zip"
	if got := s.buildNewURL(date); got != wantNew {
		t.Fatalf("buildNewURL = %s, want %s", got, wantNew)
	}

	wantOld := "https://archives.nseindia.com/content/historical/EQUITIES/2024/JAN/cm02JAN2024bhav.csv.zip"
	if got := s.buildOldURL(date); got != wantOld {
		t.Fatalf("buildOldURL = %s, want %s", got, wantOld)
	}
}

func TestNormalizeColumns(t *testing.T) {
	newHeader := []string{"TradDt", "TckrSymb", "SctySrs", "OpnPric", "HghPric", "LwPric", "ClsPric"}
	index, ok := NormalizeColumns(newHeader)
	if !ok {
		t.Fatal("new-format header not recognized")
	}
	if index[colSymbol] != 1 || index[colDate] != 0 {
		t.Fatalf("unexpected index: %v", index)
	}

	oldHeader := []string{"SYMBOL", "SERIES", "OPEN", "HIGH", "LOW", "CLOSE", "TIMESTAMP"}
	index, ok = NormalizeColumns(oldHeader)
	if !ok {
		t.Fatal("old-format header not recognized")
	}
	if index[colSymbol] != 0 || index[colClose] != 5 {
		t.Fatalf("unexpected index: %v", index)
	}

	if _, ok := NormalizeColumns([]string{"FOO", "BAR"}); ok {
		t.Fatal("nonsense header recognized")
	}

	// Header casing has drifted between publications; matching is
	// case-insensitive.
	mixedHeader := []string{"TRADDT", "tckrsymb", "SctySrs", "OpnPric", "hghpric", "LWPRIC", "ClsPric"}
	index, ok = NormalizeColumns(mixedHeader)
	if !ok {
		t.Fatal("mixed-case UDiFF header not recognized")
	}
	if index[colSymbol] != 1 || index[colLow] != 5 {
		t.Fatalf("unexpected index for mixed-case header: %v", index)
	}
}

func TestFetchSnapshotNewFormat(t *testing.T) {
	session := &fakeSession{responses: map[string][]byte{}}
	s := New(session, testEndpoints())
	session.responses[s.buildNewURL(jan2())] = zipWithCSV(t, "BhavCopy_NSE_CM_0_0_0_20240102_F_0000.csv", newFormatCSV)

	snapshot, err := s.FetchSnapshot(context.Background(), jan2())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}

	// The GS series row is filtered out.
	if len(snapshot.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(snapshot.Rows))
	}

	row := snapshot.RowsBySymbol()["RELIANCE"]
	if row.Symbol != "RELIANCE" || row.Series != "EQ" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.Close.String() != "2515.5" {
		t.Fatalf("close = %s, want 2515.5", row.Close)
	}
	if row.Volume != 5000000 || row.Trades != 150000 {
		t.Fatalf("volume/trades = %d/%d", row.Volume, row.Trades)
	}
	if !row.Date.Equal(jan2()) {
		t.Fatalf("date = %v", row.Date)
	}
	if row.ISIN != "INE002A01018" {
		t.Fatalf("isin = %s", row.ISIN)
	}
}

func TestFetchSnapshotFallbackToOldFormat(t *testing.T) {
	session := &fakeSession{responses: map[string][]byte{}}
	s := New(session, testEndpoints())
	// Only the legacy archive has the file.
	session.responses[s.buildOldURL(jan2())] = zipWithCSV(t, "cm02JAN2024bhav.csv", oldFormatCSV)

	snapshot, err := s.FetchSnapshot(context.Background(), jan2())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}

	if len(session.requests) != 2 {
		t.Fatalf("made %d requests, want 2 (new then old)", len(session.requests))
	}
	if session.requests[0] != s.buildNewURL(jan2()) || session.requests[1] != s.buildOldURL(jan2()) {
		t.Fatalf("request order: %v", session.requests)
	}

	if len(snapshot.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(snapshot.Rows))
	}
	sbin := snapshot.RowsBySymbol()["SBIN"]
	if sbin.Series != "BE" {
		t.Fatalf("SBIN series = %s, want BE", sbin.Series)
	}
	if !sbin.Date.Equal(jan2()) {
		t.Fatalf("SBIN date = %v, want parsed TIMESTAMP", sbin.Date)
	}
}

func TestFetchSnapshotNotPublished(t *testing.T) {
	session := &fakeSession{responses: map[string][]byte{}}
	s := New(session, testEndpoints())

	_, err := s.FetchSnapshot(context.Background(), jan2())
	if !common.IsDataNotFound(err) {
		t.Fatalf("err = %v, want DataNotFoundError", err)
	}
}

func TestFetchSnapshotRejectsWeekend(t *testing.T) {
	session := &fakeSession{responses: map[string][]byte{}}
	s := New(session, testEndpoints())

	// 2024-01-06 is a Saturday.
	saturday := time.Date(2024, time.January, 6, 0, 0, 0, 0, time.UTC)
	_, err := s.FetchSnapshot(context.Background(), saturday)
	if !common.IsDataNotFound(err) {
		t.Fatalf("weekend err = %v, want DataNotFoundError", err)
	}
	if len(session.requests) != 0 {
		t.Fatal("weekend fetch hit the network")
	}
}

func TestFetchSnapshotRejectsFuture(t *testing.T) {
	session := &fakeSession{responses: map[string][]byte{}}
	s := New(session, testEndpoints())

	_, err := s.FetchSnapshot(context.Background(), time.Now().UTC().AddDate(0, 0, 7))
	if !common.IsDataNotFound(err) {
		t.Fatalf("future err = %v, want DataNotFoundError", err)
	}
	if len(session.requests) != 0 {
		t.Fatal("future fetch hit the network")
	}
}

func TestFetchSnapshotBadZipFallsBack(t *testing.T) {
	session := &fakeSession{responses: map[string][]byte{}}
	s := New(session, testEndpoints())
	// The UDiFF URL answers 200 with junk; the legacy archive is good.
	session.responses[s.buildNewURL(jan2())] = []byte("<html>blocked</html>")
	session.responses[s.buildOldURL(jan2())] = zipWithCSV(t, "cm02JAN2024bhav.csv", oldFormatCSV)

	snapshot, err := s.FetchSnapshot(context.Background(), jan2())
	if err != nil {
		t.Fatalf("FetchSnapshot did not fall back on bad ZIP: %v", err)
	}
	if len(snapshot.Rows) != 2 {
		t.Fatalf("got %d rows, want 2 from legacy archive", len(snapshot.Rows))
	}
	if len(session.requests) != 2 {
		t.Fatalf("made %d requests, want 2 (new then old)", len(session.requests))
	}
}

func TestFetchSnapshotBadZipBothFormats(t *testing.T) {
	session := &fakeSession{responses: map[string][]byte{}}
	s := New(session, testEndpoints())
	session.responses[s.buildNewURL(jan2())] = []byte("not a zip")
	session.responses[s.buildOldURL(jan2())] = []byte("also not a zip")

	_, err := s.FetchSnapshot(context.Background(), jan2())
	if !common.IsDataNotFound(err) {
		t.Fatalf("err = %v, want DataNotFoundError when both formats are unusable", err)
	}
}

func TestWithAllSeriesKeepsEveryRow(t *testing.T) {
	session := &fakeSession{responses: map[string][]byte{}}
	s := New(session, testEndpoints(), WithAllSeries())
	session.responses[s.buildNewURL(jan2())] = zipWithCSV(t, "bhav.csv", newFormatCSV)

	snapshot, err := s.FetchSnapshot(context.Background(), jan2())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if len(snapshot.Rows) != 3 {
		t.Fatalf("got %d rows with series filter off, want 3", len(snapshot.Rows))
	}
}
