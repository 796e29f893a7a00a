package nsefeed

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/interfaces"
)

// stubSession serves canned archive files without touching the network.
type stubSession struct {
	responses map[string][]byte
	downloads int
}

func (s *stubSession) Get(ctx context.Context, url string, opts ...interfaces.RequestOption) ([]byte, error) {
	return s.DownloadFile(ctx, url)
}

func (s *stubSession) GetJSON(ctx context.Context, url string, v any, opts ...interfaces.RequestOption) error {
	return &common.ConnectionError{Message: "resource not found", URL: url, StatusCode: http.StatusNotFound}
}

func (s *stubSession) GetCSV(ctx context.Context, url string, origin string, opts ...interfaces.RequestOption) ([]byte, error) {
	return s.DownloadFile(ctx, url)
}

func (s *stubSession) Post(ctx context.Context, url string, payload []byte, opts ...interfaces.RequestOption) ([]byte, error) {
	return s.DownloadFile(ctx, url)
}

func (s *stubSession) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	s.downloads++
	if body, ok := s.responses[url]; ok {
		return body, nil
	}
	return nil, &common.ConnectionError{Message: "resource not found", URL: url, StatusCode: http.StatusNotFound}
}

func (s *stubSession) Reset()       {}
func (s *stubSession) Close() error { return nil }

func bhavZip(t *testing.T, csvBody string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("bhav.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(csvBody))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func bhavCSVFor(date time.Time) string {
	d := date.Format("2006-01-02")
	return fmt.Sprintf(`TradDt,TckrSymb,SctySrs,OpnPric,HghPric,LwPric,ClsPric,LastPric,PrvsClsgPric,TtlTradgVol,TtlTrfVal,TtlNbOfTxsExctd,ISIN
%s,RELIANCE,EQ,2500.00,2520.00,2495.00,2515.50,2515.00,2498.00,5000000,12577500000.00,150000,INE002A01018
%s,TCS,EQ,3600.00,3650.00,3590.00,3640.00,3641.00,3605.00,2000000,7280000000.00,80000,INE467B01029
`, d, d)
}

func newBhavURL(date time.Time) string {
	return fmt.Sprintf("https://nsearchives.nseindia.com/content/cm/BhavCopy_NSE_CM_0_0_0_%s_F_0000.csv.zip", date.Format("20060102"))
}

func newTestClient(t *testing.T, session interfaces.Session) *Client {
	t.Helper()

	client, err := New(
		WithSession(session),
		WithCacheDir(t.TempDir()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func TestClientFetchSnapshot(t *testing.T) {
	date := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	session := &stubSession{responses: map[string][]byte{
		newBhavURL(date): bhavZip(t, bhavCSVFor(date)),
	}}
	client := newTestClient(t, session)

	snapshot, err := client.FetchSnapshot(context.Background(), date)
	require.NoError(t, err)
	assert.Len(t, snapshot.Rows, 2)
	assert.Equal(t, "2515.5", snapshot.RowsBySymbol()["RELIANCE"].Close.String())
}

func TestClientHistoryThroughCache(t *testing.T) {
	// Tue 2024-01-02 and Wed 2024-01-03 published.
	dates := []time.Time{
		time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.January, 3, 0, 0, 0, 0, time.UTC),
	}
	session := &stubSession{responses: map[string][]byte{}}
	for _, d := range dates {
		session.responses[newBhavURL(d)] = bhavZip(t, bhavCSVFor(d))
	}
	client := newTestClient(t, session)
	ctx := context.Background()

	history, err := client.Ticker("RELIANCE").History(ctx, WithRange(dates[0], dates[1]))
	require.NoError(t, err)
	assert.Len(t, history.Points, 2)

	downloadsAfterFirst := session.downloads

	// The same range again must be served from the cache.
	history, err = client.Ticker("RELIANCE").History(ctx, WithRange(dates[0], dates[1]))
	require.NoError(t, err)
	assert.Len(t, history.Points, 2)
	assert.Equal(t, downloadsAfterFirst, session.downloads, "second call should not download")

	stats, err := client.CacheStats(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.EqualValues(t, 2, stats.OHLCRows)
}

func TestClientHistoryPeriodAndRangeExclusive(t *testing.T) {
	client := newTestClient(t, &stubSession{})

	_, err := client.Ticker("RELIANCE").History(context.Background(),
		WithPeriod("1mo"),
		WithRange(time.Now().AddDate(0, -2, 0), time.Now()),
	)
	require.Error(t, err)
}

func TestClientClearAndStats(t *testing.T) {
	date := time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC)
	session := &stubSession{responses: map[string][]byte{
		newBhavURL(date): bhavZip(t, bhavCSVFor(date)),
	}}
	client := newTestClient(t, session)
	ctx := context.Background()

	_, err := client.Ticker("TCS").History(ctx, WithRange(date, date))
	require.NoError(t, err)

	require.NoError(t, client.ClearSymbol(ctx, "TCS"))
	stats, err := client.CacheStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.OHLCRows)

	require.NoError(t, client.ClearAll(ctx))
	_, err = client.ClearExpired(ctx)
	require.NoError(t, err)
}

func TestClientWithoutCache(t *testing.T) {
	client, err := New(WithSession(&stubSession{}), WithoutCache())
	require.NoError(t, err)
	defer client.Close()

	stats, err := client.CacheStats(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stats)
}
