package session

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/interfaces"
)

// originVisitTTL is how long a report-page visit stays good for. CSV
// endpoints under a report page want that page's cookies; visiting it
// on every download would double the request count for nothing.
const originVisitTTL = 5 * time.Minute

// GetCSV fetches a CSV endpoint. The owning report page is visited
// first so the endpoint sees the cookies it expects, and the body is
// decoded to UTF-8 since the archive hosts serve legacy encodings.
func (m *Manager) GetCSV(ctx context.Context, url string, origin string, opts ...interfaces.RequestOption) ([]byte, error) {
	if origin != "" {
		if err := m.visitOrigin(ctx, origin); err != nil {
			return nil, err
		}
		opts = append(opts, func(p *interfaces.RequestParams) {
			if p.Referer == "" {
				p.Referer = origin
			}
		})
	}

	body, err := m.Get(ctx, url, opts...)
	if err != nil {
		return nil, err
	}

	// A WAF block page comes back as 200 with HTML. Reset the cookies
	// so the next call re-handshakes, but surface it as a connection
	// failure since the response itself is unusable.
	if looksLikeHTML(body) {
		m.Reset()
		return nil, &common.ConnectionError{
			Message: "received HTML instead of CSV, session likely blocked",
			URL:     url,
		}
	}

	return decodeToUTF8(body)
}

func (m *Manager) visitOrigin(ctx context.Context, origin string) error {
	m.mu.Lock()
	last, seen := m.originVisits[origin]
	fresh := seen && time.Since(last) < originVisitTTL
	m.mu.Unlock()

	if fresh {
		return nil
	}

	headers := handshakeHeaders(m.currentUserAgent())
	if _, err := m.do(ctx, http.MethodGet, origin, nil, headers, interfaces.RequestParams{}, m.client); err != nil {
		return err
	}

	m.mu.Lock()
	m.originVisits[origin] = time.Now()
	m.mu.Unlock()
	return nil
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 256)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// decodeToUTF8 returns the body as valid UTF-8, reinterpreting legacy
// single-byte encodings when necessary
func decodeToUTF8(body []byte) ([]byte, error) {
	if utf8.Valid(body) {
		return body, nil
	}
	if decoded, err := charmap.Windows1252.NewDecoder().Bytes(body); err == nil {
		return decoded, nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(body)
	if err != nil {
		return nil, &common.ParseError{Message: "could not decode response body to UTF-8", Err: err}
	}
	return decoded, nil
}
