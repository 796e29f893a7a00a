package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobmcallan/nsefeed/internal/common"
)

// testServer wires a handler into a config whose base URL points at it.
func testServer(t *testing.T, handler http.Handler) (*httptest.Server, *common.Config) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := common.NewDefaultConfig()
	cfg.Endpoints.BaseURL = server.URL
	cfg.Session.MinRequestDelay = "1ms"
	cfg.Session.InitialRetryDelay = "1ms"
	cfg.Session.RequestTimeout = "5s"
	return server, cfg
}

func newTestManager(t *testing.T, cfg *common.Config) *Manager {
	t.Helper()

	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		m.Close()
	})
	return m
}

func TestHandshakeBeforeFirstRequest(t *testing.T) {
	var homeHits, dataHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		homeHits.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "nsit", Value: "abc"})
		w.Write([]byte("<html>home</html>"))
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		dataHits.Add(1)
		if c, err := r.Cookie("nsit"); err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	server, cfg := testServer(t, mux)
	m := newTestManager(t, cfg)

	body, err := m.Get(context.Background(), server.URL+"/api/data")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("body = %s", body)
	}
	if homeHits.Load() != 1 {
		t.Fatalf("homepage hit %d times, want 1 handshake", homeHits.Load())
	}

	// A second request reuses the handshake.
	if _, err := m.Get(context.Background(), server.URL+"/api/data"); err != nil {
		t.Fatalf("Get (second): %v", err)
	}
	if homeHits.Load() != 1 {
		t.Fatalf("homepage hit %d times after second request, want 1", homeHits.Load())
	}
}

func TestPostSendsPayload(t *testing.T) {
	var gotMethod, gotContentType, gotBody string

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>home</html>"))
	})
	mux.HandleFunc("/api/submit", func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"accepted":true}`))
	})

	server, cfg := testServer(t, mux)
	m := newTestManager(t, cfg)

	body, err := m.Post(context.Background(), server.URL+"/api/submit", []byte(`{"symbol":"TCS"}`))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if string(body) != `{"accepted":true}` {
		t.Fatalf("body = %s", body)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %s, want POST", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if gotBody != `{"symbol":"TCS"}` {
		t.Fatalf("payload = %s", gotBody)
	}
}

func TestSessionRejectionTriggersRehandshake(t *testing.T) {
	var homeHits, dataHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		homeHits.Add(1)
		w.Write([]byte("home"))
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		// First call is rejected, the retry succeeds.
		if dataHits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	})

	server, cfg := testServer(t, mux)
	m := newTestManager(t, cfg)

	body, err := m.Get(context.Background(), server.URL+"/api/data")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("body = %s", body)
	}
	if dataHits.Load() != 2 {
		t.Fatalf("data hit %d times, want 2", dataHits.Load())
	}
	// Initial handshake plus exactly one re-handshake.
	if homeHits.Load() != 2 {
		t.Fatalf("homepage hit %d times, want 2", homeHits.Load())
	}
}

func TestRateLimitedRequestHonorsRetryAfter(t *testing.T) {
	var dataHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("home"))
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		if dataHits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	})

	server, cfg := testServer(t, mux)
	m := newTestManager(t, cfg)

	startedAt := time.Now()
	body, err := m.Get(context.Background(), server.URL+"/api/data")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("body = %s", body)
	}
	if elapsed := time.Since(startedAt); elapsed < time.Second {
		t.Fatalf("retried after %v, want at least the 1s Retry-After", elapsed)
	}
}

func TestRetriesExhaust(t *testing.T) {
	var dataHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("home"))
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		dataHits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	server, cfg := testServer(t, mux)
	cfg.Session.MaxRetries = 2
	m := newTestManager(t, cfg)

	_, err := m.Get(context.Background(), server.URL+"/api/data")
	if !common.IsConnectionError(err) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
	// Initial attempt plus two retries.
	if dataHits.Load() != 3 {
		t.Fatalf("data hit %d times, want 3", dataHits.Load())
	}
}

func TestExhaustedRateLimitSurfacesConnectionError(t *testing.T) {
	var dataHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("home"))
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		dataHits.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	server, cfg := testServer(t, mux)
	cfg.Session.MaxRetries = 1
	m := newTestManager(t, cfg)

	_, err := m.Get(context.Background(), server.URL+"/api/data")
	if !common.IsConnectionError(err) {
		t.Fatalf("err = %v, want ConnectionError after exhausted retries", err)
	}
	// The throttling that caused the failure stays visible in the chain.
	if !common.IsRateLimited(err) {
		t.Fatalf("err = %v, want wrapped RateLimitError", err)
	}
	if dataHits.Load() != 2 {
		t.Fatalf("data hit %d times, want 2", dataHits.Load())
	}
}

func TestSessionErrorRetriesWithoutBackoff(t *testing.T) {
	var dataHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("home"))
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		if dataHits.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("ok"))
	})

	server, cfg := testServer(t, mux)
	// A backoff sleep after the rejection would dominate the wall time.
	cfg.Session.InitialRetryDelay = "2s"
	m := newTestManager(t, cfg)

	startedAt := time.Now()
	body, err := m.Get(context.Background(), server.URL+"/api/data")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("body = %s", body)
	}
	if elapsed := time.Since(startedAt); elapsed > time.Second {
		t.Fatalf("session rejection retried after %v, want an immediate retry", elapsed)
	}
	if dataHits.Load() != 2 {
		t.Fatalf("data hit %d times, want 2", dataHits.Load())
	}
}

func TestNotFoundDoesNotRetry(t *testing.T) {
	var dataHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("home"))
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		dataHits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	server, cfg := testServer(t, mux)
	m := newTestManager(t, cfg)

	_, err := m.Get(context.Background(), server.URL+"/api/data")
	if !common.IsConnectionError(err) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
	if dataHits.Load() != 1 {
		t.Fatalf("data hit %d times, want 1 (no retries on 404)", dataHits.Load())
	}
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	server, cfg := testServer(t, mux)
	cfg.Session.MinRequestDelay = "100ms"
	m := newTestManager(t, cfg)

	startedAt := time.Now()
	for i := 0; i < 5; i++ {
		if _, err := m.Get(context.Background(), server.URL+"/"); err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
	}
	// Five requests at 100ms spacing need at least 400ms.
	if elapsed := time.Since(startedAt); elapsed < 400*time.Millisecond {
		t.Fatalf("5 requests took %v, want at least 400ms", elapsed)
	}
}

func TestGetCSVRejectsHTML(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("home"))
	})
	mux.HandleFunc("/api/csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!DOCTYPE html><html>access denied</html>"))
	})

	server, cfg := testServer(t, mux)
	m := newTestManager(t, cfg)

	_, err := m.GetCSV(context.Background(), server.URL+"/api/csv", "")
	if !common.IsConnectionError(err) {
		t.Fatalf("err = %v, want ConnectionError for HTML body", err)
	}
}

func TestGetCSVVisitsOriginOnce(t *testing.T) {
	var originHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("home"))
	})
	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		originHits.Add(1)
		w.Write([]byte("report page"))
	})
	mux.HandleFunc("/api/csv", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Date,Close\n02-Jan-2024,100\n"))
	})

	server, cfg := testServer(t, mux)
	m := newTestManager(t, cfg)

	origin := server.URL + "/report"
	for i := 0; i < 3; i++ {
		if _, err := m.GetCSV(context.Background(), server.URL+"/api/csv", origin); err != nil {
			t.Fatalf("GetCSV %d: %v", i, err)
		}
	}
	if originHits.Load() != 1 {
		t.Fatalf("origin visited %d times, want 1", originHits.Load())
	}
}

func TestResetForcesNewHandshake(t *testing.T) {
	var homeHits atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		homeHits.Add(1)
		w.Write([]byte("home"))
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	server, cfg := testServer(t, mux)
	m := newTestManager(t, cfg)

	if _, err := m.Get(context.Background(), server.URL+"/api/data"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	m.Reset()
	if _, err := m.Get(context.Background(), server.URL+"/api/data"); err != nil {
		t.Fatalf("Get after Reset: %v", err)
	}
	if homeHits.Load() != 2 {
		t.Fatalf("homepage hit %d times, want 2", homeHits.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Fatalf("parseRetryAfter(30) = %v", got)
	}
	if got := parseRetryAfter(""); got != defaultRetryAfter {
		t.Fatalf("parseRetryAfter(empty) = %v", got)
	}
	if got := parseRetryAfter("garbage"); got != defaultRetryAfter {
		t.Fatalf("parseRetryAfter(garbage) = %v", got)
	}
}

func TestBackoffGrows(t *testing.T) {
	cfg := common.NewDefaultConfig()
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	first := m.backoff(1)
	second := m.backoff(2)
	third := m.backoff(3)
	if first != time.Second {
		t.Fatalf("first backoff = %v, want 1s", first)
	}
	if second <= first || third <= second {
		t.Fatalf("backoff not growing: %v, %v, %v", first, second, third)
	}
}
