package common

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionError reports a network or HTTP failure talking to NSE.
// When returned from the session's retry loop it already reflects
// exhausted retries and is not worth retrying again by the caller.
type ConnectionError struct {
	Message    string
	URL        string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "failed to connect to NSE"
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.URL != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.URL)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// NotFound reports whether the upstream answered 404 for the resource.
func (e *ConnectionError) NotFound() bool { return e.StatusCode == 404 }

// SessionError reports a failed or rejected cookie handshake. The
// session refreshes itself before raising it, so an immediate retry of
// the original request is the expected recovery.
type SessionError struct {
	Message string
	Err     error
}

func (e *SessionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "session handshake failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }

// RateLimitError reports upstream throttling (HTTP 429) and carries the
// server-advertised wait before the next attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by NSE, retry after %s", e.RetryAfter)
}

// DataNotFoundError reports that no data exists for the requested key.
// This is the benign outcome for holidays and unpublished dates.
type DataNotFoundError struct {
	Message string
	Symbol  string
	Date    time.Time
	Start   time.Time
	End     time.Time
}

func (e *DataNotFoundError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "requested data not found"
	}
	if e.Symbol != "" {
		msg = fmt.Sprintf("%s: symbol %s", msg, e.Symbol)
	}
	if !e.Date.IsZero() {
		msg = fmt.Sprintf("%s on %s", msg, e.Date.Format("2006-01-02"))
	}
	if !e.Start.IsZero() && !e.End.IsZero() {
		msg = fmt.Sprintf("%s in range %s to %s", msg,
			e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"))
	}
	return msg
}

// InvalidSymbolError reports a malformed instrument symbol.
type InvalidSymbolError struct {
	Symbol string
	Reason string
}

func (e *InvalidSymbolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid NSE symbol %q: %s", e.Symbol, e.Reason)
	}
	return fmt.Sprintf("invalid NSE symbol %q", e.Symbol)
}

// InvalidDateError reports an unparseable date, an unknown period name,
// or an unusable date range.
type InvalidDateError struct {
	Message string
	Input   string
}

func (e *InvalidDateError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("%s: %q", e.Message, e.Input)
	}
	return e.Message
}

// CacheError reports a local storage failure. Cache failures never fail
// a fetch that already has data; they only abort the cache operation.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// ParseError reports malformed archive or CSV contents.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsDataNotFound reports whether err is a DataNotFoundError.
func IsDataNotFound(err error) bool {
	var dnf *DataNotFoundError
	return errors.As(err, &dnf)
}

// IsConnectionError reports whether err is a ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsRateLimited reports whether err is a RateLimitError.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsSessionError reports whether err is a SessionError.
func IsSessionError(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}
