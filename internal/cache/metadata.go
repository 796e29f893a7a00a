package cache

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"

	"github.com/bobmcallan/nsefeed/internal/common"
	"github.com/bobmcallan/nsefeed/internal/models"
)

// SetMetadata stores an opaque value under key with a TTL. The expiry
// is always now+ttl, so a non-positive TTL stores an entry that is
// already expired and absent on the next read.
func (s *Store) SetMetadata(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl).Unix()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata_cache (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, value, expiresAt, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return &common.CacheError{Op: "set_metadata", Err: err}
	}
	return nil
}

// GetMetadata returns the value for key, or ok=false when absent or
// expired. Expired entries are removed on read.
func (s *Store) GetMetadata(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM metadata_cache WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &common.CacheError{Op: "get_metadata", Err: err}
	}

	if time.Now().Unix() >= expiresAt {
		if derr := s.DeleteMetadata(ctx, key); derr != nil {
			s.logger.Warn().Err(derr).Str("key", key).Msg("Failed to delete expired cache entry")
		}
		return nil, false, nil
	}

	return value, true, nil
}

// DeleteMetadata removes a metadata entry
func (s *Store) DeleteMetadata(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM metadata_cache WHERE key = ?`, key); err != nil {
		return &common.CacheError{Op: "delete_metadata", Err: err}
	}
	return nil
}

// ClearExpired removes all expired metadata entries
func (s *Store) ClearExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM metadata_cache WHERE expires_at <= ?`,
		time.Now().Unix())
	if err != nil {
		return 0, &common.CacheError{Op: "clear_expired", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearSymbol removes all cached rows for one symbol
func (s *Store) ClearSymbol(ctx context.Context, symbol string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM ohlc_data WHERE symbol = ?`, symbol); err != nil {
		return &common.CacheError{Op: "clear_symbol", Err: err}
	}
	return nil
}

// ClearAll empties the cache
func (s *Store) ClearAll(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"ohlc_data", "index_data", "metadata_cache"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &common.CacheError{Op: "clear_all", Err: err}
	}
	return nil
}

// Stats reports cache contents and size
func (s *Store) Stats(ctx context.Context) (*models.CacheStats, error) {
	stats := &models.CacheStats{
		Path:          s.path,
		SchemaVersion: schemaVersion,
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = info.Size()
	}

	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM ohlc_data`, &stats.OHLCRows},
		{`SELECT COUNT(*) FROM index_data`, &stats.IndexRows},
		{`SELECT COUNT(*) FROM metadata_cache`, &stats.MetadataRows},
		{`SELECT COUNT(DISTINCT symbol) FROM ohlc_data`, &stats.Symbols},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, &common.CacheError{Op: "stats", Err: err}
		}
	}

	var oldest, newest sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(date), MAX(date) FROM ohlc_data`).Scan(&oldest, &newest); err != nil {
		return nil, &common.CacheError{Op: "stats", Err: err}
	}
	if oldest.Valid {
		stats.OldestDate, _ = time.Parse(dateLayout, oldest.String)
	}
	if newest.Valid {
		stats.NewestDate, _ = time.Parse(dateLayout, newest.String)
	}

	// Informational only; ignore the error if the pragma misbehaves.
	_ = s.db.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&stats.JournalMode)

	return stats, nil
}
