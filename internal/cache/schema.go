package cache

// schemaVersion is written to PRAGMA user_version after migration.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS ohlc_data (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol       TEXT NOT NULL,
	series       TEXT NOT NULL DEFAULT '',
	date         TEXT NOT NULL,
	open         TEXT NOT NULL DEFAULT '0',
	high         TEXT NOT NULL DEFAULT '0',
	low          TEXT NOT NULL DEFAULT '0',
	close        TEXT NOT NULL DEFAULT '0',
	last         TEXT NOT NULL DEFAULT '0',
	prev_close   TEXT NOT NULL DEFAULT '0',
	volume       INTEGER NOT NULL DEFAULT 0,
	value        TEXT NOT NULL DEFAULT '0',
	trades       INTEGER NOT NULL DEFAULT 0,
	delivery_qty INTEGER NOT NULL DEFAULT 0,
	delivery_pct TEXT NOT NULL DEFAULT '0',
	isin         TEXT NOT NULL DEFAULT '',
	updated_at   TEXT NOT NULL,
	UNIQUE(symbol, date)
);

CREATE INDEX IF NOT EXISTS idx_ohlc_symbol_date ON ohlc_data(symbol, date);
CREATE INDEX IF NOT EXISTS idx_ohlc_date ON ohlc_data(date);

CREATE TABLE IF NOT EXISTS index_data (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	index_name   TEXT NOT NULL,
	date         TEXT NOT NULL,
	open         TEXT NOT NULL DEFAULT '0',
	high         TEXT NOT NULL DEFAULT '0',
	low          TEXT NOT NULL DEFAULT '0',
	close        TEXT NOT NULL DEFAULT '0',
	volume       INTEGER NOT NULL DEFAULT 0,
	turnover     TEXT NOT NULL DEFAULT '0',
	pe           TEXT NOT NULL DEFAULT '0',
	pb           TEXT NOT NULL DEFAULT '0',
	div_yield    TEXT NOT NULL DEFAULT '0',
	change_pct   TEXT NOT NULL DEFAULT '0',
	point_change TEXT NOT NULL DEFAULT '0',
	updated_at   TEXT NOT NULL,
	UNIQUE(index_name, date)
);

CREATE INDEX IF NOT EXISTS idx_index_name_date ON index_data(index_name, date);

CREATE TABLE IF NOT EXISTS metadata_cache (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);
`
