// ledger/schema.go
package ledger

const Schema = `
CREATE TABLE IF NOT EXISTS daily_results (
	date   TEXT PRIMARY KEY,
	pnl    REAL NOT NULL DEFAULT 0.0,
	trades INTEGER NOT NULL DEFAULT 0,
	result TEXT NOT NULL DEFAULT 'flat'
);

CREATE TABLE IF NOT EXISTS trade_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_date  TEXT NOT NULL,
	trade_index INTEGER NOT NULL,
	result      TEXT NOT NULL DEFAULT 'unknown',
	pnl         REAL,
	recorded_at TEXT NOT NULL,
	UNIQUE(trade_date, trade_index)
);

CREATE TABLE IF NOT EXISTS trade_ledger (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_date   TEXT NOT NULL,
	trade_index  INTEGER NOT NULL,
	result       TEXT NOT NULL DEFAULT 'unknown',
	pnl          REAL,
	close_reason TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT 'guard',
	recorded_at  TEXT NOT NULL,
	UNIQUE(trade_date, trade_index)
);

CREATE TABLE IF NOT EXISTS violation_log (
	id           TEXT PRIMARY KEY,
	event_time   TEXT NOT NULL,
	trade_date   TEXT,
	trade_index  INTEGER,
	rule_code    TEXT NOT NULL,
	severity     TEXT NOT NULL DEFAULT 'warn',
	message      TEXT NOT NULL,
	context_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS trade_analysis (
	trade_date        TEXT NOT NULL,
	trade_index       INTEGER NOT NULL,
	entry_reason      TEXT NOT NULL DEFAULT '',
	setup_tags        TEXT NOT NULL DEFAULT '[]',
	notes             TEXT NOT NULL DEFAULT '',
	mt5_screenshots   TEXT NOT NULL DEFAULT '{}',
	chart_screenshots TEXT NOT NULL DEFAULT '{}',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL,
	PRIMARY KEY (trade_date, trade_index)
);

CREATE INDEX IF NOT EXISTS idx_violation_log_date ON violation_log(trade_date);
`
