package store

// migration is one schema step, applied when the stored version is lower
type migration struct {
	version int
	sql     string
}

// migrations must stay ordered with sequential versions starting at 1
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS event_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  DATETIME NOT NULL,
	event_type TEXT NOT NULL,
	message    TEXT NOT NULL,
	details    TEXT
);

CREATE INDEX IF NOT EXISTS idx_event_logs_timestamp ON event_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_event_logs_event_type ON event_logs(event_type);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS geocoding_cache (
	query_address TEXT PRIMARY KEY,
	latitude      REAL NOT NULL,
	longitude     REAL NOT NULL,
	raw_response  BLOB,
	cached_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_geocoding_cache_cached_at ON geocoding_cache(cached_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
