package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ingested_items (
	id                  TEXT PRIMARY KEY,
	source_id           TEXT NOT NULL,
	item_id             TEXT NOT NULL,
	item_hash           TEXT,
	task_id             TEXT NOT NULL DEFAULT '',
	title               TEXT NOT NULL DEFAULT '',
	origin_adapter_type TEXT NOT NULL DEFAULT '',
	origin_channel_id   TEXT NOT NULL DEFAULT '',
	origin_sender_id    TEXT NOT NULL DEFAULT '',
	origin_thread_id    TEXT NOT NULL DEFAULT '',
	origin_metadata     TEXT NOT NULL DEFAULT '',
	ingested_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_id, item_id)
);

CREATE TABLE IF NOT EXISTS adapter_state (
	source_id  TEXT PRIMARY KEY,
	state_json TEXT NOT NULL DEFAULT '{}',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS poll_log (
	id          TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL,
	poll_at     DATETIME NOT NULL,
	items_found INTEGER NOT NULL DEFAULT 0,
	items_new   INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS thread_replies (
	id             TEXT PRIMARY KEY,
	source_id      TEXT NOT NULL,
	parent_item_id TEXT NOT NULL,
	parent_ts      DATETIME NOT NULL,
	task_id        TEXT NOT NULL DEFAULT '',
	last_reply_ts  DATETIME NOT NULL,
	reply_count    INTEGER NOT NULL DEFAULT 0,
	active         INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1)),
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(source_id, parent_item_id)
);

CREATE INDEX IF NOT EXISTS idx_ingested_items_source_id ON ingested_items(source_id);
CREATE INDEX IF NOT EXISTS idx_ingested_items_ingested_at ON ingested_items(ingested_at);
CREATE INDEX IF NOT EXISTS idx_poll_log_source_id ON poll_log(source_id, poll_at);
CREATE INDEX IF NOT EXISTS idx_thread_replies_active ON thread_replies(source_id, active);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
