package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/taskwire/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// AcceptItem inserts one ingested-item row, ignoring the insert when a row
// for (source_id, item_id) already exists. The UNIQUE constraint is the
// sole dedup decision; a duplicate is a normal no-op, not an error.
func (s *SQLiteStore) AcceptItem(
	ctx context.Context,
	sourceID string,
	item model.Item,
) (bool, error) {
	var hash sql.NullString
	if item.Hash != "" {
		hash = sql.NullString{String: item.Hash, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ingested_items (
			id, source_id, item_id, item_hash, title,
			origin_adapter_type, origin_channel_id, origin_sender_id,
			origin_thread_id, origin_metadata, ingested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), sourceID, item.ID, hash, item.Title,
		item.Origin.AdapterType, item.Origin.ChannelID, item.Origin.SenderID,
		item.Origin.ThreadID, item.Origin.Metadata, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("accepting item %s/%s: %w", sourceID, item.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking accept result for %s/%s: %w", sourceID, item.ID, err)
	}

	return n > 0, nil
}

// SetTaskID records the downstream work item id for an accepted item.
func (s *SQLiteStore) SetTaskID(
	ctx context.Context,
	sourceID, itemID, taskID string,
) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE ingested_items SET task_id = ? WHERE source_id = ? AND item_id = ?",
		taskID, sourceID, itemID,
	)
	if err != nil {
		return fmt.Errorf("setting task id for %s/%s: %w", sourceID, itemID, err)
	}
	return nil
}

// GetState returns the persisted adapter state for a source, defaulting
// to an empty JSON object when no row exists.
func (s *SQLiteStore) GetState(
	ctx context.Context,
	sourceID string,
) (json.RawMessage, error) {
	var stateJSON string
	err := s.db.GetContext(ctx, &stateJSON,
		"SELECT state_json FROM adapter_state WHERE source_id = ?", sourceID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return json.RawMessage(`{}`), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state for %s: %w", sourceID, err)
	}

	return json.RawMessage(stateJSON), nil
}

// SaveState upserts the adapter state blob for a source. The engine never
// inspects the contents; whatever the adapter returned is stored verbatim.
func (s *SQLiteStore) SaveState(
	ctx context.Context,
	sourceID string,
	state json.RawMessage,
) error {
	if len(state) == 0 {
		state = json.RawMessage(`{}`)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adapter_state (source_id, state_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			state_json = excluded.state_json,
			updated_at = excluded.updated_at`,
		sourceID, string(state), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving state for %s: %w", sourceID, err)
	}

	return nil
}

// AppendPollLog appends one poll-attempt row to the audit trail.
func (s *SQLiteStore) AppendPollLog(
	ctx context.Context,
	entry PollLogEntry,
) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	var errText sql.NullString
	if entry.Error != nil {
		errText = sql.NullString{String: *entry.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_log (id, source_id, poll_at, items_found, items_new, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SourceID, entry.PolledAt.UTC(),
		entry.ItemsFound, entry.ItemsNew, errText, entry.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("appending poll log for %s: %w", entry.SourceID, err)
	}

	return nil
}

// RecentPollLogs returns the most recent poll log rows for a source,
// newest first.
func (s *SQLiteStore) RecentPollLogs(
	ctx context.Context,
	sourceID string,
	limit int,
) ([]PollLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, source_id, poll_at, items_found, items_new, error, duration_ms
		FROM poll_log WHERE source_id = ?
		ORDER BY poll_at DESC LIMIT ?`,
		sourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying poll log for %s: %w", sourceID, err)
	}
	defer rows.Close()

	var entries []PollLogEntry
	for rows.Next() {
		var (
			e       PollLogEntry
			polledAt time.Time
			errText sql.NullString
		)
		err := rows.Scan(
			&e.ID, &e.SourceID, &polledAt,
			&e.ItemsFound, &e.ItemsNew, &errText, &e.DurationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning poll log row: %w", err)
		}
		e.PolledAt = polledAt
		if errText.Valid {
			e.Error = &errText.String
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// UpsertThread registers a parent item as a tracked thread. An existing
// (source_id, parent_item_id) row is left untouched so reply bookkeeping
// survives replays of the parent item.
func (s *SQLiteStore) UpsertThread(
	ctx context.Context,
	sourceID, parentItemID string,
	parentTS time.Time,
	taskID string,
) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO thread_replies (
			id, source_id, parent_item_id, parent_ts, task_id,
			last_reply_ts, reply_count, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?, ?)`,
		uuid.New().String(), sourceID, parentItemID, parentTS.UTC(),
		taskID, parentTS.UTC(), now, now,
	)
	if err != nil {
		return fmt.Errorf("registering thread %s/%s: %w", sourceID, parentItemID, err)
	}

	return nil
}

// RecordReply bumps the reply counter and advances last_reply_ts for a
// tracked thread.
func (s *SQLiteStore) RecordReply(
	ctx context.Context,
	sourceID, parentItemID string,
	replyTS time.Time,
) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE thread_replies SET
			reply_count = reply_count + 1,
			last_reply_ts = MAX(last_reply_ts, ?),
			updated_at = ?
		WHERE source_id = ? AND parent_item_id = ?`,
		replyTS.UTC(), time.Now().UTC(), sourceID, parentItemID,
	)
	if err != nil {
		return fmt.Errorf("recording reply for %s/%s: %w", sourceID, parentItemID, err)
	}

	return nil
}

// ActiveThreads returns the threads still being watched for a source.
func (s *SQLiteStore) ActiveThreads(
	ctx context.Context,
	sourceID string,
) ([]Thread, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, source_id, parent_item_id, parent_ts, task_id,
			last_reply_ts, reply_count, active, created_at, updated_at
		FROM thread_replies
		WHERE source_id = ? AND active = 1
		ORDER BY parent_ts`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying active threads for %s: %w", sourceID, err)
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}

	return threads, rows.Err()
}

// DeactivateThread clears the active flag so the engine stops issuing
// reply polls for the thread.
func (s *SQLiteStore) DeactivateThread(
	ctx context.Context,
	sourceID, parentItemID string,
) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE thread_replies SET active = 0, updated_at = ?
		WHERE source_id = ? AND parent_item_id = ?`,
		time.Now().UTC(), sourceID, parentItemID,
	)
	if err != nil {
		return fmt.Errorf("deactivating thread %s/%s: %w", sourceID, parentItemID, err)
	}

	return nil
}

// Stats summarizes per-source ingestion activity: accepted item counts and
// the time of the last poll attempt.
func (s *SQLiteStore) Stats(ctx context.Context) ([]SourceStats, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT i.source_id, COUNT(*) AS item_count,
			COALESCE((SELECT MAX(poll_at) FROM poll_log p WHERE p.source_id = i.source_id), '') AS last_poll
		FROM ingested_items i
		GROUP BY i.source_id
		ORDER BY i.source_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	var stats []SourceStats
	for rows.Next() {
		var (
			st       SourceStats
			lastPoll string
		)
		if err := rows.Scan(&st.SourceID, &st.ItemCount, &lastPoll); err != nil {
			return nil, fmt.Errorf("scanning stats row: %w", err)
		}
		if lastPoll != "" {
			if t, err := time.Parse(time.RFC3339, lastPoll); err == nil {
				st.LastPolledAt = t
			} else if t, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", lastPoll); err == nil {
				st.LastPolledAt = t
			}
		}
		stats = append(stats, st)
	}

	return stats, rows.Err()
}

// scanThread scans a thread row from a sqlx.Rows result set.
func scanThread(rows *sqlx.Rows) (Thread, error) {
	var (
		t          Thread
		activeInt  int
		parentTS   time.Time
		lastReply  time.Time
		createdAt  time.Time
		updatedAt  time.Time
	)

	err := rows.Scan(
		&t.ID, &t.SourceID, &t.ParentItemID, &parentTS, &t.TaskID,
		&lastReply, &t.ReplyCount, &activeInt, &createdAt, &updatedAt,
	)
	if err != nil {
		return Thread{}, fmt.Errorf("scanning thread row: %w", err)
	}

	t.ParentTS = parentTS
	t.LastReplyTS = lastReply
	t.Active = activeInt != 0
	t.CreatedAt = createdAt
	t.UpdatedAt = updatedAt

	return t, nil
}
