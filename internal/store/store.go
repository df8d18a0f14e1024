package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nhle/taskwire/internal/model"
)

// PollLogEntry is one row of the append-only poll audit trail.
type PollLogEntry struct {
	ID         string
	SourceID   string
	PolledAt   time.Time
	ItemsFound int
	ItemsNew   int

	// Error is nil for a successful cycle.
	Error *string

	DurationMS int64
}

// Thread is a tracked conversation: a parent item plus reply bookkeeping.
type Thread struct {
	ID           string
	SourceID     string
	ParentItemID string
	ParentTS     time.Time
	TaskID       string
	LastReplyTS  time.Time
	ReplyCount   int
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SourceStats summarizes ingestion activity for one source.
type SourceStats struct {
	SourceID     string
	ItemCount    int
	LastPolledAt time.Time
}

// Store is the durable boundary of the ingestion engine: the dedup table,
// per-source adapter state, the poll audit log, and thread tracking.
// All writes are scoped per source and use row-level atomicity; the store
// never requires engine-level locking.
type Store interface {
	// AcceptItem records an item as ingested. Acceptance is atomic and
	// keyed by (sourceID, item.ID): the first call for a key returns
	// true, every later call returns false without error. This UNIQUE
	// constraint is the sole dedup mechanism.
	AcceptItem(ctx context.Context, sourceID string, item model.Item) (bool, error)

	// SetTaskID links an accepted item to the work item the
	// task-creation boundary produced for it.
	SetTaskID(ctx context.Context, sourceID, itemID, taskID string) error

	// GetState returns the persisted adapter state for a source, or
	// "{}" when none exists yet.
	GetState(ctx context.Context, sourceID string) (json.RawMessage, error)

	// SaveState upserts the adapter state for a source, last-write-wins.
	SaveState(ctx context.Context, sourceID string, state json.RawMessage) error

	// AppendPollLog appends one poll-attempt row to the audit trail.
	AppendPollLog(ctx context.Context, entry PollLogEntry) error

	// RecentPollLogs returns the most recent poll log rows for a
	// source, newest first.
	RecentPollLogs(ctx context.Context, sourceID string, limit int) ([]PollLogEntry, error)

	// UpsertThread registers a parent item as a tracked thread. An
	// existing (sourceID, parentItemID) row is left untouched.
	UpsertThread(ctx context.Context, sourceID, parentItemID string, parentTS time.Time, taskID string) error

	// RecordReply bumps reply_count and last_reply_ts for a thread.
	RecordReply(ctx context.Context, sourceID, parentItemID string, replyTS time.Time) error

	// ActiveThreads returns the threads still being watched for a source.
	ActiveThreads(ctx context.Context, sourceID string) ([]Thread, error)

	// DeactivateThread stops reply polling for a thread.
	DeactivateThread(ctx context.Context, sourceID, parentItemID string) error

	// Stats summarizes per-source ingestion activity.
	Stats(ctx context.Context) ([]SourceStats, error)

	Close() error
}
