// Package source defines the contract every platform adapter implements,
// plus the error taxonomy the scheduler relies on to isolate and classify
// per-source failures.
package source

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/secret"
)

// PollResult holds the items produced by one poll cycle together with the
// adapter state to persist once the batch has been accepted.
type PollResult struct {
	Items []model.Item

	// State is the adapter's continuation data for the next cycle. The
	// engine treats it as opaque: it persists whatever is returned here
	// and never inspects or mutates its contents.
	State json.RawMessage
}

// TestResult reports the outcome of an interactive connection test.
type TestResult struct {
	OK      bool
	Message string

	// SampleItems holds a few representative items fetched during the
	// test, for configuration verification. Never persisted.
	SampleItems []model.Item
}

// Thread identifies a tracked conversation an adapter should poll for
// replies: the parent item plus the last reply timestamp already seen.
type Thread struct {
	ParentItemID string
	ParentTS     time.Time
	LastReplyTS  time.Time
}

// Adapter is the uniform plugin contract. Implementations own all
// platform-specific auth, pagination, and payload parsing.
//
// Poll must be safe to call repeatedly with the same state if a prior
// call's returned state was never persisted: the pipeline is at-least-once
// and duplicates are absorbed downstream by the dedup store.
type Adapter interface {
	// Validate checks the source config synchronously, without network
	// calls: required fields present, URLs parse, IDs non-empty.
	// A failure is a ConfigError.
	Validate(cfg model.SourceConfig) error

	// Poll fetches new items given the previously persisted state.
	// state is nil or "{}" on the first cycle. All network calls must
	// be bounded by explicit timeouts; expected transient conditions
	// surface as a TransientError, not a hang.
	Poll(ctx context.Context, cfg model.SourceConfig, state json.RawMessage, secrets secret.Resolver) (*PollResult, error)

	// Test makes a real network call to verify connectivity and
	// credentials. It must not mutate persisted state.
	Test(ctx context.Context, cfg model.SourceConfig, secrets secret.Resolver) (*TestResult, error)
}

// ItemCallback receives items pushed by a realtime adapter while a caller
// is actively connected.
type ItemCallback func(item model.Item)

// RealtimeAdapter is implemented by adapters whose platform pushes events
// instead of being polled. The engine connects them once at startup and
// disconnects at shutdown; Poll then drains the adapter's internal buffer.
type RealtimeAdapter interface {
	Adapter

	// Connect starts the inbound listener. Pushed items are handed to
	// cb when non-nil, otherwise buffered for the next Poll drain.
	Connect(ctx context.Context, cfg model.SourceConfig, secrets secret.Resolver, cb ItemCallback) error

	// Disconnect tears the listener down and clears caches and the
	// item buffer.
	Disconnect() error
}

// Sender is implemented by two-way adapters that can post messages back
// to the platform.
type Sender interface {
	Send(ctx context.Context, target, message string, secrets secret.Resolver) error
}

// ReplyPoller is implemented by adapters whose platform supports threaded
// follow-ups. The engine calls it with the currently active threads.
type ReplyPoller interface {
	PollReplies(ctx context.Context, cfg model.SourceConfig, threads []Thread, secrets secret.Resolver) ([]model.Reply, error)
}

// Factory constructs an adapter instance. One adapter instance serves one
// configured source.
type Factory func() Adapter
