package model

import "time"

// Item is the uniform unit of ingested content produced by an adapter.
// Items are ephemeral: they are filtered, deduplicated, and handed to the
// task-creation boundary, but the engine itself never stores them verbatim.
type Item struct {
	// ID is the item's identifier within its source. It must be stable
	// across repeated polls so the dedup store can recognize replays.
	ID string `json:"id"`

	// Title is the human-readable summary of the item.
	Title string `json:"title"`

	// Description is the full body text.
	Description string `json:"description"`

	// Hash is an optional content fingerprint computed by the adapter
	// when the platform cannot guarantee stable IDs. Dedup decisions are
	// always made on (source, ID); Hash is available to downstream
	// consumers for secondary content-level dedup.
	Hash string `json:"hash,omitempty"`

	// Author is the display name or username of the message author.
	Author string `json:"author,omitempty"`

	// Timestamp is when the item was created in the source system.
	Timestamp time.Time `json:"timestamp"`

	// Attachments holds media or files referenced by the item, in order.
	Attachments []Attachment `json:"attachments,omitempty"`

	// Fields holds the adapter-declared filterable properties, keyed by
	// the ItemField keys from the adapter's metadata.
	Fields map[string]any `json:"fields,omitempty"`

	// Origin carries platform-side provenance recorded alongside the
	// accepted item.
	Origin ItemOrigin `json:"origin,omitempty"`
}

// ItemOrigin records where an item came from: the adapter type, the
// platform channel and sender, and the thread it belongs to when the
// platform has such concepts. ThreadID doubles as the signal that the
// item can start a tracked thread.
type ItemOrigin struct {
	AdapterType string `json:"adapter_type,omitempty"`
	ChannelID   string `json:"channel_id,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`
	ThreadID    string `json:"thread_id,omitempty"`

	// Metadata is an optional JSON blob of platform-specific extras.
	Metadata string `json:"metadata,omitempty"`
}

// Attachment is a file or media reference carried by an item.
type Attachment struct {
	URL       string `json:"url"`
	Type      string `json:"type"`
	Filename  string `json:"filename,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

// Reply is a follow-up message in a tracked thread.
type Reply struct {
	// ParentID is the item ID of the thread's parent.
	ParentID string `json:"parent_id"`

	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
