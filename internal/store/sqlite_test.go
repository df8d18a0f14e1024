package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nhle/taskwire/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func testItem(id string) model.Item {
	return model.Item{
		ID:        id,
		Title:     "title for " + id,
		Author:    "alice",
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAcceptItemIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	accepted, err := s.AcceptItem(ctx, "src-1", testItem("msg-42"))
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if !accepted {
		t.Fatal("first accept: want true")
	}

	// Redelivery of the same item must be silently ignored.
	accepted, err = s.AcceptItem(ctx, "src-1", testItem("msg-42"))
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if accepted {
		t.Fatal("second accept: want false")
	}

	var count int
	if err := s.db.Get(&count, "SELECT COUNT(*) FROM ingested_items WHERE source_id = ? AND item_id = ?", "src-1", "msg-42"); err != nil {
		t.Fatalf("counting rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("row count = %d, want 1", count)
	}
}

func TestAcceptItemScopedPerSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, sourceID := range []string{"src-a", "src-b"} {
		accepted, err := s.AcceptItem(ctx, sourceID, testItem("msg-1"))
		if err != nil {
			t.Fatalf("accept for %s: %v", sourceID, err)
		}
		if !accepted {
			t.Fatalf("accept for %s: want true, same id in another source must not collide", sourceID)
		}
	}
}

func TestSetTaskID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AcceptItem(ctx, "src-1", testItem("msg-1")); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := s.SetTaskID(ctx, "src-1", "msg-1", "task-77"); err != nil {
		t.Fatalf("set task id: %v", err)
	}

	var taskID string
	if err := s.db.Get(&taskID, "SELECT task_id FROM ingested_items WHERE source_id = ? AND item_id = ?", "src-1", "msg-1"); err != nil {
		t.Fatalf("reading task id: %v", err)
	}
	if taskID != "task-77" {
		t.Fatalf("task_id = %q, want task-77", taskID)
	}
}

func TestGetStateDefault(t *testing.T) {
	s := newTestStore(t)

	state, err := s.GetState(context.Background(), "never-polled")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if string(state) != "{}" {
		t.Fatalf("state = %q, want {}", state)
	}
}

func TestSaveStateLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveState(ctx, "src-1", json.RawMessage(`{"offset":1}`)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveState(ctx, "src-1", json.RawMessage(`{"offset":2}`)); err != nil {
		t.Fatalf("second save: %v", err)
	}

	state, err := s.GetState(ctx, "src-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if string(state) != `{"offset":2}` {
		t.Fatalf("state = %q, want offset 2", state)
	}
}

func TestPollLogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	errText := "connection refused"
	entries := []PollLogEntry{
		{SourceID: "src-1", PolledAt: time.Now().Add(-2 * time.Minute), ItemsFound: 5, ItemsNew: 3, DurationMS: 120},
		{SourceID: "src-1", PolledAt: time.Now().Add(-1 * time.Minute), Error: &errText, DurationMS: 15},
		{SourceID: "src-2", PolledAt: time.Now(), ItemsFound: 1, ItemsNew: 1, DurationMS: 40},
	}
	for _, e := range entries {
		if err := s.AppendPollLog(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	logs, err := s.RecentPollLogs(ctx, "src-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2", len(logs))
	}
	// Newest first.
	if logs[0].Error == nil || *logs[0].Error != errText {
		t.Fatalf("logs[0].Error = %v, want %q", logs[0].Error, errText)
	}
	if logs[1].ItemsNew != 3 {
		t.Fatalf("logs[1].ItemsNew = %d, want 3", logs[1].ItemsNew)
	}
}

func TestThreadLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parentTS := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := s.UpsertThread(ctx, "src-1", "msg-1", parentTS, "task-1"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Re-upserting the same parent must not reset bookkeeping.
	if err := s.RecordReply(ctx, "src-1", "msg-1", parentTS.Add(5*time.Minute)); err != nil {
		t.Fatalf("record reply: %v", err)
	}
	if err := s.UpsertThread(ctx, "src-1", "msg-1", parentTS, "task-1"); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	threads, err := s.ActiveThreads(ctx, "src-1")
	if err != nil {
		t.Fatalf("active threads: %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("len(threads) = %d, want 1", len(threads))
	}
	if threads[0].ReplyCount != 1 {
		t.Fatalf("ReplyCount = %d, want 1", threads[0].ReplyCount)
	}
	if !threads[0].LastReplyTS.Equal(parentTS.Add(5 * time.Minute)) {
		t.Fatalf("LastReplyTS = %v, want parent+5m", threads[0].LastReplyTS)
	}

	if err := s.DeactivateThread(ctx, "src-1", "msg-1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	threads, err = s.ActiveThreads(ctx, "src-1")
	if err != nil {
		t.Fatalf("active threads after deactivate: %v", err)
	}
	if len(threads) != 0 {
		t.Fatalf("len(threads) = %d after deactivate, want 0", len(threads))
	}
}

func TestRecordReplyKeepsMaxTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parentTS := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := s.UpsertThread(ctx, "src-1", "msg-1", parentTS, ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.RecordReply(ctx, "src-1", "msg-1", parentTS.Add(10*time.Minute)); err != nil {
		t.Fatalf("first reply: %v", err)
	}
	// An out-of-order older reply still counts but must not move the
	// high-water mark backwards.
	if err := s.RecordReply(ctx, "src-1", "msg-1", parentTS.Add(2*time.Minute)); err != nil {
		t.Fatalf("second reply: %v", err)
	}

	threads, err := s.ActiveThreads(ctx, "src-1")
	if err != nil {
		t.Fatalf("active threads: %v", err)
	}
	if threads[0].ReplyCount != 2 {
		t.Fatalf("ReplyCount = %d, want 2", threads[0].ReplyCount)
	}
	if !threads[0].LastReplyTS.Equal(parentTS.Add(10 * time.Minute)) {
		t.Fatalf("LastReplyTS = %v, want parent+10m", threads[0].LastReplyTS)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.AcceptItem(ctx, "src-1", testItem(id)); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	if _, err := s.AcceptItem(ctx, "src-2", testItem("a")); err != nil {
		t.Fatalf("accept: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	counts := make(map[string]int)
	for _, st := range stats {
		counts[st.SourceID] = st.ItemCount
	}
	if counts["src-1"] != 3 || counts["src-2"] != 1 {
		t.Fatalf("counts = %v, want src-1:3 src-2:1", counts)
	}
}
