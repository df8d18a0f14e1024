// Package engine drives configured sources on their poll intervals. Each
// source runs its own loop; a failing source is recorded in the poll log
// and never prevents other sources from polling on schedule. Realtime
// adapters are connected once at startup and their polls drain the push
// buffer accumulated in between.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/taskwire/internal/filter"
	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/registry"
	"github.com/nhle/taskwire/internal/secret"
	"github.com/nhle/taskwire/internal/source"
	"github.com/nhle/taskwire/internal/store"
	"github.com/nhle/taskwire/internal/webhook"
)

// TaskCreator is the downstream boundary consuming accepted items. It is
// external to the engine; implementations turn an item into a tracked
// work item and return its id.
type TaskCreator interface {
	CreateTask(ctx context.Context, sourceID string, item model.Item) (string, error)
}

// TaskCreatorFunc adapts a function to the TaskCreator interface.
type TaskCreatorFunc func(ctx context.Context, sourceID string, item model.Item) (string, error)

func (f TaskCreatorFunc) CreateTask(ctx context.Context, sourceID string, item model.Item) (string, error) {
	return f(ctx, sourceID, item)
}

// State represents the current state of a source's poll loop.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateError
)

// Status holds the poll state for a single source.
type Status struct {
	SourceID string
	State    State
	LastPoll time.Time
	Err      error
}

// pollTimeout is the budget for one poll cycle, including pagination.
const pollTimeout = 30 * time.Second

// defaultInterval applies when a source declares no poll interval.
const defaultInterval = 120 * time.Second

// sourceEntry holds a configured source with its resolved adapter.
type sourceEntry struct {
	cfg     model.SourceConfig
	meta    model.Metadata
	adapter source.Adapter
}

// Engine orchestrates polling of all configured sources.
type Engine struct {
	store    store.Store
	registry *registry.Registry
	secrets  secret.Resolver
	creator  TaskCreator
	webhooks *webhook.Pool
	log      *slog.Logger

	entries   []sourceEntry
	statuses  map[string]*Status
	triggerCh chan string
	stopCh    chan struct{}
	fatalCh   chan error
	wg        gosync.WaitGroup
	mu        gosync.Mutex
	running   bool
}

// New creates an engine over the given store, registry, and collaborators.
func New(
	s store.Store,
	reg *registry.Registry,
	secrets secret.Resolver,
	creator TaskCreator,
	webhooks *webhook.Pool,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:     s,
		registry:  reg,
		secrets:   secrets,
		creator:   creator,
		webhooks:  webhooks,
		log:       log.With("component", "engine"),
		statuses:  make(map[string]*Status),
		triggerCh: make(chan string, 16),
		stopCh:    make(chan struct{}),
		fatalCh:   make(chan error, 1),
	}
}

// AddSource validates and registers a configured source. Disabled sources
// are skipped without error. Validation failures are ConfigErrors and the
// source never reaches a poll cycle.
func (e *Engine) AddSource(cfg model.SourceConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.ID == "" {
		return &source.ConfigError{SourceType: cfg.Type, Message: "source has no id"}
	}

	plugin, ok := e.registry.Get(cfg.Type)
	if !ok {
		return &source.ConfigError{
			SourceType: cfg.Type,
			Message:    fmt.Sprintf("no adapter registered for type %q", cfg.Type),
		}
	}

	if err := registry.ValidateSourceConfig(plugin.Metadata, cfg); err != nil {
		return err
	}

	adapter := plugin.Factory()
	if err := adapter.Validate(cfg); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.entries = append(e.entries, sourceEntry{
		cfg:     cfg,
		meta:    plugin.Metadata,
		adapter: adapter,
	})
	e.statuses[cfg.ID] = &Status{SourceID: cfg.ID, State: StateIdle}

	return nil
}

// Start connects realtime adapters, starts the webhook listeners, and
// launches one poll loop per source.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	entries := make([]sourceEntry, len(e.entries))
	copy(entries, e.entries)
	e.mu.Unlock()

	for _, entry := range entries {
		rt, ok := entry.adapter.(source.RealtimeAdapter)
		if !ok || !entry.meta.Capabilities.Realtime {
			continue
		}
		if err := rt.Connect(ctx, entry.cfg, e.secrets, nil); err != nil {
			return fmt.Errorf("connecting realtime source %s: %w", entry.cfg.ID, err)
		}
	}

	if e.webhooks != nil {
		if err := e.webhooks.StartAll(); err != nil {
			return fmt.Errorf("starting webhook listeners: %w", err)
		}
	}

	for _, entry := range entries {
		e.wg.Add(1)
		go e.pollLoop(entry)
	}

	e.log.Info("engine started", "sources", len(entries))
	return nil
}

// Stop halts all poll loops, disconnects realtime adapters, and shuts
// down the webhook listeners.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	entries := make([]sourceEntry, len(e.entries))
	copy(entries, e.entries)
	e.mu.Unlock()

	e.wg.Wait()

	for _, entry := range entries {
		rt, ok := entry.adapter.(source.RealtimeAdapter)
		if !ok || !entry.meta.Capabilities.Realtime {
			continue
		}
		if err := rt.Disconnect(); err != nil {
			e.log.Warn("disconnecting realtime source", "source", entry.cfg.ID, "error", err)
		}
	}

	if e.webhooks != nil {
		if err := e.webhooks.ShutdownAll(ctx); err != nil {
			e.log.Warn("shutting down webhook listeners", "error", err)
		}
	}

	e.log.Info("engine stopped")
}

// Fatal delivers the error that halted the engine, if any. The durable
// store becoming unavailable is the one fatal condition: continuing
// without acceptance records would break the idempotency guarantee.
func (e *Engine) Fatal() <-chan error {
	return e.fatalCh
}

// Trigger requests an immediate poll of a single source.
func (e *Engine) Trigger(sourceID string) {
	select {
	case e.triggerCh <- sourceID:
	default:
	}
}

// TriggerAll requests an immediate poll of every source.
func (e *Engine) TriggerAll() {
	e.mu.Lock()
	entries := make([]sourceEntry, len(e.entries))
	copy(entries, e.entries)
	e.mu.Unlock()

	for _, entry := range entries {
		e.Trigger(entry.cfg.ID)
	}
}

// Statuses returns a snapshot of every source's poll status.
func (e *Engine) Statuses() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Status, 0, len(e.statuses))
	for _, s := range e.statuses {
		out = append(out, *s)
	}
	return out
}

// RunOnce performs a single poll cycle for every source, sequentially,
// and returns the first error encountered. Used for one-shot operation.
func (e *Engine) RunOnce(ctx context.Context) error {
	e.mu.Lock()
	entries := make([]sourceEntry, len(e.entries))
	copy(entries, e.entries)
	e.mu.Unlock()

	var firstErr error
	for _, entry := range entries {
		if err := e.pollCycle(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// pollLoop runs the polling loop for a single source. The next cycle for
// a source always waits for the prior one, so a source never overlaps
// itself.
func (e *Engine) pollLoop(entry sourceEntry) {
	defer e.wg.Done()

	interval := time.Duration(entry.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Do an initial poll immediately.
	e.runCycle(entry)

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.runCycle(entry)
		case id := <-e.triggerCh:
			if id == entry.cfg.ID {
				e.runCycle(entry)
			}
		}
	}
}

// runCycle executes one cycle and routes a store failure to the fatal
// channel. Adapter failures are already absorbed inside pollCycle.
func (e *Engine) runCycle(entry sourceEntry) {
	if err := e.pollCycle(context.Background(), entry); err != nil {
		select {
		case e.fatalCh <- err:
		default:
		}
	}
}

// pollCycle performs one full poll of a source: load state, poll, filter,
// accept, hand off, persist state, append the audit row.
//
// An error returned from this function is a store failure; adapter
// failures are recorded in the poll log and swallowed here so one broken
// source cannot halt the others.
func (e *Engine) pollCycle(ctx context.Context, entry sourceEntry) error {
	sourceID := entry.cfg.ID
	log := e.log.With("source", sourceID, "type", entry.cfg.Type)

	e.setStatus(sourceID, StateRunning, nil)
	started := time.Now()

	cctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	state, err := e.store.GetState(cctx, sourceID)
	if err != nil {
		e.setStatus(sourceID, StateError, err)
		return fmt.Errorf("loading state for %s: %w", sourceID, err)
	}

	result, pollErr := entry.adapter.Poll(cctx, entry.cfg, state, e.secrets)
	if pollErr != nil {
		log.Warn("poll failed", "error", pollErr)
		e.setStatus(sourceID, StateError, pollErr)

		msg := pollErr.Error()
		logErr := e.store.AppendPollLog(cctx, store.PollLogEntry{
			SourceID:   sourceID,
			PolledAt:   started,
			Error:      &msg,
			DurationMS: time.Since(started).Milliseconds(),
		})
		if logErr != nil {
			return fmt.Errorf("recording failed poll for %s: %w", sourceID, logErr)
		}
		return nil
	}

	conditions := filter.Resolve(entry.cfg, entry.meta)

	found := len(result.Items)
	accepted := 0
	for _, item := range result.Items {
		if !filter.Matches(conditions, item.Fields) {
			continue
		}

		item.Origin.AdapterType = entry.meta.Type

		isNew, err := e.store.AcceptItem(cctx, sourceID, item)
		if err != nil {
			e.setStatus(sourceID, StateError, err)
			return fmt.Errorf("accepting item %s/%s: %w", sourceID, item.ID, err)
		}
		if !isNew {
			// Already seen, e.g. a replay after a crash between
			// acceptance and state persistence. A normal no-op.
			continue
		}
		accepted++

		taskID := ""
		if e.creator != nil {
			taskID, err = e.creator.CreateTask(cctx, sourceID, item)
			if err != nil {
				log.Warn("task creation failed", "item", item.ID, "error", err)
			} else if taskID != "" {
				if err := e.store.SetTaskID(cctx, sourceID, item.ID, taskID); err != nil {
					return fmt.Errorf("linking task for %s/%s: %w", sourceID, item.ID, err)
				}
			}
		}

		if item.Origin.ThreadID != "" && entry.meta.Capabilities.Replies {
			if err := e.store.UpsertThread(cctx, sourceID, item.ID, item.Timestamp, taskID); err != nil {
				return fmt.Errorf("registering thread for %s/%s: %w", sourceID, item.ID, err)
			}
		}
	}

	// State is persisted only after the whole batch has been accepted.
	// A crash before this point re-runs the cycle with stale state; the
	// dedup constraint absorbs the replayed items.
	if err := e.store.SaveState(cctx, sourceID, result.State); err != nil {
		e.setStatus(sourceID, StateError, err)
		return fmt.Errorf("saving state for %s: %w", sourceID, err)
	}

	if err := e.store.AppendPollLog(cctx, store.PollLogEntry{
		SourceID:   sourceID,
		PolledAt:   started,
		ItemsFound: found,
		ItemsNew:   accepted,
		DurationMS: time.Since(started).Milliseconds(),
	}); err != nil {
		return fmt.Errorf("recording poll for %s: %w", sourceID, err)
	}

	if entry.meta.Capabilities.Replies {
		e.pollReplies(cctx, entry, log)
	}

	e.setStatus(sourceID, StateIdle, nil)
	log.Debug("poll cycle complete", "found", found, "new", accepted)
	return nil
}

// pollReplies fetches follow-ups for the source's active threads. Reply
// failures are logged but never fail the cycle.
func (e *Engine) pollReplies(ctx context.Context, entry sourceEntry, log *slog.Logger) {
	rp, ok := entry.adapter.(source.ReplyPoller)
	if !ok {
		return
	}

	threads, err := e.store.ActiveThreads(ctx, entry.cfg.ID)
	if err != nil {
		log.Warn("loading active threads failed", "error", err)
		return
	}
	if len(threads) == 0 {
		return
	}

	watched := make([]source.Thread, 0, len(threads))
	for _, t := range threads {
		watched = append(watched, source.Thread{
			ParentItemID: t.ParentItemID,
			ParentTS:     t.ParentTS,
			LastReplyTS:  t.LastReplyTS,
		})
	}

	replies, err := rp.PollReplies(ctx, entry.cfg, watched, e.secrets)
	if err != nil {
		log.Warn("reply poll failed", "error", err)
		return
	}

	for _, r := range replies {
		if err := e.store.RecordReply(ctx, entry.cfg.ID, r.ParentID, r.Timestamp); err != nil {
			log.Warn("recording reply failed", "parent", r.ParentID, "error", err)
		}
	}
}

// setStatus updates the poll status for a source.
func (e *Engine) setStatus(sourceID string, state State, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	status, ok := e.statuses[sourceID]
	if !ok {
		return
	}

	status.State = state
	status.Err = err
	if state == StateIdle && err == nil {
		status.LastPoll = time.Now()
	}
}
