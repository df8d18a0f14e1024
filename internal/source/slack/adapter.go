package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/secret"
	"github.com/nhle/taskwire/internal/source"
	"github.com/nhle/taskwire/internal/webhook"
)

const (
	adapterType        = "slack"
	defaultListenAddr  = ":8090"
	defaultWebhookPath = "/hooks/slack"
	titleMaxLen        = 80
)

// eventEnvelope is the outer Events API payload.
type eventEnvelope struct {
	Type  string       `json:"type"`
	Event EventMessage `json:"event"`
}

// EventMessage is a message event inside an event_callback envelope. The
// same shape comes back from conversations.replies.
type EventMessage struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
}

// Adapter ingests Slack channel messages delivered over the Events API.
// Events arrive on a shared webhook listener, are buffered in memory and
// drained on the next poll cycle. When the engine provides a callback the
// adapter hands events over immediately instead of buffering.
type Adapter struct {
	pool      *webhook.Pool
	newClient func(token string) *Client

	mu        sync.Mutex
	connected bool
	channelID string
	buffer    *webhook.Buffer
	callback  source.ItemCallback
}

// New creates a Slack adapter sharing the given webhook listener pool.
func New(pool *webhook.Pool) *Adapter {
	return &Adapter{
		pool:      pool,
		newClient: NewClient,
		buffer:    webhook.NewBuffer(0),
	}
}

// Factory returns an adapter factory bound to the given listener pool.
func Factory(pool *webhook.Pool) source.Factory {
	return func() source.Adapter {
		return New(pool)
	}
}

// Metadata describes the slack adapter.
func Metadata() model.Metadata {
	return model.Metadata{
		Type:        adapterType,
		Version:     "1.0.0",
		Name:        "Slack",
		Description: "Ingests messages from a Slack channel via the Events API",
		Capabilities: model.Capabilities{
			Realtime: true,
			Send:     true,
			Replies:  true,
		},
		ConfigFields: []model.ConfigField{
			{Key: "channel_id", Label: "Channel ID", Type: model.FieldTypeString, Required: true},
			{Key: "bot_token_secret", Label: "Bot token secret name", Type: model.FieldTypeSecret, Required: true},
			{Key: "signing_secret", Label: "Signing secret name", Type: model.FieldTypeSecret, Required: true},
			{Key: "listen_addr", Label: "Webhook listen address", Type: model.FieldTypeString, Default: defaultListenAddr},
			{Key: "webhook_path", Label: "Webhook path", Type: model.FieldTypeString, Default: defaultWebhookPath},
		},
		ItemFields: []model.ItemField{
			{Key: "channel", Label: "Channel", Type: model.ItemFieldString},
			{Key: "from_bot", Label: "From bot", Type: model.ItemFieldBoolean},
		},
	}
}

func (a *Adapter) Validate(cfg model.SourceConfig) error {
	if cfg.ConfigString("channel_id") == "" {
		return &source.ConfigError{
			SourceType: adapterType,
			Field:      "channel_id",
			Message:    "channel_id is required",
		}
	}
	if cfg.ConfigString("bot_token_secret") == "" {
		return &source.ConfigError{
			SourceType: adapterType,
			Field:      "bot_token_secret",
			Message:    "bot_token_secret is required",
		}
	}
	if cfg.ConfigString("signing_secret") == "" {
		return &source.ConfigError{
			SourceType: adapterType,
			Field:      "signing_secret",
			Message:    "signing_secret is required",
		}
	}
	if path := cfg.ConfigString("webhook_path"); path != "" && !strings.HasPrefix(path, "/") {
		return &source.ConfigError{
			SourceType: adapterType,
			Field:      "webhook_path",
			Message:    "webhook_path must start with /",
		}
	}
	return nil
}

// Connect registers the adapter's webhook handler on the shared listener
// for its configured address. The listener itself is started by the
// engine after all realtime adapters have registered.
func (a *Adapter) Connect(
	ctx context.Context,
	cfg model.SourceConfig,
	secrets secret.Resolver,
	cb source.ItemCallback,
) error {
	signingSecret, err := secrets.Get(cfg.ConfigString("signing_secret"))
	if err != nil {
		return &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("resolving signing secret: %v", err),
		}
	}

	addr := cfg.ConfigString("listen_addr")
	if addr == "" {
		addr = defaultListenAddr
	}
	path := cfg.ConfigString("webhook_path")
	if path == "" {
		path = defaultWebhookPath
	}

	a.mu.Lock()
	a.connected = true
	a.channelID = cfg.ConfigString("channel_id")
	a.callback = cb
	a.mu.Unlock()

	listener := a.pool.Get(addr)
	return listener.Register(path, signingSecret, a.handlePayload)
}

// Disconnect drops buffered events and detaches the callback. Listener
// shutdown is owned by the pool.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	a.callback = nil
	a.buffer.Clear()
	return nil
}

// handlePayload processes one verified Events API delivery.
func (a *Adapter) handlePayload(body []byte) {
	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return
	}
	if envelope.Type != "event_callback" {
		return
	}

	event := envelope.Event
	if event.Type != "message" || event.Subtype != "" {
		return
	}
	// Thread replies are picked up by reply polling, not ingested as
	// new items.
	if event.ThreadTS != "" && event.ThreadTS != event.TS {
		return
	}

	a.mu.Lock()
	channelID := a.channelID
	cb := a.callback
	a.mu.Unlock()

	if channelID != "" && event.Channel != channelID {
		return
	}

	item := messageToItem(event)
	if cb != nil {
		cb(item)
		return
	}
	a.buffer.Append(item)
}

// Poll drains events buffered since the last cycle. State passes through
// unchanged; the Events API has no cursor to advance.
func (a *Adapter) Poll(
	ctx context.Context,
	cfg model.SourceConfig,
	state json.RawMessage,
	secrets secret.Resolver,
) (*source.PollResult, error) {
	return &source.PollResult{
		Items: a.buffer.Drain(),
		State: state,
	}, nil
}

func (a *Adapter) Test(
	ctx context.Context,
	cfg model.SourceConfig,
	secrets secret.Resolver,
) (*source.TestResult, error) {
	token, err := secrets.Get(cfg.ConfigString("bot_token_secret"))
	if err != nil {
		return nil, &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("resolving bot token: %v", err),
		}
	}

	identity, err := a.newClient(token).AuthTest(ctx)
	if err != nil {
		return nil, err
	}

	return &source.TestResult{
		OK:      true,
		Message: fmt.Sprintf("authenticated as %s", identity),
	}, nil
}

// Send posts text to a channel. Target format is
// "<token_secret_name>:<channel_id>" so a send does not need the full
// source config.
func (a *Adapter) Send(
	ctx context.Context,
	target, message string,
	secrets secret.Resolver,
) error {
	secretName, channel, ok := strings.Cut(target, ":")
	if !ok {
		return fmt.Errorf("send target %q must be <secret_name>:<channel_id>", target)
	}
	token, err := secrets.Get(secretName)
	if err != nil {
		return &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("resolving bot token: %v", err),
		}
	}
	return a.newClient(token).PostMessage(ctx, channel, message)
}

// PollReplies fetches thread replies newer than each thread's last seen
// reply timestamp.
func (a *Adapter) PollReplies(
	ctx context.Context,
	cfg model.SourceConfig,
	threads []source.Thread,
	secrets secret.Resolver,
) ([]model.Reply, error) {
	token, err := secrets.Get(cfg.ConfigString("bot_token_secret"))
	if err != nil {
		return nil, &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("resolving bot token: %v", err),
		}
	}

	client := a.newClient(token)
	channel := cfg.ConfigString("channel_id")

	var replies []model.Reply
	for _, thread := range threads {
		// Thread parents are keyed by their message ts.
		parentTS := strings.TrimPrefix(thread.ParentItemID, channel+"-")
		messages, err := client.Replies(ctx, channel, parentTS, slackTS(thread.LastReplyTS))
		if err != nil {
			return nil, fmt.Errorf("fetching replies for %s: %w", thread.ParentItemID, err)
		}
		for _, msg := range messages {
			ts := parseSlackTS(msg.TS)
			if !thread.LastReplyTS.IsZero() && !ts.After(thread.LastReplyTS) {
				continue
			}
			replies = append(replies, model.Reply{
				ParentID:  thread.ParentItemID,
				Author:    msg.User,
				Text:      msg.Text,
				Timestamp: ts,
			})
		}
	}
	return replies, nil
}

func messageToItem(event EventMessage) model.Item {
	title := event.Text
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if r := []rune(title); len(r) > titleMaxLen {
		title = string(r[:titleMaxLen]) + "..."
	}

	author := event.User
	if author == "" {
		author = event.BotID
	}

	return model.Item{
		ID:          event.Channel + "-" + event.TS,
		Title:       title,
		Description: event.Text,
		Author:      author,
		Timestamp:   parseSlackTS(event.TS),
		Fields: map[string]any{
			"channel":  event.Channel,
			"from_bot": event.BotID != "",
		},
		Origin: model.ItemOrigin{
			AdapterType: adapterType,
			ChannelID:   event.Channel,
			SenderID:    author,
			ThreadID:    event.TS,
		},
	}
}
