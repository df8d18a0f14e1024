// Package telegram ingests messages delivered to a Telegram bot. The Bot
// API's getUpdates offset acts as the continuation cursor: the state
// stores the next update id to request, so each update is fetched once.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/secret"
	"github.com/nhle/taskwire/internal/source"
)

const adapterType = "telegram"

// Metadata describes the telegram adapter.
func Metadata() model.Metadata {
	return model.Metadata{
		Type:        adapterType,
		Name:        "Telegram Bot",
		Description: "Polls a Telegram bot for messages sent to it",
		Version:     "1.0.0",
		ConfigFields: []model.ConfigField{
			{Key: "bot_token_secret", Label: "Bot token secret name", Type: model.FieldTypeSecret, Required: true},
			{Key: "chat_id", Label: "Restrict to chat id", Type: model.FieldTypeString},
		},
		ItemFields: []model.ItemField{
			{Key: "chat", Label: "Chat", Type: model.ItemFieldString},
			{Key: "chat_type", Label: "Chat type", Type: model.ItemFieldEnum,
				Values: []string{"private", "group", "supergroup", "channel"}},
			{Key: "from_bot", Label: "Sent by a bot", Type: model.ItemFieldBoolean},
		},
		Capabilities: model.Capabilities{Send: true},
	}
}

// pollState is the telegram adapter's private continuation data.
type pollState struct {
	Offset int64 `json:"offset"`
}

// Adapter implements source.Adapter and source.Sender for Telegram bots.
type Adapter struct {
	newClient func(token string) *Client
}

// New creates a telegram adapter.
func New() source.Adapter {
	return &Adapter{newClient: NewClient}
}

// Validate checks that the bot token secret reference is present.
func (a *Adapter) Validate(cfg model.SourceConfig) error {
	if cfg.ConfigString("bot_token_secret") == "" {
		return &source.ConfigError{SourceType: adapterType, Message: "bot_token_secret is required"}
	}
	if chatID := cfg.ConfigString("chat_id"); chatID != "" {
		if _, err := strconv.ParseInt(chatID, 10, 64); err != nil {
			return &source.ConfigError{
				SourceType: adapterType,
				Message:    fmt.Sprintf("chat_id %q is not numeric", chatID),
			}
		}
	}
	return nil
}

// Poll fetches updates past the stored offset and maps message updates
// to items.
func (a *Adapter) Poll(
	ctx context.Context,
	cfg model.SourceConfig,
	state json.RawMessage,
	secrets secret.Resolver,
) (*source.PollResult, error) {
	var st pollState
	if len(state) > 0 {
		_ = json.Unmarshal(state, &st)
	}

	client, err := a.client(cfg, secrets)
	if err != nil {
		return nil, err
	}

	updates, err := client.GetUpdates(ctx, st.Offset)
	if err != nil {
		return nil, err
	}

	onlyChat := cfg.ConfigString("chat_id")

	items := make([]model.Item, 0, len(updates))
	for _, upd := range updates {
		if upd.UpdateID >= st.Offset {
			st.Offset = upd.UpdateID + 1
		}
		if upd.Message == nil {
			continue
		}
		if onlyChat != "" && strconv.FormatInt(upd.Message.Chat.ID, 10) != onlyChat {
			continue
		}
		items = append(items, messageToItem(upd.Message))
	}

	stateJSON, _ := json.Marshal(st)
	return &source.PollResult{Items: items, State: stateJSON}, nil
}

// Test verifies the bot token with getMe.
func (a *Adapter) Test(
	ctx context.Context,
	cfg model.SourceConfig,
	secrets secret.Resolver,
) (*source.TestResult, error) {
	client, err := a.client(cfg, secrets)
	if err != nil {
		return &source.TestResult{OK: false, Message: err.Error()}, nil
	}

	username, err := client.GetMe(ctx)
	if err != nil {
		return &source.TestResult{OK: false, Message: err.Error()}, nil
	}

	return &source.TestResult{
		OK:      true,
		Message: "authenticated as @" + username,
	}, nil
}

// Send posts a message to the target chat id.
func (a *Adapter) Send(
	ctx context.Context,
	target, message string,
	secrets secret.Resolver,
) error {
	token, err := secrets.Get(targetTokenName(target))
	if err != nil {
		return fmt.Errorf("resolving bot token for send: %w", err)
	}
	return a.newClient(token).SendMessage(ctx, targetChatID(target), message)
}

// Target format for Send is "<secret_name>:<chat_id>" so a send does not
// need the full source config.
func targetTokenName(target string) string {
	for i := 0; i < len(target); i++ {
		if target[i] == ':' {
			return target[:i]
		}
	}
	return target
}

func targetChatID(target string) string {
	for i := 0; i < len(target); i++ {
		if target[i] == ':' {
			return target[i+1:]
		}
	}
	return ""
}

// client builds an API client with the resolved bot token.
func (a *Adapter) client(
	cfg model.SourceConfig,
	secrets secret.Resolver,
) (*Client, error) {
	token, err := secrets.Get(cfg.ConfigString("bot_token_secret"))
	if err != nil {
		return nil, &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("resolving bot token: %v", err),
		}
	}
	return a.newClient(token), nil
}

// messageToItem converts a Telegram message to a model.Item.
func messageToItem(msg *Message) model.Item {
	author := ""
	senderID := ""
	fromBot := false
	if msg.From != nil {
		author = msg.From.Username
		if author == "" {
			author = msg.From.FirstName
		}
		senderID = strconv.FormatInt(msg.From.ID, 10)
		fromBot = msg.From.IsBot
	}

	chatName := msg.Chat.Title
	if chatName == "" {
		chatName = strconv.FormatInt(msg.Chat.ID, 10)
	}

	title := msg.Text
	if r := []rune(title); len(r) > 80 {
		title = string(r[:77]) + "..."
	}

	return model.Item{
		ID:          fmt.Sprintf("%d-%d", msg.Chat.ID, msg.MessageID),
		Title:       title,
		Description: msg.Text,
		Author:      author,
		Timestamp:   time.Unix(msg.Date, 0),
		Fields: map[string]any{
			"chat":      chatName,
			"chat_type": msg.Chat.Type,
			"from_bot":  fromBot,
		},
		Origin: model.ItemOrigin{
			AdapterType: adapterType,
			ChannelID:   strconv.FormatInt(msg.Chat.ID, 10),
			SenderID:    senderID,
		},
	}
}
