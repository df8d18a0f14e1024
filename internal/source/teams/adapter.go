package teams

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/secret"
	"github.com/nhle/taskwire/internal/source"
)

const (
	adapterType = "teams"
	maxPages    = 10
	titleMaxLen = 80
)

// pollState tracks one delta link per channel. A missing link means the
// next poll starts a fresh baseline sync for that channel.
type pollState struct {
	DeltaLinks map[string]string `json:"delta_links,omitempty"`
}

// Adapter ingests Microsoft Teams channel messages through Graph delta
// queries.
type Adapter struct {
	newClient func(tenantID, clientID, clientSecret string) *Client
}

// New creates a teams adapter.
func New() source.Adapter {
	return &Adapter{newClient: NewClient}
}

// Metadata describes the teams adapter.
func Metadata() model.Metadata {
	return model.Metadata{
		Type:        adapterType,
		Version:     "1.0.0",
		Name:        "Microsoft Teams",
		Description: "Ingests channel messages from Microsoft Teams via Graph delta queries",
		ConfigFields: []model.ConfigField{
			{Key: "tenant_id", Label: "Tenant ID", Type: model.FieldTypeString, Required: true},
			{Key: "client_id", Label: "Client ID", Type: model.FieldTypeString, Required: true},
			{Key: "client_secret_secret", Label: "Client secret name", Type: model.FieldTypeSecret, Required: true},
			{Key: "team_id", Label: "Team ID", Type: model.FieldTypeString, Required: true},
			{Key: "channel_ids", Label: "Channel IDs (comma separated)", Type: model.FieldTypeString, Required: true},
		},
		ItemFields: []model.ItemField{
			{Key: "channel", Label: "Channel", Type: model.ItemFieldString},
			{
				Key:    "importance",
				Label:  "Importance",
				Type:   model.ItemFieldEnum,
				Values: []string{"normal", "high", "urgent"},
			},
			{Key: "from_application", Label: "From application", Type: model.ItemFieldBoolean},
		},
	}
}

func (a *Adapter) Validate(cfg model.SourceConfig) error {
	for _, field := range []string{"tenant_id", "client_id", "client_secret_secret", "team_id"} {
		if cfg.ConfigString(field) == "" {
			return &source.ConfigError{
				SourceType: adapterType,
				Field:      field,
				Message:    field + " is required",
			}
		}
	}
	if len(channelIDs(cfg)) == 0 {
		return &source.ConfigError{
			SourceType: adapterType,
			Field:      "channel_ids",
			Message:    "at least one channel id is required",
		}
	}
	return nil
}

// Poll runs a delta query per configured channel. Each channel's delta
// link is only replaced once its page loop completes, so an aborted
// cycle replays the same window next time. An expired delta token resets
// that channel to a baseline sync.
func (a *Adapter) Poll(
	ctx context.Context,
	cfg model.SourceConfig,
	state json.RawMessage,
	secrets secret.Resolver,
) (*source.PollResult, error) {
	clientSecret, err := secrets.Get(cfg.ConfigString("client_secret_secret"))
	if err != nil {
		return nil, &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("resolving client secret: %v", err),
		}
	}

	var ps pollState
	if len(state) > 0 {
		if err := json.Unmarshal(state, &ps); err != nil {
			return nil, fmt.Errorf("unmarshaling poll state: %w", err)
		}
	}
	if ps.DeltaLinks == nil {
		ps.DeltaLinks = make(map[string]string)
	}

	client := a.newClient(
		cfg.ConfigString("tenant_id"),
		cfg.ConfigString("client_id"),
		clientSecret,
	)
	teamID := cfg.ConfigString("team_id")

	var items []model.Item
	for _, channelID := range channelIDs(cfg) {
		channelItems, deltaLink, err := a.pollChannel(ctx, client, teamID, channelID, ps.DeltaLinks[channelID])
		if source.IsCursorExpired(err) {
			// Drop the stale link and rebuild from a baseline sync on
			// this same cycle.
			channelItems, deltaLink, err = a.pollChannel(ctx, client, teamID, channelID, "")
		}
		if err != nil {
			return nil, fmt.Errorf("polling channel %s: %w", channelID, err)
		}
		items = append(items, channelItems...)
		if deltaLink != "" {
			ps.DeltaLinks[channelID] = deltaLink
		}
	}

	newState, err := json.Marshal(ps)
	if err != nil {
		return nil, fmt.Errorf("marshaling poll state: %w", err)
	}

	return &source.PollResult{
		Items: items,
		State: newState,
	}, nil
}

// pollChannel follows one channel's delta pages until a delta link
// arrives or the page cap is hit. The remainder of a capped window is
// picked up on the next cycle via the returned nextLink.
func (a *Adapter) pollChannel(
	ctx context.Context,
	client *Client,
	teamID, channelID, cursor string,
) ([]model.Item, string, error) {
	pageURL := cursor
	if pageURL == "" {
		pageURL = client.DeltaURL(teamID, channelID)
	}

	var items []model.Item
	for page := 0; page < maxPages; page++ {
		resp, err := client.Delta(ctx, pageURL)
		if err != nil {
			return nil, "", err
		}
		for _, msg := range resp.Value {
			items = append(items, messageToItem(msg, channelID))
		}
		if resp.DeltaLink != "" {
			return items, resp.DeltaLink, nil
		}
		if resp.NextLink == "" {
			return items, "", nil
		}
		pageURL = resp.NextLink
	}
	// Page cap reached mid window. Persist the next page URL as the
	// cursor so the following cycle resumes where this one stopped.
	return items, pageURL, nil
}

func (a *Adapter) Test(
	ctx context.Context,
	cfg model.SourceConfig,
	secrets secret.Resolver,
) (*source.TestResult, error) {
	clientSecret, err := secrets.Get(cfg.ConfigString("client_secret_secret"))
	if err != nil {
		return nil, &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("resolving client secret: %v", err),
		}
	}

	client := a.newClient(
		cfg.ConfigString("tenant_id"),
		cfg.ConfigString("client_id"),
		clientSecret,
	)
	if _, err := client.token(ctx); err != nil {
		return nil, err
	}

	return &source.TestResult{
		OK:      true,
		Message: fmt.Sprintf("authenticated against tenant %s", cfg.ConfigString("tenant_id")),
	}, nil
}

func channelIDs(cfg model.SourceConfig) []string {
	var ids []string
	for _, id := range strings.Split(cfg.ConfigString("channel_ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML flattens Graph's HTML message bodies to plain text.
func stripHTML(content string) string {
	text := htmlTagPattern.ReplaceAllString(content, " ")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

func messageToItem(msg ChannelMessage, channelID string) model.Item {
	body := msg.Body.Content
	if msg.Body.ContentType == "html" {
		body = stripHTML(body)
	}

	title := msg.Subject
	if title == "" {
		title = body
	}
	if r := []rune(title); len(r) > titleMaxLen {
		title = string(r[:titleMaxLen]) + "..."
	}

	var author string
	fromApplication := false
	if msg.From != nil {
		switch {
		case msg.From.User != nil:
			author = msg.From.User.DisplayName
		case msg.From.Application != nil:
			author = msg.From.Application.DisplayName
			fromApplication = true
		}
	}

	importance := msg.Importance
	if importance == "" {
		importance = "normal"
	}

	return model.Item{
		ID:          channelID + "-" + msg.ID,
		Title:       title,
		Description: body,
		Author:      author,
		Timestamp:   msg.CreatedDateTime,
		Fields: map[string]any{
			"channel":          channelID,
			"importance":       importance,
			"from_application": fromApplication,
		},
		Origin: model.ItemOrigin{
			AdapterType: adapterType,
			ChannelID:   channelID,
			SenderID:    author,
		},
	}
}
