// Package email ingests messages from an IMAP mailbox. Incremental
// polling tracks the highest UID seen; UIDs are assigned monotonically
// per mailbox, so everything above the stored UID is new.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/secret"
	"github.com/nhle/taskwire/internal/source"
)

const adapterType = "email"

// Metadata describes the email adapter.
func Metadata() model.Metadata {
	return model.Metadata{
		Type:        adapterType,
		Name:        "Email (IMAP)",
		Description: "Polls an IMAP mailbox for new messages",
		Version:     "1.0.0",
		ConfigFields: []model.ConfigField{
			{Key: "imap_host", Label: "IMAP host", Type: model.FieldTypeString, Required: true},
			{Key: "imap_port", Label: "IMAP port", Type: model.FieldTypeString, Default: "993"},
			{Key: "username", Label: "Username", Type: model.FieldTypeString, Required: true},
			{Key: "password_secret", Label: "Password secret name", Type: model.FieldTypeSecret, Required: true},
			{Key: "use_tls", Label: "Use TLS", Type: model.FieldTypeBoolean, Default: true},
			{Key: "folder", Label: "Mailbox folder", Type: model.FieldTypeString, Default: "INBOX"},
			{Key: "max_items", Label: "Max messages per poll", Type: model.FieldTypeNumber, Default: 50},
		},
		ItemFields: []model.ItemField{
			{Key: "from", Label: "Sender", Type: model.ItemFieldString},
			{Key: "subject", Label: "Subject", Type: model.ItemFieldString},
			{Key: "flagged", Label: "Flagged", Type: model.ItemFieldBoolean},
		},
	}
}

// pollState is the email adapter's private continuation data.
type pollState struct {
	LastUID uint32 `json:"last_uid"`
}

// Adapter implements source.Adapter for IMAP mailboxes.
type Adapter struct{}

// New creates an email adapter.
func New() source.Adapter {
	return &Adapter{}
}

// Validate checks host, port, and username without touching the network.
func (a *Adapter) Validate(cfg model.SourceConfig) error {
	host := cfg.ConfigString("imap_host")
	if host == "" {
		return &source.ConfigError{SourceType: adapterType, Message: "imap_host is required"}
	}
	if strings.ContainsAny(host, "/ ") {
		return &source.ConfigError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("imap_host %q is not a hostname", host),
		}
	}
	port := cfg.ConfigString("imap_port")
	if port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			return &source.ConfigError{
				SourceType: adapterType,
				Message:    fmt.Sprintf("imap_port %q is not a valid port", port),
			}
		}
	}
	if cfg.ConfigString("username") == "" {
		return &source.ConfigError{SourceType: adapterType, Message: "username is required"}
	}
	if cfg.ConfigString("password_secret") == "" {
		return &source.ConfigError{SourceType: adapterType, Message: "password_secret is required"}
	}
	return nil
}

// Poll fetches messages with UIDs above the stored high-water mark and
// maps them to items.
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

	messages, maxUID, err := client.FetchSince(ctx, st.LastUID, cfg.ConfigInt("max_items", 50))
	if err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(messages))
	for _, msg := range messages {
		items = append(items, messageToItem(msg, cfg.ConfigString("folder")))
	}

	stateJSON, _ := json.Marshal(pollState{LastUID: maxUID})
	return &source.PollResult{Items: items, State: stateJSON}, nil
}

// Test connects, authenticates, and selects the configured folder.
// No state is read or written.
func (a *Adapter) Test(
	ctx context.Context,
	cfg model.SourceConfig,
	secrets secret.Resolver,
) (*source.TestResult, error) {
	client, err := a.client(cfg, secrets)
	if err != nil {
		return &source.TestResult{OK: false, Message: err.Error()}, nil
	}

	conn, err := client.Connect(ctx)
	if err != nil {
		return &source.TestResult{OK: false, Message: err.Error()}, nil
	}
	defer func() { _ = conn.Logout().Wait() }()

	if _, err := client.SelectFolder(conn); err != nil {
		return &source.TestResult{OK: false, Message: err.Error()}, nil
	}

	return &source.TestResult{
		OK:      true,
		Message: fmt.Sprintf("connected as %s", cfg.ConfigString("username")),
	}, nil
}

// client builds an IMAPClient from the source config, resolving the
// mailbox password through the secret resolver.
func (a *Adapter) client(
	cfg model.SourceConfig,
	secrets secret.Resolver,
) (*IMAPClient, error) {
	password, err := secrets.Get(cfg.ConfigString("password_secret"))
	if err != nil {
		return nil, &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("resolving password secret: %v", err),
		}
	}

	port := cfg.ConfigString("imap_port")
	if port == "" {
		port = "993"
	}

	useTLS := true
	if _, set := cfg.Config["use_tls"]; set {
		useTLS = cfg.ConfigBool("use_tls")
	}

	return NewIMAPClient(
		cfg.ConfigString("imap_host"),
		port,
		cfg.ConfigString("username"),
		password,
		cfg.ConfigString("folder"),
		useTLS,
	), nil
}

// messageToItem converts a fetched message to a model.Item. The IMAP UID
// is the item identity; it is stable for the lifetime of the mailbox.
func messageToItem(msg FetchedMessage, folder string) model.Item {
	body := msg.TextBody
	if body == "" && msg.HTMLBody != "" {
		body = stripHTML(msg.HTMLBody)
	}

	flagged := false
	for _, f := range msg.Envelope.Flags {
		if f == "\\Flagged" {
			flagged = true
			break
		}
	}

	var attachments []model.Attachment
	for _, att := range msg.Attachments {
		attachments = append(attachments, model.Attachment{
			URL:      "",
			Type:     att.MIMEType,
			Filename: att.Filename,
		})
	}

	if folder == "" {
		folder = "INBOX"
	}

	return model.Item{
		ID:          fmt.Sprintf("uid-%d", msg.Envelope.UID),
		Title:       msg.Envelope.Subject,
		Description: body,
		Author:      msg.Envelope.From,
		Timestamp:   msg.Envelope.Date,
		Attachments: attachments,
		Fields: map[string]any{
			"from":    msg.Envelope.From,
			"subject": msg.Envelope.Subject,
			"flagged": flagged,
		},
		Origin: model.ItemOrigin{
			AdapterType: adapterType,
			ChannelID:   folder,
			SenderID:    msg.Envelope.From,
			Metadata:    fmt.Sprintf(`{"message_id":%q}`, msg.Envelope.MessageID),
		},
	}
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and collapses whitespace,
// providing a basic plain-text rendering of an HTML-only message.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>"} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", "\"",
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
