package githubapp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/secret"
	"github.com/nhle/taskwire/internal/source"
)

const adapterType = "github_app"

// pollState tracks the updated_at high-water mark for the repository.
type pollState struct {
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// Adapter ingests GitHub issues as items, authenticating as a GitHub
// App installation.
type Adapter struct {
	newClient func(appID, installationID, privateKeyPEM string) (*Client, error)
}

// New creates a github_app adapter.
func New() source.Adapter {
	return &Adapter{newClient: NewClient}
}

// Metadata describes the github_app adapter.
func Metadata() model.Metadata {
	return model.Metadata{
		Type:        adapterType,
		Version:     "1.0.0",
		Name:        "GitHub App",
		Description: "Ingests repository issues via a GitHub App installation",
		ConfigFields: []model.ConfigField{
			{Key: "app_id", Label: "App ID", Type: model.FieldTypeString, Required: true},
			{Key: "installation_id", Label: "Installation ID", Type: model.FieldTypeString, Required: true},
			{Key: "private_key_secret", Label: "Private key secret name", Type: model.FieldTypeSecret, Required: true},
			{Key: "repository", Label: "Repository (owner/name)", Type: model.FieldTypeString, Required: true},
		},
		ItemFields: []model.ItemField{
			{
				Key:    "state",
				Label:  "State",
				Type:   model.ItemFieldEnum,
				Values: []string{"open", "closed"},
			},
			{Key: "labels", Label: "Labels", Type: model.ItemFieldString},
			{Key: "is_pull_request", Label: "Is pull request", Type: model.ItemFieldBoolean},
		},
		DefaultFilter: []model.FilterCondition{
			{Field: "state", Operator: model.OpEquals, Value: "open"},
		},
	}
}

func (a *Adapter) Validate(cfg model.SourceConfig) error {
	for _, field := range []string{"app_id", "installation_id", "private_key_secret"} {
		if cfg.ConfigString(field) == "" {
			return &source.ConfigError{
				SourceType: adapterType,
				Field:      field,
				Message:    field + " is required",
			}
		}
	}
	repo := cfg.ConfigString("repository")
	if parts := strings.Split(repo, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return &source.ConfigError{
			SourceType: adapterType,
			Field:      "repository",
			Message:    "repository must be owner/name",
		}
	}
	return nil
}

func (a *Adapter) Poll(
	ctx context.Context,
	cfg model.SourceConfig,
	state json.RawMessage,
	secrets secret.Resolver,
) (*source.PollResult, error) {
	client, err := a.client(cfg, secrets)
	if err != nil {
		return nil, err
	}

	var ps pollState
	if len(state) > 0 {
		if err := json.Unmarshal(state, &ps); err != nil {
			return nil, fmt.Errorf("unmarshaling poll state: %w", err)
		}
	}

	repo := cfg.ConfigString("repository")
	issues, err := client.IssuesSince(ctx, repo, ps.LastUpdated)
	if err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(issues))
	for _, issue := range issues {
		items = append(items, issueToItem(issue, repo))
		if issue.UpdatedAt.After(ps.LastUpdated) {
			ps.LastUpdated = issue.UpdatedAt
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

func (a *Adapter) Test(
	ctx context.Context,
	cfg model.SourceConfig,
	secrets secret.Resolver,
) (*source.TestResult, error) {
	client, err := a.client(cfg, secrets)
	if err != nil {
		return nil, err
	}
	if _, err := client.installToken(ctx); err != nil {
		return nil, err
	}

	return &source.TestResult{
		OK:      true,
		Message: fmt.Sprintf("authenticated as installation %s", cfg.ConfigString("installation_id")),
	}, nil
}

func (a *Adapter) client(cfg model.SourceConfig, secrets secret.Resolver) (*Client, error) {
	privateKey, err := secrets.Get(cfg.ConfigString("private_key_secret"))
	if err != nil {
		return nil, &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("resolving private key: %v", err),
		}
	}
	return a.newClient(
		cfg.ConfigString("app_id"),
		cfg.ConfigString("installation_id"),
		privateKey,
	)
}

func issueToItem(issue Issue, repo string) model.Item {
	labels := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labels = append(labels, label.Name)
	}

	var author string
	if issue.User != nil {
		author = issue.User.Login
	}

	return model.Item{
		ID:          fmt.Sprintf("%s#%d", repo, issue.Number),
		Title:       issue.Title,
		Description: issue.Body,
		Author:      author,
		Timestamp:   issue.UpdatedAt,
		Fields: map[string]any{
			"state":           issue.State,
			"labels":          strings.Join(labels, ","),
			"is_pull_request": issue.PullRequest != nil,
		},
		Origin: model.ItemOrigin{
			AdapterType: adapterType,
			ChannelID:   repo,
			SenderID:    author,
		},
	}
}
