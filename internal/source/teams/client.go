package teams

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nhle/taskwire/internal/cache"
	"github.com/nhle/taskwire/internal/source"
)

const (
	graphBase = "https://graph.microsoft.com/v1.0"
	loginBase = "https://login.microsoftonline.com"
)

// tokenCache holds app access tokens keyed by tenant and client id. Graph
// tokens live about an hour; the cache's refresh margin forces a new
// token well before expiry.
var tokenCache = cache.NewTTL[string](0)

// Client calls the Microsoft Graph API using client-credentials OAuth.
type Client struct {
	tenantID     string
	clientID     string
	clientSecret string
	graphURL     string
	loginURL     string
	httpClient   *http.Client
}

// NewClient creates a Graph client for the given app registration.
func NewClient(tenantID, clientID, clientSecret string) *Client {
	return &Client{
		tenantID:     tenantID,
		clientID:     clientID,
		clientSecret: clientSecret,
		graphURL:     graphBase,
		loginURL:     loginBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// tokenResponse is the OAuth token endpoint payload.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// ChannelMessage is a Graph chatMessage resource, reduced to the fields
// the adapter reads.
type ChannelMessage struct {
	ID              string       `json:"id"`
	Subject         string       `json:"subject"`
	Importance      string       `json:"importance"`
	CreatedDateTime time.Time    `json:"createdDateTime"`
	From            *MessageFrom `json:"from"`
	Body            MessageBody  `json:"body"`
	ChannelIdentity *ChannelRef  `json:"channelIdentity"`
}

type MessageFrom struct {
	User        *Identity `json:"user"`
	Application *Identity `json:"application"`
}

type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type MessageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type ChannelRef struct {
	TeamID    string `json:"teamId"`
	ChannelID string `json:"channelId"`
}

// deltaResponse is one page of a delta query.
type deltaResponse struct {
	Value     []ChannelMessage `json:"value"`
	NextLink  string           `json:"@odata.nextLink"`
	DeltaLink string           `json:"@odata.deltaLink"`
}

// graphError is Graph's error envelope.
type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// token returns a cached app access token, requesting a fresh one when
// the cache misses.
func (c *Client) token(ctx context.Context) (string, error) {
	key := c.tenantID + "/" + c.clientID
	if tok, ok := tokenCache.Get(key); ok {
		return tok, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("scope", "https://graph.microsoft.com/.default")

	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.loginURL, c.tenantID)
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &source.TransientError{
			SourceType: adapterType,
			Message:    "requesting access token",
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("token endpoint returned %d: %s", resp.StatusCode, string(body)),
		}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("unmarshaling token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", &source.AuthError{
			SourceType: adapterType,
			Message:    "token endpoint returned no access token",
		}
	}

	tokenCache.Put(key, tok.AccessToken, time.Duration(tok.ExpiresIn)*time.Second)
	return tok.AccessToken, nil
}

// DeltaURL builds the initial delta query URL for a channel.
func (c *Client) DeltaURL(teamID, channelID string) string {
	return fmt.Sprintf("%s/teams/%s/channels/%s/messages/delta", c.graphURL, teamID, channelID)
}

// Delta fetches one page of a delta query. The caller follows the
// returned nextLink until a deltaLink arrives.
func (c *Client) Delta(ctx context.Context, pageURL string) (*deltaResponse, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating delta request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &source.TransientError{
			SourceType: adapterType,
			Message:    "fetching delta page",
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading delta response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusGone:
		return nil, &source.CursorExpiredError{
			SourceType: adapterType,
			Message:    "delta token no longer valid",
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		tokenCache.Delete(c.tenantID + "/" + c.clientID)
		return nil, &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("delta query returned %d", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &source.TransientError{
			SourceType: adapterType,
			Message:    "delta query rate limited",
		}
	default:
		var gerr graphError
		if json.Unmarshal(body, &gerr) == nil && gerr.Error.Code == "syncStateNotFound" {
			return nil, &source.CursorExpiredError{
				SourceType: adapterType,
				Message:    "sync state not found",
			}
		}
		return nil, fmt.Errorf("delta query returned %d: %s", resp.StatusCode, string(body))
	}

	var page deltaResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("unmarshaling delta page: %w", err)
	}
	return &page, nil
}
