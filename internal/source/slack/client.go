package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/taskwire/internal/source"
)

// apiBase is the Slack Web API root.
const apiBase = "https://slack.com/api"

// Client is a thin HTTP client for the Slack Web API using a long-lived
// bot token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Slack Web API client.
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: apiBase,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// authTestResponse is the auth.test payload.
type authTestResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Team  string `json:"team"`
	User  string `json:"user"`
}

// repliesResponse is the conversations.replies payload.
type repliesResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error"`
	Messages []EventMessage `json:"messages"`
}

// postMessageResponse is the chat.postMessage payload.
type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// AuthTest verifies the bot token and returns "team/user".
func (c *Client) AuthTest(ctx context.Context) (string, error) {
	var resp authTestResponse
	if err := c.get(ctx, "auth.test", nil, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return "", apiError("auth.test", resp.Error)
	}
	return resp.Team + "/" + resp.User, nil
}

// Replies fetches thread messages after oldest for the given parent ts.
// The parent message itself is excluded.
func (c *Client) Replies(
	ctx context.Context,
	channel, parentTS, oldest string,
) ([]EventMessage, error) {
	params := url.Values{}
	params.Set("channel", channel)
	params.Set("ts", parentTS)
	if oldest != "" {
		params.Set("oldest", oldest)
	}
	params.Set("limit", "200")

	var resp repliesResponse
	if err := c.get(ctx, "conversations.replies", params, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, apiError("conversations.replies", resp.Error)
	}

	var replies []EventMessage
	for _, msg := range resp.Messages {
		if msg.TS == parentTS {
			continue
		}
		replies = append(replies, msg)
	}
	return replies, nil
}

// PostMessage posts text to a channel.
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	body := map[string]string{
		"channel": channel,
		"text":    text,
	}

	var resp postMessageResponse
	if err := c.post(ctx, "chat.postMessage", body, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return apiError("chat.postMessage", resp.Error)
	}
	return nil
}

// get performs an authenticated GET against a Web API method.
func (c *Client) get(
	ctx context.Context,
	method string,
	params url.Values,
	result any,
) error {
	endpoint := c.baseURL + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	return c.do(req, method, result)
}

// post performs an authenticated JSON POST against a Web API method.
func (c *Client) post(
	ctx context.Context,
	method string,
	body any,
	result any,
) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(data),
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, method, result)
}

func (c *Client) do(req *http.Request, method string, result any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &source.TransientError{
			SourceType: adapterType,
			Message:    "calling " + method,
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &source.TransientError{
			SourceType: adapterType,
			Message:    "rate limited on " + method,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d on %s: %s",
			resp.StatusCode, method, string(respBody))
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling %s response: %w", method, err)
	}
	return nil
}

// apiError maps Slack's ok=false error strings to the error taxonomy.
func apiError(method, code string) error {
	switch code {
	case "invalid_auth", "not_authed", "token_revoked", "token_expired":
		return &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("%s: %s", method, code),
		}
	case "ratelimited":
		return &source.TransientError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("%s: %s", method, code),
		}
	default:
		return fmt.Errorf("slack API error on %s: %s", method, code)
	}
}

// slackTS renders a time as a Slack message timestamp.
func slackTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// parseSlackTS parses a Slack "seconds.micros" timestamp.
func parseSlackTS(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if len(parts) == 2 {
		micros, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return time.Unix(sec, micros*1000)
}
