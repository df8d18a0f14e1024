package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nhle/taskwire/internal/source"
)

// apiBase is the Telegram Bot API root.
const apiBase = "https://api.telegram.org"

// Client is a thin HTTP client for the Telegram Bot API. The bot token
// is part of every request path; there is no separate auth handshake.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new Telegram Bot API client.
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: apiBase,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// apiResponse is the Bot API's uniform envelope.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// Update is one entry from getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an inbound Telegram message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// User is a Telegram account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// GetMe verifies the bot token and returns the bot's username.
func (c *Client) GetMe(ctx context.Context) (string, error) {
	var me User
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return "", err
	}
	return me.Username, nil
}

// GetUpdates fetches updates with update_id >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := url.Values{}
	if offset > 0 {
		params.Set("offset", strconv.FormatInt(offset, 10))
	}
	params.Set("allowed_updates", `["message"]`)

	var updates []Update
	if err := c.call(ctx, "getUpdates?"+params.Encode(), nil, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage posts a text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	body := map[string]string{
		"chat_id": chatID,
		"text":    text,
	}
	return c.call(ctx, "sendMessage", body, nil)
}

// call performs one Bot API method call and unwraps the response
// envelope.
func (c *Client) call(
	ctx context.Context,
	method string,
	body any,
	result any,
) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)

	var bodyReader io.Reader
	httpMethod := http.MethodGet
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
		httpMethod = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("unmarshaling %s response: %w", method, err)
	}

	if !envelope.OK {
		if envelope.ErrorCode == http.StatusUnauthorized {
			return &source.AuthError{
				SourceType: adapterType,
				Message:    "bot token rejected: " + envelope.Description,
			}
		}
		if envelope.ErrorCode == http.StatusTooManyRequests {
			return &source.TransientError{
				SourceType: adapterType,
				Message:    "rate limited: " + envelope.Description,
			}
		}
		return fmt.Errorf("telegram API error %d on %s: %s",
			envelope.ErrorCode, method, envelope.Description)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("unmarshaling %s result: %w", method, err)
	}

	return nil
}
