package githubapp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/taskwire/internal/cache"
	"github.com/nhle/taskwire/internal/source"
)

const (
	apiBase     = "https://api.github.com"
	appJWTTTL   = 10 * time.Minute
	perPage     = 100
	installInfo = "installation token"
)

// installTokenCache holds installation access tokens keyed by
// installation id. GitHub issues them with a one hour lifetime.
var installTokenCache = cache.NewTTL[string](0)

// Client calls the GitHub REST API as a GitHub App installation.
type Client struct {
	appID          string
	installationID string
	privateKey     *rsa.PrivateKey
	baseURL        string
	httpClient     *http.Client
}

// NewClient parses the app's PEM private key and returns a client for
// the given installation.
func NewClient(appID, installationID, privateKeyPEM string) (*Client, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privateKeyPEM))
	if err != nil {
		return nil, &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("parsing app private key: %v", err),
		}
	}
	return &Client{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		baseURL:        apiBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Issue is a GitHub issue, reduced to the fields the adapter reads.
type Issue struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"`
	UpdatedAt   time.Time  `json:"updated_at"`
	User        *IssueUser `json:"user"`
	Labels      []Label    `json:"labels"`
	PullRequest *struct{}  `json:"pull_request"`
}

type IssueUser struct {
	Login string `json:"login"`
}

type Label struct {
	Name string `json:"name"`
}

// installTokenResponse is the installation token exchange payload.
type installTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// appJWT signs a short-lived RS256 JWT identifying the app.
func (c *Client) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing app JWT: %w", err)
	}
	return signed, nil
}

// installToken exchanges the app JWT for a cached installation token.
func (c *Client) installToken(ctx context.Context) (string, error) {
	if tok, ok := installTokenCache.Get(c.installationID); ok {
		return tok, nil
	}

	appToken, err := c.appJWT()
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/app/installations/%s/access_tokens", c.baseURL, c.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+appToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &source.TransientError{
			SourceType: adapterType,
			Message:    "requesting " + installInfo,
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", &source.AuthError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("%s exchange returned %d: %s", installInfo, resp.StatusCode, string(body)),
		}
	}

	var tok installTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("unmarshaling token response: %w", err)
	}

	installTokenCache.Put(c.installationID, tok.Token, time.Until(tok.ExpiresAt))
	return tok.Token, nil
}

// IssuesSince lists issues in a repository updated after since, oldest
// first so cursor advancement stays monotonic.
func (c *Client) IssuesSince(ctx context.Context, repo string, since time.Time) ([]Issue, error) {
	tok, err := c.installToken(ctx)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("state", "all")
	params.Set("sort", "updated")
	params.Set("direction", "asc")
	params.Set("per_page", fmt.Sprintf("%d", perPage))
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}

	endpoint := fmt.Sprintf("%s/repos/%s/issues?%s", c.baseURL, repo, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating issues request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &source.TransientError{
			SourceType: adapterType,
			Message:    "listing issues",
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading issues response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		installTokenCache.Delete(c.installationID)
		return nil, &source.AuthError{
			SourceType: adapterType,
			Message:    "installation token rejected",
		}
	case http.StatusForbidden, http.StatusTooManyRequests:
		return nil, &source.TransientError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("issues request returned %d", resp.StatusCode),
		}
	default:
		return nil, fmt.Errorf("issues request returned %d: %s", resp.StatusCode, string(body))
	}

	var issues []Issue
	if err := json.Unmarshal(body, &issues); err != nil {
		return nil, fmt.Errorf("unmarshaling issues: %w", err)
	}
	return issues, nil
}
