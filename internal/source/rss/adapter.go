// Package rss ingests RSS and Atom feeds. Feeds have no auth and no
// server-side cursor; incremental polling rides on HTTP conditional GET
// (ETag / Last-Modified) carried in the adapter state, and items without
// a GUID get a content hash as their identity.
package rss

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/secret"
	"github.com/nhle/taskwire/internal/source"
)

const adapterType = "rss"

// httpTimeout bounds a single feed fetch.
const httpTimeout = 15 * time.Second

// Metadata describes the rss adapter.
func Metadata() model.Metadata {
	return model.Metadata{
		Type:        adapterType,
		Name:        "RSS / Atom Feed",
		Description: "Polls an RSS or Atom feed for new entries",
		Version:     "1.0.0",
		ConfigFields: []model.ConfigField{
			{Key: "feed_url", Label: "Feed URL", Type: model.FieldTypeString, Required: true},
			{Key: "max_items", Label: "Max items per poll", Type: model.FieldTypeNumber, Default: 50},
		},
		ItemFields: []model.ItemField{
			{Key: "feed_title", Label: "Feed title", Type: model.ItemFieldString},
			{Key: "categories", Label: "Categories", Type: model.ItemFieldString},
		},
	}
}

// pollState is the rss adapter's private continuation data.
type pollState struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	LastPolled   string `json:"last_polled,omitempty"`
}

// Adapter implements source.Adapter for RSS/Atom feeds.
type Adapter struct {
	httpClient *http.Client
	parser     *gofeed.Parser
}

// New creates an rss adapter.
func New() source.Adapter {
	return &Adapter{
		httpClient: &http.Client{Timeout: httpTimeout},
		parser:     gofeed.NewParser(),
	}
}

// Validate checks that the feed URL is present and parses.
func (a *Adapter) Validate(cfg model.SourceConfig) error {
	feedURL := cfg.ConfigString("feed_url")
	if feedURL == "" {
		return &source.ConfigError{SourceType: adapterType, Message: "feed_url is required"}
	}
	u, err := url.Parse(feedURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &source.ConfigError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("feed_url %q is not a valid http(s) URL", feedURL),
		}
	}
	return nil
}

// Poll fetches the feed with a conditional GET and returns its entries.
// A 304 response yields no items and leaves the validators untouched.
func (a *Adapter) Poll(
	ctx context.Context,
	cfg model.SourceConfig,
	state json.RawMessage,
	_ secret.Resolver,
) (*source.PollResult, error) {
	var st pollState
	if len(state) > 0 {
		// Unparseable state is treated as empty: the feed is simply
		// re-fetched from scratch.
		_ = json.Unmarshal(state, &st)
	}

	feed, notModified, newSt, err := a.fetch(ctx, cfg.ConfigString("feed_url"), st)
	if err != nil {
		return nil, err
	}

	newSt.LastPolled = time.Now().UTC().Format(time.RFC3339)
	stateJSON, _ := json.Marshal(newSt)

	if notModified {
		return &source.PollResult{State: stateJSON}, nil
	}

	maxItems := cfg.ConfigInt("max_items", 50)
	items := make([]model.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if maxItems > 0 && len(items) >= maxItems {
			break
		}
		items = append(items, entryToItem(feed, entry))
	}

	return &source.PollResult{Items: items, State: stateJSON}, nil
}

// Test fetches the feed once and returns its title plus a few sample
// entries.
func (a *Adapter) Test(
	ctx context.Context,
	cfg model.SourceConfig,
	_ secret.Resolver,
) (*source.TestResult, error) {
	feed, _, _, err := a.fetch(ctx, cfg.ConfigString("feed_url"), pollState{})
	if err != nil {
		return &source.TestResult{OK: false, Message: err.Error()}, nil
	}

	samples := make([]model.Item, 0, 3)
	for _, entry := range feed.Items {
		if len(samples) >= 3 {
			break
		}
		samples = append(samples, entryToItem(feed, entry))
	}

	return &source.TestResult{
		OK:          true,
		Message:     fmt.Sprintf("fetched %q (%d entries)", feed.Title, len(feed.Items)),
		SampleItems: samples,
	}, nil
}

// fetch retrieves and parses the feed. It returns notModified=true on a
// 304 response.
func (a *Adapter) fetch(
	ctx context.Context,
	feedURL string,
	st pollState,
) (feed *gofeed.Feed, notModified bool, newState pollState, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, false, st, fmt.Errorf("creating feed request: %w", err)
	}
	req.Header.Set("User-Agent", "taskwire/1.0")
	if st.ETag != "" {
		req.Header.Set("If-None-Match", st.ETag)
	}
	if st.LastModified != "" {
		req.Header.Set("If-Modified-Since", st.LastModified)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, false, st, &source.TransientError{
			SourceType: adapterType,
			Message:    "fetching feed " + feedURL,
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, true, st, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, st, &source.TransientError{
			SourceType: adapterType,
			Message:    fmt.Sprintf("feed %s returned %d: %s", feedURL, resp.StatusCode, string(body)),
		}
	}

	feed, err = a.parser.Parse(resp.Body)
	if err != nil {
		return nil, false, st, &source.TransientError{
			SourceType: adapterType,
			Message:    "parsing feed " + feedURL,
			Cause:      err,
		}
	}

	newState = pollState{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	return feed, false, newState, nil
}

// entryToItem converts a feed entry to a model.Item. Entries without a
// GUID fall back to a content hash of link and title as their identity.
func entryToItem(feed *gofeed.Feed, entry *gofeed.Item) model.Item {
	hash := contentHash(entry.Link, entry.Title)

	id := entry.GUID
	if id == "" {
		id = hash
	}

	ts := time.Now()
	if entry.PublishedParsed != nil {
		ts = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		ts = *entry.UpdatedParsed
	}

	author := ""
	if len(entry.Authors) > 0 {
		author = entry.Authors[0].Name
	}

	var attachments []model.Attachment
	for _, enc := range entry.Enclosures {
		attachments = append(attachments, model.Attachment{
			URL:  enc.URL,
			Type: enc.Type,
		})
	}

	return model.Item{
		ID:          id,
		Title:       entry.Title,
		Description: entry.Description,
		Hash:        hash,
		Author:      author,
		Timestamp:   ts,
		Attachments: attachments,
		Fields: map[string]any{
			"feed_title": feed.Title,
			"categories": strings.Join(entry.Categories, ","),
		},
		Origin: model.ItemOrigin{
			AdapterType: adapterType,
			ChannelID:   feed.Link,
			SenderID:    author,
		},
	}
}

// contentHash fingerprints an entry by its link and title.
func contentHash(link, title string) string {
	sum := sha256.Sum256([]byte(link + "\x00" + title))
	return hex.EncodeToString(sum[:])
}
