package githubapp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/taskwire/internal/model"
	"github.com/nhle/taskwire/internal/secret"
	"github.com/nhle/taskwire/internal/source"
)

func testKeyPEM(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return key, string(pem.EncodeToMemory(block))
}

// apiStub mimics the token exchange and issues endpoints, recording the
// since parameter of each issues request.
type apiStub struct {
	mu       sync.Mutex
	key      *rsa.PrivateKey
	issues   []Issue
	sinceLog []string
	srv      *httptest.Server
}

func newAPIStub(t *testing.T, key *rsa.PrivateKey) *apiStub {
	t.Helper()
	s := &apiStub{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/app/installations/77/access_tokens", func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
			return &s.key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		if err != nil || !tok.Valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if iss, _ := tok.Claims.GetIssuer(); iss != "12345" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(installTokenResponse{
			Token:     "ghs_stub",
			ExpiresAt: time.Now().Add(time.Hour),
		})
	})
	mux.HandleFunc("/repos/acme/widgets/issues", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ghs_stub" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.sinceLog = append(s.sinceLog, r.URL.Query().Get("since"))
		issues := s.issues
		s.mu.Unlock()
		json.NewEncoder(w).Encode(issues)
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *apiStub) adapter(pemKey string) *Adapter {
	return &Adapter{newClient: func(appID, installationID, privateKeyPEM string) (*Client, error) {
		c, err := NewClient(appID, installationID, privateKeyPEM)
		if err != nil {
			return nil, err
		}
		c.baseURL = s.srv.URL
		return c, nil
	}}
}

func ghCfg() model.SourceConfig {
	return model.SourceConfig{
		ID:      "src-gh",
		Type:    adapterType,
		Enabled: true,
		Config: map[string]any{
			"app_id":             "12345",
			"installation_id":    "77",
			"private_key_secret": "gh_key",
			"repository":         "acme/widgets",
		},
	}
}

func ghIssue(number int, state string, updated time.Time, labels ...string) Issue {
	ls := make([]Label, 0, len(labels))
	for _, l := range labels {
		ls = append(ls, Label{Name: l})
	}
	return Issue{
		Number:    number,
		Title:     "issue title",
		Body:      "issue body",
		State:     state,
		UpdatedAt: updated,
		User:      &IssueUser{Login: "dave"},
		Labels:    ls,
	}
}

func TestPollAdvancesUpdatedCursor(t *testing.T) {
	installTokenCache.Clear()
	key, pemKey := testKeyPEM(t)
	stub := newAPIStub(t, key)

	t1 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)
	stub.issues = []Issue{
		ghIssue(1, "open", t1, "bug"),
		ghIssue(2, "closed", t2),
	}

	a := stub.adapter(pemKey)
	secrets := secret.Static{"gh_key": pemKey}

	result, err := a.Poll(context.Background(), ghCfg(), nil, secrets)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(result.Items))
	}
	if result.Items[0].ID != "acme/widgets#1" {
		t.Fatalf("items[0].ID = %s", result.Items[0].ID)
	}

	var ps pollState
	if err := json.Unmarshal(result.State, &ps); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if !ps.LastUpdated.Equal(t2) {
		t.Fatalf("LastUpdated = %v, want %v", ps.LastUpdated, t2)
	}

	// The next cycle must query with the stored high-water mark.
	if _, err := a.Poll(context.Background(), ghCfg(), result.State, secrets); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.sinceLog) != 2 {
		t.Fatalf("issues requests = %d, want 2", len(stub.sinceLog))
	}
	if stub.sinceLog[0] != "" {
		t.Fatalf("first since = %q, want empty baseline", stub.sinceLog[0])
	}
	if stub.sinceLog[1] != t2.Format(time.RFC3339) {
		t.Fatalf("second since = %q, want %q", stub.sinceLog[1], t2.Format(time.RFC3339))
	}
}

func TestPollBadKeySurfacesAuthError(t *testing.T) {
	installTokenCache.Clear()
	a := New().(*Adapter)
	_, err := a.Poll(context.Background(), ghCfg(), nil, secret.Static{"gh_key": "not a pem"})
	if !source.IsAuthError(err) {
		t.Fatalf("err = %v, want AuthError", err)
	}
}

func TestTestExchangesInstallationToken(t *testing.T) {
	installTokenCache.Clear()
	key, pemKey := testKeyPEM(t)
	stub := newAPIStub(t, key)

	res, err := stub.adapter(pemKey).Test(context.Background(), ghCfg(), secret.Static{"gh_key": pemKey})
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if !res.OK {
		t.Fatalf("res.OK = false: %s", res.Message)
	}
}

func TestValidateRepositoryShape(t *testing.T) {
	a := New()
	if err := a.Validate(ghCfg()); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	for _, repo := range []string{"", "acme", "acme/", "/widgets", "a/b/c"} {
		cfg := ghCfg()
		cfg.Config["repository"] = repo
		if err := a.Validate(cfg); !source.IsConfigError(err) {
			t.Fatalf("repository %q: err = %v, want ConfigError", repo, err)
		}
	}
}

func TestIssueToItem(t *testing.T) {
	updated := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	issue := ghIssue(7, "open", updated, "bug", "p1")
	issue.PullRequest = &struct{}{}

	it := issueToItem(issue, "acme/widgets")
	if it.ID != "acme/widgets#7" {
		t.Fatalf("ID = %s", it.ID)
	}
	if it.Fields["labels"] != "bug,p1" {
		t.Fatalf("labels = %v", it.Fields["labels"])
	}
	if it.Fields["is_pull_request"] != true {
		t.Fatalf("is_pull_request = %v, want true", it.Fields["is_pull_request"])
	}
	if it.Author != "dave" {
		t.Fatalf("Author = %q", it.Author)
	}
	if !it.Timestamp.Equal(updated) {
		t.Fatalf("Timestamp = %v", it.Timestamp)
	}
}
