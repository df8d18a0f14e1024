package webhook

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nhle/taskwire/internal/model"
)

// collector records verified payloads handed to the async handler.
type collector struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (c *collector) handle(body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
}

func (c *collector) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.bodies)
		c.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bodies
}

func postSigned(t *testing.T, handler http.Handler, path string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestListenerAcceptsValidSignature(t *testing.T) {
	l := NewListener(":0", nil)
	c := &collector{}
	if err := l.Register("/hooks/test", "topsecret", c.handle); err != nil {
		t.Fatalf("register: %v", err)
	}

	body := []byte(`{"event":"message"}`)
	rec := postSigned(t, l.Handler(), "/hooks/test", body, Sign(body, "topsecret"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	bodies := c.wait(t, 1)
	if len(bodies) != 1 || !bytes.Equal(bodies[0], body) {
		t.Fatalf("handler got %q, want the raw body", bodies)
	}
}

func TestListenerRejectsTamperedBody(t *testing.T) {
	l := NewListener(":0", nil)
	c := &collector{}
	if err := l.Register("/hooks/test", "topsecret", c.handle); err != nil {
		t.Fatalf("register: %v", err)
	}

	original := []byte(`{"event":"message"}`)
	signature := Sign(original, "topsecret")
	tampered := []byte(`{"event":"message","injected":true}`)

	rec := postSigned(t, l.Handler(), "/hooks/test", tampered, signature)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	// The tampered payload must never reach the parser.
	time.Sleep(20 * time.Millisecond)
	if bodies := c.wait(t, 0); len(bodies) != 0 {
		t.Fatalf("handler got %d payloads, want none", len(bodies))
	}

	// Recomputing the signature over the new body is accepted.
	rec = postSigned(t, l.Handler(), "/hooks/test", tampered, Sign(tampered, "topsecret"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status after re-sign = %d, want 200", rec.Code)
	}
}

func TestListenerRejectsMissingSignature(t *testing.T) {
	l := NewListener(":0", nil)
	if err := l.Register("/hooks/test", "topsecret", func([]byte) {}); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := postSigned(t, l.Handler(), "/hooks/test", []byte("{}"), "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte("payload")

	tests := []struct {
		name      string
		signature string
		secret    string
		want      bool
	}{
		{"valid with prefix", Sign(body, "s3cret"), "s3cret", true},
		{"valid without prefix", Sign(body, "s3cret")[len("sha256="):], "s3cret", true},
		{"wrong secret", Sign(body, "other"), "s3cret", false},
		{"empty signature", "", "s3cret", false},
		{"not hex", "sha256=zzzz", "s3cret", false},
		{"empty secret accepts", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(body, tt.signature, tt.secret); got != tt.want {
				t.Fatalf("VerifySignature = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegisterDuplicatePath(t *testing.T) {
	l := NewListener(":0", nil)
	if err := l.Register("/hooks/a", "", func([]byte) {}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := l.Register("/hooks/a", "", func([]byte) {}); err == nil {
		t.Fatal("duplicate path must be rejected")
	}
	if err := l.Register("no-slash", "", func([]byte) {}); err == nil {
		t.Fatal("path without leading slash must be rejected")
	}
}

func TestBufferAppendDrain(t *testing.T) {
	b := NewBuffer(3)

	for i := 0; i < 5; i++ {
		b.Append(model.Item{ID: string(rune('a' + i))})
	}
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want capacity 3", b.Len())
	}

	// Oldest entries are evicted first.
	items := b.Drain()
	if len(items) != 3 {
		t.Fatalf("drained %d, want 3", len(items))
	}
	if items[0].ID != "c" || items[2].ID != "e" {
		t.Fatalf("drained ids = %v, want c..e", []string{items[0].ID, items[1].ID, items[2].ID})
	}

	if b.Len() != 0 {
		t.Fatalf("Len after drain = %d, want 0", b.Len())
	}
	if got := b.Drain(); got != nil {
		t.Fatalf("second drain = %v, want nil", got)
	}
}

func TestPoolSharesListenersByAddr(t *testing.T) {
	p := NewPool(nil)
	a := p.Get(":9001")
	b := p.Get(":9001")
	c := p.Get(":9002")

	if a != b {
		t.Fatal("same addr must return the same listener")
	}
	if a == c {
		t.Fatal("different addrs must not share a listener")
	}
}
