// Package webhook runs the inbound HTTP listeners for realtime adapters.
// A Listener owns one http.Server; adapters register a path plus a shared
// secret, and every inbound POST is HMAC-verified before its body reaches
// the adapter's parser. Listener lifecycle belongs to the engine: started
// once at engine init, shut down at engine stop.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the raw request
// body, optionally prefixed with "sha256=" (GitHub-style).
const SignatureHeader = "X-Signature-256"

// maxBodyBytes caps inbound request bodies at 1MB.
const maxBodyBytes = 1 << 20

// PayloadHandler receives a verified raw body for asynchronous parsing.
// It runs after the HTTP response has been written; a parse failure must
// not affect the already-sent 200.
type PayloadHandler func(body []byte)

// Listener is an HTTP server accepting signed webhook pushes on one or
// more registered paths.
type Listener struct {
	addr   string
	router *chi.Mux
	log    *slog.Logger

	mu      sync.Mutex
	server  *http.Server
	started bool
	paths   map[string]bool
}

// NewListener creates a listener bound to addr once started.
func NewListener(addr string, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		addr:   addr,
		router: chi.NewRouter(),
		log:    log.With("component", "webhook", "addr", addr),
		paths:  make(map[string]bool),
	}
}

// Register mounts a POST route at path. Inbound requests are verified
// against secret and the verified body is handed to handler
// asynchronously. Registration must happen before Start.
func (l *Listener) Register(path, secret string, handler PayloadHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("webhook listener %s already started", l.addr)
	}
	if path == "" || path[0] != '/' {
		return fmt.Errorf("invalid webhook path %q", path)
	}
	if l.paths[path] {
		return fmt.Errorf("webhook path %q already registered on %s", path, l.addr)
	}
	l.paths[path] = true

	log := l.log.With("path", path)
	l.router.Post(path, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "read body failed", http.StatusBadRequest)
			return
		}

		if !VerifySignature(body, r.Header.Get(SignatureHeader), secret) {
			log.Warn("rejected webhook push with invalid signature")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}

		// Respond before parsing to satisfy platform latency limits.
		w.WriteHeader(http.StatusOK)

		go handler(body)
	})

	return nil
}

// Start binds the listener and serves in the background.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return nil
	}
	l.started = true

	l.server = &http.Server{
		Addr:              l.addr,
		Handler:           l.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	go func() {
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.log.Error("webhook listener stopped", "error", err)
		}
	}()

	l.log.Info("webhook listener started")
	return nil
}

// Shutdown stops the listener gracefully.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started || l.server == nil {
		return nil
	}
	l.started = false

	return l.server.Shutdown(ctx)
}

// Handler exposes the router for tests driving the listener through
// httptest without binding a socket.
func (l *Listener) Handler() http.Handler {
	return l.router
}

// VerifySignature checks a hex HMAC-SHA256 signature over body with a
// constant-time compare. An empty secret accepts everything; an empty or
// malformed signature is rejected when a secret is set.
func VerifySignature(body []byte, signature, secret string) bool {
	if secret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	const prefix = "sha256="
	if len(signature) > len(prefix) && signature[:len(prefix)] == prefix {
		signature = signature[len(prefix):]
	}

	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}

// Sign computes the signature header value for body, for outbound pushes
// and tests.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Pool hands out one Listener per listen address so realtime sources can
// share a port.
type Pool struct {
	mu        sync.Mutex
	listeners map[string]*Listener
	log       *slog.Logger
}

// NewPool creates an empty listener pool.
func NewPool(log *slog.Logger) *Pool {
	return &Pool{
		listeners: make(map[string]*Listener),
		log:       log,
	}
}

// Get returns the listener for addr, creating it on first use.
func (p *Pool) Get(addr string) *Listener {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.listeners[addr]
	if !ok {
		l = NewListener(addr, p.log)
		p.listeners[addr] = l
	}
	return l
}

// StartAll starts every listener in the pool.
func (p *Pool) StartAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, l := range p.listeners {
		if err := l.Start(); err != nil {
			return err
		}
	}
	return nil
}

// ShutdownAll stops every listener in the pool.
func (p *Pool) ShutdownAll(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, l := range p.listeners {
		if err := l.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
