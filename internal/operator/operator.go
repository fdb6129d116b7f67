// Package operator implements the Operator Command Handler (C10, spec
// §4.10) and the WebSocket transport the operator console and the
// Subscription Broadcaster (C9) share: session authentication, command
// dispatch, and the Updates/FirstUpdate push protocol (spec §6 "Operator
// console protocol").
package operator

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/MartinSStewart/elm-review-bot/internal/broadcast"
	"github.com/MartinSStewart/elm-review-bot/internal/model"
)

// Backend is the subset of the pipeline C10 drives commands against. It is
// declared here, the consumer, so this package's tests can fake it without
// a real pipeline (the same convention internal/fetchmeta.Registry and
// internal/assemble.DependencyResolver follow).
type Backend interface {
	// Snapshot returns every record the broadcaster would project, for a
	// newly-authenticated session's FirstUpdate.
	Snapshot() []model.PackageRecord
	// IgnoreList returns the configured never-analyze package names.
	IgnoreList() []string
	// ResetBackend re-polls the registry from scratch (spec §4.10 "reset
	// all state and re-poll").
	ResetBackend()
	// ResetRules downgrades every analyzed record back to Fetched (spec
	// §3/§4.10).
	ResetRules()
	// RequestPR triggers C8 against name's FoundErrors-bearing record.
	RequestPR(name model.PackageName)
	// RerunPackage re-triggers C7 for one (name, version).
	RerunPackage(name model.PackageName, version model.Version)
}

// commandEnvelope is the wire shape of every client-to-server message:
// a discriminant plus whichever payload fields that verb uses.
type commandEnvelope struct {
	Type     string `json:"type"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
}

const (
	cmdResetBackend        = "ResetBackend"
	cmdResetRules          = "ResetRules"
	cmdLoginRequest        = "LoginRequest"
	cmdPullRequestRequest  = "PullRequestRequest"
	cmdRerunPackageRequest = "RerunPackageRequest"
)

// updateEnvelope and firstUpdateEnvelope are the wire shapes of the two
// server-to-client message verbs (spec §6).
type updateEnvelope struct {
	Type   string            `json:"type"`
	Deltas []broadcast.Delta `json:"deltas"`
}

type firstUpdateEnvelope struct {
	Type       string            `json:"type"`
	Snapshot   []broadcast.Delta `json:"snapshot"`
	IgnoreList []string          `json:"ignoreList"`
}

// Handler upgrades HTTP connections to the operator WebSocket protocol and
// wires each session into the shared Broadcaster.
type Handler struct {
	backend     Backend
	broadcaster *broadcast.Broadcaster
	secret      string
	upgrader    websocket.Upgrader
}

// New returns a Handler authenticating against secret (spec §4.10 "Login
// comparison is constant-time-equality against a configured secret").
func New(backend Backend, broadcaster *broadcast.Broadcaster, secret string) *Handler {
	return &Handler{
		backend:     backend,
		broadcaster: broadcaster,
		secret:      secret,
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// Routes mounts the WebSocket endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/operator", h.serveWS)
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sess := newSession(conn)
	defer sess.close(h.broadcaster)

	go sess.writePump()
	sess.readPump(h.backend, h.secret, h.broadcaster)
}

// session is one operator WebSocket connection: a single reader goroutine
// (the readPump this package's caller drives) and a single writer goroutine
// draining an outbound queue, so concurrent Broadcast pushes and command
// replies never race on the same *websocket.Conn.
type session struct {
	conn *websocket.Conn

	mu            sync.Mutex
	authenticated bool

	outbox chan any
	done   chan struct{}
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn, outbox: make(chan any, 64), done: make(chan struct{})}
}

// Send implements broadcast.Session. A full outbox means the session is
// not draining fast enough; the delta is dropped rather than blocking the
// single-threaded actor loop that calls Broadcast (spec §5's "dropped
// silently" extends naturally to a slow, not just a disconnected, client).
func (s *session) Send(deltas []broadcast.Delta) {
	select {
	case s.outbox <- updateEnvelope{Type: "Updates", Deltas: deltas}:
	case <-s.done:
	default:
	}
}

func (s *session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.outbox:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (s *session) readPump(backend Backend, secret string, b *broadcast.Broadcaster) {
	for {
		var env commandEnvelope
		if err := s.conn.ReadJSON(&env); err != nil {
			return
		}
		s.handle(env, backend, secret, b)
	}
}

// handle dispatches one command. Per spec §4.10, an unauthenticated
// session's only effective command is LoginRequest; every other verb is a
// no-op until login succeeds.
func (s *session) handle(env commandEnvelope, backend Backend, secret string, b *broadcast.Broadcaster) {
	if env.Type == cmdLoginRequest {
		s.tryLogin(env.Password, secret, backend, b)
		return
	}

	s.mu.Lock()
	authed := s.authenticated
	s.mu.Unlock()
	if !authed {
		return
	}

	switch env.Type {
	case cmdResetBackend:
		backend.ResetBackend()
	case cmdResetRules:
		backend.ResetRules()
	case cmdPullRequestRequest:
		name, err := model.ParsePackageName(env.Name)
		if err != nil {
			return
		}
		backend.RequestPR(name)
	case cmdRerunPackageRequest:
		name, err := model.ParsePackageName(env.Name)
		if err != nil {
			return
		}
		version, err := model.ParseVersion(env.Version)
		if err != nil {
			return
		}
		backend.RerunPackage(name, version)
	}
}

// tryLogin performs the constant-time secret comparison and, on success,
// sends the FirstUpdate snapshot and subscribes the session to future
// broadcasts (spec §4.9's "first emits a full snapshot, then switches to
// deltas", triggered here by a successful login rather than by bare
// connection since an unauthenticated session must never see package data).
func (s *session) tryLogin(password, secret string, backend Backend, b *broadcast.Broadcaster) {
	ok := subtle.ConstantTimeCompare([]byte(password), []byte(secret)) == 1

	s.mu.Lock()
	s.authenticated = ok
	s.mu.Unlock()
	if !ok {
		return
	}

	snapshot := broadcast.Snapshot(backend.Snapshot())
	select {
	case s.outbox <- firstUpdateEnvelope{Type: "FirstUpdate", Snapshot: snapshot, IgnoreList: backend.IgnoreList()}:
	case <-s.done:
		return
	}
	b.Subscribe(s)
}

func (s *session) close(b *broadcast.Broadcaster) {
	b.Unsubscribe(s)
	close(s.done)
	_ = s.conn.Close()
}
