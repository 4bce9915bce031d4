// Package tunnel implements the agent tunnel: a long-lived WebSocket
// connection an agent-mode subscriber holds open so the server can push
// signals to it directly (§4.D, §5). Wire types live in protocol.go; this
// file implements the connection lifecycle over gorilla/websocket.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/starksama/herald/internal/authcrypto"
	"github.com/starksama/herald/internal/domain"
	"github.com/starksama/herald/internal/idgen"
	"github.com/starksama/herald/internal/registry"
	"github.com/starksama/herald/internal/store"
)

const (
	authTimeout  = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades incoming HTTP requests to tunnel sessions.
type Server struct {
	store    store.Store
	registry *registry.Registry
	log      *slog.Logger
}

func NewServer(st store.Store, reg *registry.Registry, log *slog.Logger) *Server {
	return &Server{store: st, registry: reg, log: log}
}

// ServeHTTP upgrades the connection and runs its session to completion. It
// never returns until the session ends, matching net/http's handler contract.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("tunnel: upgrade failed", "error", err)
		return
	}
	sess := &session{
		ws:    conn,
		store: s.store,
		reg:   s.registry,
		log:   s.log,
	}
	sess.run(r.Context())
}

// session drives one agent connection through Connected -> AwaitingAuth ->
// Live -> Closed. A session only ever serves a single subscriber identity,
// fixed once authenticate() succeeds.
type session struct {
	ws    *websocket.Conn
	store store.Store
	reg   *registry.Registry
	log   *slog.Logger

	conn *registry.Connection
}

func (s *session) run(ctx context.Context) {
	defer s.ws.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subscriberID, err := s.awaitAuth(ctx)
	if err != nil {
		s.log.Info("tunnel: auth failed", "error", err)
		return
	}

	s.reg.Register(s.conn)
	defer s.reg.UnregisterConn(s.conn)
	defer s.conn.Close()

	_ = s.store.Subscribers().UpdateAgentLastConnectedAt(ctx, subscriberID, time.Now())

	done := make(chan struct{})
	go s.readLoop(cancel, done)

	s.writeLoop(ctx)
	<-done
}

// awaitAuth blocks for the first frame, which must be an "auth" message, and
// validates the bearer token against a subscriber-owned, active API key.
// A non-auth first frame or an invalid token is answered with auth_error; a
// malformed frame, a read error or the auth timeout closes the connection
// with no reply.
func (s *session) awaitAuth(ctx context.Context) (string, error) {
	_ = s.ws.SetReadDeadline(time.Now().Add(authTimeout))

	_, raw, err := s.ws.ReadMessage()
	if err != nil {
		return "", err
	}

	msg, err := ParseClientMessage(raw)
	if err != nil {
		return "", err
	}
	if msg.Type != ClientMsgAuth {
		s.sendAuthError("first message must be auth")
		return "", errors.New("tunnel: first frame was not auth")
	}

	subscriberID, err := s.authenticate(ctx, msg.Token)
	if err != nil {
		s.sendAuthError(err.Error())
		return "", err
	}

	s.conn = registry.NewConnection(idgen.NewID(idgen.PrefixConnection), subscriberID)
	_ = s.ws.SetReadDeadline(time.Time{})
	return subscriberID, s.sendAuthOK(subscriberID)
}

var errNotSubscriberKey = errors.New("tunnel: key is not a subscriber key")

// authenticate hashes token and looks it up; only an active key owned by a
// subscriber authenticates a tunnel session (testable property #10).
func (s *session) authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New("tunnel: missing token")
	}
	hash := authcrypto.HashAPIKey(token)
	key, err := s.store.ApiKeys().GetByHash(ctx, hash)
	if err != nil {
		return "", err
	}
	if key.OwnerType != domain.OwnerSubscriber {
		return "", errNotSubscriberKey
	}
	_ = s.store.ApiKeys().TouchLastUsed(ctx, key.ID, time.Now())
	return key.OwnerID, nil
}

func (s *session) sendAuthOK(subscriberID string) error {
	raw, err := Encode(AuthOK(s.connID(), subscriberID))
	if err != nil {
		return err
	}
	return s.writeRaw(raw)
}

func (s *session) sendAuthError(message string) {
	raw, err := Encode(AuthError(message))
	if err != nil {
		return
	}
	_ = s.writeRaw(raw)
}

func (s *session) connID() string {
	if s.conn == nil {
		return ""
	}
	return s.conn.ConnectionID
}

func (s *session) writeRaw(raw []byte) error {
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(websocket.TextMessage, raw)
}

// readLoop drains client frames (ack, pong, and a stray re-auth) until the
// connection errors or ctx is cancelled by the write side. Acks and pongs
// are informational only; Herald does not act on ack receipt (§7 open
// question: acks are diagnostic, not a delivery-confirmation signal).
//
// The heartbeat is an application-level {"type":"ping"}/{"type":"pong"} pair
// (§4.D, §6), not native WebSocket control frames, so liveness is tracked by
// extending the read deadline on a received ClientMsgPong rather than by a
// gorilla/websocket SetPongHandler, which would only fire on a native Pong
// control frame this tunnel never sends or expects.
func (s *session) readLoop(cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	defer cancel()

	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			return
		}
		msg, err := ParseClientMessage(raw)
		if err != nil {
			s.log.Debug("tunnel: dropping malformed frame", "error", err)
			continue
		}
		switch msg.Type {
		case ClientMsgAck:
			s.log.Debug("tunnel: ack", "subscriber_id", s.conn.SubscriberID, "delivery_id", msg.DeliveryID)
		case ClientMsgPong:
			_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
		default:
			s.log.Debug("tunnel: unexpected frame after auth", "type", msg.Type)
		}
	}
}

// writeLoop owns the socket's write side: it drains the registry
// connection's outbound channel and issues a periodic ping, satisfying
// gorilla/websocket's single-writer-goroutine requirement. The heartbeat is
// the documented JSON ServerMessage (§4.D, §6), encoded and written through
// the same writeRaw path as a signal frame, not a native WebSocket Ping
// control frame — an agent that only understands the JSON protocol must be
// able to see it.
func (s *session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-s.conn.Outbound():
			if !ok {
				return
			}
			if err := s.writeRaw(payload); err != nil {
				return
			}
		case <-ticker.C:
			raw, err := Encode(Ping())
			if err != nil {
				return
			}
			if err := s.writeRaw(raw); err != nil {
				return
			}
		}
	}
}

// Send marshals and pushes a signal frame to subscriberID's live connection,
// if any. It returns false when the subscriber has no active tunnel session
// or its outbound buffer is saturated, signalling the caller (internal/
// delivery) to fall back to a webhook.
func Send(reg *registry.Registry, subscriberID string, msg ServerMessage) bool {
	conn, ok := reg.Get(subscriberID)
	if !ok {
		return false
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return registry.TrySend(conn, raw)
}
