// Package realtime terminates websocket sessions: one connected client is
// one session. The session registers presence, relays typing signals, and
// streams broker events for every topic the user is authorized on.
// Reconnecting clients must refetch conversation state over REST; the
// socket only carries live diffs.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/roomly/connect/internal/presence"
	"github.com/roomly/connect/internal/pubsub"
	"github.com/roomly/connect/internal/services"
	"github.com/roomly/connect/internal/typing"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	outboundBuffer = 64
)

// Hub upgrades websocket requests and runs one session per connection.
type Hub struct {
	upgrader websocket.Upgrader
	broker   *pubsub.Broker
	presence *presence.Tracker
	typing   *typing.Coordinator
	convs    *services.ConversationService
	log      zerolog.Logger
}

func NewHub(b *pubsub.Broker, p *presence.Tracker, t *typing.Coordinator, c *services.ConversationService, log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		broker:   b,
		presence: p,
		typing:   t,
		convs:    c,
		log:      log,
	}
}

// inboundFrame is what clients send: heartbeats, typing edges, and
// subscriptions for conversations opened mid-session.
type inboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
}

// outboundFrame is what the session pushes to the client.
type outboundFrame struct {
	Type   string        `json:"type"`
	Event  *pubsub.Event `json:"event,omitempty"`
	Online []string      `json:"online,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// ServeHTTP upgrades the request. The authenticated identity arrives in the
// X-User-ID header (injected by the upstream auth layer); the user query
// parameter is accepted for browser clients that cannot set headers.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("user")
	}
	if userID == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	// The handler blocks for the whole session, so the request context
	// stays valid for store lookups made on behalf of this connection.
	h.runSession(r.Context(), conn, userID)
}

type session struct {
	hub       *Hub
	ctx       context.Context
	conn      *websocket.Conn
	userID    string
	sessionID string
	out       chan outboundFrame
	closeOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	member map[string]bool // conversation IDs this session may act on
	subs   []*pubsub.Subscription
}

func (h *Hub) runSession(ctx context.Context, conn *websocket.Conn, userID string) {
	s := &session{
		hub:       h,
		ctx:       ctx,
		conn:      conn,
		userID:    userID,
		sessionID: uuid.New().String(),
		out:       make(chan outboundFrame, outboundBuffer),
		done:      make(chan struct{}),
		member:    make(map[string]bool),
	}

	// Initial topic set: everything the user participates in right now.
	// Conversations opened later arrive via subscribe frames.
	topics := []string{pubsub.MatchesTopic(userID)}
	summaries, err := h.convs.ListConversations(ctx, userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("initial conversation list failed")
		_ = conn.Close()
		return
	}
	for _, c := range summaries {
		s.member[c.ConversationID] = true
		topics = append(topics,
			pubsub.MessagesTopic(c.ConversationID),
			pubsub.TypingTopic(c.ConversationID),
			pubsub.PresenceTopic(c.Other(userID)),
		)
	}

	sub, err := h.broker.Subscribe(ctx, userID, topics...)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("subscribe failed")
		_ = conn.Close()
		return
	}
	s.subs = append(s.subs, sub)

	h.presence.Join(userID, s.sessionID)
	h.log.Info().Str("user_id", userID).Str("session_id", s.sessionID).Msg("session connected")

	go s.writePump()
	go s.forward(sub)

	// Seed the client's local presence view; typing state is per
	// conversation and arrives as events.
	s.send(outboundFrame{Type: "hello", Online: h.presence.OnlineSet()})

	s.readPump()

	s.close()
	h.presence.Leave(userID, s.sessionID)
	h.log.Info().Str("user_id", userID).Str("session_id", s.sessionID).Msg("session disconnected")
}

// forward relays one subscription's events into the shared outbound queue.
// A full queue means the client cannot keep up; the session is dropped and
// the client refetches on reconnect.
func (s *session) forward(sub *pubsub.Subscription) {
	for evt := range sub.C() {
		e := evt
		select {
		case s.out <- outboundFrame{Type: "event", Event: &e}:
		default:
			s.hub.log.Warn().Str("user_id", s.userID).Msg("outbound queue full, dropping session")
			s.close()
			return
		}
	}
	// Broker evicted this subscription; the client must resync.
	s.close()
}

func (s *session) send(f outboundFrame) {
	select {
	case s.out <- f:
	default:
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case f := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) readPump() {
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f inboundFrame
		if err := s.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "heartbeat":
			s.hub.presence.Heartbeat(s.userID, s.sessionID)
		case "typing_start":
			if s.isMember(f.ConversationID) {
				s.hub.typing.StartTyping(f.ConversationID, s.userID)
			}
		case "typing_stop":
			if s.isMember(f.ConversationID) {
				s.hub.typing.StopTyping(f.ConversationID, s.userID)
			}
		case "subscribe":
			s.subscribeConversation(f.ConversationID)
		default:
			s.send(outboundFrame{Type: "error", Error: "unknown frame type"})
		}
	}
}

// subscribeConversation admits the session to a conversation opened after
// connect (e.g. a match auto-created one). Membership is validated before
// the broker is asked.
func (s *session) subscribeConversation(conversationID string) {
	if conversationID == "" || s.isMember(conversationID) {
		return
	}
	conv, err := s.hub.convs.GetConversation(s.ctx, conversationID, s.userID)
	if err != nil {
		s.send(outboundFrame{Type: "error", Error: "subscribe rejected"})
		return
	}
	sub, err := s.hub.broker.Subscribe(s.ctx, s.userID,
		pubsub.MessagesTopic(conversationID),
		pubsub.TypingTopic(conversationID),
		pubsub.PresenceTopic(conv.Other(s.userID)),
	)
	if err != nil {
		s.send(outboundFrame{Type: "error", Error: "subscribe rejected"})
		return
	}

	s.mu.Lock()
	s.member[conversationID] = true
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	go s.forward(sub)

	// Seed typing state for the late join; message history comes over REST.
	for _, userID := range s.hub.typing.TypingUsers(conversationID) {
		s.send(outboundFrame{Type: "event", Event: &pubsub.Event{
			Kind:           pubsub.KindTypingChanged,
			ConversationID: conversationID,
			UserID:         userID,
			Active:         true,
			Time:           time.Now().UTC(),
		}})
	}
}

func (s *session) isMember(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.member[conversationID]
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		subs := s.subs
		s.subs = nil
		s.mu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
		_ = s.conn.Close()
	})
}
