package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// DisconnectHandler is invoked when a connection drops without an explicit
// room leave, so the lifecycle controller can run the same cleanup path.
type DisconnectHandler func(sessionID, userID uuid.UUID)

// Publisher publishes events to Redis for cross-instance fan-out. An
// exceptClientID travels with the event so every subscribing instance can
// skip that connection.
type Publisher interface {
	PublishSessionEvent(sessionID uuid.UUID, event, exceptClientID string, payload []byte) error
}

// Subscriber subscribes to session channels and invokes handler for incoming events.
type Subscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(event, exceptClientID string, payload []byte)) (cancel func(), err error)
}

// Hub is the room registry: session id -> connected clients, plus the event
// broadcaster over those rooms. It never mutates persisted state itself; a
// dropped connection is reported through the disconnect handler instead.
type Hub struct {
	// sessionID -> map[clientID]*Client
	sessions     map[uuid.UUID]map[string]*Client
	subs         map[uuid.UUID]func() // cancel Redis subscription per session
	mu           sync.RWMutex
	logger       *zap.Logger
	pub          Publisher
	sub          Subscriber
	onDisconnect DisconnectHandler
}

// NewHub creates the room registry. pub/sub may be nil for single-instance
// deployments; fan-out then stays in-process.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		pub:      pub,
		sub:      sub,
	}
}

// SetDisconnectHandler wires the lifecycle controller's cleanup path.
func (h *Hub) SetDisconnectHandler(fn DisconnectHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = fn
}

// Register adds a client to a session room. The first client of a session
// starts the Redis subscription for that room.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
		if h.sub != nil {
			sessionID := c.SessionID
			cancel, err := h.sub.SubscribeSession(sessionID, func(event, exceptClientID string, payload []byte) {
				h.deliver(sessionID, exceptClientID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[sessionID] = cancel
			} else {
				h.logger.Warn("session subscribe failed", zap.String("session_id", sessionID.String()), zap.Error(err))
			}
		}
	}
	h.sessions[c.SessionID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client joined room",
		zap.String("client_id", c.ID),
		zap.String("session_id", c.SessionID.String()))
}

// Leave removes a client after an explicit leave message. No disconnect
// notification fires; the client asked to go.
func (h *Hub) Leave(c *Client) {
	h.remove(c)
}

// Unregister removes a client whose transport dropped and notifies the
// disconnect handler so persisted state gets the same cleanup as a leave.
func (h *Hub) Unregister(c *Client) {
	if !h.remove(c) {
		return
	}
	h.mu.RLock()
	fn := h.onDisconnect
	h.mu.RUnlock()
	if fn != nil {
		fn(c.SessionID, c.UserID)
	}
}

// remove reports whether the client was still registered. The last client of
// a session cancels its Redis subscription.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.sessions[c.SessionID]
	if !ok {
		return false
	}
	if _, ok := m[c.ID]; !ok {
		return false
	}
	delete(m, c.ID)
	if len(m) == 0 {
		delete(h.sessions, c.SessionID)
		if cancel, ok := h.subs[c.SessionID]; ok {
			cancel()
			delete(h.subs, c.SessionID)
		}
	}
	return true
}

// MemberCount returns the number of connections in a session room.
func (h *Hub) MemberCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Broadcast sends an event to every connection in the room. With Redis
// configured it publishes only; the subscription callback performs the single
// local delivery, so clients never see duplicates across instances.
func (h *Hub) Broadcast(sessionID uuid.UUID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("broadcast marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	if h.pub != nil {
		if err := h.pub.PublishSessionEvent(sessionID, event, "", data); err == nil {
			return
		}
		// Redis down: degrade to local-only delivery.
	}
	h.deliver(sessionID, "", event, json.RawMessage(data))
}

// BroadcastExcept sends an event to everyone in the room except one
// connection, used for producer/consumer negotiation events where the
// originator already has the answer. Room members may be connected to other
// instances, so this goes through Redis like Broadcast; the except filter is
// applied on delivery by whichever instance holds that connection.
func (h *Hub) BroadcastExcept(sessionID uuid.UUID, exceptClientID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("broadcast marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	if h.pub != nil {
		if err := h.pub.PublishSessionEvent(sessionID, event, exceptClientID, data); err == nil {
			return
		}
	}
	h.deliver(sessionID, exceptClientID, event, json.RawMessage(data))
}

// SendToClient sends an event to a single connection in a session. Stays
// local: callers target a client id minted by this instance (the websocket
// they are currently serving), so the connection is always here.
func (h *Hub) SendToClient(sessionID uuid.UUID, clientID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	c := h.sessions[sessionID][clientID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// deliver fans a marshaled event out to local room members, skipping
// exceptClientID when set. Fire-and-forget: a full send buffer drops the
// event for that client, who will re-sync durable state on reconnect.
func (h *Hub) deliver(sessionID uuid.UUID, exceptClientID, event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.sessions[sessionID] {
		if id == exceptClientID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}
