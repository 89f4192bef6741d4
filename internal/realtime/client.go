package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classmeet/backend/internal/events"
	"github.com/classmeet/backend/internal/lifecycle"
	"github.com/classmeet/backend/internal/mediabridge"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope. ID correlates request/response
// pairs for the media-negotiation messages; broadcast events leave it empty.
type WSMessage struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client represents a single WebSocket connection. SessionID/UserID are bound
// by the first join message; until then the connection belongs to no room.
type Client struct {
	ID        string
	SessionID uuid.UUID
	UserID    uuid.UUID
	joined    bool
	hub       *Hub
	ctrl      *lifecycle.Controller
	bridge    *mediabridge.Client
	conn      *websocket.Conn
	send      chan WSMessage
	logger    *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, ctrl *lifecycle.Controller, bridge *mediabridge.Client, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:     uuid.New().String(),
			hub:    hub,
			ctrl:   ctrl,
			bridge: bridge,
			conn:   conn,
			send:   make(chan WSMessage, 256),
			logger: logger,
		}
		go client.writePump()
		client.readPump()
	}
}

// roomRef identifies the sender's room; most inbound messages carry it.
type roomRef struct {
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
}

func (c *Client) readPump() {
	defer func() {
		if c.joined {
			c.hub.Unregister(c)
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handle(msg)
	}
}

func (c *Client) handle(msg WSMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch msg.Event {
	case "join":
		var ref roomRef
		if json.Unmarshal(msg.Data, &ref) != nil || ref.SessionID == uuid.Nil || ref.UserID == uuid.Nil {
			return
		}
		// Rebinding to another room must release the old one first, or the
		// stale registration keeps receiving that session's events forever.
		if c.joined {
			c.hub.Leave(c)
		}
		c.SessionID = ref.SessionID
		c.UserID = ref.UserID
		c.joined = true
		c.hub.Register(c)
		c.ctrl.AnnounceJoin(ctx, ref.SessionID, ref.UserID, c.ID)

	case "leave":
		if !c.joined {
			return
		}
		c.hub.Leave(c)
		c.joined = false
		c.hub.Broadcast(c.SessionID, events.UserLeft, events.UserLeftPayload{UserID: c.UserID})

	case "toggle_mute":
		var p struct {
			roomRef
			IsMuted bool `json:"isMuted"`
		}
		if json.Unmarshal(msg.Data, &p) == nil {
			c.logErr(msg.Event, c.ctrl.ToggleMute(ctx, p.SessionID, p.UserID, p.IsMuted))
		}

	case "toggle_video":
		var p struct {
			roomRef
			VideoEnabled bool `json:"videoEnabled"`
		}
		if json.Unmarshal(msg.Data, &p) == nil {
			c.logErr(msg.Event, c.ctrl.ToggleVideo(ctx, p.SessionID, p.UserID, p.VideoEnabled))
		}

	case "raise_hand":
		var p struct {
			roomRef
			IsRaised bool `json:"isRaised"`
		}
		if json.Unmarshal(msg.Data, &p) == nil {
			c.logErr(msg.Event, c.ctrl.RaiseHandNamed(ctx, p.SessionID, p.UserID, p.IsRaised))
		}

	case "send_message":
		// Pure relay: persistence goes through the HTTP send-message route,
		// this path only echoes the message to the room.
		var p struct {
			SessionID uuid.UUID       `json:"sessionId"`
			Message   json.RawMessage `json:"message"`
		}
		if json.Unmarshal(msg.Data, &p) == nil && p.SessionID != uuid.Nil {
			c.hub.Broadcast(p.SessionID, events.NewMessage, p.Message)
		}

	case "start_screen_share":
		var ref roomRef
		if json.Unmarshal(msg.Data, &ref) == nil {
			c.logErr(msg.Event, c.ctrl.StartScreenShare(ctx, ref.SessionID, ref.UserID))
		}

	case "stop_screen_share":
		var ref roomRef
		if json.Unmarshal(msg.Data, &ref) == nil {
			c.logErr(msg.Event, c.ctrl.StopScreenShare(ctx, ref.SessionID, ref.UserID))
		}

	case "start_livestream":
		var ref roomRef
		if json.Unmarshal(msg.Data, &ref) == nil {
			c.logErr(msg.Event, c.ctrl.StartLivestream(ctx, ref.SessionID, ref.UserID, c.ID))
		}

	case "stop_livestream":
		var ref roomRef
		if json.Unmarshal(msg.Data, &ref) == nil {
			c.logErr(msg.Event, c.ctrl.StopLivestream(ctx, ref.SessionID, ref.UserID, ""))
		}

	case "createProducerTransport":
		desc, err := c.bridge.CreateTransport(ctx, mediabridge.RoleProducer)
		c.reply(msg, desc, err)

	case "createConsumerTransport":
		desc, err := c.bridge.CreateTransport(ctx, mediabridge.RoleConsumer)
		c.reply(msg, desc, err)

	case "connectTransport":
		var p struct {
			TransportID    string          `json:"transportId"`
			DTLSParameters json.RawMessage `json:"dtlsParameters"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.reply(msg, nil, err)
			return
		}
		err := c.bridge.ConnectTransport(ctx, p.TransportID, p.DTLSParameters)
		c.reply(msg, map[string]bool{"success": true}, err)

	case "produce":
		var p struct {
			roomRef
			TransportID   string          `json:"transportId"`
			Kind          string          `json:"kind"`
			RTPParameters json.RawMessage `json:"rtpParameters"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.reply(msg, nil, err)
			return
		}
		producerID, err := c.ctrl.Produce(ctx, p.SessionID, p.UserID, p.TransportID, p.Kind, p.RTPParameters, c.ID)
		c.reply(msg, map[string]string{"id": producerID}, err)

	case "consume":
		var p struct {
			ProducerID      string          `json:"producerId"`
			RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
			TransportID     string          `json:"transportId"`
		}
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.reply(msg, nil, err)
			return
		}
		desc, err := c.bridge.Consume(ctx, p.ProducerID, p.RTPCapabilities, p.TransportID)
		c.reply(msg, desc, err)

	default:
		// ignore
	}
}

// reply sends the correlated response for a request/response-style message.
// Fire-and-forget broadcasts never get error replies; these do.
func (c *Client) reply(req WSMessage, payload any, err error) {
	if err != nil {
		payload = map[string]string{"error": err.Error()}
	}
	data, merr := json.Marshal(payload)
	if merr != nil {
		return
	}
	select {
	case c.send <- WSMessage{Event: req.Event, ID: req.ID, Data: data}:
	default:
	}
}

func (c *Client) logErr(event string, err error) {
	if err != nil {
		c.logger.Warn("socket event failed",
			zap.String("event", event),
			zap.String("client_id", c.ID),
			zap.Error(err))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
