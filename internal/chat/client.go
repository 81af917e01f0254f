package chat

import (
	"sync"
	"time"

	"go-realtime/internal/realtime"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientConfig holds the websocket heartbeat and buffer limits.
type ClientConfig struct {
	WriteWait      time.Duration // Time allowed to write a message to the peer.
	PongWait       time.Duration // Time allowed to read the next pong message from the peer.
	PingPeriod     time.Duration // Send pings to peer with this period. Must be less than PongWait.
	MaxMessageSize int64         // Maximum message size allowed from peer.
	SendBuffer     int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

// Client is a middleman between the websocket connection and the engine.
// It is the realtime.Sink behind one Session.
type Client struct {
	session *realtime.Session
	conn    *websocket.Conn
	cfg     ClientConfig
	log     *zap.Logger

	// Buffered channel of outbound frames.
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, cfg ClientConfig, log *zap.Logger) *Client {
	return &Client{
		conn: conn,
		cfg:  cfg,
		log:  log,
		send: make(chan []byte, cfg.SendBuffer),
	}
}

// Send never blocks: a closed transport or a full buffer drops the event.
func (c *Client) Send(evt realtime.Event) bool {
	data, err := realtime.EncodeEvent(evt)
	if err != nil {
		c.log.Error("encode event", zap.String("event", string(evt.EventType())), zap.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.log.Warn("send buffer full, event dropped", zap.String("event", string(evt.EventType())))
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send) // stops the writePump
	}
}

// readPump pumps frames from the websocket connection to the session.
// Whatever ends it, the session is closed: this is the only cleanup path.
func (c *Client) readPump() {
	defer func() {
		c.session.Close()
		c.closeSend()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)

	// Heartbeat: a silent peer trips the read deadline and ends the loop.
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Info("websocket closed unexpectedly", zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.session.HandleFrame(message)
	}
}

// writePump pumps frames from the send buffer to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// The session closed the buffer.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One JSON frame per event; clients parse frames independently.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
