package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antigravity-dev/tracker/internal/bus"
)

const maxFrameSize = 64 << 10

// Socket ops a client may send.
const (
	opSubscribe     = "subscribe"
	opUnsubscribe   = "unsubscribe"
	opPublish       = "publish"
	opSubscribeUser = "subscribe_user"
)

type clientFrame struct {
	Op      string          `json:"op"`
	Topic   string          `json:"topic,omitempty"`
	UserID  string          `json:"user_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// socketClient bridges one WebSocket connection to the bus. Any connected
// client may subscribe to any topic; topic ownership is not checked.
type socketClient struct {
	s       *Server
	conn    *websocket.Conn
	send    chan any
	done    chan struct{}
	mu      sync.Mutex
	subs    map[string]*bus.Subscription
	dropped int
}

// GET /ws
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	notify := s.cfg.Get().Notify
	c := &socketClient{
		s:    s,
		conn: conn,
		send: make(chan any, max(notify.ClientQueueSize, 1)),
		done: make(chan struct{}),
		subs: make(map[string]*bus.Subscription),
	}

	s.sockets.Add(1)
	s.logger.Info("websocket connected", "remote_addr", r.RemoteAddr)

	go c.writeLoop(notify.WriteTimeout.Duration, notify.PingInterval.Duration)
	c.readLoop(notify.PingInterval.Duration)

	c.close()
	s.sockets.Add(-1)
	s.logger.Info("websocket disconnected", "remote_addr", r.RemoteAddr, "dropped", c.droppedCount())
}

// enqueue hands a frame to the writer without blocking. A full queue drops it.
func (c *socketClient) enqueue(v any) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- v:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

func (c *socketClient) droppedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *socketClient) subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[topic]; ok {
		return
	}
	c.subs[topic] = c.s.bus.Subscribe(topic, func(ev bus.Event) { c.enqueue(ev) })
}

func (c *socketClient) unsubscribe(topic string) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

// close drops every subscription of the connection and stops the writer,
// which sends the close frame and closes the connection.
func (c *socketClient) close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*bus.Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	close(c.done)
}

func (c *socketClient) readLoop(pingInterval time.Duration) {
	pongWait := 2 * pingInterval
	c.conn.SetReadLimit(maxFrameSize)
	if pongWait > 0 {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		c.handleFrame(data)
	}
}

func (c *socketClient) handleFrame(data []byte) {
	var f clientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		c.enqueue(errorFrame{Error: "malformed frame"})
		return
	}

	switch f.Op {
	case opSubscribe:
		if f.Topic == "" {
			c.enqueue(errorFrame{Error: "topic is required"})
			return
		}
		c.subscribe(f.Topic)
	case opUnsubscribe:
		c.unsubscribe(f.Topic)
	case opSubscribeUser:
		if f.UserID == "" {
			c.enqueue(errorFrame{Error: "user_id is required"})
			return
		}
		for _, kind := range bus.Kinds {
			c.subscribe(bus.Topic(kind, f.UserID))
		}
	case opPublish:
		if f.Topic == "" {
			c.enqueue(errorFrame{Error: "topic is required"})
			return
		}
		c.s.bus.Publish(f.Topic, f.Payload)
	default:
		c.enqueue(errorFrame{Error: "unknown op " + f.Op})
	}
}

func (c *socketClient) writeLoop(writeTimeout, pingInterval time.Duration) {
	defer c.conn.Close()

	var ping <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	deadline := func() time.Time {
		if writeTimeout <= 0 {
			return time.Time{}
		}
		return time.Now().Add(writeTimeout)
	}

	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
			return
		case v := <-c.send:
			c.conn.SetWriteDeadline(deadline())
			if err := c.conn.WriteJSON(v); err != nil {
				c.s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline()); err != nil {
				return
			}
		}
	}
}
