package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/domain"
)

// maxControlBytes bounds inbound frames; clients only ever send small
// control requests.
const maxControlBytes = 512

// replaySendTimeout is how long a catch-up waits on a client's send
// buffer before giving the client up.
const replaySendTimeout = 5 * time.Second

// control is one inbound request frame.
type control struct {
	Action    string          `json:"action"`
	FixtureID int64           `json:"fixture_id"`
	Type      domain.NoteType `json:"type,omitempty"`
	FromSeq   int64           `json:"from_seq,omitempty"`
}

// serverFrame is a non-note message to the client: acks, catch-up
// markers and errors. Notes themselves go out as encoded domain.Note
// frames, which clients tell apart by their seq field.
type serverFrame struct {
	Type      string          `json:"type"`
	FixtureID int64           `json:"fixture_id,omitempty"`
	NoteType  domain.NoteType `json:"note_type,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// noteKey identifies one per-client delivery stream.
type noteKey struct {
	fixture int64
	typ     domain.NoteType
}

// Client is one connected subscriber. The hub fans notes into send;
// writePump is the only goroutine that touches the connection for
// writes, readPump the only one for reads.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	lastSent  map[noteKey]int64
	fullSince time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.cfg.SendBuffer),
		lastSent: make(map[noteKey]int64),
		done:     make(chan struct{}),
	}
}

// seen returns the newest sequence already delivered on a key.
func (c *Client) seen(key noteKey) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSent[key]
}

// enqueueNote offers a live note without blocking the hub. Duplicates
// the client already saw are absorbed. ok=false means the send buffer
// stayed full past the grace window and the client must go.
func (c *Client) enqueueNote(n domain.Note, raw []byte) bool {
	key := noteKey{n.FixtureID, n.Type}
	c.mu.Lock()
	defer c.mu.Unlock()

	if n.Seq <= c.lastSent[key] {
		return true
	}
	select {
	case c.send <- raw:
		c.lastSent[key] = n.Seq
		c.fullSince = time.Time{}
		return true
	default:
	}

	// Full buffer: the note is shed (lastSent stays put, so the gap is
	// catch-up-able) and the grace clock runs.
	now := time.Now()
	if c.fullSince.IsZero() {
		c.fullSince = now
		return true
	}
	return now.Sub(c.fullSince) <= c.hub.cfg.SlowGrace
}

// replayNote pushes one catch-up note, blocking briefly if the buffer
// is full. Returns false when the client cannot absorb the replay.
func (c *Client) replayNote(n domain.Note) bool {
	key := noteKey{n.FixtureID, n.Type}
	c.mu.Lock()
	if n.Seq <= c.lastSent[key] {
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	raw, err := n.Encode()
	if err != nil {
		log.Error().Int64("fixture", n.FixtureID).Str("type", string(n.Type)).Err(err).
			Msg("Failed to encode replay note")
		return true
	}

	timer := time.NewTimer(replaySendTimeout)
	defer timer.Stop()
	select {
	case c.send <- raw:
	case <-c.done:
		return false
	case <-timer.C:
		return false
	}

	c.mu.Lock()
	if n.Seq > c.lastSent[key] {
		c.lastSent[key] = n.Seq
	}
	c.mu.Unlock()
	return true
}

// sendFrame pushes a control frame, best effort.
func (c *Client) sendFrame(f serverFrame) {
	raw, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	case <-c.done:
	case <-time.After(time.Second):
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.drop(c)
		_ = c.conn.Close()
	})
}

// readPump consumes control frames until the connection dies. It owns
// read deadlines: each pong (or frame) buys the peer another pong-wait.
func (c *Client) readPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(maxControlBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))

		var req control
		if err := json.Unmarshal(raw, &req); err != nil {
			c.sendFrame(serverFrame{Type: "error", Error: "bad_request"})
			continue
		}
		c.handle(ctx, req)
	}
}

func (c *Client) handle(ctx context.Context, req control) {
	if req.FixtureID <= 0 {
		c.sendFrame(serverFrame{Type: "error", Error: "bad_fixture"})
		return
	}
	switch req.Action {
	case "subscribe":
		if err := c.hub.attach(c, req.FixtureID); err != nil {
			c.sendFrame(serverFrame{Type: "error", FixtureID: req.FixtureID, Error: "subscribe_failed"})
			return
		}
		c.sendFrame(serverFrame{Type: "subscribed", FixtureID: req.FixtureID})
	case "unsubscribe":
		c.hub.detach(c, req.FixtureID)
		c.sendFrame(serverFrame{Type: "unsubscribed", FixtureID: req.FixtureID})
	case "catchup":
		c.hub.catchup(ctx, c, req)
	default:
		c.sendFrame(serverFrame{Type: "error", Error: "unknown_action"})
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings. It is the connection's only writer.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "slow consumer"),
				time.Now().Add(time.Second))
			return
		}
	}
}
