// Package client provides a reusable WebSocket load test client for the
// Majlis chat server. It connects using gobwas/ws (the same library the
// server uses), joins rooms through the normal joinRoom flow, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinRoom    = "joinRoom"
	TypeChatMessage = "chatMessage"
	TypeTyping      = "typing"
	TypePing        = "ping"
)

// Server -> Client message types.
const (
	TypeMessage        = "message"
	TypeMessageHistory = "messageHistory"
	TypeRoomUsers      = "roomUsers"
	TypeActiveRooms    = "activeRooms"
	TypeBanned         = "banned"
	TypeRateLimited    = "rateLimited"
	TypeError          = "error"
	TypePong           = "pong"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	JoinLatency      time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the Majlis server.
// It manages the WebSocket lifecycle and dispatches incoming messages to
// registered handlers.
type Client struct {
	conn      net.Conn
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once

	accepted  chan struct{} // closed on the activeRooms push
	joined    chan struct{} // closed on the first roomUsers broadcast
	joinStart time.Time
}

// New creates a new load test client connected to the given WebSocket URL.
// The connection is established immediately and a background goroutine begins
// reading messages.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
		accepted: make(chan struct{}),
		joined:   make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Join sends a joinRoom request for the given identity.
func (c *Client) Join(username, room string) error {
	c.joinStart = time.Now()
	return c.Send(map[string]string{
		"type":     TypeJoinRoom,
		"username": username,
		"room":     room,
	})
}

// Chat sends a text message to the client's current room.
func (c *Client) Chat(text string) error {
	return c.Send(map[string]string{
		"type": TypeChatMessage,
		"text": text,
	})
}

// On registers a handler for a specific server message type. The handler
// receives the full raw JSON of the message for flexible decoding.
// Handlers are invoked from the read loop goroutine so they should not block
// for extended periods. Only one handler per message type is supported;
// registering a second handler for the same type replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlers[msgType] = handler
}

// WaitForAccept blocks until the server has accepted the connection (the
// activeRooms push arrives) or the context is cancelled. A banned or
// rate-limited address never gets the push, so this doubles as the rejection
// check.
func (c *Client) WaitForAccept(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before it was accepted")
	case <-c.accepted:
		return nil
	}
}

// WaitForJoin blocks until the first roomUsers broadcast confirms room
// membership, or the context is cancelled.
func (c *Client) WaitForJoin(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before the join completed")
	case <-c.joined:
		return nil
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	return c.metrics
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.metrics.Errors++
			return
		}

		c.metrics.MessagesReceived++

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		switch envelope.Type {
		case TypeActiveRooms:
			select {
			case <-c.accepted:
			default:
				close(c.accepted)
			}
		case TypeRoomUsers:
			select {
			case <-c.joined:
			default:
				if !c.joinStart.IsZero() {
					c.metrics.JoinLatency = time.Since(c.joinStart)
				}
				close(c.joined)
			}
		}

		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}
