// Package wsserver is the WebSocket transport used by the terminal
// bridge: one Conn per PTY session, not the shared multiplexed-connection
// model a desktop single-client app would use. Each Conn owns its own
// ping/pong keepalive and write-deadline discipline; callers read frames
// with ReadMessage and write with WriteText/WriteBinary from whichever
// goroutine produces them, serialized internally.
package wsserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeDeadline bounds a single WebSocket write. A write that blocks past
// this is treated as a dead peer.
const writeDeadline = 5 * time.Second

// readDeadline is the longest the server waits for any read activity
// (including pongs) before considering the connection dead. Three missed
// pings (pingInterval=30s) exhaust this.
const readDeadline = 90 * time.Second

// pingInterval is how often the server sends a keepalive ping.
const pingInterval = 30 * time.Second

// maxReadMessageSize bounds incoming frame size. Terminal input and resize
// control messages are small; 32 KiB is generous headroom against a
// misbehaving or malicious client.
const maxReadMessageSize = 32 * 1024

var upgrader = websocket.Upgrader{
	// The HTTP surface this serves binds to a configured address under the
	// caller's control, not necessarily localhost-only, so origin is not
	// used as a security boundary here.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 8 * 1024,
}

// Conn is one upgraded WebSocket connection with keepalive and
// write-serialization built in. The zero value is not usable; construct
// with Upgrade.
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	pingDone  chan struct{}
	closeOnce sync.Once
}

// Upgrade upgrades an HTTP request to a WebSocket connection and starts its
// ping loop. The caller owns the returned Conn's lifetime and must call
// Close when done.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wsserver: upgrade: %w", err)
	}

	ws.SetReadLimit(maxReadMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		ws.Close()
		return nil, fmt.Errorf("wsserver: set initial read deadline: %w", err)
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readDeadline))
	})

	c := &Conn{ws: ws, pingDone: make(chan struct{})}
	go c.pingLoop()
	return c, nil
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.pingDone:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				c.writeMu.Unlock()
				slog.Debug("[wsserver] set write deadline for ping failed", "error", err)
				return
			}
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				slog.Debug("[wsserver] ping failed, closing", "error", err)
				c.Close()
				return
			}
		}
	}
}

// WriteText writes a UTF-8 text frame.
func (c *Conn) WriteText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

// WriteBinary writes a binary frame.
func (c *Conn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return fmt.Errorf("wsserver: set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("wsserver: write: %w", err)
	}
	return nil
}

// ReadMessage blocks for the next client frame. Callers run this in a loop
// from a single reader goroutine; gorilla/websocket does not support
// concurrent reads any more than it supports concurrent writes.
func (c *Conn) ReadMessage() (messageType int, data []byte, err error) {
	return c.ws.ReadMessage()
}

// IsText reports whether messageType, as returned by ReadMessage, is a
// text frame (as opposed to binary).
func IsText(messageType int) bool { return messageType == websocket.TextMessage }

// SetReadDeadline overrides the read deadline for the next read only (e.g.
// the bridge's short initial-resize handshake window). ResetReadDeadline
// restores the steady-state keepalive deadline afterwards.
func (c *Conn) SetReadDeadline(d time.Duration) error {
	return c.ws.SetReadDeadline(time.Now().Add(d))
}

// ResetReadDeadline restores the standard keepalive read deadline, normally
// maintained by the pong handler; used after a caller temporarily narrows
// the deadline with SetReadDeadline.
func (c *Conn) ResetReadDeadline() error {
	return c.ws.SetReadDeadline(time.Now().Add(readDeadline))
}

// Close closes the underlying connection and stops the ping loop. Safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.pingDone)
		err = c.ws.Close()
	})
	return err
}

// CloseWithStatus sends a WebSocket close frame carrying code and reason,
// then closes the connection. code follows RFC 6455 (4000 for the bridge's
// pre-setup "session_dead" close, 1011 for an internal-error close during
// steady state). Safe to call more than once; later calls are a plain Close.
func (c *Conn) CloseWithStatus(code int, reason string) error {
	c.writeMu.Lock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeDeadline)); err == nil {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
	}
	c.writeMu.Unlock()
	return c.Close()
}
