package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Defaults for WebSocketTransport.
const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultPingInterval = 10 * time.Second
)

// WebSocketTransport dials the peer over a WebSocket. Welcome and state
// frames travel as binary messages; the handshake echo arrives as text.
type WebSocketTransport struct {
	URL          string
	Header       http.Header
	WriteTimeout time.Duration
	// PingInterval is the keep-alive period. The connection is considered
	// dead when nothing, not even a pong, arrives for three intervals.
	PingInterval time.Duration
	Dialer       *websocket.Dialer
}

// NewWebSocketTransport creates a transport for url with default timeouts.
func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{
		URL:          url,
		WriteTimeout: DefaultWriteTimeout,
		PingInterval: DefaultPingInterval,
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Dial implements Transport.
func (t *WebSocketTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", t.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}

	c := &wsConn{
		ws:           ws,
		writeTimeout: t.WriteTimeout,
		pingInterval: t.PingInterval,
		done:         make(chan struct{}),
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = DefaultWriteTimeout
	}
	if c.pingInterval > 0 {
		c.extendReadDeadline()
		ws.SetPongHandler(func(string) error {
			c.extendReadDeadline()
			return nil
		})
		go c.keepAlive()
	}
	return c, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	pingInterval time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsConn) extendReadDeadline() {
	if c.pingInterval > 0 {
		c.ws.SetReadDeadline(time.Now().Add(3 * c.pingInterval))
	}
}

func (c *wsConn) keepAlive() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// WriteControl may run concurrently with WriteMessage.
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) ReadMessage() (Message, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return Message{}, err
		}
		c.extendReadDeadline()
		switch mt {
		case websocket.TextMessage:
			return Message{Text: true, Data: data}, nil
		case websocket.BinaryMessage:
			return Message{Data: data}, nil
		}
	}
}

func (c *wsConn) WriteMessage(m Message) error {
	mt := websocket.BinaryMessage
	if m.Text {
		mt = websocket.TextMessage
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(mt, m.Data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
