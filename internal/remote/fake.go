package remote

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a FakeConn after it was closed.
var ErrClosed = errors.New("remote: connection closed")

// FakeTransport is an in-memory Transport for tests. Every successful Dial
// creates a FakeConn that is also delivered on Conns.
type FakeTransport struct {
	mu        sync.Mutex
	failDials int
	dialErr   error
	dials     int
	conns     chan *FakeConn
}

// NewFakeTransport creates a FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{conns: make(chan *FakeConn, 16)}
}

// FailDials makes the next n dials fail with err.
func (t *FakeTransport) FailDials(n int, err error) {
	t.mu.Lock()
	t.failDials = n
	t.dialErr = err
	t.mu.Unlock()
}

// Dial implements Transport.
func (t *FakeTransport) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.dials++
	if t.failDials > 0 {
		t.failDials--
		err := t.dialErr
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	c := newFakeConn()
	t.conns <- c
	return c, nil
}

// Dials returns the number of Dial calls.
func (t *FakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// Conns delivers every connection the transport hands out.
func (t *FakeTransport) Conns() <-chan *FakeConn {
	return t.conns
}

// FakeConn is the device side of an in-memory connection. The test plays
// the peer through Deliver and Sent.
type FakeConn struct {
	in   chan Message
	sent chan Message

	mu       sync.Mutex
	written  []Message
	writeErr error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *FakeConn {
	return &FakeConn{
		in:     make(chan Message),
		sent:   make(chan Message, 64),
		closed: make(chan struct{}),
	}
}

// ReadMessage blocks until the peer delivers a message or the conn closes.
func (c *FakeConn) ReadMessage() (Message, error) {
	select {
	case m := <-c.in:
		return m, nil
	case <-c.closed:
		return Message{}, ErrClosed
	}
}

// WriteMessage records m and offers it on Sent.
func (c *FakeConn) WriteMessage(m Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	if c.writeErr != nil {
		err := c.writeErr
		c.mu.Unlock()
		return err
	}
	c.written = append(c.written, m)
	c.mu.Unlock()

	select {
	case c.sent <- m:
	default:
	}
	return nil
}

// Close closes the connection; ReadMessage returns ErrClosed afterwards.
func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Deliver sends m from the peer. It reports false if the conn is closed.
func (c *FakeConn) Deliver(m Message) bool {
	select {
	case c.in <- m:
		return true
	case <-c.closed:
		return false
	}
}

// Sent delivers every message the device writes.
func (c *FakeConn) Sent() <-chan Message {
	return c.sent
}

// Written returns a copy of every message the device wrote.
func (c *FakeConn) Written() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.written...)
}

// SetWriteError makes every following write fail with err.
func (c *FakeConn) SetWriteError(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
