// Package remote keeps the switch state synchronized with a remote peer over
// a persistent message connection.
//
// After the transport connects the device sends a welcome frame and waits
// for the peer to echo its device id back as a text message. Only then is the
// link considered handshaked: inbound commands are accepted and state changes
// are broadcast. Anything that breaks the connection drops the engine back to
// Disconnected and it dials again.
package remote

import "context"

// Message is one transport message.
type Message struct {
	// Text marks a text message; otherwise the message is binary.
	Text bool
	Data []byte
}

// Conn is an established connection. ReadMessage is only called from one
// goroutine and WriteMessage from another; Close may be called at any time
// and unblocks ReadMessage.
type Conn interface {
	ReadMessage() (Message, error)
	WriteMessage(Message) error
	Close() error
}

// Transport opens connections to the peer.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}
