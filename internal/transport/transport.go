// Package transport holds the contract between the connection gateways and
// the event hub. Gateways own sockets; the hub owns game state.
package transport

import "errors"

var (
	ErrSendQueueFull = errors.New("send queue full")
	ErrClosed        = errors.New("connection closed")
)

// Conn is one client connection. Send must not block the caller.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(data []byte) error
	Close(reason string)
}

// Hub receives connection lifecycle events and raw inbound frames.
// Implementations must be safe for use from multiple gateway goroutines.
type Hub interface {
	Connect(conn Conn)
	Deliver(conn Conn, data []byte)
	Disconnect(conn Conn)
}
