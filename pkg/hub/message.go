// Package hub provides a websocket broadcast hub using the channel-based
// fan-out pattern: one goroutine owns the client set, and every client has
// its own buffered send queue drained by a dedicated writer.
package hub

// Message is one pre-encoded JSON payload to broadcast.
type Message struct {
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Data: data}
}
