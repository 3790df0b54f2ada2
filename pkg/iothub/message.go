package iothub

import "net/http"

// InboundMessage is a cloud-to-device message as returned by ReadMessage.
// ETag identifies the delivery lock and is what CompleteMessage,
// RejectMessage and AbandonMessage take.
type InboundMessage struct {
	Headers    http.Header
	ETag       string
	Body       string
	StatusCode int
}

// Empty reports whether the read returned no message.
func (m *InboundMessage) Empty() bool {
	return m.ETag == ""
}
