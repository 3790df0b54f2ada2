package models

// Disposition is how a cloud-to-device message is settled after handling.
type Disposition string

const (
	// DispositionComplete removes the message from the device queue.
	DispositionComplete Disposition = "complete"
	// DispositionReject dead-letters the message without redelivery.
	DispositionReject Disposition = "reject"
	// DispositionAbandon returns the message to the queue for redelivery.
	DispositionAbandon Disposition = "abandon"
)

// BridgedEvent is a device-to-cloud payload picked up from the local broker.
type BridgedEvent struct {
	Topic   string
	Payload []byte
}
