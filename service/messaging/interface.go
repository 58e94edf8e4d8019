// Package messaging abstracts the queue used to fan state transition events
// out to observers.
package messaging

import "context"

// Vendor names a queue implementation.
type Vendor string

const (
	VendorMemory Vendor = "memory"
	VendorFs     Vendor = "fs"
)

// Queue is an abstract message queue for any payload type.
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue.
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message, blocking until one is available or
	// the context ends.
	Consume(ctx context.Context) (Message[T], error)
}

// Message is a single in-flight payload.
type Message[T any] interface {
	// T returns the payload.
	T() *T

	// Ack acknowledges successful processing.
	Ack() error

	// Nack reports a processing failure; the queue may redeliver.
	Nack(err error) error
}
