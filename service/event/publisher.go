package event

import (
	"context"

	"github.com/flowmesh/flowmesh/service/messaging"
)

// Publisher publishes and consumes typed events over one queue.
type Publisher[T any] struct {
	queue messaging.Queue[Event[T]]
}

// NewPublisher creates a publisher over the given queue.
func NewPublisher[T any](queue messaging.Queue[Event[T]]) *Publisher[T] {
	return &Publisher[T]{queue: queue}
}

// Publish enqueues an event.
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	return p.queue.Publish(ctx, event)
}

// Consume dequeues and acknowledges the next event; nil when the queue is
// empty and non-blocking.
func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	msg, err := p.queue.Consume(ctx)
	if err != nil || msg == nil {
		return nil, err
	}
	if err := msg.Ack(); err != nil {
		return nil, err
	}
	return msg.T(), nil
}
