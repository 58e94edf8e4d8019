package event

import (
	"context"
	"log/slog"
	"time"
)

// Listener delivers consumed events to a handler on a background goroutine.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewListener creates a stopped listener.
func NewListener[T any](publisher *Publisher[T], handler func(*Event[T])) *Listener[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener[T]{publisher: publisher, handler: handler, ctx: ctx, cancel: cancel}
}

// Start consumes events until Stop.
func (l *Listener[T]) Start() {
	go func() {
		for {
			select {
			case <-l.ctx.Done():
				return
			default:
			}
			event, err := l.publisher.Consume(l.ctx)
			if err != nil {
				if l.ctx.Err() != nil {
					return
				}
				slog.Error("event listener consume failed", "error", err)
				continue
			}
			if event == nil {
				// non-blocking queue drained
				time.Sleep(50 * time.Millisecond)
				continue
			}
			l.handler(event)
		}
	}()
}

// Stop terminates the consume loop.
func (l *Listener[T]) Stop() {
	l.cancel()
}
