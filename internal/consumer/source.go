package consumer

import (
	"context"
	"time"

	"github.com/rzbill/roomledger/internal/stream"
)

// Delivery is one log entry handed to this consumer.
type Delivery struct {
	ID      string
	Payload []byte
	// Deliveries counts hand-outs to the group including this one; 0 when the
	// source cannot tell.
	Deliveries int
}

// Source is the consumer-group view of an event log.
type Source interface {
	// EnsureGroup registers group; an existing group is not an error.
	EnsureGroup(ctx context.Context, group string) error
	// Poll returns redelivered and new entries, waiting at most wait.
	Poll(ctx context.Context, group, consumer string, count int, wait time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, group string, ids ...string) error
}

// Releaser is implemented by sources that must be told explicitly to
// redeliver an entry the consumer is not acknowledging.
type Releaser interface {
	Release(ctx context.Context, group, id string) error
}

// StreamSource adapts a Pebble-backed stream.
type StreamSource struct {
	Stream *stream.Stream
	Start  stream.StartPosition
}

func (s StreamSource) EnsureGroup(ctx context.Context, group string) error {
	_, _, err := s.Stream.EnsureGroup(ctx, group, s.Start)
	return err
}

func (s StreamSource) Poll(ctx context.Context, group, consumer string, count int, wait time.Duration) ([]Delivery, error) {
	msgs, err := s.Stream.Poll(ctx, group, consumer, count, wait)
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, len(msgs))
	for i, m := range msgs {
		out[i] = Delivery{ID: m.ID, Payload: m.Payload, Deliveries: m.Deliveries}
	}
	return out, nil
}

func (s StreamSource) Ack(ctx context.Context, group string, ids ...string) error {
	_, err := s.Stream.Ack(ctx, group, ids...)
	return err
}
