// Package rabbitmq carries booking events over an AMQP 0-9-1 broker as an
// alternative to the embedded event log.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rzbill/roomledger/internal/consumer"
	"github.com/rzbill/roomledger/pkg/log"
)

// Options configures the broker topology.
type Options struct {
	URL      string
	Exchange string
	// Queue defaults to the consumer group name, so instances of one group
	// share a queue.
	Queue    string
	Prefetch int
	Logger   log.Logger
}

const routingPrefix = "booking."

// routingKey maps a publish key (the room id) onto the topic exchange.
func routingKey(key string) string { return routingPrefix + key }

func dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

// Publisher publishes booking events as persistent JSON messages.
type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	mu       sync.Mutex
}

func NewPublisher(opts Options) (*Publisher, error) {
	conn, ch, err := dial(opts.URL, opts.Exchange)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, exchange: opts.Exchange}, nil
}

func publishing(fields map[string]string, id string, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    now,
		Body:         body,
	}, nil
}

// Publish sends fields routed by key and returns the generated message id.
func (p *Publisher) Publish(ctx context.Context, key string, fields map[string]string) (string, error) {
	id := uuid.NewString()
	msg, err := publishing(fields, id, time.Now())
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey(key), false, false, msg); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	return id, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Source consumes a durable queue with manual acknowledgment. The broker
// redelivers anything left unacknowledged when a channel closes or when the
// message is released.
type Source struct {
	opts   Options
	logger log.Logger

	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery

	mu   sync.Mutex
	tags map[string]uint64
}

func NewSource(opts Options) (*Source, error) {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 32
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	conn, ch, err := dial(opts.URL, opts.Exchange)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(opts.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	return &Source{
		opts:   opts,
		logger: opts.Logger.WithComponent("rabbitmq"),
		conn:   conn,
		ch:     ch,
		tags:   make(map[string]uint64),
	}, nil
}

// EnsureGroup declares and binds the group queue and starts consuming.
// Declaring an existing queue is a no-op.
func (s *Source) EnsureGroup(ctx context.Context, group string) error {
	name := s.opts.Queue
	if name == "" {
		name = group
	}
	q, err := s.ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := s.ch.QueueBind(q.Name, routingPrefix+"#", s.opts.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", q.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveries != nil {
		return nil
	}
	d, err := s.ch.ConsumeWithContext(context.WithoutCancel(ctx), q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}
	s.deliveries = d
	return nil
}

var errClosed = errors.New("rabbitmq: delivery channel closed")

// Poll collects up to count deliveries, waiting at most wait for the first.
func (s *Source) Poll(ctx context.Context, _, _ string, count int, wait time.Duration) ([]consumer.Delivery, error) {
	s.mu.Lock()
	ch := s.deliveries
	s.mu.Unlock()
	if ch == nil {
		return nil, errors.New("rabbitmq: EnsureGroup not called")
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var out []consumer.Delivery
	for len(out) < max(count, 1) {
		var (
			d  amqp.Delivery
			ok bool
		)
		if len(out) == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
				return nil, nil
			case d, ok = <-ch:
			}
		} else {
			select {
			case d, ok = <-ch:
			default:
				return out, nil
			}
		}
		if !ok {
			if len(out) > 0 {
				return out, nil
			}
			return nil, errClosed
		}
		cd := toDelivery(d)
		s.mu.Lock()
		s.tags[cd.ID] = d.DeliveryTag
		s.mu.Unlock()
		out = append(out, cd)
	}
	return out, nil
}

// toDelivery maps a broker delivery. The publisher's MessageId is the stable
// identity used for deduplication; broker redelivery is reported as a second
// delivery unless a quorum queue supplies an exact count.
func toDelivery(d amqp.Delivery) consumer.Delivery {
	id := d.MessageId
	if id == "" {
		id = "amqp-" + strconv.FormatUint(d.DeliveryTag, 10)
	}
	n := 1
	if d.Redelivered {
		n = 2
	}
	if v, ok := d.Headers["x-delivery-count"]; ok {
		switch c := v.(type) {
		case int64:
			n = int(c) + 1
		case int32:
			n = int(c) + 1
		}
	}
	return consumer.Delivery{ID: id, Payload: d.Body, Deliveries: n}
}

func (s *Source) takeTag(id string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, ok := s.tags[id]
	delete(s.tags, id)
	return tag, ok
}

func (s *Source) Ack(_ context.Context, _ string, ids ...string) error {
	for _, id := range ids {
		tag, ok := s.takeTag(id)
		if !ok {
			continue
		}
		if err := s.ch.Ack(tag, false); err != nil {
			return fmt.Errorf("ack %s: %w", id, err)
		}
	}
	return nil
}

// Release hands a delivery back to the broker for redelivery.
func (s *Source) Release(_ context.Context, _ string, id string) error {
	tag, ok := s.takeTag(id)
	if !ok {
		return nil
	}
	return s.ch.Nack(tag, false, true)
}

func (s *Source) Close() error {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

var (
	_ consumer.Source   = (*Source)(nil)
	_ consumer.Releaser = (*Source)(nil)
)
