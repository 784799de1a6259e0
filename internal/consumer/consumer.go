package consumer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/roomledger/internal/booking"
	"github.com/rzbill/roomledger/internal/reconcile"
	"github.com/rzbill/roomledger/pkg/log"
)

// Reconciler applies a decoded event delivered as messageID.
type Reconciler interface {
	Group() string
	Reconcile(ctx context.Context, ev booking.Event, messageID string) (reconcile.Outcome, error)
}

// Recorder receives consumer measurements.
type Recorder interface {
	IncDecision(decision string)
	IncPollError()
}

type noopRecorder struct{}

func (noopRecorder) IncDecision(string) {}
func (noopRecorder) IncPollError()      {}

// Options configures a Consumer.
type Options struct {
	// Name identifies this instance within the group. Defaults to a random id.
	Name        string
	BatchSize   int
	PollTimeout time.Duration
	// ReconcileTimeout bounds a single reconcile call. It runs detached from
	// the Run context so shutdown does not abort a message half way.
	ReconcileTimeout time.Duration
	Policy           Policy
	DeadLetters      DeadLetterSink
	Logger           log.Logger
	Metrics          Recorder
}

const (
	DefaultBatchSize        = 16
	DefaultPollTimeout      = 250 * time.Millisecond
	DefaultReconcileTimeout = 30 * time.Second

	pollErrorBackoff = 500 * time.Millisecond
)

// Consumer runs the poll loop of one group member.
type Consumer struct {
	src     Source
	rec     Reconciler
	group   string
	opts    Options
	logger  log.Logger
	metrics Recorder
}

func New(src Source, rec Reconciler, opts Options) *Consumer {
	if opts.Name == "" {
		opts.Name = "consumer-" + uuid.NewString()[:8]
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.ReconcileTimeout < 0 {
		opts.ReconcileTimeout = 0
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}
	return &Consumer{
		src:     src,
		rec:     rec,
		group:   rec.Group(),
		opts:    opts,
		logger:  opts.Logger.WithComponent("consumer").With(log.Str("group", rec.Group()), log.Str("consumer", opts.Name)),
		metrics: opts.Metrics,
	}
}

// Name returns the consumer instance name.
func (c *Consumer) Name() string { return c.opts.Name }

// Run registers the group and polls until ctx is done. Entries already
// delivered but not yet handled when ctx ends stay pending and are redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.src.EnsureGroup(ctx, c.group); err != nil {
		return err
	}
	c.logger.Info("consumer.start", log.Int("batch", c.opts.BatchSize), log.Dur("pollTimeout", c.opts.PollTimeout))
	defer c.logger.Info("consumer.stop")

	for ctx.Err() == nil {
		batch, err := c.src.Poll(ctx, c.group, c.opts.Name, c.opts.BatchSize, c.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.metrics.IncPollError()
			c.logger.Warn("consumer.poll_failed", log.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollErrorBackoff):
			}
			continue
		}
		for _, d := range batch {
			if ctx.Err() != nil {
				return nil
			}
			c.Handle(ctx, d)
		}
	}
	return nil
}

// Handle decodes and reconciles one delivery, then acts on the policy
// decision.
func (c *Consumer) Handle(ctx context.Context, d Delivery) Decision {
	ev, err := booking.DecodePayload(d.Payload)
	if err == nil {
		err = c.reconcile(ctx, ev, d.ID)
	}
	dec := c.opts.Policy.Decide(d, err)
	c.metrics.IncDecision(dec.String())

	switch dec {
	case DecisionAck:
		c.ack(ctx, d)
	case DecisionRetry:
		c.logger.Warn("consumer.retry", log.Str("messageId", d.ID), log.Int("deliveries", d.Deliveries), log.Err(err))
		c.release(ctx, d)
	case DecisionDeadLetter:
		if c.opts.DeadLetters == nil {
			c.logger.Error("consumer.drop", log.Str("messageId", d.ID), log.Err(err))
			c.ack(ctx, d)
			break
		}
		seq, dlErr := c.opts.DeadLetters.Add(context.WithoutCancel(ctx), DeadLetter{
			MessageID:  d.ID,
			Reason:     Reason(err),
			Error:      err.Error(),
			Deliveries: d.Deliveries,
			Payload:    string(d.Payload),
		})
		if dlErr != nil {
			c.logger.Error("consumer.dead_letter_failed", log.Str("messageId", d.ID), log.Err(dlErr))
			c.release(ctx, d)
			return DecisionRetry
		}
		c.logger.Warn("consumer.dead_letter",
			log.Str("messageId", d.ID), log.Uint64("dlqSeq", seq), log.Str("reason", Reason(err)), log.Err(err))
		c.ack(ctx, d)
	}
	return dec
}

func (c *Consumer) reconcile(ctx context.Context, ev booking.Event, id string) error {
	rctx := context.WithoutCancel(ctx)
	if c.opts.ReconcileTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(rctx, c.opts.ReconcileTimeout)
		defer cancel()
	}
	out, err := c.rec.Reconcile(rctx, ev, id)
	if err != nil {
		return err
	}
	c.logger.Debug("consumer.handled", log.Str("messageId", id), log.Str("outcome", out.String()))
	return nil
}

func (c *Consumer) release(ctx context.Context, d Delivery) {
	r, ok := c.src.(Releaser)
	if !ok {
		return
	}
	if err := r.Release(context.WithoutCancel(ctx), c.group, d.ID); err != nil {
		c.logger.Warn("consumer.release_failed", log.Str("messageId", d.ID), log.Err(err))
	}
}

func (c *Consumer) ack(ctx context.Context, d Delivery) {
	if err := c.src.Ack(context.WithoutCancel(ctx), c.group, d.ID); err != nil {
		// The entry stays pending; redelivery hits the dedup ledger.
		c.logger.Warn("consumer.ack_failed", log.Str("messageId", d.ID), log.Err(err))
	}
}

var _ Reconciler = (*reconcile.Engine)(nil)
