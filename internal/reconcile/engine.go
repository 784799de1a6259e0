package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/roomledger/internal/booking"
	"github.com/rzbill/roomledger/internal/ledger"
	"github.com/rzbill/roomledger/pkg/log"
)

// Outcome describes how a message was handled when Reconcile succeeds.
type Outcome int

const (
	// OutcomeApplied means every day of the range was incremented and the
	// message recorded in the dedup ledger.
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate means the message had already been applied.
	OutcomeDuplicate
	// OutcomeIgnored means the event type is not actionable.
	OutcomeIgnored
	// OutcomeFiltered means the configured filter rejected the event.
	OutcomeFiltered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeFiltered:
		return "filtered"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Recorder receives engine measurements.
type Recorder interface {
	ObserveReconcile(outcome string, elapsed time.Duration)
	IncConflict()
	IncDaySkipped()
}

// NoopRecorder discards measurements.
type NoopRecorder struct{}

func (NoopRecorder) ObserveReconcile(string, time.Duration) {}
func (NoopRecorder) IncConflict()                           {}
func (NoopRecorder) IncDaySkipped()                         {}

// Options configures an Engine.
type Options struct {
	// Group is the consumer group the dedup ledger is keyed by.
	Group string
	// DefaultCapacity is used for a day that has never been written.
	DefaultCapacity int
	// MaxAttempts bounds conditional writes per day.
	MaxAttempts int
	Backoff     RetryPolicy
	// Filter is an optional CEL expression; created events for which it
	// evaluates to false are acknowledged without mutation.
	Filter  string
	Logger  log.Logger
	Metrics Recorder
	Tracer  trace.Tracer
}

const (
	DefaultGroup       = "availability"
	DefaultCapacity    = 5
	DefaultMaxAttempts = 3
)

// Engine applies booking events to the availability ledger exactly once per
// (group, message id).
type Engine struct {
	avail   ledger.Availability
	dedup   ledger.Dedup
	group   string
	defCap  int
	max     int
	backoff RetryPolicy
	filter  eventFilter
	logger  log.Logger
	metrics Recorder
	tracer  trace.Tracer
	sleep   func(context.Context, time.Duration) error
}

// New builds an Engine over the two ledgers.
func New(avail ledger.Availability, dedup ledger.Dedup, opts Options) (*Engine, error) {
	if avail == nil || dedup == nil {
		return nil, errors.New("reconcile: availability and dedup ledgers are required")
	}
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.DefaultCapacity <= 0 {
		opts.DefaultCapacity = DefaultCapacity
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopRecorder{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/rzbill/roomledger/internal/reconcile")
	}
	f, err := newEventFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	return &Engine{
		avail:   avail,
		dedup:   dedup,
		group:   opts.Group,
		defCap:  opts.DefaultCapacity,
		max:     opts.MaxAttempts,
		backoff: opts.Backoff,
		filter:  f,
		logger:  opts.Logger.WithComponent("reconcile").With(log.Str("group", opts.Group)),
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		sleep:   sleepCtx,
	}, nil
}

// Group returns the consumer group this engine deduplicates for.
func (e *Engine) Group() string { return e.group }

// Reconcile applies ev, delivered as messageID, to the ledgers. A nil error
// means the message may be acknowledged. Any error is a *ReconciliationError
// and the message must be left for redelivery.
func (e *Engine) Reconcile(ctx context.Context, ev booking.Event, messageID string) (Outcome, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "reconcile",
		trace.WithAttributes(
			attribute.String("messaging.message.id", messageID),
			attribute.String("room.id", ev.RoomID),
			attribute.String("event.type", ev.EventType),
		))
	defer span.End()

	out, err := e.reconcile(ctx, ev, messageID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.ObserveReconcile("failed", time.Since(start))
		return out, err
	}
	span.SetAttributes(attribute.String("reconcile.outcome", out.String()))
	e.metrics.ObserveReconcile(out.String(), time.Since(start))
	return out, nil
}

func (e *Engine) reconcile(ctx context.Context, ev booking.Event, messageID string) (Outcome, error) {
	seen, err := e.dedup.Exists(ctx, e.group, messageID)
	if err != nil {
		return 0, e.fail(messageID, ev.RoomID, "", 0, fmt.Errorf("dedup lookup: %w", err))
	}
	if seen {
		e.logger.Debug("reconcile.duplicate", log.Str("messageId", messageID))
		return OutcomeDuplicate, nil
	}

	if ev.EventType != booking.EventCreated {
		e.logger.Debug("reconcile.ignored", log.Str("messageId", messageID), log.Str("eventType", ev.EventType))
		return OutcomeIgnored, nil
	}

	pass, err := e.filter.Eval(ev)
	if err != nil {
		e.logger.Warn("reconcile.filter_error", log.Str("messageId", messageID), log.Err(err))
	}
	if !pass {
		e.logger.Debug("reconcile.filtered", log.Str("messageId", messageID), log.Str("roomId", ev.RoomID))
		return OutcomeFiltered, nil
	}

	mark := ledger.Mark{Group: e.group, MessageID: messageID}
	if err := ledger.EachDay(ev.StartDate, ev.EndDate, func(d time.Time) error {
		return e.applyDay(ctx, ev.RoomID, d, mark)
	}); err != nil {
		return 0, err
	}

	res, err := e.dedup.Insert(ctx, e.group, messageID)
	if err != nil {
		return 0, e.fail(messageID, ev.RoomID, "", 0, fmt.Errorf("dedup insert: %w", err))
	}
	if res == ledger.AlreadyExists {
		// A peer finished the same message first. Each day write refuses a mark
		// it already holds, so no day was counted twice.
		e.logger.Info("reconcile.dedup_race", log.Str("messageId", messageID))
	}
	e.logger.Debug("reconcile.applied",
		log.Str("messageId", messageID),
		log.Str("roomId", ev.RoomID),
		log.Int("days", ev.Nights()))
	return OutcomeApplied, nil
}

// applyDay increments booked for (roomID, d) under optimistic concurrency.
// Days already carrying mark are skipped. The lookup below only saves a
// round trip; ConditionalWrite re-checks the mark inside the atomic write.
func (e *Engine) applyDay(ctx context.Context, roomID string, d time.Time, mark ledger.Mark) error {
	date := ledger.FormatDate(d)
	done, err := e.avail.Applied(ctx, mark, roomID, d)
	if err != nil {
		return e.fail(mark.MessageID, roomID, date, 0, fmt.Errorf("applied lookup: %w", err))
	}
	if done {
		e.metrics.IncDaySkipped()
		e.logger.Debug("reconcile.day_already_applied", log.Str("messageId", mark.MessageID), log.Str("date", date))
		return nil
	}

	for attempt := 1; attempt <= e.max; attempt++ {
		day, ok, err := e.avail.Get(ctx, roomID, d)
		if err != nil {
			return e.fail(mark.MessageID, roomID, date, attempt, err)
		}
		if !ok {
			day = ledger.Day{RoomID: roomID, Date: d, Capacity: e.defCap}
		}
		expected := day.Version
		day.Booked++

		res, err := e.avail.ConditionalWrite(ctx, day, expected, &mark)
		if err != nil {
			return e.fail(mark.MessageID, roomID, date, attempt, err)
		}
		switch res {
		case ledger.WriteOK:
			return nil
		case ledger.WriteAlreadyApplied:
			e.metrics.IncDaySkipped()
			e.logger.Debug("reconcile.day_already_applied",
				log.Str("messageId", mark.MessageID), log.Str("date", date), log.Int("attempt", attempt))
			return nil
		case ledger.WriteVersionConflict:
			e.metrics.IncConflict()
			e.logger.Debug("reconcile.conflict",
				log.Str("roomId", roomID), log.Str("date", date), log.Int("attempt", attempt))
			if attempt < e.max {
				if err := e.sleep(ctx, computeBackoff(e.backoff, attempt)); err != nil {
					return e.fail(mark.MessageID, roomID, date, attempt, err)
				}
			}
		default:
			return e.fail(mark.MessageID, roomID, date, attempt, fmt.Errorf("unexpected write result %v", res))
		}
	}
	return e.fail(mark.MessageID, roomID, date, e.max, ErrRetriesExhausted)
}

func (e *Engine) fail(messageID, roomID, date string, attempts int, err error) error {
	return &ReconciliationError{MessageID: messageID, RoomID: roomID, Date: date, Attempts: attempts, Err: err}
}
