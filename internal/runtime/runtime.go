package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/rzbill/roomledger/internal/booking"
	cfgpkg "github.com/rzbill/roomledger/internal/config"
	"github.com/rzbill/roomledger/internal/consumer"
	"github.com/rzbill/roomledger/internal/ledger"
	"github.com/rzbill/roomledger/internal/metrics"
	"github.com/rzbill/roomledger/internal/query"
	"github.com/rzbill/roomledger/internal/rabbitmq"
	"github.com/rzbill/roomledger/internal/reconcile"
	"github.com/rzbill/roomledger/internal/retention"
	pebblestore "github.com/rzbill/roomledger/internal/storage/pebble"
	"github.com/rzbill/roomledger/internal/stream"
	"github.com/rzbill/roomledger/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config  cfgpkg.Config
	Logger  log.Logger
	Metrics *metrics.Metrics
}

// Runtime owns storage and every service built on it. Components receive
// their collaborators from here at construction time.
type Runtime struct {
	config  cfgpkg.Config
	logger  log.Logger
	metrics *metrics.Metrics

	db          *pebblestore.DB
	ledger      ledger.Store
	stream      *stream.Stream
	publisher   booking.Publisher
	amqpPub     *rabbitmq.Publisher
	engine      *reconcile.Engine
	deadLetters *consumer.DeadLetters
	bookings    *booking.Service
	query       *query.Service
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	fsync, err := pebblestore.ParseFsyncMode(cfg.Storage.Fsync)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       cfg.Storage.DataDir,
		Fsync:         fsync,
		FsyncInterval: cfg.Storage.FsyncInterval.D(),
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{config: cfg, logger: opts.Logger, metrics: opts.Metrics, db: db}
	if err := rt.build(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (r *Runtime) build() error {
	cfg := r.config
	switch cfg.Storage.Backend {
	case "", "pebble":
		r.ledger = ledger.NewPebbleStore(r.db)
	case "sqlite":
		s, err := ledger.OpenSQLite(cfg.Storage.SQLiteFile())
		if err != nil {
			return err
		}
		r.ledger = s
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	s, err := stream.Open(r.db, stream.Options{
		Name:       cfg.Stream.Name,
		Partitions: cfg.Stream.Partitions,
		ClaimIdle:  cfg.Stream.ClaimIdle.D(),
		Logger:     r.logger,
	})
	if err != nil {
		return err
	}
	r.stream = s
	r.publisher = s
	if cfg.Stream.Backend == "amqp" {
		p, err := rabbitmq.NewPublisher(r.amqpOptions())
		if err != nil {
			return err
		}
		r.amqpPub = p
		r.publisher = p
	}

	bt, err := reconcile.ParseBackoffType(cfg.Reconcile.Backoff.Type)
	if err != nil {
		return err
	}
	r.engine, err = reconcile.New(r.ledger, r.ledger, reconcile.Options{
		Group:           cfg.Stream.Group,
		DefaultCapacity: cfg.Reconcile.DefaultCapacity,
		MaxAttempts:     cfg.Reconcile.MaxAttempts,
		Backoff: reconcile.RetryPolicy{
			Type:   bt,
			Base:   cfg.Reconcile.Backoff.Base.D(),
			Cap:    cfg.Reconcile.Backoff.Cap.D(),
			Factor: cfg.Reconcile.Backoff.Factor,
		},
		Filter:  cfg.Reconcile.Filter,
		Logger:  r.logger,
		Metrics: r.metrics,
	})
	if err != nil {
		return err
	}
	if r.deadLetters, err = consumer.OpenDeadLetters(r.db, cfg.Stream.Group); err != nil {
		return err
	}
	r.bookings = booking.NewService(booking.NewStore(r.db), r.publisher, r.logger)
	r.query = query.NewService(r.ledger)
	return nil
}

func (r *Runtime) amqpOptions() rabbitmq.Options {
	a := r.config.Stream.AMQP
	return rabbitmq.Options{URL: a.URL, Exchange: a.Exchange, Queue: a.Queue, Prefetch: a.Prefetch, Logger: r.logger}
}

// NewConsumer builds a consumer-group member reading from the configured
// stream backend. The returned close func releases broker connections.
func (r *Runtime) NewConsumer() (*consumer.Consumer, func() error, error) {
	cfg := r.config
	var (
		src     consumer.Source
		closeFn = func() error { return nil }
	)
	switch cfg.Stream.Backend {
	case "", "pebble":
		start, err := stream.ParseStartPosition(cfg.Stream.Start)
		if err != nil {
			return nil, nil, err
		}
		src = consumer.StreamSource{Stream: r.stream, Start: start}
	case "amqp":
		s, err := rabbitmq.NewSource(r.amqpOptions())
		if err != nil {
			return nil, nil, err
		}
		src, closeFn = s, s.Close
	default:
		return nil, nil, fmt.Errorf("unknown stream backend %q", cfg.Stream.Backend)
	}
	name := cfg.Stream.Consumer
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	c := consumer.New(src, r.engine, consumer.Options{
		Name:             name,
		BatchSize:        cfg.Stream.BatchSize,
		PollTimeout:      cfg.Stream.PollTimeout.D(),
		ReconcileTimeout: cfg.Reconcile.Timeout.D(),
		Policy:           consumer.Policy{MaxDeliveries: cfg.DeadLetter.MaxDeliveries},
		DeadLetters:      r.deadLetters,
		Logger:           r.logger,
		Metrics:          r.metrics,
	})
	return c, closeFn, nil
}

// NewSweeper builds the retention sweeper for the ledger and the stream.
func (r *Runtime) NewSweeper() *retention.Sweeper {
	rc := r.config.Retention
	return retention.NewSweeper(r.ledger, r.stream, retention.Options{
		DedupWindow:  rc.DedupWindow.D(),
		LogRetention: rc.LogRetention.D(),
		Interval:     rc.SweepInterval.D(),
		Logger:       r.logger,
		Metrics:      r.metrics,
	})
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	var errs []error
	if r.amqpPub != nil {
		errs = append(errs, r.amqpPub.Close())
	}
	if r.ledger != nil {
		errs = append(errs, r.ledger.Close())
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// CheckHealth verifies that storage is reachable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	if p, ok := r.ledger.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

func (r *Runtime) Logger() log.Logger                 { return r.logger }
func (r *Runtime) Metrics() *metrics.Metrics          { return r.metrics }
func (r *Runtime) Ledger() ledger.Store               { return r.ledger }
func (r *Runtime) Stream() *stream.Stream             { return r.stream }
func (r *Runtime) Engine() *reconcile.Engine          { return r.engine }
func (r *Runtime) DeadLetters() *consumer.DeadLetters { return r.deadLetters }
func (r *Runtime) Bookings() *booking.Service         { return r.bookings }
func (r *Runtime) Query() *query.Service              { return r.query }
