// Package retention bounds the growth of the dedup ledger and the event log.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/rzbill/roomledger/internal/ledger"
	"github.com/rzbill/roomledger/pkg/log"
)

// Trimmer removes log entries published before cutoff that no group still
// needs.
type Trimmer interface {
	TrimOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Recorder counts removed records by kind ("dedup", "applied", "log").
type Recorder interface {
	AddSwept(kind string, n int)
}

type noopRecorder struct{}

func (noopRecorder) AddSwept(string, int) {}

// Options configures a Sweeper.
type Options struct {
	// DedupWindow must exceed the longest plausible redelivery delay: a
	// message redelivered after its dedup record is swept is applied again.
	DedupWindow time.Duration
	// LogRetention of 0 disables log trimming.
	LogRetention time.Duration
	Interval     time.Duration
	Logger       log.Logger
	Metrics      Recorder
}

// Stats reports one sweep.
type Stats struct {
	Dedup      int
	Applied    int
	LogEntries int
}

// Sweeper periodically expires dedup records, applied marks and old log
// entries.
type Sweeper struct {
	ledger  ledger.Retention
	log     Trimmer
	opts    Options
	logger  log.Logger
	metrics Recorder
	now     func() time.Time
}

func NewSweeper(l ledger.Retention, t Trimmer, opts Options) *Sweeper {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 7 * 24 * time.Hour
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}
	return &Sweeper{
		ledger:  l,
		log:     t,
		opts:    opts,
		logger:  opts.Logger.WithComponent("retention"),
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// SweepOnce runs a single pass. Both halves run even if one fails.
func (s *Sweeper) SweepOnce(ctx context.Context) (Stats, error) {
	now := s.now()
	var st Stats
	var errs []error

	ls, err := s.ledger.Sweep(ctx, now.Add(-s.opts.DedupWindow))
	if err != nil {
		errs = append(errs, err)
	}
	st.Dedup, st.Applied = ls.Dedup, ls.Applied

	if s.log != nil && s.opts.LogRetention > 0 {
		n, err := s.log.TrimOlderThan(ctx, now.Add(-s.opts.LogRetention))
		if err != nil {
			errs = append(errs, err)
		}
		st.LogEntries = n
	}

	s.metrics.AddSwept("dedup", st.Dedup)
	s.metrics.AddSwept("applied", st.Applied)
	s.metrics.AddSwept("log", st.LogEntries)
	return st, errors.Join(errs...)
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st, err := s.SweepOnce(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Warn("retention.sweep_failed", log.Err(err))
				continue
			}
			if st.Dedup+st.Applied+st.LogEntries > 0 {
				s.logger.Info("retention.swept",
					log.Int("dedup", st.Dedup), log.Int("applied", st.Applied), log.Int("logEntries", st.LogEntries))
			}
		}
	}
}
